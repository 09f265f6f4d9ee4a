package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// referencePrefix identifies ledger references minted by this service.
const referencePrefix = "BOOK"

// NewCheckoutReference mints a fresh checkout reference for a purchase attempt.
// The reference embeds the product id and creation time for human traceability
// and a random suffix to close the collision window under concurrent checkouts.
// It is generated exactly once per attempt, before any external call; retried
// submissions mint a new one.
func NewCheckoutReference(productID string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%d-%s", referencePrefix, productID, time.Now().Unix(), suffix)
}
