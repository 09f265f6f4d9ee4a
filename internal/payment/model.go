// Package payment provides the order ledger, the SumUp client, and the
// reconciliation logic for the checkout workflow.
package payment

import "time"

// Status represents the lifecycle state of a payment record.
type Status string

// Payment statuses. StatusPending is the only legal initial value; the
// three remaining values are terminal and sticky.
const (
	StatusPending    Status = "PENDING"
	StatusSuccessful Status = "SUCCESSFUL"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further status transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed || s == StatusCancelled
}

// Payment is the authoritative ledger record for one checkout attempt.
// CheckoutReference is minted before any external call and is the idempotency
// key for all reconciliation. SessionID is the processor's identifier for the
// hosted session and is the only key the browser sees after redirect.
type Payment struct {
	ID                string     `json:"id"`
	CheckoutReference string     `json:"checkout_reference"`
	SessionID         *string    `json:"session_id,omitempty"`
	AmountCents       int64      `json:"amount_cents"`
	Currency          string     `json:"currency"`
	Description       string     `json:"description"`
	ProductID         string     `json:"product_id"`
	CustomerID        string     `json:"customer_id"`
	Status            Status     `json:"status"`
	TransactionID     *string    `json:"transaction_id,omitempty"`
	TransactionCode   *string    `json:"transaction_code,omitempty"`
	PaymentMethod     *string    `json:"payment_method,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// TransactionResult carries the processor-side identifiers captured on a
// successful terminal transition.
type TransactionResult struct {
	TransactionID   string
	TransactionCode string
	PaymentMethod   string
}
