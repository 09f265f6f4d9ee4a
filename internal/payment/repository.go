// Package payment provides repository interfaces for ledger persistence.
package payment

import (
	"context"
	"errors"
	"time"
)

// Repository errors.
var (
	// ErrPaymentNotFound is returned when no ledger row matches the lookup key.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrDuplicateReference is returned when inserting a checkout reference
	// that already exists. References must never be reused.
	ErrDuplicateReference = errors.New("checkout reference already exists")
)

// ListFilter narrows and paginates ledger listings for the admin surface.
// Zero filter values mean "no constraint"; an unset Limit pages by 10.
// OlderThan is an exclusive cutoff; combined with StatusPending it is how
// operators surface stale rows that never received a terminal event.
type ListFilter struct {
	Status    Status
	ProductID string
	From      *time.Time
	To        *time.Time
	OlderThan *time.Time
	Page      int
	Limit     int
}

// Repository defines ledger persistence. Terminal transitions are conditional
// writes (status must still be PENDING at write time); implementations must
// enforce the guard at the storage layer, not read-then-write, so that
// concurrent reconciliation entry points cannot both win.
type Repository interface {
	// CreatePending inserts a new PENDING row. The reference must be unique;
	// ErrDuplicateReference is returned otherwise.
	CreatePending(ctx context.Context, p *Payment) error

	GetByReference(ctx context.Context, reference string) (*Payment, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Payment, error)

	// MarkSucceeded transitions PENDING -> SUCCESSFUL and records the
	// transaction identifiers. Returns false (and no error) when the row was
	// no longer PENDING, i.e. another writer got there first.
	MarkSucceeded(ctx context.Context, reference string, result TransactionResult) (bool, error)

	// MarkFailed transitions PENDING -> FAILED and records the failure
	// message. Same conditional semantics as MarkSucceeded.
	MarkFailed(ctx context.Context, reference string, errorMessage string) (bool, error)

	// List returns a page of ledger rows matching the filter, newest first,
	// along with the total match count.
	List(ctx context.Context, filter ListFilter) ([]*Payment, int, error)
}

// defaultFailureMessage is used when the processor supplied no failure reason.
const defaultFailureMessage = "payment failed"
