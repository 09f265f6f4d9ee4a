package customer

import (
	"context"
	"errors"
)

// ErrCustomerNotFound is returned when no customer matches the lookup.
var ErrCustomerNotFound = errors.New("customer not found")

// Repository defines customer persistence.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Customer, error)

	GetByEmail(ctx context.Context, email string) (*Customer, error)

	// Resolve returns the existing customer for c.Email or creates one from
	// c. The email must already be normalized by the caller.
	Resolve(ctx context.Context, c *Customer) (*Customer, error)
}
