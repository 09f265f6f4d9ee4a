package customer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu      sync.RWMutex
	byEmail map[string]*Customer
}

// NewInMemoryRepository creates a new in-memory customer repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byEmail: make(map[string]*Customer),
	}
}

// GetByID retrieves a customer by ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.byEmail {
		if c.ID == id {
			copied := *c
			return &copied, nil
		}
	}
	return nil, ErrCustomerNotFound
}

// GetByEmail retrieves a customer by normalized email.
func (r *InMemoryRepository) GetByEmail(ctx context.Context, email string) (*Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byEmail[email]
	if !ok {
		return nil, ErrCustomerNotFound
	}

	copied := *c
	return &copied, nil
}

// Resolve returns the existing customer for c.Email or creates one from c.
func (r *InMemoryRepository) Resolve(ctx context.Context, c *Customer) (*Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byEmail[c.Email]; ok {
		copied := *existing
		return &copied, nil
	}

	created := *c
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	if created.CreatedAt == nil {
		now := time.Now()
		created.CreatedAt = &now
	}
	r.byEmail[created.Email] = &created

	copied := created
	return &copied, nil
}
