package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository implements Repository with in-memory storage.
// It mirrors the conditional-update semantics of the Postgres implementation
// so handler and reconciler tests exercise the same transition guarantees.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Payment // keyed by checkout reference
}

// NewInMemoryRepository creates a new in-memory ledger repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Payment),
	}
}

// CreatePending inserts a new PENDING row.
func (r *InMemoryRepository) CreatePending(ctx context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[p.CheckoutReference]; exists {
		return ErrDuplicateReference
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Status = StatusPending

	now := time.Now()
	if p.CreatedAt == nil {
		p.CreatedAt = &now
	}
	if p.UpdatedAt == nil {
		p.UpdatedAt = &now
	}

	// Deep copy to prevent external mutation
	copied := *p
	r.records[p.CheckoutReference] = &copied

	return nil
}

// GetByReference retrieves a ledger row by checkout reference.
func (r *InMemoryRepository) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[reference]
	if !ok {
		return nil, ErrPaymentNotFound
	}

	copied := *record
	return &copied, nil
}

// GetBySessionID retrieves a ledger row by the processor session id.
func (r *InMemoryRepository) GetBySessionID(ctx context.Context, sessionID string) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, record := range r.records {
		if record.SessionID != nil && *record.SessionID == sessionID {
			copied := *record
			return &copied, nil
		}
	}

	return nil, ErrPaymentNotFound
}

// MarkSucceeded transitions PENDING -> SUCCESSFUL under the store lock.
func (r *InMemoryRepository) MarkSucceeded(ctx context.Context, reference string, result TransactionResult) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[reference]
	if !ok {
		return false, ErrPaymentNotFound
	}
	if record.Status != StatusPending {
		return false, nil
	}

	now := time.Now()
	record.Status = StatusSuccessful
	if result.TransactionID != "" {
		record.TransactionID = &result.TransactionID
	}
	if result.TransactionCode != "" {
		record.TransactionCode = &result.TransactionCode
	}
	if result.PaymentMethod != "" {
		record.PaymentMethod = &result.PaymentMethod
	}
	record.UpdatedAt = &now

	return true, nil
}

// MarkFailed transitions PENDING -> FAILED under the store lock.
func (r *InMemoryRepository) MarkFailed(ctx context.Context, reference string, errorMessage string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[reference]
	if !ok {
		return false, ErrPaymentNotFound
	}
	if record.Status != StatusPending {
		return false, nil
	}

	if errorMessage == "" {
		errorMessage = defaultFailureMessage
	}

	now := time.Now()
	record.Status = StatusFailed
	record.ErrorMessage = &errorMessage
	record.UpdatedAt = &now

	return true, nil
}

// List returns matching rows newest first with a total count.
func (r *InMemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Payment, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Payment
	for _, record := range r.records {
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if filter.ProductID != "" && record.ProductID != filter.ProductID {
			continue
		}
		if filter.From != nil && record.CreatedAt != nil && record.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && record.CreatedAt != nil && record.CreatedAt.After(*filter.To) {
			continue
		}
		// Strictly before the cutoff, matching the Postgres query.
		if filter.OlderThan != nil && record.CreatedAt != nil && !record.CreatedAt.Before(*filter.OlderThan) {
			continue
		}
		copied := *record
		matched = append(matched, &copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt == nil || matched[j].CreatedAt == nil {
			return matched[i].CheckoutReference > matched[j].CheckoutReference
		}
		return matched[i].CreatedAt.After(*matched[j].CreatedAt)
	})

	total := len(matched)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	start := (page - 1) * limit
	if start >= total {
		return []*Payment{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}

	return matched[start:end], total, nil
}
