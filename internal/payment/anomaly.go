package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AnomalyKind classifies a reconciliation anomaly.
type AnomalyKind string

// Anomaly kinds.
const (
	// AnomalyUnknownReference marks a reconciliation signal whose key matched
	// no ledger row: the processor and the ledger disagree about identity.
	AnomalyUnknownReference AnomalyKind = "unknown_reference"

	// AnomalyConflictingSignals marks a terminal signal that disagreed with
	// an already-recorded terminal status.
	AnomalyConflictingSignals AnomalyKind = "conflicting_signals"

	// AnomalyOrphanedSession marks an external session that was created but
	// whose ledger write failed, leaving the processor side untracked.
	AnomalyOrphanedSession AnomalyKind = "orphaned_session"
)

// Anomaly is a durable record that a reconciliation invariant was strained.
// It exists for operator review, not runtime repair.
type Anomaly struct {
	ID                string      `json:"id"`
	Kind              AnomalyKind `json:"kind"`
	CheckoutReference string      `json:"checkout_reference,omitempty"`
	SessionID         string      `json:"session_id,omitempty"`
	Detail            string      `json:"detail"`
	CreatedAt         *time.Time  `json:"created_at,omitempty"`
}

// AnomalyRepository persists reconciliation anomalies.
type AnomalyRepository interface {
	Record(ctx context.Context, a *Anomaly) error
	List(ctx context.Context, limit int) ([]*Anomaly, error)
}

// InMemoryAnomalyRepository implements AnomalyRepository with in-memory storage.
type InMemoryAnomalyRepository struct {
	mu        sync.RWMutex
	anomalies []*Anomaly
}

// NewInMemoryAnomalyRepository creates a new in-memory anomaly repository.
func NewInMemoryAnomalyRepository() *InMemoryAnomalyRepository {
	return &InMemoryAnomalyRepository{}
}

// Record stores an anomaly.
func (r *InMemoryAnomalyRepository) Record(ctx context.Context, a *Anomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt == nil {
		now := time.Now()
		a.CreatedAt = &now
	}

	copied := *a
	r.anomalies = append(r.anomalies, &copied)
	return nil
}

// List returns up to limit anomalies, newest first.
func (r *InMemoryAnomalyRepository) List(ctx context.Context, limit int) ([]*Anomaly, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Anomaly, 0, len(r.anomalies))
	for _, a := range r.anomalies {
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(*out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
