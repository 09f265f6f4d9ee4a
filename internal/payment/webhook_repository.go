package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEventAlreadyProcessed is returned when attempting to record a duplicate
// webhook event.
var ErrEventAlreadyProcessed = errors.New("webhook event already processed")

// WebhookEvent represents a processed webhook event for replay detection.
type WebhookEvent struct {
	ID          string
	EventID     string
	EventType   string
	ProcessedAt time.Time
}

// WebhookRepository tracks processed webhook event ids. Events are recorded
// only after the transition rule has settled them, so a delivery that failed
// with an internal error stays unrecorded and the processor's retry is
// applied; replays of settled events are merely detected and logged.
type WebhookRepository interface {
	// RecordEvent records a webhook event as processed.
	// Returns ErrEventAlreadyProcessed if the event was already recorded.
	RecordEvent(ctx context.Context, eventID, eventType string) error
}

// InMemoryWebhookRepository implements WebhookRepository with in-memory storage.
type InMemoryWebhookRepository struct {
	mu     sync.Mutex
	events map[string]*WebhookEvent
}

// NewInMemoryWebhookRepository creates a new in-memory webhook repository.
func NewInMemoryWebhookRepository() *InMemoryWebhookRepository {
	return &InMemoryWebhookRepository{
		events: make(map[string]*WebhookEvent),
	}
}

// RecordEvent records a webhook event as processed.
func (r *InMemoryWebhookRepository) RecordEvent(ctx context.Context, eventID, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[eventID]; exists {
		return ErrEventAlreadyProcessed
	}

	r.events[eventID] = &WebhookEvent{
		ID:          uuid.New().String(),
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now(),
	}
	return nil
}

// PostgresWebhookRepository implements WebhookRepository using PostgreSQL.
// Uniqueness is enforced by the event_id unique index so concurrent deliveries
// of the same event cannot both record it.
type PostgresWebhookRepository struct {
	db *sql.DB
}

// NewPostgresWebhookRepository creates a new Postgres-backed webhook repository.
func NewPostgresWebhookRepository(db *sql.DB) *PostgresWebhookRepository {
	return &PostgresWebhookRepository{db: db}
}

// RecordEvent records a webhook event as processed.
func (r *PostgresWebhookRepository) RecordEvent(ctx context.Context, eventID, eventType string) error {
	query := `
		INSERT INTO webhook_events (id, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, uuid.New().String(), eventID, eventType)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrEventAlreadyProcessed
	}
	return nil
}
