package payment

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresAnomalyRepository implements AnomalyRepository using PostgreSQL.
type PostgresAnomalyRepository struct {
	db *sql.DB
}

// NewPostgresAnomalyRepository creates a new Postgres-backed anomaly repository.
func NewPostgresAnomalyRepository(db *sql.DB) *PostgresAnomalyRepository {
	return &PostgresAnomalyRepository{db: db}
}

// Record stores an anomaly.
func (r *PostgresAnomalyRepository) Record(ctx context.Context, a *Anomaly) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	query := `
		INSERT INTO payment_anomalies (id, kind, checkout_reference, session_id, detail)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		a.ID, string(a.Kind), a.CheckoutReference, a.SessionID, a.Detail,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

// List returns up to limit anomalies, newest first.
func (r *PostgresAnomalyRepository) List(ctx context.Context, limit int) ([]*Anomaly, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, kind, COALESCE(checkout_reference, ''), COALESCE(session_id, ''), detail, created_at
		FROM payment_anomalies
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	anomalies := []*Anomaly{}
	for rows.Next() {
		var (
			a    Anomaly
			kind string
		)
		if err := rows.Scan(&a.ID, &kind, &a.CheckoutReference, &a.SessionID, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		a.Kind = AnomalyKind(kind)
		anomalies = append(anomalies, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomalies: %w", err)
	}

	return anomalies, nil
}
