package customer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new Postgres-backed customer repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID retrieves a customer by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Customer, error) {
	query := `
		SELECT id, name, email, COALESCE(phone, ''), COALESCE(address, ''), created_at
		FROM customers
		WHERE id = $1
	`
	var c Customer
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

// GetByEmail retrieves a customer by normalized email.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Customer, error) {
	query := `
		SELECT id, name, email, COALESCE(phone, ''), COALESCE(address, ''), created_at
		FROM customers
		WHERE email = $1
	`
	var c Customer
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

// Resolve returns the existing customer for c.Email or creates one from c.
// The insert races are settled by the unique email index: a concurrent insert
// makes ON CONFLICT DO NOTHING return zero rows and the follow-up select
// picks up the winner.
func (r *PostgresRepository) Resolve(ctx context.Context, c *Customer) (*Customer, error) {
	existing, err := r.GetByEmail(ctx, c.Email)
	if err == nil {
		return existing, nil
	}
	if err != ErrCustomerNotFound {
		return nil, err
	}

	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}

	query := `
		INSERT INTO customers (id, name, email, phone, address)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		ON CONFLICT (email) DO NOTHING
		RETURNING id, name, email, COALESCE(phone, ''), COALESCE(address, ''), created_at
	`
	var created Customer
	err = r.db.QueryRowContext(ctx, query, id, c.Name, c.Email, c.Phone, c.Address).Scan(
		&created.ID, &created.Name, &created.Email, &created.Phone, &created.Address, &created.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return r.GetByEmail(ctx, c.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}

	return &created, nil
}
