package payment

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL.
// Terminal transitions use conditional UPDATE ... WHERE status = 'PENDING'
// so the database, not application code, closes the race between the webhook
// and polled reconciliation paths.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new Postgres-backed ledger repository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

const paymentColumns = `id, checkout_reference, session_id, amount_cents, currency, description,
	product_id, customer_id, status, transaction_id, transaction_code, payment_method,
	error_message, created_at, updated_at`

// CreatePending inserts a new PENDING row.
func (r *PostgresRepository) CreatePending(ctx context.Context, p *Payment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Status = StatusPending

	query := `
		INSERT INTO payments (id, checkout_reference, session_id, amount_cents, currency,
			description, product_id, customer_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		p.ID, p.CheckoutReference, p.SessionID, p.AmountCents, p.Currency,
		p.Description, p.ProductID, p.CustomerID, string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

// GetByReference retrieves a ledger row by checkout reference.
func (r *PostgresRepository) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE checkout_reference = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, reference))
}

// GetBySessionID retrieves a ledger row by the processor session id.
func (r *PostgresRepository) GetBySessionID(ctx context.Context, sessionID string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE session_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, sessionID))
}

// MarkSucceeded transitions PENDING -> SUCCESSFUL with a conditional update.
func (r *PostgresRepository) MarkSucceeded(ctx context.Context, reference string, result TransactionResult) (bool, error) {
	query := `
		UPDATE payments
		SET status = $2,
			transaction_id = NULLIF($3, ''),
			transaction_code = NULLIF($4, ''),
			payment_method = NULLIF($5, ''),
			updated_at = now()
		WHERE checkout_reference = $1 AND status = $6
	`
	res, err := r.db.ExecContext(ctx, query, reference,
		string(StatusSuccessful), result.TransactionID, result.TransactionCode,
		result.PaymentMethod, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("mark payment succeeded: %w", err)
	}

	return r.applied(ctx, reference, res)
}

// MarkFailed transitions PENDING -> FAILED with a conditional update.
func (r *PostgresRepository) MarkFailed(ctx context.Context, reference string, errorMessage string) (bool, error) {
	if errorMessage == "" {
		errorMessage = defaultFailureMessage
	}

	query := `
		UPDATE payments
		SET status = $2, error_message = $3, updated_at = now()
		WHERE checkout_reference = $1 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query, reference,
		string(StatusFailed), errorMessage, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("mark payment failed: %w", err)
	}

	return r.applied(ctx, reference, res)
}

// applied distinguishes "row no longer PENDING" from "row does not exist"
// when a conditional update touched zero rows.
func (r *PostgresRepository) applied(ctx context.Context, reference string, res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE checkout_reference = $1)`, reference,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check payment existence: %w", err)
	}
	if !exists {
		return false, ErrPaymentNotFound
	}

	return false, nil
}

// List returns matching rows newest first with a total count.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Payment, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.ProductID != "" {
		add("product_id = $%d", filter.ProductID)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}
	if filter.OlderThan != nil {
		add("created_at < $%d", *filter.OlderThan)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM payments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(`SELECT `+paymentColumns+` FROM payments%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := []*Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate payments: %w", err)
	}

	return payments, total, nil
}

// scanner captures the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(s scanner) (*Payment, error) {
	var (
		p      Payment
		status string
	)
	err := s.Scan(
		&p.ID, &p.CheckoutReference, &p.SessionID, &p.AmountCents, &p.Currency,
		&p.Description, &p.ProductID, &p.CustomerID, &status,
		&p.TransactionID, &p.TransactionCode, &p.PaymentMethod,
		&p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*Payment, error) {
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}
