package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/marketplace-core/internal/payment/domain"
	"github.com/dmehra2102/marketplace-core/pkg/database"
)

const paymentColumns = `order_id, payment_key, method, status, amount, paid_amount, refunded_amount, due_date,
	failure_reason, cancel_reason, paid_at, cancelled_at, created_at, updated_at`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// WithinTx opens a transaction that the outbox publisher joins through ctx.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, r.pool, fn)
}

func (r *Repository) Create(ctx context.Context, p domain.Payment) error {
	_, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO payments (id, `+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.ID, p.OrderID, p.PaymentKey, p.Method, p.Status, p.Amount, p.PaidAmount, p.RefundedAmount, p.DueDate,
		p.FailureReason, p.CancelReason, p.PaidAt, p.CancelledAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Payment, error) {
	p, err := scanPayment(database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id::text, `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) || database.IsInvalidUUID(err) {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	if err != nil {
		return domain.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (r *Repository) LatestForOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	p, err := scanPayment(database.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id::text, `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	if err != nil {
		return domain.Payment{}, fmt.Errorf("get payment for order: %w", err)
	}
	return p, nil
}

// Update writes the mutable columns while the row still has status from.
func (r *Repository) Update(ctx context.Context, p domain.Payment, from domain.Status) error {
	q := database.Conn(ctx, r.pool)
	tag, err := q.Exec(ctx, `
		UPDATE payments
		SET status = $3, payment_key = $4, paid_amount = $5, refunded_amount = $6, failure_reason = $7,
		    cancel_reason = $8, paid_at = $9, cancelled_at = $10, updated_at = $11
		WHERE id = $1 AND status = $2`,
		p.ID, from, p.Status, p.PaymentKey, p.PaidAmount, p.RefundedAmount, p.FailureReason,
		p.CancelReason, p.PaidAt, p.CancelledAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check payment: %w", err)
	}
	if !exists {
		return domain.ErrPaymentNotFound
	}
	return fmt.Errorf("%w: payment %s is no longer %s", domain.ErrInvalidPaymentStatus, p.ID, from)
}

func (r *Repository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, `
		SELECT id::text, `+paymentColumns+`
		FROM payments
		WHERE status = 'WAITING_FOR_DEPOSIT' AND due_date < $1
		ORDER BY due_date
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) MarkOrderCancelled(ctx context.Context, orderID, reason string, at time.Time) error {
	_, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO cancelled_orders (order_id, reason, cancelled_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO NOTHING`, orderID, reason, at)
	if err != nil {
		return fmt.Errorf("record cancelled order: %w", err)
	}
	return nil
}

func (r *Repository) OrderCancelled(ctx context.Context, orderID string) (bool, error) {
	var cancelled bool
	err := database.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cancelled_orders WHERE order_id = $1)`, orderID).Scan(&cancelled)
	if err != nil {
		return false, fmt.Errorf("check cancelled order: %w", err)
	}
	return cancelled, nil
}

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.PaymentKey, &p.Method, &p.Status, &p.Amount, &p.PaidAmount,
		&p.RefundedAmount, &p.DueDate, &p.FailureReason, &p.CancelReason, &p.PaidAt, &p.CancelledAt,
		&p.CreatedAt, &p.UpdatedAt)
	return p, err
}
