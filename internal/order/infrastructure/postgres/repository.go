package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/marketplace-core/internal/order/domain"
	"github.com/dmehra2102/marketplace-core/pkg/database"
)

const orderColumns = `order_number, member_id, address_id, coupon_id, status, total_amount, discount_amount,
	delivery_fee, final_amount, point_used, point_earned, ordered_at, paid_at, shipped_at, delivered_at,
	completed_at, cancelled_at, cancel_reason, updated_at`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, r.pool, fn)
}

func (r *Repository) Create(ctx context.Context, o domain.Order) error {
	return database.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := database.Conn(ctx, r.pool)
		_, err := q.Exec(ctx, `
			INSERT INTO orders (id, `+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
			o.ID, o.OrderNumber, o.MemberID, o.AddressID, o.CouponID, o.Status, o.TotalAmount, o.DiscountAmount,
			o.DeliveryFee, o.FinalAmount, o.PointUsed, o.PointEarned, o.OrderedAt, o.PaidAt, o.ShippedAt, o.DeliveredAt,
			o.CompletedAt, o.CancelledAt, o.CancelReason, o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		batch := &pgx.Batch{}
		for _, it := range o.Items {
			batch.Queue(`
				INSERT INTO order_items (order_id, product_option_id, quantity, unit_price, discount_rate, final_price, status, reservation_id)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				o.ID, it.ProductOptionID, it.Quantity, it.UnitPrice, it.DiscountRate, it.FinalPrice, it.Status, it.ReservationID)
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	q := database.Conn(ctx, r.pool)
	o, err := scanOrder(q.QueryRow(ctx, `SELECT id::text, `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) || database.IsInvalidUUID(err) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, order_id::text, product_option_id, quantity, unit_price, discount_rate, final_price, status, reservation_id
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductOptionID, &it.Quantity, &it.UnitPrice,
			&it.DiscountRate, &it.FinalPrice, &it.Status, &it.ReservationID); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// Update writes the mutable columns while the row still has status from.
func (r *Repository) Update(ctx context.Context, o domain.Order, from domain.Status) error {
	return database.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := database.Conn(ctx, r.pool)
		tag, err := q.Exec(ctx, `
			UPDATE orders
			SET status = $3, paid_at = $4, shipped_at = $5, delivered_at = $6, completed_at = $7,
			    cancelled_at = $8, cancel_reason = $9, updated_at = $10
			WHERE id = $1 AND status = $2`,
			o.ID, from, o.Status, o.PaidAt, o.ShippedAt, o.DeliveredAt, o.CompletedAt,
			o.CancelledAt, o.CancelReason, o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check order: %w", err)
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return fmt.Errorf("%w: order %s is no longer %s", domain.ErrInvalidOrderStatus, o.ID, from)
		}

		for _, it := range o.Items {
			if _, err := q.Exec(ctx, `UPDATE order_items SET status = $3 WHERE order_id = $1 AND product_option_id = $2`,
				o.ID, it.ProductOptionID, it.Status); err != nil {
				return fmt.Errorf("update order item: %w", err)
			}
		}
		return nil
	})
}

func (r *Repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, `
		SELECT id::text, `+orderColumns+`
		FROM orders
		WHERE status = 'PENDING' AND ordered_at < $1
		ORDER BY ordered_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.MemberID, &o.AddressID, &o.CouponID, &o.Status, &o.TotalAmount,
		&o.DiscountAmount, &o.DeliveryFee, &o.FinalAmount, &o.PointUsed, &o.PointEarned, &o.OrderedAt, &o.PaidAt,
		&o.ShippedAt, &o.DeliveredAt, &o.CompletedAt, &o.CancelledAt, &o.CancelReason, &o.UpdatedAt)
	return o, err
}
