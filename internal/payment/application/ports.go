package application

import (
	"context"
	"time"

	"github.com/dmehra2102/marketplace-core/internal/payment/domain"
)

type PaymentRepository interface {
	// WithinTx runs fn so that every write made through ctx, outbox rows
	// included, commits or rolls back together.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, p domain.Payment) error
	Get(ctx context.Context, id string) (domain.Payment, error)
	// LatestForOrder returns the most recent payment opened for the order.
	LatestForOrder(ctx context.Context, orderID string) (domain.Payment, error)
	// Update persists p only while the stored status is still from.
	Update(ctx context.Context, p domain.Payment, from domain.Status) error
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error)
	// MarkOrderCancelled records that the order was cancelled. Repeating it is a no-op.
	MarkOrderCancelled(ctx context.Context, orderID, reason string, at time.Time) error
	OrderCancelled(ctx context.Context, orderID string) (bool, error)
}
