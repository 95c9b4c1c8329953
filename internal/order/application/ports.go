package application

import (
	"context"
	"time"

	orchestrator "github.com/dmehra2102/marketplace-core/internal/orchestrator/domain"
	"github.com/dmehra2102/marketplace-core/internal/order/domain"
)

type OrderRepository interface {
	// WithinTx runs fn so that every write made through ctx, outbox rows
	// included, commits or rolls back together.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, o domain.Order) error
	Get(ctx context.Context, id string) (domain.Order, error)
	// Update persists o only while the stored status is still from. A lost
	// race returns domain.ErrInvalidOrderStatus.
	Update(ctx context.Context, o domain.Order, from domain.Status) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// Reservations is the reservation coordinator as seen by the order service.
type Reservations interface {
	ReserveAll(ctx context.Context, orderID string, lines []orchestrator.Line) ([]orchestrator.Reserved, error)
	ReleaseAll(ctx context.Context, orderID string, lines []orchestrator.ReleaseLine)
	// Abandon releases an order that was never stored.
	Abandon(ctx context.Context, orderID string, lines []orchestrator.ReleaseLine)
	// ConfirmAll confirms every reservation or, on failure, none of them.
	ConfirmAll(ctx context.Context, orderID string, reservationIDs []string) error
	ReopenAll(ctx context.Context, orderID string, reservationIDs []string)
}
