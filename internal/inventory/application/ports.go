package application

import (
	"context"

	"github.com/dmehra2102/marketplace-core/internal/inventory/domain"
)

// Repository is the ledger's storage. Every mutating method is one atomic
// conditional change that also appends its history entry.
type Repository interface {
	Create(ctx context.Context, inv domain.Inventory, ref domain.Ref) (domain.Inventory, error)
	Get(ctx context.Context, productOptionID int64) (domain.Inventory, error)
	History(ctx context.Context, productOptionID int64, limit int) ([]domain.HistoryEntry, error)

	Increase(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error)
	Decrease(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error)
	Reserve(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error)
	// Release returns the row and the amount actually released after clamping.
	Release(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, int, error)
	Confirm(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error)
	// CompareAndSwap stores next only if the row still has expectedVersion.
	CompareAndSwap(ctx context.Context, next domain.Inventory, expectedVersion int64, ref domain.Ref) (domain.Inventory, error)

	// ReserveForOrder reserves res.Quantity and records res in one step.
	ReserveForOrder(ctx context.Context, res domain.Reservation) (domain.Inventory, error)
	ReservationsForOrder(ctx context.Context, orderID string, productOptionID int64) ([]domain.Reservation, error)
	GetReservation(ctx context.Context, reservationID string) (domain.Reservation, error)
	// ReleaseReservation moves an open reservation to RELEASED and gives its
	// quantity back. The bool is false when the reservation was not open.
	ReleaseReservation(ctx context.Context, reservationID, reason string) (domain.Reservation, bool, error)
	ConfirmReservation(ctx context.Context, reservationID string) (domain.Reservation, bool, error)
	// ReopenReservation moves a CONFIRMED reservation back to RESERVED and
	// holds its quantity again. The bool is false when it was not confirmed.
	ReopenReservation(ctx context.Context, reservationID, reason string) (domain.Reservation, bool, error)
}
