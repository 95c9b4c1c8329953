package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/marketplace-core/internal/order/domain"
	"github.com/dmehra2102/marketplace-core/internal/testutil"
	"github.com/dmehra2102/marketplace-core/pkg/database"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	pool := testutil.NewPool(t)
	if err := database.Migrate(context.Background(), pool, Migrations(), MigrationLockID); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	testutil.Truncate(t, pool, "order_items, orders")
	return NewRepository(slog.New(slog.NewTextHandler(io.Discard, nil)), pool)
}

func newOrder(t *testing.T, orderedAt time.Time) domain.Order {
	t.Helper()
	id := uuid.NewString()
	o, err := domain.NewOrder(domain.Draft{
		ID:          id,
		OrderNumber: "ORD-" + id[:8],
		MemberID:    "m-1",
		AddressID:   "a-1",
		Items: []domain.DraftItem{
			{ProductOptionID: 1, Quantity: 2, UnitPrice: 10000, DiscountRate: 10},
			{ProductOptionID: 2, Quantity: 1, UnitPrice: 5000},
		},
		PointToUse: 500,
	}, domain.Pricing{PointRateBps: 100, DeliveryFee: 3000, FreeDeliveryFrom: 50000}, orderedAt)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	o.AttachReservations(map[int64]string{1: uuid.NewString(), 2: uuid.NewString()})
	return o
}

func TestRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("create and get round trip", func(t *testing.T) {
		o := newOrder(t, now)
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := repo.Get(ctx, o.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.FinalAmount != o.FinalAmount || got.Status != domain.StatusPending || len(got.Items) != 2 {
			t.Fatalf("unexpected order %+v", got)
		}
		if got.Items[0].ReservationID != o.Items[0].ReservationID {
			t.Fatalf("reservation id lost: %+v", got.Items[0])
		}
	})

	t.Run("unknown and malformed ids are not found", func(t *testing.T) {
		for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
			if _, err := repo.Get(ctx, id); !errors.Is(err, domain.ErrOrderNotFound) {
				t.Fatalf("%s: expected ErrOrderNotFound, got %v", id, err)
			}
		}
	})

	t.Run("update is guarded by previous status", func(t *testing.T) {
		o := newOrder(t, now)
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create: %v", err)
		}

		paid := o
		if err := paid.MarkAsPaid(now); err != nil {
			t.Fatalf("mark paid: %v", err)
		}
		if err := repo.Update(ctx, paid, domain.StatusPending); err != nil {
			t.Fatalf("update: %v", err)
		}

		cancelled := o
		if err := cancelled.Cancel("late", now); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		err := repo.Update(ctx, cancelled, domain.StatusPending)
		if !errors.Is(err, domain.ErrInvalidOrderStatus) {
			t.Fatalf("expected ErrInvalidOrderStatus, got %v", err)
		}

		got, err := repo.Get(ctx, o.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != domain.StatusPaid || got.PaidAt == nil {
			t.Fatalf("expected PAID with paidAt, got %+v", got)
		}
	})

	t.Run("cancel updates items", func(t *testing.T) {
		o := newOrder(t, now)
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := o.Cancel("changed mind", now); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if err := repo.Update(ctx, o, domain.StatusPending); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, err := repo.Get(ctx, o.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		for _, it := range got.Items {
			if it.Status != domain.ItemCancelled {
				t.Fatalf("item not cancelled: %+v", it)
			}
		}
		if got.CancelReason != "changed mind" {
			t.Fatalf("unexpected reason %q", got.CancelReason)
		}
	})

	t.Run("list pending before cutoff", func(t *testing.T) {
		testutil.Truncate(t, repo.pool, "order_items, orders")
		old := newOrder(t, now.Add(-2*time.Hour))
		fresh := newOrder(t, now)
		for _, o := range []domain.Order{old, fresh} {
			if err := repo.Create(ctx, o); err != nil {
				t.Fatalf("create: %v", err)
			}
		}
		got, err := repo.ListPendingBefore(ctx, now.Add(-time.Hour), 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 1 || got[0].ID != old.ID {
			t.Fatalf("expected only the old order, got %+v", got)
		}
	})
}
