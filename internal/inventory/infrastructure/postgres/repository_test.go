package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/dmehra2102/marketplace-core/internal/inventory/domain"
	"github.com/dmehra2102/marketplace-core/internal/testutil"
	"github.com/dmehra2102/marketplace-core/pkg/database"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	pool := testutil.NewPool(t)
	ctx := context.Background()
	if err := database.Migrate(ctx, pool, Migrations(), MigrationLockID); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	testutil.Truncate(t, pool, "inventory_history, stock_reservations, inventories")
	return NewRepository(slog.New(slog.NewTextHandler(io.Discard, nil)), pool)
}

func TestRepository(t *testing.T) {
	repo := newTestRepo(t)
	ref := domain.Ref{ID: "o-1", Type: domain.RefOrder, Reason: "test"}

	t.Run("concurrent reservations never oversell", func(t *testing.T) {
		ctx := context.Background()
		if _, err := repo.Create(ctx, domain.Inventory{ProductOptionID: 1, Quantity: 10}, domain.Ref{Type: domain.RefAdmin}); err != nil {
			t.Fatalf("create: %v", err)
		}

		var wg sync.WaitGroup
		errs := make([]error, 3)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = repo.Reserve(ctx, 1, 4, ref)
			}(i)
		}
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if errors.Is(err, domain.ErrInsufficientStock) {
				failed++
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if failed != 1 {
			t.Fatalf("expected exactly one InsufficientStock, got %d", failed)
		}
		inv, err := repo.Get(ctx, 1)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if inv.ReservedQuantity != 8 {
			t.Fatalf("expected reserved 8, got %d", inv.ReservedQuantity)
		}
	})

	t.Run("release clamps and records the amount moved", func(t *testing.T) {
		ctx := context.Background()
		if _, err := repo.Create(ctx, domain.Inventory{ProductOptionID: 2, Quantity: 5}, domain.Ref{Type: domain.RefAdmin}); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := repo.Reserve(ctx, 2, 2, ref); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		inv, released, err := repo.Release(ctx, 2, 5, ref)
		if err != nil {
			t.Fatalf("release: %v", err)
		}
		if released != 2 || inv.ReservedQuantity != 0 {
			t.Fatalf("expected 2 released down to 0, got released=%d inv=%+v", released, inv)
		}

		entries, err := repo.History(ctx, 2, 10)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 history entries, got %d", len(entries))
		}
		last := entries[0]
		if last.ChangeType != domain.ChangeRelease || last.BeforeQuantity != 2 || last.AfterQuantity != 0 || last.ChangeQuantity != 2 {
			t.Fatalf("unexpected release entry %+v", last)
		}

		if _, _, err := repo.Release(ctx, 404, 1, ref); !errors.Is(err, domain.ErrInventoryNotFound) {
			t.Fatalf("expected ErrInventoryNotFound, got %v", err)
		}
	})

	t.Run("compare and swap logs the moved field", func(t *testing.T) {
		ctx := context.Background()
		inv, err := repo.Create(ctx, domain.Inventory{ProductOptionID: 5, Quantity: 10}, domain.Ref{Type: domain.RefAdmin})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if inv, err = repo.Reserve(ctx, 5, 4, ref); err != nil {
			t.Fatalf("reserve: %v", err)
		}

		next := inv
		next.SafetyStock = 2
		if inv, err = repo.CompareAndSwap(ctx, next, next.Version, domain.Ref{Type: domain.RefAdmin}); err != nil {
			t.Fatalf("cas safety stock: %v", err)
		}
		next = inv
		next.ReservedQuantity = 1
		if _, err := repo.CompareAndSwap(ctx, next, next.Version, domain.Ref{Type: domain.RefAdmin}); err != nil {
			t.Fatalf("cas reserved: %v", err)
		}

		entries, err := repo.History(ctx, 5, 10)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected create, reserve and one adjust entry, got %d", len(entries))
		}
		if e := entries[0]; e.ChangeType != domain.ChangeRelease || e.BeforeQuantity != 4 || e.AfterQuantity != 1 {
			t.Fatalf("unexpected adjust entry %+v", e)
		}
	})

	t.Run("confirm requires both counters", func(t *testing.T) {
		ctx := context.Background()
		if _, err := repo.Create(ctx, domain.Inventory{ProductOptionID: 3, Quantity: 10}, domain.Ref{Type: domain.RefAdmin}); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := repo.Confirm(ctx, 3, 1, ref); !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("expected ErrInsufficientStock, got %v", err)
		}
		if _, err := repo.Reserve(ctx, 3, 4, ref); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		inv, err := repo.Confirm(ctx, 3, 4, ref)
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if inv.Quantity != 6 || inv.ReservedQuantity != 0 {
			t.Fatalf("unexpected row %+v", inv)
		}
	})

	t.Run("compare and swap detects stale versions", func(t *testing.T) {
		ctx := context.Background()
		inv, err := repo.Create(ctx, domain.Inventory{ProductOptionID: 4, Quantity: 10}, domain.Ref{Type: domain.RefAdmin})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		next := inv
		next.Quantity = 12
		saved, err := repo.CompareAndSwap(ctx, next, inv.Version, domain.Ref{Type: domain.RefAdmin})
		if err != nil {
			t.Fatalf("cas: %v", err)
		}
		if saved.Version != inv.Version+1 {
			t.Fatalf("expected version bump, got %d", saved.Version)
		}
		if _, err := repo.CompareAndSwap(ctx, next, inv.Version, domain.Ref{Type: domain.RefAdmin}); !errors.Is(err, domain.ErrInventoryUpdateConflict) {
			t.Fatalf("expected ErrInventoryUpdateConflict, got %v", err)
		}
	})

	t.Run("reservations release once", func(t *testing.T) {
		ctx := context.Background()
		if _, err := repo.Create(ctx, domain.Inventory{ProductOptionID: 5, Quantity: 10}, domain.Ref{Type: domain.RefAdmin}); err != nil {
			t.Fatalf("create: %v", err)
		}
		res := domain.Reservation{ID: uuid.NewString(), OrderID: "o-5", ProductOptionID: 5, Quantity: 3}
		if _, err := repo.ReserveForOrder(ctx, res); err != nil {
			t.Fatalf("reserve for order: %v", err)
		}

		got, released, err := repo.ReleaseReservation(ctx, res.ID, "cancelled")
		if err != nil || !released || got.Status != domain.ReservationReleased {
			t.Fatalf("first release: %+v released=%v err=%v", got, released, err)
		}
		if _, released, err := repo.ReleaseReservation(ctx, res.ID, "cancelled"); err != nil || released {
			t.Fatalf("second release: released=%v err=%v", released, err)
		}
		if _, _, err := repo.ReleaseReservation(ctx, "not-a-uuid", "x"); !errors.Is(err, domain.ErrReservationNotFound) {
			t.Fatalf("expected ErrReservationNotFound, got %v", err)
		}

		inv, _ := repo.Get(ctx, 5)
		if inv.ReservedQuantity != 0 {
			t.Fatalf("expected reserved 0, got %d", inv.ReservedQuantity)
		}
		list, err := repo.ReservationsForOrder(ctx, "o-5", 5)
		if err != nil || len(list) != 1 {
			t.Fatalf("expected one reservation, got %v err=%v", list, err)
		}
	})

	t.Run("failed reservation leaves no row behind", func(t *testing.T) {
		ctx := context.Background()
		if _, err := repo.Create(ctx, domain.Inventory{ProductOptionID: 6, Quantity: 1}, domain.Ref{Type: domain.RefAdmin}); err != nil {
			t.Fatalf("create: %v", err)
		}
		res := domain.Reservation{ID: uuid.NewString(), OrderID: "o-6", ProductOptionID: 6, Quantity: 2}
		if _, err := repo.ReserveForOrder(ctx, res); !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("expected ErrInsufficientStock, got %v", err)
		}
		if _, err := repo.GetReservation(ctx, res.ID); !errors.Is(err, domain.ErrReservationNotFound) {
			t.Fatalf("expected no reservation row, got %v", err)
		}
	})
}
