package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/marketplace-core/internal/payment/domain"
	"github.com/dmehra2102/marketplace-core/internal/testutil"
	"github.com/dmehra2102/marketplace-core/pkg/database"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	pool := testutil.NewPool(t)
	if err := database.Migrate(context.Background(), pool, Migrations(), MigrationLockID); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	testutil.Truncate(t, pool, "payments, cancelled_orders")
	return NewRepository(slog.New(slog.NewTextHandler(io.Discard, nil)), pool)
}

func TestRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("round trip and guarded update", func(t *testing.T) {
		p, err := domain.NewPayment(uuid.NewString(), "order-1", domain.MethodCard, 10000, now, time.Hour)
		if err != nil {
			t.Fatalf("new payment: %v", err)
		}
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}

		paid := p
		if err := paid.MarkAsPaid("key-1", 10000, now.Add(time.Minute)); err != nil {
			t.Fatalf("mark paid: %v", err)
		}
		if err := repo.Update(ctx, paid, domain.StatusPending); err != nil {
			t.Fatalf("update: %v", err)
		}
		if err := repo.Update(ctx, paid, domain.StatusPending); !errors.Is(err, domain.ErrInvalidPaymentStatus) {
			t.Fatalf("expected ErrInvalidPaymentStatus on stale update, got %v", err)
		}

		got, err := repo.Get(ctx, p.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != domain.StatusPaid || got.PaymentKey != "key-1" || got.PaidAt == nil {
			t.Fatalf("unexpected payment %+v", got)
		}

		latest, err := repo.LatestForOrder(ctx, "order-1")
		if err != nil || latest.ID != p.ID {
			t.Fatalf("latest for order: %+v err=%v", latest, err)
		}
	})

	t.Run("unknown ids are not found", func(t *testing.T) {
		if _, err := repo.Get(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrPaymentNotFound) {
			t.Fatalf("expected ErrPaymentNotFound, got %v", err)
		}
		if _, err := repo.LatestForOrder(ctx, "order-404"); !errors.Is(err, domain.ErrPaymentNotFound) {
			t.Fatalf("expected ErrPaymentNotFound, got %v", err)
		}
		ghost, _ := domain.NewPayment(uuid.NewString(), "order-x", domain.MethodCard, 1, now, 0)
		if err := repo.Update(ctx, ghost, domain.StatusPending); !errors.Is(err, domain.ErrPaymentNotFound) {
			t.Fatalf("expected ErrPaymentNotFound, got %v", err)
		}
	})

	t.Run("overdue deposits", func(t *testing.T) {
		va, _ := domain.NewPayment(uuid.NewString(), "order-2", domain.MethodVirtualAccount, 3000, now, time.Hour)
		if err := repo.Create(ctx, va); err != nil {
			t.Fatalf("create: %v", err)
		}
		list, err := repo.ListOverdue(ctx, now.Add(30*time.Minute), 10)
		if err != nil || len(list) != 0 {
			t.Fatalf("expected nothing overdue yet, got %v err=%v", list, err)
		}
		list, err = repo.ListOverdue(ctx, now.Add(2*time.Hour), 10)
		if err != nil || len(list) != 1 || list[0].ID != va.ID {
			t.Fatalf("expected the virtual account payment, got %v err=%v", list, err)
		}
	})
	t.Run("cancelled orders", func(t *testing.T) {
		if cancelled, err := repo.OrderCancelled(ctx, "order-9"); err != nil || cancelled {
			t.Fatalf("expected order-9 open, got cancelled=%v err=%v", cancelled, err)
		}
		for i := 0; i < 2; i++ {
			if err := repo.MarkOrderCancelled(ctx, "order-9", "customer request", now); err != nil {
				t.Fatalf("mark cancelled #%d: %v", i, err)
			}
		}
		if cancelled, err := repo.OrderCancelled(ctx, "order-9"); err != nil || !cancelled {
			t.Fatalf("expected order-9 cancelled, got cancelled=%v err=%v", cancelled, err)
		}
	})
}
