package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	invapp "github.com/dmehra2102/marketplace-core/internal/inventory/application"
	invhttp "github.com/dmehra2102/marketplace-core/internal/inventory/infrastructure/http"
	invmemory "github.com/dmehra2102/marketplace-core/internal/inventory/infrastructure/memory"
	"github.com/dmehra2102/marketplace-core/internal/orchestrator/domain"
	"github.com/dmehra2102/marketplace-core/pkg/httpx"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ledgerServer(t *testing.T, stock map[int64]int) (*Client, *invapp.Ledger) {
	t.Helper()
	ledger := invapp.NewLedger(discardLogger(), invmemory.NewRepository(nil))
	for id, qty := range stock {
		if _, err := ledger.Stock(context.Background(), id, qty, 0); err != nil {
			t.Fatalf("stock: %v", err)
		}
	}
	srv := httptest.NewServer(invhttp.NewHandler(discardLogger(), ledger).Routes())
	t.Cleanup(srv.Close)
	return NewClient(discardLogger(), srv.URL, WithRetries(2, time.Millisecond)), ledger
}

func TestClientAgainstLedgerAPI(t *testing.T) {
	ctx := context.Background()
	c, ledger := ledgerServer(t, map[int64]int{1: 5})

	r, err := c.Reserve(ctx, "o-1", domain.Line{ProductOptionID: 1, Quantity: 3})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if r.ReservationID == "" || r.AvailableQuantity != 2 {
		t.Fatalf("unexpected reservation %+v", r)
	}

	if _, err := c.Reserve(ctx, "o-2", domain.Line{ProductOptionID: 1, Quantity: 3}); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if _, err := c.Reserve(ctx, "o-2", domain.Line{ProductOptionID: 99, Quantity: 1}); !errors.Is(err, domain.ErrInventoryNotFound) {
		t.Fatalf("expected ErrInventoryNotFound, got %v", err)
	}

	if err := c.Confirm(ctx, r.ReservationID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	inv, err := ledger.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if inv.Quantity != 2 || inv.ReservedQuantity != 0 {
		t.Fatalf("unexpected inventory after confirm %+v", inv)
	}
	if err := c.Reopen(ctx, r.ReservationID, "shipment aborted"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	inv, _ = ledger.Get(ctx, 1)
	if inv.Quantity != 5 || inv.ReservedQuantity != 3 {
		t.Fatalf("unexpected inventory after reopen %+v", inv)
	}
}

func TestClientReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, ledger := ledgerServer(t, map[int64]int{1: 5})

	r, err := c.Reserve(ctx, "o-1", domain.Line{ProductOptionID: 1, Quantity: 4})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	line := domain.ReleaseLine{ProductOptionID: 1, Quantity: 4, ReservationID: r.ReservationID, Reason: "cancel"}
	for i := 0; i < 2; i++ {
		if err := c.Release(ctx, "o-1", line); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	if err := c.Release(ctx, "o-1", domain.ReleaseLine{ProductOptionID: 42, Quantity: 1}); err != nil {
		t.Fatalf("release of unknown option should succeed: %v", err)
	}

	inv, err := ledger.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if inv.ReservedQuantity != 0 {
		t.Fatalf("expected nothing reserved, got %d", inv.ReservedQuantity)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			httpx.WriteError(w, http.StatusServiceUnavailable, httpx.CodeInternalError, "busy")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"reservationId": "r-1", "availableQuantity": 7})
	}))
	defer srv.Close()

	c := NewClient(discardLogger(), srv.URL, WithRetries(3, time.Millisecond))
	r, err := c.Reserve(context.Background(), "o-1", domain.Line{ProductOptionID: 1, Quantity: 1})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if r.ReservationID != "r-1" || calls.Load() != 3 {
		t.Fatalf("unexpected result %+v after %d calls", r, calls.Load())
	}
}

func TestClientGivesUpAsReservationFailed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(discardLogger(), srv.URL, WithRetries(2, time.Millisecond))
	_, err := c.Reserve(context.Background(), "o-1", domain.Line{ProductOptionID: 1, Quantity: 1})
	if !errors.Is(err, domain.ErrStockReservationFailed) {
		t.Fatalf("expected ErrStockReservationFailed, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientDoesNotRetryBusinessRefusals(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInsufficientStock, "insufficient stock")
	}))
	defer srv.Close()

	c := NewClient(discardLogger(), srv.URL, WithRetries(5, time.Millisecond))
	if _, err := c.Reserve(context.Background(), "o-1", domain.Line{ProductOptionID: 1, Quantity: 1}); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}
