package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmehra2102/marketplace-core/pkg/event"
)

type fakePayments struct {
	calls []string
	err   error
}

func (f *fakePayments) HandleOrderCancelled(_ context.Context, orderID, reason string) error {
	f.calls = append(f.calls, orderID+":"+reason)
	return f.err
}

func envelope(t *testing.T, p event.Payload) event.Envelope {
	t.Helper()
	env, err := event.New(event.AggregateOrder, "o-1", p, time.Now())
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	return env
}

func TestOrderEventHandler(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("cancelled order is compensated", func(t *testing.T) {
		payments := &fakePayments{}
		h := NewOrderEventHandler(log, payments)
		if err := h.Handle(context.Background(), envelope(t, event.OrderCancelled{OrderID: "o-1", Reason: "out of stock"})); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if len(payments.calls) != 1 || payments.calls[0] != "o-1:out of stock" {
			t.Fatalf("unexpected calls %v", payments.calls)
		}
	})

	t.Run("other order events are ignored", func(t *testing.T) {
		payments := &fakePayments{}
		h := NewOrderEventHandler(log, payments)
		if err := h.Handle(context.Background(), envelope(t, event.OrderCreated{OrderID: "o-1"})); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if len(payments.calls) != 0 {
			t.Fatalf("expected no calls, got %v", payments.calls)
		}
	})

	t.Run("missing order id is permanent", func(t *testing.T) {
		h := NewOrderEventHandler(log, &fakePayments{})
		var perm *backoff.PermanentError
		if err := h.Handle(context.Background(), envelope(t, event.OrderCancelled{})); !errors.As(err, &perm) {
			t.Fatalf("expected a permanent error, got %v", err)
		}
	})

	t.Run("service errors are retried", func(t *testing.T) {
		h := NewOrderEventHandler(log, &fakePayments{err: errors.New("db down")})
		var perm *backoff.PermanentError
		if err := h.Handle(context.Background(), envelope(t, event.OrderCancelled{OrderID: "o-1"})); err == nil || errors.As(err, &perm) {
			t.Fatalf("expected a retryable error, got %v", err)
		}
	})
}
