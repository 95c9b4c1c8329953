package domain

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func paid(t *testing.T, amount int64) Payment {
	t.Helper()
	p, err := NewPayment("p-1", "o-1", MethodCard, amount, now, time.Hour)
	if err != nil {
		t.Fatalf("new payment: %v", err)
	}
	if err := p.MarkAsPaid("key-1", amount, now); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	return p
}

func TestRefundScenario(t *testing.T) {
	p := paid(t, 10000)

	if err := p.MarkAsRefunded(4000, now); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if p.Status != StatusPartialRefunded || p.RefundedAmount != 4000 || p.RefundableAmount() != 6000 {
		t.Fatalf("after 4000: %+v", p)
	}

	if err := p.MarkAsRefunded(6000, now); err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if p.Status != StatusRefunded || p.RefundedAmount != 10000 || p.RefundableAmount() != 0 {
		t.Fatalf("after 6000: %+v", p)
	}

	if err := p.MarkAsRefunded(1, now); !errors.Is(err, ErrInvalidPaymentStatus) {
		t.Fatalf("expected ErrInvalidPaymentStatus on a refunded payment, got %v", err)
	}
}

func TestRefundBounds(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
	}{
		{"zero", 0},
		{"negative", -5},
		{"more than refundable", 10001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paid(t, 10000)
			if err := p.MarkAsRefunded(tt.amount, now); !errors.Is(err, ErrRefundFailed) {
				t.Fatalf("expected ErrRefundFailed, got %v", err)
			}
			if p.Status != StatusPaid || p.RefundedAmount != 0 {
				t.Fatalf("state changed: %+v", p)
			}
		})
	}
}

func TestRefundBeforePaymentIsRejected(t *testing.T) {
	p, err := NewPayment("p-1", "o-1", MethodCard, 1000, now, time.Hour)
	if err != nil {
		t.Fatalf("new payment: %v", err)
	}
	if err := p.MarkAsRefunded(100, now); !errors.Is(err, ErrInvalidPaymentStatus) {
		t.Fatalf("expected ErrInvalidPaymentStatus, got %v", err)
	}
}

func TestMarkAsPaid(t *testing.T) {
	p, err := NewPayment("p-1", "o-1", MethodCard, 5000, now, time.Hour)
	if err != nil {
		t.Fatalf("new payment: %v", err)
	}
	if err := p.MarkAsPaid("key", 4999, now); !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed on amount mismatch, got %v", err)
	}
	if err := p.MarkAsPaid("", 5000, now); !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed without key, got %v", err)
	}
	if p.Status != StatusPending {
		t.Fatalf("failed confirmation changed status to %s", p.Status)
	}
	if err := p.MarkAsPaid("key", 5000, now); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if p.PaidAt == nil || p.PaidAmount != 5000 || p.PaymentKey != "key" {
		t.Fatalf("unexpected %+v", p)
	}
	if err := p.MarkAsPaid("key", 5000, now); !errors.Is(err, ErrInvalidPaymentStatus) {
		t.Fatalf("expected ErrInvalidPaymentStatus when paying twice, got %v", err)
	}
}

func TestVirtualAccountWaitsForDeposit(t *testing.T) {
	p, err := NewPayment("p-1", "o-1", MethodVirtualAccount, 5000, now, 24*time.Hour)
	if err != nil {
		t.Fatalf("new payment: %v", err)
	}
	if p.Status != StatusWaitingForDeposit || p.DueDate == nil || !p.DueDate.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("unexpected %+v", p)
	}
	if p.Overdue(now.Add(23 * time.Hour)) {
		t.Fatal("not overdue before the due date")
	}
	late := now.Add(25 * time.Hour)
	if !p.Overdue(late) {
		t.Fatal("expected overdue after the due date")
	}
	if err := p.MarkAsPaid("key", 5000, late); !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected late deposit to fail, got %v", err)
	}
	if err := p.MarkAsCancelled("deposit deadline exceeded", late); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if p.Status != StatusCancelled || p.CancelledAt == nil {
		t.Fatalf("unexpected %+v", p)
	}
}

func TestCancelAndFailOnlyBeforePayment(t *testing.T) {
	p := paid(t, 1000)
	if err := p.MarkAsCancelled("late", now); !errors.Is(err, ErrInvalidPaymentStatus) {
		t.Fatalf("expected ErrInvalidPaymentStatus, got %v", err)
	}
	if err := p.MarkAsFailed("late", now); !errors.Is(err, ErrInvalidPaymentStatus) {
		t.Fatalf("expected ErrInvalidPaymentStatus, got %v", err)
	}

	q, err := NewPayment("p-2", "o-2", MethodCard, 1000, now, time.Hour)
	if err != nil {
		t.Fatalf("new payment: %v", err)
	}
	if err := q.MarkAsFailed("card declined", now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if q.Status != StatusFailed || q.FailureReason != "card declined" {
		t.Fatalf("unexpected %+v", q)
	}
	if !q.Status.Terminal() {
		t.Fatal("FAILED should be terminal")
	}
}

func TestNewPaymentValidation(t *testing.T) {
	if _, err := NewPayment("p", "", MethodCard, 100, now, 0); !errors.Is(err, ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment for missing order, got %v", err)
	}
	if _, err := NewPayment("p", "o", MethodCard, 0, now, 0); !errors.Is(err, ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment for zero amount, got %v", err)
	}
	if _, err := NewPayment("p", "o", Method("CASH"), 100, now, 0); !errors.Is(err, ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment for unknown method, got %v", err)
	}
}
