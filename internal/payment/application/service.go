package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/marketplace-core/internal/payment/domain"
	"github.com/dmehra2102/marketplace-core/pkg/clock"
	"github.com/dmehra2102/marketplace-core/pkg/event"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
)

const (
	ReasonDepositDeadline = "deposit deadline exceeded"
	reasonOrderCancelled  = "order cancelled"
	sweepBatch            = 100
	compensateAttempts    = 3
)

type Service struct {
	log        *slog.Logger
	repo       PaymentRepository
	publisher  event.Publisher
	clock      clock.Clock
	depositTTL time.Duration
	tracer     trace.Tracer
	newID      func() string
}

type Option func(*Service)

func WithDepositTTL(d time.Duration) Option {
	return func(s *Service) { s.depositTTL = d }
}

func NewService(log *slog.Logger, repo PaymentRepository, publisher event.Publisher, c clock.Clock, opts ...Option) *Service {
	if c == nil {
		c = clock.NewSystem()
	}
	s := &Service{
		log:        log,
		repo:       repo,
		publisher:  publisher,
		clock:      c,
		depositTTL: 24 * time.Hour,
		tracer:     otel.Tracer("payment-service"),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate opens a payment for an order. An order holds at most one payment
// that is not CANCELLED or FAILED, and a cancelled order takes none.
func (s *Service) Initiate(ctx context.Context, orderID string, method domain.Method, amount int64) (domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Initiate")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	if err := s.ensureOrderOpen(ctx, orderID); err != nil {
		return domain.Payment{}, err
	}
	existing, err := s.repo.LatestForOrder(ctx, orderID)
	switch {
	case err == nil && existing.Status != domain.StatusCancelled && existing.Status != domain.StatusFailed:
		return existing, fmt.Errorf("%w: order %s already has payment %s (%s)", domain.ErrInvalidPaymentStatus, orderID, existing.ID, existing.Status)
	case err != nil && !errors.Is(err, domain.ErrPaymentNotFound):
		return domain.Payment{}, err
	}

	p, err := domain.NewPayment(s.newID(), orderID, method, amount, s.clock.Now(), s.depositTTL)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return domain.Payment{}, fmt.Errorf("create payment: %w", err)
	}
	logging.WithTrace(ctx, s.log).Info("payment initiated", "payment_id", p.ID, "order_id", orderID, "method", method, "amount", amount)
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Payment, error) {
	return s.repo.Get(ctx, id)
}

// Confirm settles the payment and emits PAYMENT_COMPLETED. A payment whose
// order was cancelled meanwhile is cancelled instead.
func (s *Service) Confirm(ctx context.Context, id, paymentKey string, amount int64) (domain.Payment, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := s.ensureOrderOpen(ctx, p.OrderID); err != nil {
		if _, cErr := s.Cancel(ctx, id, reasonOrderCancelled); cErr != nil && !errors.Is(cErr, domain.ErrInvalidPaymentStatus) {
			logging.WithTrace(ctx, s.log).Error("cancel payment of cancelled order failed", "payment_id", id, "err", cErr)
		}
		return domain.Payment{}, err
	}
	return s.change(ctx, id, "payment.Confirm", func(p *domain.Payment, now time.Time) (event.Payload, error) {
		if err := p.MarkAsPaid(paymentKey, amount, now); err != nil {
			return nil, err
		}
		return p.CompletedEvent(), nil
	})
}

func (s *Service) Cancel(ctx context.Context, id, reason string) (domain.Payment, error) {
	return s.change(ctx, id, "payment.Cancel", func(p *domain.Payment, now time.Time) (event.Payload, error) {
		if err := p.MarkAsCancelled(reason, now); err != nil {
			return nil, err
		}
		return p.CancelledEvent(), nil
	})
}

func (s *Service) Fail(ctx context.Context, id, reason string) (domain.Payment, error) {
	return s.change(ctx, id, "payment.Fail", func(p *domain.Payment, now time.Time) (event.Payload, error) {
		if err := p.MarkAsFailed(reason, now); err != nil {
			return nil, err
		}
		return p.FailedEvent(), nil
	})
}

func (s *Service) Refund(ctx context.Context, id string, amount int64) (domain.Payment, error) {
	return s.change(ctx, id, "payment.Refund", func(p *domain.Payment, now time.Time) (event.Payload, error) {
		if err := p.MarkAsRefunded(amount, now); err != nil {
			return nil, err
		}
		return p.RefundedEvent(amount), nil
	})
}

// ExpireOverdue cancels virtual account payments whose deposit is past due.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	overdue, err := s.repo.ListOverdue(ctx, now, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list overdue payments: %w", err)
	}

	log := logging.WithTrace(ctx, s.log)
	n := 0
	for _, p := range overdue {
		if _, err := s.Cancel(ctx, p.ID, ReasonDepositDeadline); err != nil {
			if errors.Is(err, domain.ErrInvalidPaymentStatus) {
				log.Info("overdue payment moved on before expiry", "payment_id", p.ID)
				continue
			}
			log.Error("expire payment failed", "payment_id", p.ID, "err", err)
			continue
		}
		n++
	}
	if n > 0 {
		log.Info("expired overdue payments", "count", n)
	}
	return n, nil
}

// RunExpirySweep calls ExpireOverdue every interval until ctx is done.
func (s *Service) RunExpirySweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ExpireOverdue(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("overdue payment sweep failed", "err", err)
			}
		}
	}
}

// HandleOrderCancelled settles the order's payment after the order was
// cancelled: an unpaid payment is cancelled, a paid one is refunded in full.
// The order is remembered as cancelled first, so a payment opened or confirmed
// afterwards is rejected.
func (s *Service) HandleOrderCancelled(ctx context.Context, orderID, reason string) error {
	if reason == "" {
		reason = reasonOrderCancelled
	}
	if err := s.repo.MarkOrderCancelled(ctx, orderID, reason, s.clock.Now()); err != nil {
		return err
	}

	var err error
	for attempt := 1; attempt <= compensateAttempts; attempt++ {
		err = s.compensate(ctx, orderID, reason)
		if !errors.Is(err, domain.ErrInvalidPaymentStatus) {
			return err
		}
		logging.WithTrace(ctx, s.log).Info("payment changed while compensating, re-reading", "order_id", orderID, "attempt", attempt, "err", err)
	}
	return err
}

func (s *Service) compensate(ctx context.Context, orderID, reason string) error {
	p, err := s.repo.LatestForOrder(ctx, orderID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	log := logging.WithTrace(ctx, s.log).With("order_id", orderID, "payment_id", p.ID)
	switch {
	case p.Status.Terminal():
		log.Info("payment needs no compensation", "status", p.Status)
		return nil
	case p.Status.Settled():
		_, err = s.Refund(ctx, p.ID, p.RefundableAmount())
	default:
		_, err = s.Cancel(ctx, p.ID, reason)
	}
	return err
}

func (s *Service) ensureOrderOpen(ctx context.Context, orderID string) error {
	cancelled, err := s.repo.OrderCancelled(ctx, orderID)
	if err != nil {
		return fmt.Errorf("check order %s: %w", orderID, err)
	}
	if cancelled {
		return fmt.Errorf("%w: order %s was cancelled", domain.ErrInvalidPaymentStatus, orderID)
	}
	return nil
}

func (s *Service) change(ctx context.Context, id, op string, fn func(*domain.Payment, time.Time) (event.Payload, error)) (domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", id))

	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	from := p.Status
	payload, err := fn(&p, s.clock.Now())
	if err != nil {
		span.RecordError(err)
		return domain.Payment{}, err
	}
	env, err := event.New(event.AggregatePayment, p.ID, payload, p.UpdatedAt)
	if err != nil {
		return domain.Payment{}, err
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, p, from); err != nil {
			return err
		}
		if s.publisher == nil {
			return nil
		}
		return s.publisher.Publish(ctx, env)
	})
	if err != nil {
		span.RecordError(err)
		return domain.Payment{}, err
	}
	logging.WithTrace(ctx, s.log).Info("payment status changed", "payment_id", p.ID, "order_id", p.OrderID, "from", from, "to", p.Status)
	return p, nil
}
