package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	orchestrator "github.com/dmehra2102/marketplace-core/internal/orchestrator/domain"
	"github.com/dmehra2102/marketplace-core/internal/order/domain"
	"github.com/dmehra2102/marketplace-core/pkg/clock"
	"github.com/dmehra2102/marketplace-core/pkg/event"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
)

const (
	ReasonPaymentDeadline = "payment deadline exceeded"
	reasonPersistFailed   = "order persist failed"
	sweepBatch            = 100
)

type Service struct {
	log          *slog.Logger
	repo         OrderRepository
	reservations Reservations
	publisher    event.Publisher
	clock        clock.Clock
	pricing      domain.Pricing
	pendingTTL   time.Duration
	tracer       trace.Tracer
	newID        func() string
}

type Option func(*Service)

func WithPendingTTL(d time.Duration) Option {
	return func(s *Service) { s.pendingTTL = d }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func NewService(log *slog.Logger, repo OrderRepository, reservations Reservations, publisher event.Publisher, c clock.Clock, pricing domain.Pricing, opts ...Option) *Service {
	if c == nil {
		c = clock.NewSystem()
	}
	s := &Service{
		log:          log,
		repo:         repo,
		reservations: reservations,
		publisher:    publisher,
		clock:        c,
		pricing:      pricing,
		pendingTTL:   30 * time.Minute,
		tracer:       otel.Tracer("order-service"),
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	MemberID   string
	AddressID  string
	CouponID   *string
	Items      []domain.DraftItem
	PointToUse int64
}

// Create prices the order, reserves its stock and stores it PENDING together
// with ORDER_CREATED. Nothing is stored when the reservation fails, and the
// reservations are released when storing fails.
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()

	now := s.clock.Now()
	id := s.newID()
	o, err := domain.NewOrder(domain.Draft{
		ID:          id,
		OrderNumber: orderNumber(id, now),
		MemberID:    in.MemberID,
		AddressID:   in.AddressID,
		CouponID:    in.CouponID,
		Items:       in.Items,
		PointToUse:  in.PointToUse,
	}, s.pricing, now)
	if err != nil {
		return domain.Order{}, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.Int("order.items", len(o.Items)))
	log := logging.WithTrace(ctx, s.log).With("order_id", o.ID, "member_id", o.MemberID)

	lines := make([]orchestrator.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, orchestrator.Line{ProductOptionID: it.ProductOptionID, Quantity: it.Quantity})
	}
	reserved, err := s.reservations.ReserveAll(ctx, o.ID, lines)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reservation failed")
		log.Warn("order rejected", "err", err)
		return domain.Order{}, err
	}
	byOption := make(map[int64]string, len(reserved))
	for _, r := range reserved {
		byOption[r.ProductOptionID] = r.ReservationID
	}
	o.AttachReservations(byOption)

	env, err := event.New(event.AggregateOrder, o.ID, o.CreatedEvent(), now)
	if err == nil {
		err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.repo.Create(ctx, o); err != nil {
				return err
			}
			return s.publish(ctx, env)
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		log.Error("persist order failed, releasing stock", "err", err)
		s.reservations.Abandon(context.WithoutCancel(ctx), o.ID, releaseLines(o, reasonPersistFailed))
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	log.Info("order created", "order_number", o.OrderNumber, "final_amount", o.FinalAmount)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

// Cancel stores CANCELLED with ORDER_CANCELLED, then releases the held stock
// synchronously. The event lets the inventory service retry the release.
func (s *Service) Cancel(ctx context.Context, id, reason string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	from := o.Status
	if err := o.Cancel(reason, s.clock.Now()); err != nil {
		return o, err
	}
	if err := s.save(ctx, o, from, o.CancelledEvent()); err != nil {
		span.RecordError(err)
		return domain.Order{}, err
	}

	s.reservations.ReleaseAll(ctx, o.ID, releaseLines(o, reason))
	logging.WithTrace(ctx, s.log).Info("order cancelled", "order_id", o.ID, "from", from, "reason", reason)
	return o, nil
}

func (s *Service) MarkAsPaid(ctx context.Context, id string) (domain.Order, error) {
	return s.advance(ctx, id, "order.MarkAsPaid", (*domain.Order).MarkAsPaid, nil)
}

func (s *Service) StartPreparing(ctx context.Context, id string) (domain.Order, error) {
	return s.advance(ctx, id, "order.StartPreparing", (*domain.Order).StartPreparing, nil)
}

// Ship turns the order's reservations into sales before marking it shipped.
// When the order cannot be stored as shipped, for instance because it was
// cancelled meanwhile, the confirmations are reopened.
func (s *Service) Ship(ctx context.Context, id string) (domain.Order, error) {
	var confirmed []string
	o, err := s.advance(ctx, id, "order.Ship", func(o *domain.Order, now time.Time) error {
		if !o.Status.CanTransitionTo(domain.StatusShipped) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidOrderStatus, o.Status, domain.StatusShipped)
		}
		if err := s.reservations.ConfirmAll(ctx, o.ID, o.ReservationIDs()); err != nil {
			return fmt.Errorf("confirm stock: %w", err)
		}
		confirmed = o.ReservationIDs()
		return o.MarkAsShipped(now)
	}, nil)
	if err != nil && len(confirmed) > 0 {
		s.undoShipment(context.WithoutCancel(ctx), id, confirmed)
	}
	return o, err
}

// undoShipment reopens confirmations the order could not keep. A cancel that
// won the race skipped them while they were sold, so they are released here.
func (s *Service) undoShipment(ctx context.Context, id string, confirmed []string) {
	s.reservations.ReopenAll(ctx, id, confirmed)
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		logging.WithTrace(ctx, s.log).Error("reload order after aborted shipment", "order_id", id, "err", err)
		return
	}
	if cur.Status == domain.StatusCancelled {
		s.reservations.ReleaseAll(ctx, id, releaseLines(cur, cur.CancelReason))
	}
}

func (s *Service) Deliver(ctx context.Context, id string) (domain.Order, error) {
	return s.advance(ctx, id, "order.Deliver", (*domain.Order).MarkAsDelivered, nil)
}

func (s *Service) Complete(ctx context.Context, id string) (domain.Order, error) {
	return s.advance(ctx, id, "order.Complete", (*domain.Order).MarkAsCompleted, func(o domain.Order) event.Payload {
		return o.CompletedEvent()
	})
}

func (s *Service) RequestRefund(ctx context.Context, id string) (domain.Order, error) {
	return s.advance(ctx, id, "order.RequestRefund", (*domain.Order).RequestRefund, nil)
}

func (s *Service) MarkAsRefunded(ctx context.Context, id string) (domain.Order, error) {
	return s.advance(ctx, id, "order.MarkAsRefunded", (*domain.Order).MarkAsRefunded, nil)
}

// ExpirePending cancels PENDING orders older than the pending TTL and returns
// how many it cancelled. Orders that moved on meanwhile are skipped.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.pendingTTL)
	orders, err := s.repo.ListPendingBefore(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list pending orders: %w", err)
	}

	log := logging.WithTrace(ctx, s.log)
	n := 0
	for _, o := range orders {
		_, err := s.Cancel(ctx, o.ID, ReasonPaymentDeadline)
		switch {
		case err == nil:
			n++
		case errors.Is(err, domain.ErrOrderCannotBeCancelled), errors.Is(err, domain.ErrInvalidOrderStatus):
			log.Info("pending order moved on before expiry", "order_id", o.ID)
		default:
			log.Error("expire order failed", "order_id", o.ID, "err", err)
		}
	}
	if n > 0 {
		log.Info("expired pending orders", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// RunExpirySweep calls ExpirePending every interval until ctx is done.
func (s *Service) RunExpirySweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ExpirePending(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("pending order sweep failed", "err", err)
			}
		}
	}
}

func (s *Service) advance(ctx context.Context, id, op string, step func(*domain.Order, time.Time) error, emit func(domain.Order) event.Payload) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	from := o.Status
	if err := step(&o, s.clock.Now()); err != nil {
		span.RecordError(err)
		return o, err
	}
	var p event.Payload
	if emit != nil {
		p = emit(o)
	}
	if err := s.save(ctx, o, from, p); err != nil {
		span.RecordError(err)
		return domain.Order{}, err
	}
	logging.WithTrace(ctx, s.log).Info("order status changed", "order_id", o.ID, "from", from, "to", o.Status)
	return o, nil
}

func (s *Service) save(ctx context.Context, o domain.Order, from domain.Status, p event.Payload) error {
	if p == nil {
		return s.repo.Update(ctx, o, from)
	}
	env, err := event.New(event.AggregateOrder, o.ID, p, o.UpdatedAt)
	if err != nil {
		return err
	}
	return s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, o, from); err != nil {
			return err
		}
		return s.publish(ctx, env)
	})
}

func (s *Service) publish(ctx context.Context, env event.Envelope) error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.Publish(ctx, env)
}

func releaseLines(o domain.Order, reason string) []orchestrator.ReleaseLine {
	out := make([]orchestrator.ReleaseLine, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, orchestrator.ReleaseLine{
			ProductOptionID: it.ProductOptionID,
			Quantity:        it.Quantity,
			ReservationID:   it.ReservationID,
			Reason:          reason,
		})
	}
	return out
}

// orderNumber is date-prefixed and unique per order id.
func orderNumber(id string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 12 {
		suffix = suffix[:12]
	}
	return "ORD-" + at.UTC().Format("20060102") + "-" + suffix
}
