package application

import (
	"context"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/marketplace-core/internal/orchestrator/domain"
	"github.com/dmehra2102/marketplace-core/pkg/clock"
	"github.com/dmehra2102/marketplace-core/pkg/event"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
)

const (
	ReasonRollback        = "reservation rollback"
	ReasonShipmentAborted = "shipment aborted"
)

// StockGateway reaches the stock ledger. Business refusals come back as the
// domain errors; anything else is an infrastructure failure.
type StockGateway interface {
	Reserve(ctx context.Context, orderID string, line domain.Line) (domain.Reserved, error)
	Release(ctx context.Context, orderID string, line domain.ReleaseLine) error
	Confirm(ctx context.Context, reservationID string) error
	// Reopen undoes a confirmation and holds the stock again.
	Reopen(ctx context.Context, reservationID, reason string) error
}

// Coordinator reserves every line of an order or none of them.
type Coordinator struct {
	log       *slog.Logger
	gateway   StockGateway
	publisher event.Publisher
	clock     clock.Clock
	tracer    trace.Tracer
}

func NewCoordinator(log *slog.Logger, gateway StockGateway, publisher event.Publisher, c clock.Clock) *Coordinator {
	if c == nil {
		c = clock.NewSystem()
	}
	return &Coordinator{
		log:       log,
		gateway:   gateway,
		publisher: publisher,
		clock:     c,
		tracer:    otel.Tracer("reservation-coordinator"),
	}
}

// ReserveAll reserves lines one at a time in ascending product option order.
// When a line fails, the lines reserved before it are released and the
// failure is returned unchanged. Lines whose release fails are handed to the
// compensation handler through ORDER_CANCELLED.
func (c *Coordinator) ReserveAll(ctx context.Context, orderID string, lines []domain.Line) ([]domain.Reserved, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.ReserveAll")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Int("order.lines", len(lines)))
	log := logging.WithTrace(ctx, c.log).With("order_id", orderID)

	saga, err := domain.NewSaga(orderID, lines)
	if err != nil {
		return nil, err
	}

	for _, line := range saga.Lines {
		r, err := c.gateway.Reserve(ctx, orderID, line)
		if err != nil {
			log.Warn("reservation failed, rolling back",
				"product_option_id", line.ProductOptionID, "quantity", line.Quantity,
				"reserved_so_far", len(saga.Reserved), "err", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "reservation failed")
			c.release(ctx, orderID, saga.Compensation(ReasonRollback), false, true)
			saga.State = domain.StateCompensated
			return nil, err
		}
		saga.Record(r)
	}

	events := make([]event.Envelope, 0, len(saga.Reserved))
	for _, r := range saga.Reserved {
		env, err := event.New(event.AggregateInventory, strconv.FormatInt(r.ProductOptionID, 10), event.StockReserved{
			ProductOptionID: r.ProductOptionID,
			OrderID:         orderID,
			Quantity:        r.Quantity,
			ReservationID:   r.ReservationID,
		}, c.clock.Now())
		if err != nil {
			log.Error("build stock reserved event", "err", err)
			continue
		}
		events = append(events, env)
	}
	c.publish(ctx, events)

	log.Info("order stock reserved", "lines", len(saga.Reserved))
	return saga.Reserved, nil
}

// ReleaseAll releases every line. It never fails: transport errors are
// logged and left to the ORDER_CANCELLED compensation.
func (c *Coordinator) ReleaseAll(ctx context.Context, orderID string, lines []domain.ReleaseLine) {
	ctx, span := c.tracer.Start(ctx, "coordinator.ReleaseAll")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Int("order.lines", len(lines)))

	c.release(ctx, orderID, lines, true, false)
}

// Abandon releases the holds of an order that was reserved but never stored.
// Lines whose release fails are handed to the compensation handler through
// ORDER_CANCELLED, since no stored order will announce them.
func (c *Coordinator) Abandon(ctx context.Context, orderID string, lines []domain.ReleaseLine) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Abandon")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Int("order.lines", len(lines)))

	c.release(ctx, orderID, lines, true, true)
}

// ConfirmAll turns the order's reservations into sales. When one of them
// fails, the ones confirmed before it are reopened so the order either sells
// all of its stock or none of it.
func (c *Coordinator) ConfirmAll(ctx context.Context, orderID string, reservationIDs []string) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.ConfirmAll")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	confirmed := make([]string, 0, len(reservationIDs))
	for _, id := range reservationIDs {
		if id == "" {
			continue
		}
		if err := c.gateway.Confirm(ctx, id); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "confirm failed")
			logging.WithTrace(ctx, c.log).Warn("confirm failed, reopening confirmed reservations",
				"order_id", orderID, "reservation_id", id, "confirmed_so_far", len(confirmed), "err", err)
			c.ReopenAll(context.WithoutCancel(ctx), orderID, confirmed)
			return err
		}
		confirmed = append(confirmed, id)
	}
	logging.WithTrace(ctx, c.log).Info("order stock confirmed", "order_id", orderID, "reservations", len(confirmed))
	return nil
}

// ReopenAll undoes the confirmation of reservationIDs, last first. Failures
// are logged; the reservation then stays sold.
func (c *Coordinator) ReopenAll(ctx context.Context, orderID string, reservationIDs []string) {
	log := logging.WithTrace(ctx, c.log).With("order_id", orderID)
	for i := len(reservationIDs) - 1; i >= 0; i-- {
		id := reservationIDs[i]
		if id == "" {
			continue
		}
		if err := c.gateway.Reopen(ctx, id, ReasonShipmentAborted); err != nil {
			log.Error("reopen reservation failed", "reservation_id", id, "err", err)
		}
	}
}

// release gives back every line. announce emits STOCK_RELEASED per line;
// compensate emits ORDER_CANCELLED for the lines that could not be released.
func (c *Coordinator) release(ctx context.Context, orderID string, lines []domain.ReleaseLine, announce, compensate bool) {
	log := logging.WithTrace(ctx, c.log).With("order_id", orderID)

	var (
		events []event.Envelope
		leaked []event.OrderLine
	)
	for _, line := range lines {
		if err := c.gateway.Release(ctx, orderID, line); err != nil {
			log.Error("release failed", "product_option_id", line.ProductOptionID, "quantity", line.Quantity,
				"reservation_id", line.ReservationID, "err", err)
			leaked = append(leaked, event.OrderLine{
				ProductOptionID: line.ProductOptionID,
				Quantity:        line.Quantity,
				ReservationID:   line.ReservationID,
			})
			continue
		}
		if !announce {
			continue
		}
		env, err := event.New(event.AggregateInventory, strconv.FormatInt(line.ProductOptionID, 10), event.StockReleased{
			ProductOptionID: line.ProductOptionID,
			OrderID:         orderID,
			Quantity:        line.Quantity,
			ReservationID:   line.ReservationID,
			Reason:          line.Reason,
		}, c.clock.Now())
		if err != nil {
			log.Error("build stock released event", "err", err)
			continue
		}
		events = append(events, env)
	}

	if compensate && len(leaked) > 0 {
		env, err := event.New(event.AggregateOrder, orderID, event.OrderCancelled{
			OrderID: orderID,
			Reason:  lines[0].Reason,
			Items:   leaked,
		}, c.clock.Now())
		if err != nil {
			log.Error("build rollback compensation event", "err", err)
		} else {
			log.Warn("release left holds behind, requesting compensation", "lines", len(leaked))
			events = append(events, env)
		}
	}
	c.publish(ctx, events)
}

func (c *Coordinator) publish(ctx context.Context, events []event.Envelope) {
	if c.publisher == nil || len(events) == 0 {
		return
	}
	if err := c.publisher.Publish(ctx, events...); err != nil {
		logging.WithTrace(ctx, c.log).Error("publish coordinator events failed", "events", len(events), "err", err)
	}
}
