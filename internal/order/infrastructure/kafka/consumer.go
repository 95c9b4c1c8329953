package kafka

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmehra2102/marketplace-core/internal/order/domain"
	"github.com/dmehra2102/marketplace-core/pkg/event"
	"github.com/dmehra2102/marketplace-core/pkg/eventbus"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
	"github.com/dmehra2102/marketplace-core/pkg/outbox"
)

// Topics the order service reacts to.
var Topics = []string{event.TopicPayment}

const (
	reasonPaymentFailed    = "payment failed"
	reasonPaymentCancelled = "payment cancelled"
)

type OrderService interface {
	MarkAsPaid(ctx context.Context, id string) (domain.Order, error)
	Cancel(ctx context.Context, id, reason string) (domain.Order, error)
	MarkAsRefunded(ctx context.Context, id string) (domain.Order, error)
}

// PaymentHandler moves orders along as their payments settle. Events that
// arrive for an order already past the matching state are acknowledged.
type PaymentHandler struct {
	log     *slog.Logger
	service OrderService
}

func NewPaymentHandler(log *slog.Logger, service OrderService) *PaymentHandler {
	return &PaymentHandler{log: log, service: service}
}

func (h *PaymentHandler) Handle(ctx context.Context, env event.Envelope) error {
	switch env.EventType {
	case event.TypePaymentCompleted, event.TypePaymentFailed, event.TypePaymentCancelled, event.TypePaymentRefunded:
	default:
		return nil
	}

	p, err := env.Decode()
	if err != nil {
		return eventbus.Permanent(err)
	}

	var orderID string
	switch p := p.(type) {
	case *event.PaymentCompleted:
		orderID = p.OrderID
		_, err = h.service.MarkAsPaid(ctx, orderID)
	case *event.PaymentFailed:
		orderID = p.OrderID
		_, err = h.service.Cancel(ctx, orderID, withDetail(reasonPaymentFailed, p.Reason))
	case *event.PaymentCancelled:
		orderID = p.OrderID
		_, err = h.service.Cancel(ctx, orderID, withDetail(reasonPaymentCancelled, p.Reason))
	case *event.PaymentRefunded:
		orderID = p.OrderID
		if p.Status != "REFUNDED" {
			return nil
		}
		_, err = h.service.MarkAsRefunded(ctx, orderID)
	}

	log := logging.WithTrace(ctx, h.log).With("order_id", orderID, "event_type", env.EventType)
	switch {
	case err == nil:
		log.Info("order updated from payment event")
		return nil
	case errors.Is(err, domain.ErrInvalidOrderStatus), errors.Is(err, domain.ErrOrderCannotBeCancelled):
		log.Warn("payment event does not apply to order state", "err", err)
		return nil
	case errors.Is(err, domain.ErrOrderNotFound):
		return eventbus.Permanent(err)
	default:
		return err
	}
}

func withDetail(reason, detail string) string {
	if detail == "" {
		return reason
	}
	return reason + ": " + detail
}

// NewConsumer feeds payment events to the order service.
func NewConsumer(log *slog.Logger, brokers []string, group string, handler eventbus.Handler, dedupe eventbus.Deduper, dlq outbox.Producer) *eventbus.Consumer {
	reader := eventbus.NewReader(brokers, group, Topics...)
	return eventbus.NewConsumer(log.With("component", "payment-events"), "order-payment-events", reader, dedupe, handler, dlq)
}
