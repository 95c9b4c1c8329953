package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/marketplace-core/pkg/event"
	"github.com/dmehra2102/marketplace-core/pkg/eventbus"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
	"github.com/dmehra2102/marketplace-core/pkg/outbox"
)

// Topics the payment service reacts to.
var Topics = []string{event.TopicOrder}

type PaymentService interface {
	HandleOrderCancelled(ctx context.Context, orderID, reason string) error
}

// OrderEventHandler cancels or refunds the payment of a cancelled order.
type OrderEventHandler struct {
	log     *slog.Logger
	service PaymentService
}

func NewOrderEventHandler(log *slog.Logger, service PaymentService) *OrderEventHandler {
	return &OrderEventHandler{log: log, service: service}
}

func (h *OrderEventHandler) Handle(ctx context.Context, env event.Envelope) error {
	if env.EventType != event.TypeOrderCancelled {
		return nil
	}
	p, err := env.Decode()
	if err != nil {
		return eventbus.Permanent(err)
	}
	cancelled, ok := p.(*event.OrderCancelled)
	if !ok || cancelled.OrderID == "" {
		return eventbus.Permanent(fmt.Errorf("event %s carries no order id", env.EventID))
	}

	if err := h.service.HandleOrderCancelled(ctx, cancelled.OrderID, cancelled.Reason); err != nil {
		return err
	}
	logging.WithTrace(ctx, h.log).Info("payment compensated for cancelled order", "order_id", cancelled.OrderID)
	return nil
}

// NewConsumer feeds order events to the payment service.
func NewConsumer(log *slog.Logger, brokers []string, group string, handler eventbus.Handler, dedupe eventbus.Deduper, dlq outbox.Producer) *eventbus.Consumer {
	reader := eventbus.NewReader(brokers, group, Topics...)
	return eventbus.NewConsumer(log.With("component", "order-events"), "payment-order-events", reader, dedupe, handler, dlq)
}
