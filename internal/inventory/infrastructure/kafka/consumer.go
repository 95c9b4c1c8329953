package kafka

import (
	"log/slog"

	"github.com/dmehra2102/marketplace-core/pkg/event"
	"github.com/dmehra2102/marketplace-core/pkg/eventbus"
	"github.com/dmehra2102/marketplace-core/pkg/outbox"
)

// Topics the inventory service reacts to.
var Topics = []string{event.TopicOrder, event.TopicMember}

// NewConsumer feeds order and member events to the compensation handler.
func NewConsumer(log *slog.Logger, brokers []string, group string, handler eventbus.Handler, dedupe eventbus.Deduper, dlq outbox.Producer) *eventbus.Consumer {
	reader := eventbus.NewReader(brokers, group, Topics...)
	return eventbus.NewConsumer(log.With("component", "compensation"), "inventory-compensation", reader, dedupe, handler, dlq)
}
