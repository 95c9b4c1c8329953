package outbox

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Dispatcher struct {
	log          *slog.Logger
	producer     Producer
	defaultTopic string
}

// NewDispatcher writes rows to their own topic, or defaultTopic when the row
// has none.
func NewDispatcher(log *slog.Logger, producer Producer, defaultTopic string) *Dispatcher {
	return &Dispatcher{log: log, producer: producer, defaultTopic: defaultTopic}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	msg := Message(ev, d.defaultTopic)
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		d.log.Error("outbox dispatch failed", "outbox_id", ev.ID, "event_id", ev.EventID, "topic", msg.Topic, "err", err)
		return err
	}
	d.log.Debug("outbox dispatched", "outbox_id", ev.ID, "event_id", ev.EventID, "type", ev.Type, "topic", msg.Topic)
	return nil
}

// Message builds the Kafka record for an outbox row, keyed by aggregate id.
func Message(ev Event, defaultTopic string) kafka.Message {
	headers := make([]kafka.Header, 0, len(ev.Headers)+3)
	for k, v := range ev.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafka.Header{Key: "event_type", Value: []byte(ev.Type)},
		kafka.Header{Key: "event_id", Value: []byte(ev.EventID)},
	)
	if ev.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(ev.Traceparent)})
	}

	topic := ev.Topic
	if topic == "" {
		topic = defaultTopic
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(ev.AggregateID),
		Value:   ev.Payload,
		Headers: headers,
	}
}
