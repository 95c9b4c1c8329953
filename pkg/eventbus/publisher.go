package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/dmehra2102/marketplace-core/pkg/event"
	"github.com/dmehra2102/marketplace-core/pkg/outbox"
	"github.com/dmehra2102/marketplace-core/pkg/tracing"
)

// NewWriter returns a writer that routes each message by its own Topic field.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

// KafkaPublisher writes envelopes straight to the broker. Broker errors are
// retried with bounded backoff; nothing is persisted when retries run out.
type KafkaPublisher struct {
	log      *slog.Logger
	producer outbox.Producer
	source   string
	retries  uint64
}

func NewKafkaPublisher(log *slog.Logger, producer outbox.Producer, source string) *KafkaPublisher {
	return &KafkaPublisher{log: log, producer: producer, source: source, retries: 3}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...event.Envelope) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, env := range events {
		row, err := outbox.FromEnvelope(env, map[string]string{"source": p.source}, "")
		if err != nil {
			return err
		}
		msg := outbox.Message(row, env.Topic())
		msg.Headers = tracing.InjectKafkaHeaders(ctx, msg.Headers)
		msgs = append(msgs, msg)
	}

	write := func() error {
		return p.producer.WriteMessages(ctx, msgs...)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.retries), ctx)
	notify := func(err error, next time.Duration) {
		p.log.Warn("publish retry", "events", len(msgs), "err", err, "retry_in", next)
	}
	if err := backoff.RetryNotify(write, bo, notify); err != nil {
		return fmt.Errorf("publish %d events: %w", len(msgs), err)
	}
	return nil
}
