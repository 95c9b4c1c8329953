package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/marketplace-core/pkg/event"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
	"github.com/dmehra2102/marketplace-core/pkg/metrics"
	"github.com/dmehra2102/marketplace-core/pkg/outbox"
	"github.com/dmehra2102/marketplace-core/pkg/tracing"
)

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Deduper remembers eventIds whose handler completed.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkDone(ctx context.Context, eventID string) error
}

type Handler interface {
	Handle(ctx context.Context, env event.Envelope) error
}

type HandlerFunc func(ctx context.Context, env event.Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env event.Envelope) error { return f(ctx, env) }

// Permanent marks a handler error that retrying cannot fix.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func NewReader(brokers []string, group string, topics ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     group,
		GroupTopics: topics,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
}

// Consumer delivers each envelope to the handler at least once and skips
// envelopes whose eventId was already handled. An envelope interrupted by
// shutdown is neither marked nor committed, so it is redelivered.
type Consumer struct {
	log     *slog.Logger
	name    string
	reader  Reader
	dedupe  Deduper
	handler Handler
	dlq     outbox.Producer
	tracer  trace.Tracer
	retries uint64
	backoff time.Duration
}

type ConsumerOption func(*Consumer)

func WithRetries(n uint64, initial time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.retries = n
		c.backoff = initial
	}
}

func NewConsumer(log *slog.Logger, name string, reader Reader, dedupe Deduper, handler Handler, dlq outbox.Producer, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		log:     log,
		name:    name,
		reader:  reader,
		dedupe:  dedupe,
		handler: handler,
		dlq:     dlq,
		tracer:  otel.Tracer(name),
		retries: 5,
		backoff: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer stopping", "consumer", c.name)
				return nil
			}
			return err
		}
		if !c.process(ctx, msg) {
			c.log.Info("consumer stopping mid-event, leaving offset uncommitted", "consumer", c.name, "topic", msg.Topic, "offset", msg.Offset)
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("commit failed", "consumer", c.name, "topic", msg.Topic, "offset", msg.Offset, "err", err)
		}
	}
}

// process reports whether msg is finished and its offset may be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	env, err := event.Unmarshal(msg.Value)
	if err != nil {
		c.log.Error("undecodable message", "consumer", c.name, "topic", msg.Topic, "offset", msg.Offset, "err", err)
		metrics.EventConsumed(msg.Topic, "unknown", "undecodable")
		c.deadLetter(context.WithoutCancel(ctx), msg, err)
		return true
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "consume "+string(env.EventType), trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination.name", msg.Topic),
		attribute.String("event.id", env.EventID),
		attribute.String("event.aggregate_id", env.AggregateID),
	)
	log := logging.WithTrace(msgCtx, c.log).With("consumer", c.name, "event_id", env.EventID, "event_type", env.EventType)

	seen, err := c.dedupe.Seen(msgCtx, env.EventID)
	if err != nil {
		// handlers are idempotent, so a dedupe outage degrades to reprocessing
		log.Warn("idempotency check failed", "err", err)
	}
	if seen {
		log.Info("duplicate event skipped")
		metrics.EventConsumed(msg.Topic, string(env.EventType), "duplicate")
		return true
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoff
	handle := func() error {
		return c.handler.Handle(msgCtx, env)
	}
	notify := func(err error, next time.Duration) {
		log.Warn("handler retry", "err", err, "retry_in", next)
	}
	err = backoff.RetryNotify(handle, backoff.WithContext(backoff.WithMaxRetries(bo, c.retries), msgCtx), notify)
	if err == nil {
		if mErr := c.dedupe.MarkDone(context.WithoutCancel(msgCtx), env.EventID); mErr != nil {
			log.Warn("mark event done failed", "err", mErr)
		}
		metrics.EventConsumed(msg.Topic, string(env.EventType), "handled")
		return true
	}
	if ctx.Err() != nil {
		log.Warn("handler interrupted by shutdown", "err", err)
		metrics.EventConsumed(msg.Topic, string(env.EventType), "interrupted")
		return false
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "handler failed")
	log.Error("handler failed", "err", err)
	metrics.EventConsumed(msg.Topic, string(env.EventType), "failed")
	c.deadLetter(context.WithoutCancel(msgCtx), msg, err)
	return true
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	var perm *backoff.PermanentError
	if errors.As(cause, &perm) {
		cause = perm.Err
	}
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlt_reason", Value: []byte(cause.Error())},
		kafka.Header{Key: "dlt_consumer", Value: []byte(c.name)},
	)
	dead := kafka.Message{
		Topic:   msg.Topic + ".dlt",
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if err := c.dlq.WriteMessages(ctx, dead); err != nil {
		c.log.Error("dead letter write failed", "consumer", c.name, "topic", dead.Topic, "err", err)
	}
}
