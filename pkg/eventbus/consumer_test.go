package eventbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dmehra2102/marketplace-core/pkg/event"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
	done      chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{msgs: msgs, done: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type memDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedupe) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id], nil
}

func (d *memDedupe) MarkDone(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[id] = true
	return nil
}

type captureProducer struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (p *captureProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func releasedMessage(t *testing.T, orderID string) (kafka.Message, event.Envelope) {
	t.Helper()
	env, err := event.New(event.AggregateInventory, "7", event.StockReleased{
		ProductOptionID: 7, OrderID: orderID, Quantity: 2, ReservationID: "r-1", Reason: "ORDER_CANCELLED",
	}, time.Now())
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	raw, err := event.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Topic: event.TopicInventory, Key: []byte(env.AggregateID), Value: raw}, env
}

// runUntil drives the consumer until the reader has seen want commits.
func runUntil(t *testing.T, c *Consumer, r *fakeReader, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for r.commits() < want {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("timed out waiting for %d commits, got %d", want, r.commits())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestConsumerSkipsRedeliveredEvent(t *testing.T) {
	t.Parallel()

	msg, env := releasedMessage(t, "o-1")
	reader := newFakeReader(msg, msg)

	var mu sync.Mutex
	var handled []string
	handler := HandlerFunc(func(_ context.Context, got event.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, got.EventID)
		return nil
	})

	c := NewConsumer(discardLogger(), "test", reader, &memDedupe{}, handler, &captureProducer{})
	runUntil(t, c, reader, 2)

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 || handled[0] != env.EventID {
		t.Fatalf("expected a single delivery of %s, got %v", env.EventID, handled)
	}
}

func TestConsumerRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	msg, _ := releasedMessage(t, "o-2")
	reader := newFakeReader(msg)

	var mu sync.Mutex
	attempts := 0
	handler := HandlerFunc(func(context.Context, event.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("db unavailable")
		}
		return nil
	})

	dlq := &captureProducer{}
	c := NewConsumer(discardLogger(), "test", reader, &memDedupe{}, handler, dlq, WithRetries(5, time.Millisecond))
	runUntil(t, c, reader, 1)

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(dlq.msgs) != 0 {
		t.Fatalf("expected nothing dead-lettered, got %d", len(dlq.msgs))
	}
}

func TestConsumerDeadLettersAfterRetriesWithoutMarkingDone(t *testing.T) {
	t.Parallel()

	msg, env := releasedMessage(t, "o-3")
	reader := newFakeReader(msg)
	dedupe := &memDedupe{}
	dlq := &captureProducer{}

	handler := HandlerFunc(func(context.Context, event.Envelope) error {
		return errors.New("still broken")
	})

	c := NewConsumer(discardLogger(), "test", reader, dedupe, handler, dlq, WithRetries(2, time.Millisecond))
	runUntil(t, c, reader, 1)

	if len(dlq.msgs) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(dlq.msgs))
	}
	dead := dlq.msgs[0]
	if dead.Topic != event.TopicInventory+".dlt" {
		t.Fatalf("unexpected dead letter topic %q", dead.Topic)
	}
	if string(dead.Key) != env.AggregateID {
		t.Fatalf("dead letter lost its key: %q", dead.Key)
	}

	if seen, _ := dedupe.Seen(context.Background(), env.EventID); seen {
		t.Fatal("an event the handler gave up on must not be marked done")
	}
}

func TestConsumerRedeliversEventInterruptedByShutdown(t *testing.T) {
	t.Parallel()

	msg, env := releasedMessage(t, "o-5")
	dedupe := &memDedupe{}
	dlq := &captureProducer{}

	started := make(chan struct{})
	var once sync.Once
	blocking := HandlerFunc(func(ctx context.Context, _ event.Envelope) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	})

	first := newFakeReader(msg)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- NewConsumer(discardLogger(), "test", first, dedupe, blocking, dlq, WithRetries(2, time.Millisecond)).Run(ctx)
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}

	if first.commits() != 0 {
		t.Fatalf("interrupted event must stay uncommitted, got %d commits", first.commits())
	}
	if len(dlq.msgs) != 0 {
		t.Fatalf("interrupted event must not be dead-lettered, got %d", len(dlq.msgs))
	}
	if seen, _ := dedupe.Seen(context.Background(), env.EventID); seen {
		t.Fatal("interrupted event must not be marked done")
	}

	var mu sync.Mutex
	handled := 0
	counting := HandlerFunc(func(context.Context, event.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		handled++
		return nil
	})
	second := newFakeReader(msg)
	runUntil(t, NewConsumer(discardLogger(), "test", second, dedupe, counting, dlq), second, 1)

	mu.Lock()
	defer mu.Unlock()
	if handled != 1 {
		t.Fatalf("expected the redelivered event to be handled once, got %d", handled)
	}
	if seen, _ := dedupe.Seen(context.Background(), env.EventID); !seen {
		t.Fatal("expected the event to be marked done after the redelivery")
	}
}

func TestConsumerPermanentErrorSkipsRetries(t *testing.T) {
	t.Parallel()

	msg, _ := releasedMessage(t, "o-4")
	reader := newFakeReader(msg)
	dlq := &captureProducer{}

	attempts := 0
	handler := HandlerFunc(func(context.Context, event.Envelope) error {
		attempts++
		return Permanent(errors.New("bad payload"))
	})

	c := NewConsumer(discardLogger(), "test", reader, &memDedupe{}, handler, dlq, WithRetries(5, time.Millisecond))
	runUntil(t, c, reader, 1)

	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
	if len(dlq.msgs) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(dlq.msgs))
	}
	if got := headerValue(dlq.msgs[0], "dlt_reason"); got != "bad payload" {
		t.Fatalf("unexpected dlt_reason %q", got)
	}
}

func TestConsumerDeadLettersUndecodableMessage(t *testing.T) {
	t.Parallel()

	reader := newFakeReader(kafka.Message{Topic: event.TopicMember, Value: []byte("not json")})
	dlq := &captureProducer{}
	handler := HandlerFunc(func(context.Context, event.Envelope) error {
		t.Error("handler must not see undecodable messages")
		return nil
	})

	c := NewConsumer(discardLogger(), "test", reader, &memDedupe{}, handler, dlq)
	runUntil(t, c, reader, 1)

	if len(dlq.msgs) != 1 || dlq.msgs[0].Topic != event.TopicMember+".dlt" {
		t.Fatalf("expected undecodable message on member-events.dlt, got %+v", dlq.msgs)
	}
}

func TestKafkaPublisherKeysByAggregate(t *testing.T) {
	t.Parallel()

	prod := &captureProducer{}
	pub := NewKafkaPublisher(discardLogger(), prod, "inventory-service")

	env, err := event.New(event.AggregateInventory, "42", event.StockReserved{ProductOptionID: 42, OrderID: "o", Quantity: 1}, time.Now())
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := pub.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(prod.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(prod.msgs))
	}
	m := prod.msgs[0]
	if m.Topic != event.TopicInventory || string(m.Key) != "42" {
		t.Fatalf("unexpected routing topic=%q key=%q", m.Topic, m.Key)
	}
	if headerValue(m, "event_id") != env.EventID {
		t.Fatal("missing event_id header")
	}
	decoded, err := event.Unmarshal(m.Value)
	if err != nil {
		t.Fatalf("decode published value: %v", err)
	}
	if decoded.EventID != env.EventID {
		t.Fatalf("expected envelope %s on the wire, got %s", env.EventID, decoded.EventID)
	}
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
