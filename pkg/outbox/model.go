package outbox

import (
	"fmt"
	"time"

	"github.com/dmehra2102/marketplace-core/pkg/event"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Event is one outbox row. Payload holds the full JSON envelope.
type Event struct {
	ID            int64
	EventID       string
	Topic         string
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}

func FromEnvelope(env event.Envelope, headers map[string]string, traceparent string) (Event, error) {
	raw, err := event.Marshal(env)
	if err != nil {
		return Event{}, fmt.Errorf("outbox encode %s: %w", env.EventType, err)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	return Event{
		EventID:       env.EventID,
		Topic:         env.Topic(),
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		Type:          string(env.EventType),
		Payload:       raw,
		Headers:       headers,
		Traceparent:   traceparent,
		Status:        StatusPending,
	}, nil
}
