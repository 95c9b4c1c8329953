// Package event defines the cross-service event envelope and the closed set
// of payloads that travel inside it.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const SchemaVersion = 1

var ErrUnknownType = errors.New("unknown event type")

type Type string

// Aggregate types carried in Envelope.AggregateType.
const (
	AggregateInventory = "INVENTORY"
	AggregateOrder     = "ORDER"
	AggregatePayment   = "PAYMENT"
	AggregateMember    = "MEMBER"
)

// Payload is implemented by every event body. The discriminator is written
// into the envelope explicitly, never derived by reflection.
type Payload interface {
	EventType() Type
}

type Envelope struct {
	EventID       string          `json:"eventId"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Version       int             `json:"version"`
	EventType     Type            `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
}

// Publisher hands envelopes to the bus. Implementations deliver at least once.
type Publisher interface {
	Publish(ctx context.Context, events ...Envelope) error
}

func New(aggregateType, aggregateID string, p Payload, occurredAt time.Time) (Envelope, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", p.EventType(), err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		OccurredAt:    occurredAt.UTC(),
		Version:       SchemaVersion,
		EventType:     p.EventType(),
		Payload:       body,
	}, nil
}

// Topic is the topic the envelope is published to.
func (e Envelope) Topic() string {
	return TopicOf(e.EventType)
}

// Decode unmarshals the payload into the concrete struct named by EventType.
func (e Envelope) Decode() (Payload, error) {
	var p Payload
	switch e.EventType {
	case TypeStockReserved:
		p = &StockReserved{}
	case TypeStockReleased:
		p = &StockReleased{}
	case TypeOrderCreated:
		p = &OrderCreated{}
	case TypeOrderCancelled:
		p = &OrderCancelled{}
	case TypeOrderCompleted:
		p = &OrderCompleted{}
	case TypePaymentCompleted:
		p = &PaymentCompleted{}
	case TypePaymentFailed:
		p = &PaymentFailed{}
	case TypePaymentCancelled:
		p = &PaymentCancelled{}
	case TypePaymentRefunded:
		p = &PaymentRefunded{}
	case TypeMemberWithdrawn:
		p = &MemberWithdrawn{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.EventType)
	}
	if err := json.Unmarshal(e.Payload, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return p, nil
}

func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.EventID == "" || e.EventType == "" {
		return Envelope{}, errors.New("decode envelope: missing eventId or eventType")
	}
	return e, nil
}
