package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/marketplace-core/pkg/database"
	"github.com/dmehra2102/marketplace-core/pkg/event"
	"github.com/dmehra2102/marketplace-core/pkg/tracing"
)

// Publisher implements event.Publisher by writing outbox rows. Inside
// database.WithTx the rows join the caller's transaction.
type Publisher struct {
	store  *PGStore
	pool   *pgxpool.Pool
	source string
}

func NewPublisher(store *PGStore, pool *pgxpool.Pool, source string) *Publisher {
	return &Publisher{store: store, pool: pool, source: source}
}

func (p *Publisher) Publish(ctx context.Context, events ...event.Envelope) error {
	if len(events) == 0 {
		return nil
	}
	traceparent := tracing.Traceparent(ctx)
	rows := make([]Event, 0, len(events))
	for _, env := range events {
		row, err := FromEnvelope(env, map[string]string{"source": p.source}, traceparent)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return p.store.Enqueue(ctx, database.Conn(ctx, p.pool), rows...)
}
