package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/marketplace-core/pkg/database"
)

// Schema is the outbox table every service database carries.
const Schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id             BIGSERIAL PRIMARY KEY,
	event_id       UUID NOT NULL UNIQUE,
	topic          TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	type           TEXT NOT NULL,
	payload        JSONB NOT NULL,
	headers        JSONB NOT NULL DEFAULT '{}'::jsonb,
	traceparent    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'pending',
	relay_id       TEXT,
	lease_until    TIMESTAMPTZ,
	retry_count    INT NOT NULL DEFAULT 0,
	last_error     TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	sent_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS outbox_status_id_idx ON outbox (status, id);
`

type PGStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPGStore(log *slog.Logger, pool *pgxpool.Pool) *PGStore {
	return &PGStore{log: log, pool: pool}
}

// EnsureSchema creates the outbox table when it is missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("outbox schema: %w", err)
	}
	return nil
}

// Enqueue inserts rows through q, which is the caller's transaction when the
// rows must commit together with an aggregate change.
func (s *PGStore) Enqueue(ctx context.Context, q database.Querier, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO outbox (event_id, topic, aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
			ON CONFLICT (event_id) DO NOTHING`,
			e.EventID, e.Topic, e.AggregateType, e.AggregateID, e.Type, e.Payload, e.Headers, e.Traceparent)
	}

	if b, ok := q.(batchSender); ok {
		if err := b.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("enqueue outbox: %w", err)
		}
		return nil
	}
	for _, qq := range batch.QueuedQueries {
		if _, err := q.Exec(ctx, qq.SQL, qq.Arguments...); err != nil {
			return fmt.Errorf("enqueue outbox: %w", err)
		}
	}
	return nil
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (s *PGStore) LockBatch(ctx context.Context, relayID string, batchSize, maxRetries int, lease time.Duration) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		WITH batch AS (
			SELECT id FROM outbox
			WHERE status = 'pending'
			   OR (status = 'in_progress' AND lease_until < NOW())
			   OR (status = 'failed' AND retry_count < $3)
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE outbox o
		SET status = 'in_progress', relay_id = $1, lease_until = NOW() + make_interval(secs => $4)
		FROM batch
		WHERE o.id = batch.id
		RETURNING o.id, o.event_id::text, o.topic, o.aggregate_type, o.aggregate_id, o.type,
		          o.payload, o.headers, o.traceparent, o.created_at, o.retry_count`,
		relayID, batchSize, maxRetries, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("lock outbox batch: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var headers map[string]string
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.Topic, &ev.AggregateType, &ev.AggregateID, &ev.Type,
			&ev.Payload, &headers, &ev.Traceparent, &ev.CreatedAt, &ev.RetryCount); err != nil {
			return nil, err
		}
		ev.Headers = headers
		ev.Status = StatusInProgress
		ev.RelayID = relayID
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PGStore) MarkSent(ctx context.Context, ids []int64) error {
	ct, err := s.pool.Exec(ctx, `UPDATE outbox SET status = 'sent', sent_at = NOW(), lease_until = NULL WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errors.New("no rows updated")
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET status = 'failed', last_error = $2, retry_count = retry_count + 1, lease_until = NULL WHERE id = $1`, id, errMsg)
	return err
}

func (s *PGStore) Requeue(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET status = 'pending', relay_id = NULL, lease_until = NULL WHERE id = ANY($1)`, ids)
	return err
}

func (s *PGStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET lease_until = NOW() + make_interval(secs => $1) WHERE id = ANY($2) AND relay_id = $3`,
		lease.Seconds(), ids, relayID)
	return err
}
