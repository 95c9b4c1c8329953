package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store remembers processed event ids per consumer group in Redis.
type Store struct {
	rdb   redis.UniversalClient
	ttl   time.Duration
	scope string
}

func NewStore(rdb redis.UniversalClient, scope string, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl, scope: scope}
}

func (s *Store) Key(eventID string) string {
	return fmt.Sprintf("idem:%s:%s", s.scope, eventID)
}

// Seen reports whether eventID was already handled to completion.
func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.Key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkDone records eventID as handled. It is written only after the handler
// succeeded, so an event interrupted mid-handle is handled again on redelivery.
func (s *Store) MarkDone(ctx context.Context, eventID string) error {
	return s.rdb.Set(ctx, s.Key(eventID), "1", s.ttl).Err()
}
