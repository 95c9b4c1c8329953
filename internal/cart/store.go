// Package cart keeps members' shopping carts in Redis hashes keyed
// cart:{memberId}, one field per product option.
package cart

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb redis.UniversalClient
}

func NewStore(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

func Key(memberID string) string {
	return "cart:" + memberID
}

// Add changes the quantity of one option; a result of zero or less drops it.
func (s *Store) Add(ctx context.Context, memberID string, productOptionID int64, quantity int) (int, error) {
	field := strconv.FormatInt(productOptionID, 10)
	n, err := s.rdb.HIncrBy(ctx, Key(memberID), field, int64(quantity)).Result()
	if err != nil {
		return 0, fmt.Errorf("cart add: %w", err)
	}
	if n <= 0 {
		if err := s.rdb.HDel(ctx, Key(memberID), field).Err(); err != nil {
			return 0, fmt.Errorf("cart drop: %w", err)
		}
		return 0, nil
	}
	return int(n), nil
}

func (s *Store) Items(ctx context.Context, memberID string) (map[int64]int, error) {
	raw, err := s.rdb.HGetAll(ctx, Key(memberID)).Result()
	if err != nil {
		return nil, fmt.Errorf("cart items: %w", err)
	}
	out := make(map[int64]int, len(raw))
	for field, val := range raw {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		qty, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		out[id] = qty
	}
	return out, nil
}

// Purge deletes the whole cart. Purging an empty cart is not an error.
func (s *Store) Purge(ctx context.Context, memberID string) error {
	if err := s.rdb.Del(ctx, Key(memberID)).Err(); err != nil {
		return fmt.Errorf("cart purge: %w", err)
	}
	return nil
}
