// Package memory keeps orders in process memory for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/marketplace-core/internal/order/domain"
)

type Repository struct {
	mu       sync.Mutex
	nextItem int64
	orders   map[string]domain.Order
}

func NewRepository() *Repository {
	return &Repository{orders: map[string]domain.Order{}}
}

// WithinTx runs fn directly. Writes are applied one at a time.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *Repository) Create(_ context.Context, o domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	for _, existing := range r.orders {
		if existing.OrderNumber == o.OrderNumber {
			return fmt.Errorf("order number %s already exists", o.OrderNumber)
		}
	}
	o = clone(o)
	for i := range o.Items {
		r.nextItem++
		o.Items[i].ID = r.nextItem
		o.Items[i].OrderID = o.ID
	}
	r.orders[o.ID] = o
	return nil
}

func (r *Repository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return clone(o), nil
}

func (r *Repository) Update(_ context.Context, o domain.Order, from domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.orders[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if cur.Status != from {
		return fmt.Errorf("%w: expected %s, found %s", domain.ErrInvalidOrderStatus, from, cur.Status)
	}
	r.orders[o.ID] = clone(o)
	return nil
}

func (r *Repository) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Order
	for _, o := range r.orders {
		if o.Status == domain.StatusPending && o.OrderedAt.Before(cutoff) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderedAt.Before(out[j].OrderedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}
