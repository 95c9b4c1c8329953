// Package memory keeps payments in process memory for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/marketplace-core/internal/payment/domain"
)

type Repository struct {
	mu        sync.Mutex
	payments  map[string]domain.Payment
	cancelled map[string]bool
}

func NewRepository() *Repository {
	return &Repository{payments: map[string]domain.Payment{}, cancelled: map[string]bool{}}
}

func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *Repository) Create(_ context.Context, p domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[p.ID]; ok {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	r.payments[p.ID] = p
	return nil
}

func (r *Repository) Get(_ context.Context, id string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (r *Repository) LatestForOrder(_ context.Context, orderID string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		latest domain.Payment
		found  bool
	)
	for _, p := range r.payments {
		if p.OrderID != orderID {
			continue
		}
		if !found || p.CreatedAt.After(latest.CreatedAt) {
			latest, found = p, true
		}
	}
	if !found {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return latest, nil
}

func (r *Repository) Update(_ context.Context, p domain.Payment, from domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.payments[p.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if cur.Status != from {
		return fmt.Errorf("%w: expected %s, found %s", domain.ErrInvalidPaymentStatus, from, cur.Status)
	}
	r.payments[p.ID] = p
	return nil
}

func (r *Repository) ListOverdue(_ context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Payment
	for _, p := range r.payments {
		if p.Overdue(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(*out[j].DueDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) MarkOrderCancelled(_ context.Context, orderID, _ string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled[orderID] = true
	return nil
}

func (r *Repository) OrderCancelled(_ context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled[orderID], nil
}
