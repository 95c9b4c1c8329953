// Package memory is a mutex-guarded ledger store for tests and local runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dmehra2102/marketplace-core/internal/inventory/domain"
	"github.com/dmehra2102/marketplace-core/pkg/clock"
)

type Repository struct {
	mu           sync.Mutex
	clock        clock.Clock
	nextID       int64
	nextEntry    int64
	rows         map[int64]*domain.Inventory
	history      []domain.HistoryEntry
	reservations map[string]*domain.Reservation
}

func NewRepository(c clock.Clock) *Repository {
	if c == nil {
		c = clock.NewSystem()
	}
	return &Repository{
		clock:        c,
		rows:         map[int64]*domain.Inventory{},
		reservations: map[string]*domain.Reservation{},
	}
}

func (r *Repository) Create(_ context.Context, inv domain.Inventory, ref domain.Ref) (domain.Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[inv.ProductOptionID]; ok {
		return domain.Inventory{}, domain.ErrInventoryExists
	}
	r.nextID++
	inv.ID = r.nextID
	inv.ReservedQuantity = 0
	inv.Version = 0
	inv.UpdatedAt = r.clock.Now()
	row := inv
	r.rows[inv.ProductOptionID] = &row
	r.record(domain.ChangeIncrease, domain.Inventory{ID: inv.ID, ProductOptionID: inv.ProductOptionID}, row, ref)
	return row, nil
}

func (r *Repository) Get(_ context.Context, productOptionID int64) (domain.Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[productOptionID]
	if !ok {
		return domain.Inventory{}, domain.ErrInventoryNotFound
	}
	return *row, nil
}

func (r *Repository) History(_ context.Context, productOptionID int64, limit int) ([]domain.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.HistoryEntry
	for i := len(r.history) - 1; i >= 0 && len(out) < limit; i-- {
		if r.history[i].ProductOptionID == productOptionID {
			out = append(out, r.history[i])
		}
	}
	return out, nil
}

func (r *Repository) Increase(_ context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error) {
	return r.mutate(productOptionID, domain.ChangeIncrease, ref, func(inv *domain.Inventory) error {
		return inv.Increase(amount)
	})
}

func (r *Repository) Decrease(_ context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error) {
	return r.mutate(productOptionID, domain.ChangeDecrease, ref, func(inv *domain.Inventory) error {
		return inv.Decrease(amount)
	})
}

func (r *Repository) Reserve(_ context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error) {
	return r.mutate(productOptionID, domain.ChangeReserve, ref, func(inv *domain.Inventory) error {
		return inv.Reserve(amount)
	})
}

func (r *Repository) Release(_ context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, int, error) {
	var released int
	out, err := r.mutate(productOptionID, domain.ChangeRelease, ref, func(inv *domain.Inventory) error {
		released = inv.Release(amount)
		return nil
	})
	return out, released, err
}

func (r *Repository) Confirm(_ context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error) {
	return r.mutate(productOptionID, domain.ChangeConfirm, ref, func(inv *domain.Inventory) error {
		return inv.Confirm(amount)
	})
}

func (r *Repository) CompareAndSwap(_ context.Context, next domain.Inventory, expectedVersion int64, ref domain.Ref) (domain.Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[next.ProductOptionID]
	if !ok {
		return domain.Inventory{}, domain.ErrInventoryNotFound
	}
	if row.Version != expectedVersion {
		return domain.Inventory{}, domain.ErrInventoryUpdateConflict
	}
	if err := next.Validate(); err != nil {
		return domain.Inventory{}, err
	}
	before := *row
	row.Quantity = next.Quantity
	row.ReservedQuantity = next.ReservedQuantity
	row.SafetyStock = next.SafetyStock
	row.Version = expectedVersion + 1
	row.UpdatedAt = r.clock.Now()

	for _, ct := range domain.AdjustChanges(before, *row) {
		r.record(ct, before, *row, ref)
	}
	return *row, nil
}

func (r *Repository) ReserveForOrder(_ context.Context, res domain.Reservation) (domain.Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := domain.Ref{ID: res.OrderID, Type: domain.RefOrder, Reason: "order reservation"}
	out, err := r.mutateLocked(res.ProductOptionID, domain.ChangeReserve, ref, func(inv *domain.Inventory) error {
		return inv.Reserve(res.Quantity)
	})
	if err != nil {
		return domain.Inventory{}, err
	}
	now := r.clock.Now()
	res.Status = domain.ReservationReserved
	res.CreatedAt, res.UpdatedAt = now, now
	r.reservations[res.ID] = &res
	return out, nil
}

func (r *Repository) ReservationsForOrder(_ context.Context, orderID string, productOptionID int64) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Reservation
	for _, res := range r.reservations {
		if res.OrderID == orderID && res.ProductOptionID == productOptionID {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) GetReservation(_ context.Context, reservationID string) (domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return *res, nil
}

func (r *Repository) ReleaseReservation(_ context.Context, reservationID, reason string) (domain.Reservation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, false, domain.ErrReservationNotFound
	}
	if !res.Open() {
		return *res, false, nil
	}
	ref := domain.Ref{ID: res.ID, Type: domain.RefReservation, Reason: reason}
	_, err := r.mutateLocked(res.ProductOptionID, domain.ChangeRelease, ref, func(inv *domain.Inventory) error {
		inv.Release(res.Quantity)
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrInventoryNotFound) {
		return domain.Reservation{}, false, err
	}
	res.Status = domain.ReservationReleased
	res.Reason = reason
	res.UpdatedAt = r.clock.Now()
	return *res, true, nil
}

func (r *Repository) ConfirmReservation(_ context.Context, reservationID string) (domain.Reservation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, false, domain.ErrReservationNotFound
	}
	if !res.Open() {
		return *res, false, nil
	}
	ref := domain.Ref{ID: res.ID, Type: domain.RefReservation, Reason: "order shipped"}
	_, err := r.mutateLocked(res.ProductOptionID, domain.ChangeConfirm, ref, func(inv *domain.Inventory) error {
		return inv.Confirm(res.Quantity)
	})
	if err != nil {
		return domain.Reservation{}, false, err
	}
	res.Status = domain.ReservationConfirmed
	res.UpdatedAt = r.clock.Now()
	return *res, true, nil
}

func (r *Repository) ReopenReservation(_ context.Context, reservationID, reason string) (domain.Reservation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, false, domain.ErrReservationNotFound
	}
	if res.Status != domain.ReservationConfirmed {
		return *res, false, nil
	}
	ref := domain.Ref{ID: res.ID, Type: domain.RefReservation, Reason: reason}
	_, err := r.mutateLocked(res.ProductOptionID, domain.ChangeIncrease, ref, func(inv *domain.Inventory) error {
		return inv.Reopen(res.Quantity)
	})
	if err != nil {
		return domain.Reservation{}, false, err
	}
	res.Status = domain.ReservationReserved
	res.Reason = reason
	res.UpdatedAt = r.clock.Now()
	return *res, true, nil
}

func (r *Repository) mutate(productOptionID int64, ct domain.ChangeType, ref domain.Ref, fn func(*domain.Inventory) error) (domain.Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutateLocked(productOptionID, ct, ref, fn)
}

// mutateLocked applies fn to a copy and only commits it when fn succeeds.
func (r *Repository) mutateLocked(productOptionID int64, ct domain.ChangeType, ref domain.Ref, fn func(*domain.Inventory) error) (domain.Inventory, error) {
	row, ok := r.rows[productOptionID]
	if !ok {
		return domain.Inventory{}, domain.ErrInventoryNotFound
	}
	next := *row
	if err := fn(&next); err != nil {
		return domain.Inventory{}, err
	}
	next.UpdatedAt = r.clock.Now()
	before := *row
	*row = next
	r.record(ct, before, next, ref)
	return next, nil
}

func (r *Repository) record(ct domain.ChangeType, before, after domain.Inventory, ref domain.Ref) {
	r.nextEntry++
	e := domain.NewHistoryEntry(ct, before, after, ref, after.UpdatedAt)
	e.ID = r.nextEntry
	r.history = append(r.history, e)
}
