package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/marketplace-core/internal/inventory/domain"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
	"github.com/dmehra2102/marketplace-core/pkg/metrics"
)

var ErrReservationReleased = errors.New("reservation already released")

// Ledger is the stock ledger. Reserve and friends never read before they
// write; the repository applies each change as one conditional update.
type Ledger struct {
	log    *slog.Logger
	repo   Repository
	tracer trace.Tracer
	newID  func() string

	casTries   uint64
	casBackoff time.Duration
}

type Option func(*Ledger)

// WithCASRetry sets how often Adjust retries a lost version race.
func WithCASRetry(tries uint64, initial time.Duration) Option {
	return func(l *Ledger) {
		l.casTries = tries
		l.casBackoff = initial
	}
}

func NewLedger(log *slog.Logger, repo Repository, opts ...Option) *Ledger {
	l := &Ledger{
		log:        log,
		repo:       repo,
		tracer:     otel.Tracer("inventory-ledger"),
		newID:      uuid.NewString,
		casTries:   5,
		casBackoff: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Stock creates the row for a product option on its first stocking.
func (l *Ledger) Stock(ctx context.Context, productOptionID int64, quantity, safetyStock int) (domain.Inventory, error) {
	inv := domain.Inventory{ProductOptionID: productOptionID, Quantity: quantity, SafetyStock: safetyStock}
	if productOptionID <= 0 {
		return domain.Inventory{}, domain.ErrInvalidQuantity
	}
	if err := inv.Validate(); err != nil {
		return domain.Inventory{}, err
	}
	out, err := l.repo.Create(ctx, inv, domain.Ref{Type: domain.RefAdmin, Reason: "initial stock"})
	l.observe("stock", err)
	return out, err
}

func (l *Ledger) Get(ctx context.Context, productOptionID int64) (domain.Inventory, error) {
	return l.repo.Get(ctx, productOptionID)
}

func (l *Ledger) History(ctx context.Context, productOptionID int64, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.repo.History(ctx, productOptionID, limit)
}

func (l *Ledger) Increase(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error) {
	if amount < 0 {
		return domain.Inventory{}, domain.ErrInvalidQuantity
	}
	out, err := l.repo.Increase(ctx, productOptionID, amount, ref)
	l.observe("increase", err)
	return out, err
}

func (l *Ledger) Decrease(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error) {
	if amount <= 0 {
		return domain.Inventory{}, domain.ErrInvalidQuantity
	}
	out, err := l.repo.Decrease(ctx, productOptionID, amount, ref)
	l.observe("decrease", err)
	return out, err
}

func (l *Ledger) Reserve(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error) {
	if amount <= 0 {
		return domain.Inventory{}, domain.ErrInvalidQuantity
	}
	out, err := l.repo.Reserve(ctx, productOptionID, amount, ref)
	l.observe("reserve", err)
	return out, err
}

// Release never fails for business reasons: over-release clamps at zero and
// an unknown product option is logged and ignored.
func (l *Ledger) Release(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, int, error) {
	if amount <= 0 {
		return domain.Inventory{}, 0, nil
	}
	out, released, err := l.repo.Release(ctx, productOptionID, amount, ref)
	if errors.Is(err, domain.ErrInventoryNotFound) {
		logging.WithTrace(ctx, l.log).Warn("release for unknown product option ignored",
			"product_option_id", productOptionID, "quantity", amount, "ref", ref.ID)
		l.observe("release", err)
		return domain.Inventory{}, 0, nil
	}
	l.observe("release", err)
	return out, released, err
}

func (l *Ledger) ConfirmReservation(ctx context.Context, productOptionID int64, amount int, ref domain.Ref) (domain.Inventory, error) {
	if amount <= 0 {
		return domain.Inventory{}, domain.ErrInvalidQuantity
	}
	out, err := l.repo.Confirm(ctx, productOptionID, amount, ref)
	l.observe("confirm", err)
	return out, err
}

// Adjust applies fn to a fresh copy of the row and stores it with a version
// compare-and-swap, retrying lost races with exponential backoff.
func (l *Ledger) Adjust(ctx context.Context, productOptionID int64, ref domain.Ref, fn func(*domain.Inventory) error) (domain.Inventory, error) {
	var out domain.Inventory
	attempt := func() error {
		cur, err := l.repo.Get(ctx, productOptionID)
		if err != nil {
			return backoff.Permanent(err)
		}
		next := cur
		if err := fn(&next); err != nil {
			return backoff.Permanent(err)
		}
		if err := next.Validate(); err != nil {
			return backoff.Permanent(err)
		}
		saved, err := l.repo.CompareAndSwap(ctx, next, cur.Version, ref)
		if errors.Is(err, domain.ErrInventoryUpdateConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		out = saved
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.casBackoff
	notify := func(err error, next time.Duration) {
		logging.WithTrace(ctx, l.log).Debug("inventory version conflict, retrying",
			"product_option_id", productOptionID, "retry_in", next)
	}
	retries := l.casTries
	if retries > 0 {
		retries--
	}
	err := backoff.RetryNotify(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx), notify)
	l.observe("adjust", err)
	if err != nil {
		return domain.Inventory{}, err
	}
	return out, nil
}

// ReserveForOrder reserves stock for one order line and hands back the
// reservation that later releases or confirms it.
func (l *Ledger) ReserveForOrder(ctx context.Context, orderID string, productOptionID int64, quantity int) (domain.Reservation, domain.Inventory, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.ReserveForOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Int64("product_option.id", productOptionID))

	if quantity <= 0 || orderID == "" {
		return domain.Reservation{}, domain.Inventory{}, domain.ErrInvalidQuantity
	}
	res := domain.Reservation{
		ID:              l.newID(),
		OrderID:         orderID,
		ProductOptionID: productOptionID,
		Quantity:        quantity,
		Status:          domain.ReservationReserved,
	}
	inv, err := l.repo.ReserveForOrder(ctx, res)
	l.observe("reserve", err)
	if err != nil {
		return domain.Reservation{}, domain.Inventory{}, err
	}
	logging.WithTrace(ctx, l.log).Info("stock reserved",
		"order_id", orderID, "product_option_id", productOptionID, "quantity", quantity,
		"reservation_id", res.ID, "available", inv.Available())
	return res, inv, nil
}

// ReleaseForOrder gives back whatever orderID still holds on the option.
// Reservations already released are skipped, so repeating the call is safe.
// When the order never reserved through the ledger the amount is released
// directly, clamped at zero.
func (l *Ledger) ReleaseForOrder(ctx context.Context, orderID string, productOptionID int64, quantity int, reason string) (int, error) {
	reservations, err := l.repo.ReservationsForOrder(ctx, orderID, productOptionID)
	if err != nil {
		return 0, fmt.Errorf("load reservations: %w", err)
	}
	if len(reservations) == 0 {
		_, released, err := l.Release(ctx, productOptionID, quantity, domain.Ref{ID: orderID, Type: domain.RefOrder, Reason: reason})
		return released, err
	}

	total := 0
	for _, r := range reservations {
		if !r.Open() {
			continue
		}
		_, released, err := l.ReleaseReservation(ctx, r.ID, reason)
		if err != nil {
			return total, err
		}
		if released {
			total += r.Quantity
		}
	}
	return total, nil
}

// ReleaseReservation is a no-op for reservations that are no longer open.
func (l *Ledger) ReleaseReservation(ctx context.Context, reservationID, reason string) (domain.Reservation, bool, error) {
	res, released, err := l.repo.ReleaseReservation(ctx, reservationID, reason)
	l.observe("release", err)
	if err != nil {
		return domain.Reservation{}, false, err
	}
	if released {
		logging.WithTrace(ctx, l.log).Info("reservation released",
			"reservation_id", reservationID, "order_id", res.OrderID, "quantity", res.Quantity, "reason", reason)
	}
	return res, released, nil
}

// ConfirmReservationByID turns an open reservation into a sale. Confirming a
// confirmed reservation again succeeds without another stock change.
func (l *Ledger) ConfirmReservationByID(ctx context.Context, reservationID string) (domain.Reservation, error) {
	res, confirmed, err := l.repo.ConfirmReservation(ctx, reservationID)
	l.observe("confirm", err)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !confirmed && res.Status == domain.ReservationReleased {
		return res, ErrReservationReleased
	}
	return res, nil
}

// ReopenReservation takes back a confirmation that the order could not keep,
// holding the stock again so a later release or confirm applies to it.
// Reopening a reservation that is not confirmed changes nothing.
func (l *Ledger) ReopenReservation(ctx context.Context, reservationID, reason string) (domain.Reservation, error) {
	res, reopened, err := l.repo.ReopenReservation(ctx, reservationID, reason)
	l.observe("reopen", err)
	if err != nil {
		return domain.Reservation{}, err
	}
	if reopened {
		logging.WithTrace(ctx, l.log).Info("reservation reopened",
			"reservation_id", reservationID, "order_id", res.OrderID, "quantity", res.Quantity, "reason", reason)
	}
	return res, nil
}

func (l *Ledger) observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInsufficientStock):
		result = "insufficient"
	case errors.Is(err, domain.ErrInventoryNotFound), errors.Is(err, domain.ErrReservationNotFound):
		result = "not_found"
	case errors.Is(err, domain.ErrInventoryUpdateConflict):
		result = "conflict"
	default:
		result = "error"
	}
	metrics.LedgerOp(op, result)
}
