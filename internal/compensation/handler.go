// Package compensation undoes side effects that other services ask to roll
// back through events. Every reaction is safe to run more than once.
package compensation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dmehra2102/marketplace-core/internal/inventory/domain"
	"github.com/dmehra2102/marketplace-core/pkg/clock"
	"github.com/dmehra2102/marketplace-core/pkg/event"
	"github.com/dmehra2102/marketplace-core/pkg/eventbus"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
)

const reasonOrderCancelled = "order cancelled"

type Ledger interface {
	ReleaseReservation(ctx context.Context, reservationID, reason string) (domain.Reservation, bool, error)
	ReleaseForOrder(ctx context.Context, orderID string, productOptionID int64, quantity int, reason string) (int, error)
}

type CartPurger interface {
	Purge(ctx context.Context, memberID string) error
}

type Handler struct {
	log       *slog.Logger
	ledger    Ledger
	carts     CartPurger
	publisher event.Publisher
	clock     clock.Clock
}

// NewHandler wires the reactions. publisher may be nil, in which case stock
// released here is not announced.
func NewHandler(log *slog.Logger, ledger Ledger, carts CartPurger, publisher event.Publisher, c clock.Clock) *Handler {
	if c == nil {
		c = clock.NewSystem()
	}
	return &Handler{log: log, ledger: ledger, carts: carts, publisher: publisher, clock: c}
}

func (h *Handler) Handle(ctx context.Context, env event.Envelope) error {
	switch env.EventType {
	case event.TypeOrderCancelled, event.TypeMemberWithdrawn:
	default:
		return nil
	}

	p, err := env.Decode()
	if err != nil {
		return eventbus.Permanent(err)
	}
	switch p := p.(type) {
	case *event.OrderCancelled:
		return h.onOrderCancelled(ctx, *p)
	case *event.MemberWithdrawn:
		return h.onMemberWithdrawn(ctx, *p)
	}
	return nil
}

// onOrderCancelled releases what the order still holds. The order service
// already released synchronously; this pass only moves stock if that failed.
func (h *Handler) onOrderCancelled(ctx context.Context, p event.OrderCancelled) error {
	log := logging.WithTrace(ctx, h.log).With("order_id", p.OrderID)
	reason := reasonOrderCancelled
	if p.Reason != "" {
		reason = reasonOrderCancelled + ": " + p.Reason
	}

	var released []event.Envelope
	for _, item := range p.Items {
		n, resID, err := h.releaseLine(ctx, p.OrderID, item, reason)
		if err != nil {
			return fmt.Errorf("compensate order %s option %d: %w", p.OrderID, item.ProductOptionID, err)
		}
		if n == 0 {
			continue
		}
		log.Info("stock released by compensation", "product_option_id", item.ProductOptionID, "quantity", n)
		env, err := event.New(event.AggregateInventory, strconv.FormatInt(item.ProductOptionID, 10), event.StockReleased{
			ProductOptionID: item.ProductOptionID,
			OrderID:         p.OrderID,
			Quantity:        n,
			ReservationID:   resID,
			Reason:          reason,
		}, h.clock.Now())
		if err != nil {
			return err
		}
		released = append(released, env)
	}

	if h.publisher == nil || len(released) == 0 {
		return nil
	}
	if err := h.publisher.Publish(ctx, released...); err != nil {
		// stock is already back; a retry would find nothing left to release
		log.Error("publish stock released failed", "events", len(released), "err", err)
	}
	return nil
}

func (h *Handler) releaseLine(ctx context.Context, orderID string, item event.OrderLine, reason string) (int, string, error) {
	if item.ReservationID != "" {
		res, ok, err := h.ledger.ReleaseReservation(ctx, item.ReservationID, reason)
		switch {
		case err == nil && ok:
			return res.Quantity, res.ID, nil
		case err == nil:
			return 0, res.ID, nil
		case !errors.Is(err, domain.ErrReservationNotFound):
			return 0, "", err
		}
	}
	n, err := h.ledger.ReleaseForOrder(ctx, orderID, item.ProductOptionID, item.Quantity, reason)
	return n, item.ReservationID, err
}

func (h *Handler) onMemberWithdrawn(ctx context.Context, p event.MemberWithdrawn) error {
	if p.MemberID == "" {
		return eventbus.Permanent(errors.New("member withdrawn without member id"))
	}
	if err := h.carts.Purge(ctx, p.MemberID); err != nil {
		return err
	}
	logging.WithTrace(ctx, h.log).Info("cart purged for withdrawn member", "member_id", p.MemberID)
	return nil
}
