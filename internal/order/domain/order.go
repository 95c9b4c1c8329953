package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrInvalidOrderStatus     = errors.New("invalid order status")
	ErrOrderCannotBeCancelled = errors.New("order cannot be cancelled")
	ErrInvalidOrder           = errors.New("invalid order")
)

type Status string

const (
	StatusPending         Status = "PENDING"
	StatusPaid            Status = "PAID"
	StatusPreparing       Status = "PREPARING"
	StatusShipped         Status = "SHIPPED"
	StatusDelivered       Status = "DELIVERED"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
	StatusRefundRequested Status = "REFUND_REQUESTED"
	StatusRefunded        Status = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusPending:         {StatusPaid, StatusCancelled},
	StatusPaid:            {StatusPreparing, StatusCancelled},
	StatusPreparing:       {StatusShipped, StatusCancelled},
	StatusShipped:         {StatusDelivered},
	StatusDelivered:       {StatusCompleted, StatusRefundRequested},
	StatusRefundRequested: {StatusRefunded},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) CanCancel() bool {
	return s == StatusPending || s == StatusPaid || s == StatusPreparing
}

type ItemStatus string

const (
	ItemOrdered   ItemStatus = "ORDERED"
	ItemCancelled ItemStatus = "CANCELLED"
)

type OrderItem struct {
	ID              int64
	OrderID         string
	ProductOptionID int64
	Quantity        int
	UnitPrice       int64
	// DiscountRate is a whole percentage, 0 to 100.
	DiscountRate  int
	FinalPrice    int64
	Status        ItemStatus
	ReservationID string
}

type Order struct {
	ID             string
	OrderNumber    string
	MemberID       string
	AddressID      string
	CouponID       *string
	Status         Status
	Items          []OrderItem
	TotalAmount    int64
	DiscountAmount int64
	DeliveryFee    int64
	FinalAmount    int64
	PointUsed      int64
	PointEarned    int64
	OrderedAt      time.Time
	PaidAt         *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CompletedAt    *time.Time
	CancelledAt    *time.Time
	CancelReason   string
	UpdatedAt      time.Time
}

// Draft is what a member asks for before any stock is held.
type Draft struct {
	ID          string
	OrderNumber string
	MemberID    string
	AddressID   string
	CouponID    *string
	Items       []DraftItem
	PointToUse  int64
}

type DraftItem struct {
	ProductOptionID int64
	Quantity        int
	UnitPrice       int64
	DiscountRate    int
}

// NewOrder validates the draft and prices it. No stock is touched.
func NewOrder(d Draft, pricing Pricing, now time.Time) (Order, error) {
	if d.MemberID == "" || d.AddressID == "" {
		return Order{}, fmt.Errorf("%w: memberId and addressId are required", ErrInvalidOrder)
	}
	if len(d.Items) == 0 {
		return Order{}, fmt.Errorf("%w: no items", ErrInvalidOrder)
	}

	seen := make(map[int64]bool, len(d.Items))
	items := make([]OrderItem, 0, len(d.Items))
	for _, it := range d.Items {
		switch {
		case it.ProductOptionID <= 0:
			return Order{}, fmt.Errorf("%w: productOptionId must be positive", ErrInvalidOrder)
		case it.Quantity <= 0:
			return Order{}, fmt.Errorf("%w: quantity must be positive for option %d", ErrInvalidOrder, it.ProductOptionID)
		case it.UnitPrice < 0:
			return Order{}, fmt.Errorf("%w: negative unit price for option %d", ErrInvalidOrder, it.ProductOptionID)
		case it.DiscountRate < 0 || it.DiscountRate > 100:
			return Order{}, fmt.Errorf("%w: discount rate %d out of range", ErrInvalidOrder, it.DiscountRate)
		case seen[it.ProductOptionID]:
			return Order{}, fmt.Errorf("%w: option %d listed twice", ErrInvalidOrder, it.ProductOptionID)
		}
		seen[it.ProductOptionID] = true
		items = append(items, OrderItem{
			OrderID:         d.ID,
			ProductOptionID: it.ProductOptionID,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			DiscountRate:    it.DiscountRate,
			FinalPrice:      ItemFinalPrice(it.UnitPrice, it.Quantity, it.DiscountRate),
			Status:          ItemOrdered,
		})
	}

	amounts, err := pricing.Price(items, d.PointToUse)
	if err != nil {
		return Order{}, err
	}

	now = now.UTC()
	return Order{
		ID:             d.ID,
		OrderNumber:    d.OrderNumber,
		MemberID:       d.MemberID,
		AddressID:      d.AddressID,
		CouponID:       d.CouponID,
		Status:         StatusPending,
		Items:          items,
		TotalAmount:    amounts.Total,
		DiscountAmount: amounts.Discount,
		DeliveryFee:    amounts.DeliveryFee,
		FinalAmount:    amounts.Final,
		PointUsed:      amounts.PointUsed,
		PointEarned:    amounts.PointEarned,
		OrderedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// AttachReservations records the ledger reservation held for each option.
func (o *Order) AttachReservations(byOption map[int64]string) {
	for i := range o.Items {
		if id, ok := byOption[o.Items[i].ProductOptionID]; ok {
			o.Items[i].ReservationID = id
		}
	}
}

func (o *Order) CanCancel() bool {
	return o.Status.CanCancel()
}

func (o *Order) transition(next Status, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidOrderStatus, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now.UTC()
	return nil
}

func stamp(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

func (o *Order) MarkAsPaid(now time.Time) error {
	if err := o.transition(StatusPaid, now); err != nil {
		return err
	}
	o.PaidAt = stamp(now)
	return nil
}

func (o *Order) StartPreparing(now time.Time) error {
	return o.transition(StatusPreparing, now)
}

func (o *Order) MarkAsShipped(now time.Time) error {
	if err := o.transition(StatusShipped, now); err != nil {
		return err
	}
	o.ShippedAt = stamp(now)
	return nil
}

func (o *Order) MarkAsDelivered(now time.Time) error {
	if err := o.transition(StatusDelivered, now); err != nil {
		return err
	}
	o.DeliveredAt = stamp(now)
	return nil
}

func (o *Order) MarkAsCompleted(now time.Time) error {
	if err := o.transition(StatusCompleted, now); err != nil {
		return err
	}
	o.CompletedAt = stamp(now)
	return nil
}

func (o *Order) RequestRefund(now time.Time) error {
	return o.transition(StatusRefundRequested, now)
}

func (o *Order) MarkAsRefunded(now time.Time) error {
	return o.transition(StatusRefunded, now)
}

// Cancel moves the order and its items to CANCELLED. Releasing the held
// stock is the caller's job.
func (o *Order) Cancel(reason string, now time.Time) error {
	if !o.CanCancel() {
		return fmt.Errorf("%w: status %s", ErrOrderCannotBeCancelled, o.Status)
	}
	o.Status = StatusCancelled
	o.CancelReason = reason
	o.CancelledAt = stamp(now)
	o.UpdatedAt = now.UTC()
	for i := range o.Items {
		o.Items[i].Status = ItemCancelled
	}
	return nil
}

func (o *Order) ReservationIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ReservationID)
	}
	return ids
}
