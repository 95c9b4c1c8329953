// Package domain holds the reservation saga of one order: which lines were
// asked for and which were reserved so far.
package domain

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInventoryNotFound      = errors.New("inventory not found")
	ErrStockReservationFailed = errors.New("stock reservation failed")
	ErrNoLines                = errors.New("order has no lines")
)

type SagaState string

const (
	StateStarted     SagaState = "started"
	StateReserved    SagaState = "reserved"
	StateCompensated SagaState = "compensated"
)

// Line asks for quantity units of one product option.
type Line struct {
	ProductOptionID int64
	Quantity        int
}

// Reserved is a line the ledger accepted.
type Reserved struct {
	ProductOptionID   int64
	Quantity          int
	ReservationID     string
	AvailableQuantity int
}

type ReleaseLine struct {
	ProductOptionID int64
	Quantity        int
	ReservationID   string
	Reason          string
}

type Saga struct {
	OrderID  string
	State    SagaState
	Lines    []Line
	Reserved []Reserved
}

// NewSaga merges duplicate options and orders the lines by ascending product
// option id, the order every reservation run takes.
func NewSaga(orderID string, lines []Line) (*Saga, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	merged := map[int64]int{}
	for _, l := range lines {
		if l.ProductOptionID <= 0 || l.Quantity <= 0 {
			return nil, fmt.Errorf("invalid line option=%d quantity=%d", l.ProductOptionID, l.Quantity)
		}
		merged[l.ProductOptionID] += l.Quantity
	}
	out := make([]Line, 0, len(merged))
	for id, qty := range merged {
		out = append(out, Line{ProductOptionID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductOptionID < out[j].ProductOptionID })
	return &Saga{OrderID: orderID, State: StateStarted, Lines: out}, nil
}

func (s *Saga) Record(r Reserved) {
	s.Reserved = append(s.Reserved, r)
	if len(s.Reserved) == len(s.Lines) {
		s.State = StateReserved
	}
}

// Compensation lists the releases that undo every reservation so far, newest
// first.
func (s *Saga) Compensation(reason string) []ReleaseLine {
	out := make([]ReleaseLine, 0, len(s.Reserved))
	for i := len(s.Reserved) - 1; i >= 0; i-- {
		r := s.Reserved[i]
		out = append(out, ReleaseLine{
			ProductOptionID: r.ProductOptionID,
			Quantity:        r.Quantity,
			ReservationID:   r.ReservationID,
			Reason:          reason,
		})
	}
	return out
}
