package domain

import "time"

type ChangeType string

const (
	ChangeIncrease ChangeType = "INCREASE"
	ChangeDecrease ChangeType = "DECREASE"
	ChangeReserve  ChangeType = "RESERVE"
	ChangeRelease  ChangeType = "RELEASE"
	ChangeConfirm  ChangeType = "CONFIRM"
)

type RefType string

const (
	RefOrder       RefType = "ORDER"
	RefReservation RefType = "RESERVATION"
	RefAdmin       RefType = "ADMIN"
)

// Ref says who caused a ledger change.
type Ref struct {
	ID     string
	Type   RefType
	Reason string
}

// HistoryEntry is one append-only ledger line. Before and After snapshot the
// reserved quantity for RESERVE and RELEASE and the on-hand quantity
// otherwise.
type HistoryEntry struct {
	ID              int64
	InventoryID     int64
	ProductOptionID int64
	ChangeType      ChangeType
	ChangeQuantity  int
	BeforeQuantity  int
	AfterQuantity   int
	Reason          string
	ReferenceID     string
	ReferenceType   RefType
	CreatedAt       time.Time
}

// NewHistoryEntry derives the snapshot pair from the rows around a change.
func NewHistoryEntry(ct ChangeType, before, after Inventory, ref Ref, at time.Time) HistoryEntry {
	e := HistoryEntry{
		InventoryID:     after.ID,
		ProductOptionID: after.ProductOptionID,
		ChangeType:      ct,
		Reason:          ref.Reason,
		ReferenceID:     ref.ID,
		ReferenceType:   ref.Type,
		CreatedAt:       at,
	}
	switch ct {
	case ChangeReserve, ChangeRelease:
		e.BeforeQuantity, e.AfterQuantity = before.ReservedQuantity, after.ReservedQuantity
	default:
		e.BeforeQuantity, e.AfterQuantity = before.Quantity, after.Quantity
	}
	e.ChangeQuantity = e.AfterQuantity - e.BeforeQuantity
	if e.ChangeQuantity < 0 {
		e.ChangeQuantity = -e.ChangeQuantity
	}
	return e
}

// AdjustChanges names the ledger changes between two versions of a row: one
// per moved field, on-hand first. A change that moves neither quantity, such
// as a safety stock update, yields none.
func AdjustChanges(before, after Inventory) []ChangeType {
	var out []ChangeType
	switch {
	case after.Quantity > before.Quantity:
		out = append(out, ChangeIncrease)
	case after.Quantity < before.Quantity:
		out = append(out, ChangeDecrease)
	}
	switch {
	case after.ReservedQuantity > before.ReservedQuantity:
		out = append(out, ChangeReserve)
	case after.ReservedQuantity < before.ReservedQuantity:
		out = append(out, ChangeRelease)
	}
	return out
}
