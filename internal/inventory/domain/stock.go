// Package domain holds the stock ledger's record types and the pure rules
// every storage adapter applies to them.
package domain

import (
	"errors"
	"time"
)

var (
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInventoryNotFound       = errors.New("inventory not found")
	ErrInventoryUpdateConflict = errors.New("inventory update conflict")
	ErrInventoryExists         = errors.New("inventory already exists")
	ErrInvalidQuantity         = errors.New("invalid quantity")
	ErrReservationNotFound     = errors.New("reservation not found")
)

// Inventory is the stock row of one product option.
type Inventory struct {
	ID               int64
	ProductOptionID  int64
	Quantity         int
	ReservedQuantity int
	SafetyStock      int
	Version          int64
	UpdatedAt        time.Time
}

func (i Inventory) Available() int {
	return i.Quantity - i.ReservedQuantity
}

// Validate checks 0 <= reserved <= quantity.
func (i Inventory) Validate() error {
	if i.Quantity < 0 || i.ReservedQuantity < 0 || i.SafetyStock < 0 {
		return ErrInvalidQuantity
	}
	if i.ReservedQuantity > i.Quantity {
		return ErrInsufficientStock
	}
	return nil
}

func (i *Inventory) Increase(amount int) error {
	if amount < 0 {
		return ErrInvalidQuantity
	}
	i.Quantity += amount
	i.Version++
	return nil
}

// Decrease removes on-hand stock that is not held by a reservation.
func (i *Inventory) Decrease(amount int) error {
	if amount <= 0 {
		return ErrInvalidQuantity
	}
	if i.Quantity < amount || i.Quantity-amount < i.ReservedQuantity {
		return ErrInsufficientStock
	}
	i.Quantity -= amount
	i.Version++
	return nil
}

func (i *Inventory) Reserve(amount int) error {
	if amount <= 0 {
		return ErrInvalidQuantity
	}
	if i.Available() < amount {
		return ErrInsufficientStock
	}
	i.ReservedQuantity += amount
	i.Version++
	return nil
}

// Release lowers the reserved quantity, clamping at zero. It returns the
// amount actually released.
func (i *Inventory) Release(amount int) int {
	if amount <= 0 {
		return 0
	}
	released := amount
	if released > i.ReservedQuantity {
		released = i.ReservedQuantity
	}
	i.ReservedQuantity -= released
	i.Version++
	return released
}

// Confirm turns a reservation into a sale: quantity and reserved quantity
// drop together.
func (i *Inventory) Confirm(amount int) error {
	if amount <= 0 {
		return ErrInvalidQuantity
	}
	if i.Quantity < amount || i.ReservedQuantity < amount {
		return ErrInsufficientStock
	}
	i.Quantity -= amount
	i.ReservedQuantity -= amount
	i.Version++
	return nil
}

// Reopen undoes Confirm: the sold amount is held again.
func (i *Inventory) Reopen(amount int) error {
	if amount <= 0 {
		return ErrInvalidQuantity
	}
	i.Quantity += amount
	i.ReservedQuantity += amount
	i.Version++
	return nil
}
