package domain

import "time"

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
)

// Reservation tracks one hold an order placed on one product option. Its ID
// is the reservationId handed back to callers, so releasing or confirming it
// twice has no further effect.
type Reservation struct {
	ID              string
	OrderID         string
	ProductOptionID int64
	Quantity        int
	Status          ReservationStatus
	Reason          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r Reservation) Open() bool {
	return r.Status == ReservationReserved
}
