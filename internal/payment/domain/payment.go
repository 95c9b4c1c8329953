package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrInvalidPaymentStatus = errors.New("invalid payment status")
	ErrPaymentFailed        = errors.New("payment failed")
	ErrRefundFailed         = errors.New("refund failed")
	ErrInvalidPayment       = errors.New("invalid payment")
)

type Method string

const (
	MethodCard           Method = "CARD"
	MethodVirtualAccount Method = "VIRTUAL_ACCOUNT"
)

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusWaitingForDeposit Status = "WAITING_FOR_DEPOSIT"
	StatusPaid              Status = "PAID"
	StatusCancelled         Status = "CANCELLED"
	StatusFailed            Status = "FAILED"
	StatusPartialRefunded   Status = "PARTIAL_REFUNDED"
	StatusRefunded          Status = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusPending:           {StatusWaitingForDeposit, StatusPaid, StatusCancelled, StatusFailed},
	StatusWaitingForDeposit: {StatusPaid, StatusCancelled, StatusFailed},
	StatusPaid:              {StatusPartialRefunded, StatusRefunded},
	StatusPartialRefunded:   {StatusPartialRefunded, StatusRefunded},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Settled reports whether money was taken.
func (s Status) Settled() bool {
	return s == StatusPaid || s == StatusPartialRefunded
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

type Payment struct {
	ID             string
	OrderID        string
	PaymentKey     string
	Method         Method
	Status         Status
	Amount         int64
	PaidAmount     int64
	RefundedAmount int64
	DueDate        *time.Time
	FailureReason  string
	CancelReason   string
	PaidAt         *time.Time
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewPayment opens a payment for an order. Virtual account payments wait for
// a deposit until now + depositTTL.
func NewPayment(id, orderID string, method Method, amount int64, now time.Time, depositTTL time.Duration) (Payment, error) {
	if orderID == "" {
		return Payment{}, fmt.Errorf("%w: orderId is required", ErrInvalidPayment)
	}
	if amount <= 0 {
		return Payment{}, fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	}
	now = now.UTC()
	p := Payment{
		ID:        id,
		OrderID:   orderID,
		Method:    method,
		Status:    StatusPending,
		Amount:    amount,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch method {
	case MethodCard:
	case MethodVirtualAccount:
		due := now.Add(depositTTL)
		p.DueDate = &due
		p.Status = StatusWaitingForDeposit
	default:
		return Payment{}, fmt.Errorf("%w: unknown method %q", ErrInvalidPayment, method)
	}
	return p, nil
}

func (p *Payment) RefundableAmount() int64 {
	return p.PaidAmount - p.RefundedAmount
}

// Overdue reports whether a virtual account deposit missed its due date.
func (p *Payment) Overdue(now time.Time) bool {
	return p.Status == StatusWaitingForDeposit && p.DueDate != nil && now.After(*p.DueDate)
}

func (p *Payment) transition(next Status, now time.Time) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPaymentStatus, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = now.UTC()
	return nil
}

// MarkAsPaid settles the payment. The paid amount must match the requested
// amount exactly.
func (p *Payment) MarkAsPaid(paymentKey string, paidAmount int64, now time.Time) error {
	if !p.Status.CanTransitionTo(StatusPaid) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPaymentStatus, p.Status, StatusPaid)
	}
	if paymentKey == "" {
		return fmt.Errorf("%w: payment key is required", ErrPaymentFailed)
	}
	if paidAmount != p.Amount {
		return fmt.Errorf("%w: paid %d, expected %d", ErrPaymentFailed, paidAmount, p.Amount)
	}
	if p.Overdue(now) {
		return fmt.Errorf("%w: deposit deadline passed", ErrPaymentFailed)
	}
	if err := p.transition(StatusPaid, now); err != nil {
		return err
	}
	p.PaymentKey = paymentKey
	p.PaidAmount = paidAmount
	t := now.UTC()
	p.PaidAt = &t
	return nil
}

func (p *Payment) MarkAsCancelled(reason string, now time.Time) error {
	if err := p.transition(StatusCancelled, now); err != nil {
		return err
	}
	p.CancelReason = reason
	t := now.UTC()
	p.CancelledAt = &t
	return nil
}

func (p *Payment) MarkAsFailed(reason string, now time.Time) error {
	if err := p.transition(StatusFailed, now); err != nil {
		return err
	}
	p.FailureReason = reason
	return nil
}

// MarkAsRefunded refunds amount out of what is still refundable. The payment
// is REFUNDED once everything paid has gone back.
func (p *Payment) MarkAsRefunded(amount int64, now time.Time) error {
	if !p.Status.Settled() {
		return fmt.Errorf("%w: cannot refund a %s payment", ErrInvalidPaymentStatus, p.Status)
	}
	if amount <= 0 || amount > p.RefundableAmount() {
		return fmt.Errorf("%w: amount %d, refundable %d", ErrRefundFailed, amount, p.RefundableAmount())
	}
	next := StatusPartialRefunded
	if p.RefundedAmount+amount >= p.PaidAmount {
		next = StatusRefunded
	}
	if err := p.transition(next, now); err != nil {
		return err
	}
	p.RefundedAmount += amount
	return nil
}
