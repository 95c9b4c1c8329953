package domain

import "github.com/dmehra2102/marketplace-core/pkg/event"

func (p Payment) CompletedEvent() event.PaymentCompleted {
	return event.PaymentCompleted{PaymentID: p.ID, OrderID: p.OrderID, PaymentKey: p.PaymentKey, PaidAmount: p.PaidAmount}
}

func (p Payment) CancelledEvent() event.PaymentCancelled {
	return event.PaymentCancelled{PaymentID: p.ID, OrderID: p.OrderID, Reason: p.CancelReason}
}

func (p Payment) FailedEvent() event.PaymentFailed {
	return event.PaymentFailed{PaymentID: p.ID, OrderID: p.OrderID, Reason: p.FailureReason}
}

func (p Payment) RefundedEvent(amount int64) event.PaymentRefunded {
	return event.PaymentRefunded{
		PaymentID:        p.ID,
		OrderID:          p.OrderID,
		RefundAmount:     amount,
		RefundedAmount:   p.RefundedAmount,
		RefundableAmount: p.RefundableAmount(),
		Status:           string(p.Status),
	}
}
