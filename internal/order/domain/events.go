package domain

import "github.com/dmehra2102/marketplace-core/pkg/event"

func (o Order) lines(withPrice bool) []event.OrderLine {
	out := make([]event.OrderLine, 0, len(o.Items))
	for _, it := range o.Items {
		l := event.OrderLine{
			ProductOptionID: it.ProductOptionID,
			Quantity:        it.Quantity,
			ReservationID:   it.ReservationID,
		}
		if withPrice {
			l.UnitPrice = it.UnitPrice
		}
		out = append(out, l)
	}
	return out
}

func (o Order) CreatedEvent() event.OrderCreated {
	return event.OrderCreated{
		OrderID:     o.ID,
		MemberID:    o.MemberID,
		OrderNumber: o.OrderNumber,
		TotalAmount: o.TotalAmount,
		FinalAmount: o.FinalAmount,
		PointUsed:   o.PointUsed,
		Items:       o.lines(true),
	}
}

func (o Order) CancelledEvent() event.OrderCancelled {
	return event.OrderCancelled{
		OrderID:     o.ID,
		MemberID:    o.MemberID,
		OrderNumber: o.OrderNumber,
		Reason:      o.CancelReason,
		Items:       o.lines(false),
	}
}

func (o Order) CompletedEvent() event.OrderCompleted {
	return event.OrderCompleted{
		OrderID:      o.ID,
		MemberID:     o.MemberID,
		OrderNumber:  o.OrderNumber,
		TotalAmount:  o.TotalAmount,
		EarnedPoints: o.PointEarned,
	}
}
