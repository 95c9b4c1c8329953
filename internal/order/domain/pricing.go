package domain

import "fmt"

// Pricing holds the delivery and point accrual policy applied at checkout.
type Pricing struct {
	// PointRateBps is the earned point rate in basis points of the final amount.
	PointRateBps int64
	DeliveryFee  int64
	// FreeDeliveryFrom waives the delivery fee when the discounted subtotal
	// reaches it. Zero never waives.
	FreeDeliveryFrom int64
}

type Amounts struct {
	Total       int64
	Discount    int64
	DeliveryFee int64
	PointUsed   int64
	Final       int64
	PointEarned int64
}

func ItemFinalPrice(unitPrice int64, quantity, discountRate int) int64 {
	return unitPrice * int64(quantity) * int64(100-discountRate) / 100
}

// Price computes the order amounts. The final amount always equals
// total - discount + delivery fee - points used.
func (p Pricing) Price(items []OrderItem, pointToUse int64) (Amounts, error) {
	var a Amounts
	var discounted int64
	for _, it := range items {
		a.Total += it.UnitPrice * int64(it.Quantity)
		discounted += it.FinalPrice
	}
	a.Discount = a.Total - discounted

	a.DeliveryFee = p.DeliveryFee
	if p.FreeDeliveryFrom > 0 && discounted >= p.FreeDeliveryFrom {
		a.DeliveryFee = 0
	}

	payable := a.Total - a.Discount + a.DeliveryFee
	if pointToUse < 0 || pointToUse > payable {
		return Amounts{}, fmt.Errorf("%w: points %d exceed payable amount %d", ErrInvalidOrder, pointToUse, payable)
	}
	a.PointUsed = pointToUse
	a.Final = payable - pointToUse
	a.PointEarned = a.Final * p.PointRateBps / 10000
	return a, nil
}
