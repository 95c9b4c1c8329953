package event

const (
	TopicInventory = "inventory-events"
	TopicOrder     = "order-events"
	TopicPayment   = "payment-events"
	TopicMember    = "member-events"
)

const (
	TypeStockReserved Type = "STOCK_RESERVED"
	TypeStockReleased Type = "STOCK_RELEASED"

	TypeOrderCreated   Type = "ORDER_CREATED"
	TypeOrderCancelled Type = "ORDER_CANCELLED"
	TypeOrderCompleted Type = "ORDER_COMPLETED"

	TypePaymentCompleted Type = "PAYMENT_COMPLETED"
	TypePaymentFailed    Type = "PAYMENT_FAILED"
	TypePaymentCancelled Type = "PAYMENT_CANCELLED"
	TypePaymentRefunded  Type = "PAYMENT_REFUNDED"

	TypeMemberWithdrawn Type = "MEMBER_WITHDRAWN"
)

func TopicOf(t Type) string {
	switch t {
	case TypeStockReserved, TypeStockReleased:
		return TopicInventory
	case TypeOrderCreated, TypeOrderCancelled, TypeOrderCompleted:
		return TopicOrder
	case TypePaymentCompleted, TypePaymentFailed, TypePaymentCancelled, TypePaymentRefunded:
		return TopicPayment
	case TypeMemberWithdrawn:
		return TopicMember
	default:
		return ""
	}
}

type StockReserved struct {
	ProductOptionID int64  `json:"productOptionId"`
	OrderID         string `json:"orderId"`
	Quantity        int    `json:"quantity"`
	ReservationID   string `json:"reservationId"`
}

func (StockReserved) EventType() Type { return TypeStockReserved }

type StockReleased struct {
	ProductOptionID int64  `json:"productOptionId"`
	OrderID         string `json:"orderId"`
	Quantity        int    `json:"quantity"`
	ReservationID   string `json:"reservationId"`
	Reason          string `json:"reason"`
}

func (StockReleased) EventType() Type { return TypeStockReleased }

type OrderLine struct {
	ProductOptionID int64  `json:"productOptionId"`
	Quantity        int    `json:"quantity"`
	UnitPrice       int64  `json:"unitPrice,omitempty"`
	ReservationID   string `json:"reservationId,omitempty"`
}

type OrderCreated struct {
	OrderID     string      `json:"orderId"`
	MemberID    string      `json:"memberId"`
	OrderNumber string      `json:"orderNumber"`
	TotalAmount int64       `json:"totalAmount"`
	FinalAmount int64       `json:"finalAmount"`
	PointUsed   int64       `json:"pointUsed"`
	Items       []OrderLine `json:"items"`
}

func (OrderCreated) EventType() Type { return TypeOrderCreated }

type OrderCancelled struct {
	OrderID     string      `json:"orderId"`
	MemberID    string      `json:"memberId"`
	OrderNumber string      `json:"orderNumber"`
	Reason      string      `json:"reason"`
	Items       []OrderLine `json:"items"`
}

func (OrderCancelled) EventType() Type { return TypeOrderCancelled }

type OrderCompleted struct {
	OrderID      string `json:"orderId"`
	MemberID     string `json:"memberId"`
	OrderNumber  string `json:"orderNumber"`
	TotalAmount  int64  `json:"totalAmount"`
	EarnedPoints int64  `json:"earnedPoints"`
}

func (OrderCompleted) EventType() Type { return TypeOrderCompleted }

type PaymentCompleted struct {
	PaymentID  string `json:"paymentId"`
	OrderID    string `json:"orderId"`
	PaymentKey string `json:"paymentKey"`
	PaidAmount int64  `json:"paidAmount"`
}

func (PaymentCompleted) EventType() Type { return TypePaymentCompleted }

type PaymentFailed struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Reason    string `json:"reason"`
}

func (PaymentFailed) EventType() Type { return TypePaymentFailed }

type PaymentCancelled struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Reason    string `json:"reason"`
}

func (PaymentCancelled) EventType() Type { return TypePaymentCancelled }

type PaymentRefunded struct {
	PaymentID        string `json:"paymentId"`
	OrderID          string `json:"orderId"`
	RefundAmount     int64  `json:"refundAmount"`
	RefundedAmount   int64  `json:"refundedAmount"`
	RefundableAmount int64  `json:"refundableAmount"`
	Status           string `json:"status"`
}

func (PaymentRefunded) EventType() Type { return TypePaymentRefunded }

type MemberWithdrawn struct {
	MemberID string `json:"memberId"`
}

func (MemberWithdrawn) EventType() Type { return TypeMemberWithdrawn }
