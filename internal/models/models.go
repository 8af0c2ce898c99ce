package models

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderDelivered OrderStatus = "delivered"
)

// StatusRank orders the lifecycle: pending < paid < delivered.
// Gateway notifications can arrive duplicated or out of order, so every
// status update must refuse to move an order to a lower rank.
func StatusRank(s OrderStatus) int {
	switch s {
	case OrderPending:
		return 0
	case OrderPaid:
		return 1
	case OrderDelivered:
		return 2
	}
	return -1
}

// Invoice holds the payment instructions returned by the gateway when a
// transaction is created. RawResponse keeps the gateway's exact reply for audit.
type Invoice struct {
	InvoiceID   string
	PayAddress  string
	PayAmount   string
	PayCurrency string
	RawResponse string
}

type Order struct {
	OrderID          string
	BuyerID          string
	BuyerName        string
	Card             string
	Region           string
	Denom            int64
	Quantity         int
	TotalAmount      int64
	Status           OrderStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
	DeliveredAt      *time.Time
	Invoice          *Invoice
	LastNotification string
	Codes            []string
}

// Selection is the output of a completed conversational session: everything
// needed to materialize an order.
type Selection struct {
	Card     string
	Region   string
	Denom    int64
	Quantity int
}

func (s Selection) Total() int64 {
	return s.Denom * int64(s.Quantity)
}
