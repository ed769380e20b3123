package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

const MaxItemQuantity = 10000

type Product struct {
	ID            string
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int
	Version       int64 // bumped on every successful write
	CreatedAt     time.Time
}

type Order struct {
	ID             string
	OwnerID        string
	Items          []OrderItem
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	Status         Status
	PaymentStatus  PaymentStatus
	CreatedAt      time.Time
}

// OrderItem freezes the product name and price at purchase time.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
}

// Clone returns a deep copy so stores never share item slices with callers.
func (o Order) Clone() Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	return o
}

// PaymentTask asks the payment worker to charge an order. It is never persisted.
type PaymentTask struct {
	OrderID string
	Amount  decimal.Decimal
}

type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	Items        []ItemInput `json:"items"`
	DiscountCode string      `json:"discountCode,omitempty"`
}

// StatusView is the lightweight status projection served to clients and cached.
type StatusView struct {
	OrderID       string        `json:"orderId"`
	OwnerID       string        `json:"-"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
}

func (o Order) StatusView() StatusView {
	return StatusView{OrderID: o.ID, OwnerID: o.OwnerID, Status: o.Status, PaymentStatus: o.PaymentStatus}
}
