package model

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	StatusSubmitted          OrderStatus = "submitted"
	StatusAwaitingValidation OrderStatus = "awaiting_validation"
	StatusConfirmed          OrderStatus = "confirmed"
	StatusPaid               OrderStatus = "paid"
	StatusShipped            OrderStatus = "shipped"
	StatusCancelled          OrderStatus = "cancelled"
)

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusSubmitted, StatusAwaitingValidation, StatusConfirmed,
		StatusPaid, StatusShipped, StatusCancelled:
		return true
	}
	return false
}

// ParseOrderStatus normalizes input. Returns (value, true) if valid.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Order is the write-side entity. Orders are never hard-deleted; cancellation
// is a status, not removal.
type Order struct {
	ID          int64       `db:"id"`
	BuyerID     int64       `db:"buyer_id"`
	Status      OrderStatus `db:"status"`
	Description string      `db:"description"`
	Street      string      `db:"street"`
	City        string      `db:"city"`
	State       string      `db:"state"`
	Country     string      `db:"country"`
	ZipCode     string      `db:"zip_code"`
	OrderDate   time.Time   `db:"order_date"`

	Items []OrderItem `db:"-"`
}

type OrderItem struct {
	ID          int64   `db:"id"`
	OrderID     int64   `db:"order_id"`
	ProductID   int64   `db:"product_id"`
	ProductName string  `db:"product_name"`
	UnitPrice   float64 `db:"unit_price"`
	Units       int     `db:"units"`
	Discount    float64 `db:"discount"`
	PictureURL  string  `db:"picture_url"`
}

// CreateOrderInput is everything needed to create an order with its items.
type CreateOrderInput struct {
	Description string
	Street      string
	City        string
	State       string
	Country     string
	ZipCode     string
	Items       []OrderItem
}

// Total derives the order total from its line items. The total is never
// stored independently.
func (o Order) Total() float64 {
	var total float64
	for _, it := range o.Items {
		total += it.UnitPrice*float64(it.Units) - it.Discount
	}
	return total
}
