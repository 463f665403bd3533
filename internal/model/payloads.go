package model

// Typed payloads for the saga events. Field names follow the wire format
// consumed by the other services.

type BasketCheckoutPayload struct {
	BuyerID int64        `json:"buyerId"`
	Items   []BasketItem `json:"items"`
	Street  string       `json:"street,omitempty"`
	City    string       `json:"city,omitempty"`
	State   string       `json:"state,omitempty"`
	Country string       `json:"country,omitempty"`
	ZipCode string       `json:"zipCode,omitempty"`
}

type OrderSubmittedPayload struct {
	OrderID   int64   `json:"orderId"`
	BuyerID   int64   `json:"buyerId"`
	Total     float64 `json:"total"`
	ItemCount int     `json:"itemCount,omitempty"`
}

// OrderStockItem is the product/units pair Catalog needs for stock checks
// and decrements.
type OrderStockItem struct {
	ProductID int64 `json:"productId"`
	Units     int   `json:"units"`
}

type OrderAwaitingValidationPayload struct {
	OrderID int64            `json:"orderId"`
	BuyerID int64            `json:"buyerId"`
	Items   []OrderStockItem `json:"items"`
}

// OrderStatusChangedPayload is shared by order.confirmed, order.paid,
// order.shipped and order.cancelled. Optional fields are present only where
// the event type calls for them.
type OrderStatusChangedPayload struct {
	OrderID            int64            `json:"orderId"`
	BuyerID            int64            `json:"buyerId"`
	PreviousStatus     string           `json:"previousStatus,omitempty"`
	NewStatus          string           `json:"newStatus,omitempty"`
	Total              float64          `json:"total,omitempty"`
	Items              []OrderStockItem `json:"items,omitempty"`
	CancellationReason string           `json:"cancellationReason,omitempty"`
}

type StockConfirmedPayload struct {
	OrderID int64 `json:"orderId"`
	BuyerID int64 `json:"buyerId"`
}

type RejectedItem struct {
	ProductID int64 `json:"productId"`
	Available int   `json:"available"`
	Requested int   `json:"requested"`
}

type StockRejectedPayload struct {
	OrderID       int64          `json:"orderId"`
	BuyerID       int64          `json:"buyerId"`
	RejectedItems []RejectedItem `json:"rejectedItems"`
}

type PaymentSucceededPayload struct {
	OrderID int64 `json:"orderId"`
	BuyerID int64 `json:"buyerId"`
}

type PaymentFailedPayload struct {
	OrderID int64  `json:"orderId"`
	BuyerID int64  `json:"buyerId"`
	Reason  string `json:"reason"`
}
