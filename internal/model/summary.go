package model

import "time"

// OrderSummary is the denormalized CQRS read model row. It is derived data:
// rebuildable from orders plus the event history, never a source of truth.
type OrderSummary struct {
	OrderID   int64     `db:"order_id" json:"orderId"`
	BuyerID   int64     `db:"buyer_id" json:"buyerId"`
	Status    string    `db:"status" json:"status"`
	Total     float64   `db:"total" json:"total"`
	ItemCount int       `db:"item_count" json:"itemCount"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
