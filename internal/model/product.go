package model

import "time"

// Product is the slice of catalog data the stock worker needs: what exists
// and how many units are on hand.
type Product struct {
	ID             int64     `db:"id"`
	Name           string    `db:"name"`
	AvailableStock int       `db:"available_stock"`
	UpdatedAt      time.Time `db:"updated_at"`
}
