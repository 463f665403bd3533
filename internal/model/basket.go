package model

// BasketItem is a line in a customer's basket and the item shape carried by
// the basket.checkout payload.
type BasketItem struct {
	ProductID   int64   `json:"productId"`
	ProductName string  `json:"productName"`
	UnitPrice   float64 `json:"unitPrice"`
	Quantity    int     `json:"quantity"`
	PictureURL  string  `json:"pictureUrl,omitempty"`
}

// CustomerBasket lives in Redis, keyed by buyer id.
type CustomerBasket struct {
	BuyerID int64        `json:"buyerId"`
	Items   []BasketItem `json:"items"`
}
