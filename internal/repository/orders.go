package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/shopmesh/ordering-service/internal/model"
)

// OrdersRepository defines persistence for orders and their line items.
// Status legality is the saga's concern; this layer only reads and writes.
type OrdersRepository interface {
	// Create inserts the order and its items using the caller's transaction.
	Create(ctx context.Context, tx *sqlx.Tx, buyerID int64, in model.CreateOrderInput) (*model.Order, error)
	FindByID(ctx context.Context, id int64) (*model.Order, error)
	// FindByIDForUpdate locks the order row for the duration of tx.
	FindByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*model.Order, error)
	// UpdateStatus sets the status and returns the updated order with items,
	// or nil when no such order exists.
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id int64, status model.OrderStatus) (*model.Order, error)
	ListByBuyer(ctx context.Context, buyerID int64, status string, page, pageSize int) ([]model.Order, int, error)
}

type OrdersRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrdersRepository(db *sqlx.DB) *OrdersRepositoryImpl {
	return &OrdersRepositoryImpl{db: db}
}

const orderColumns = `id, buyer_id, status, description, street, city, state, country, zip_code, order_date`

func (r *OrdersRepositoryImpl) Create(ctx context.Context, tx *sqlx.Tx, buyerID int64, in model.CreateOrderInput) (*model.Order, error) {
	const q = `
		INSERT INTO orders (buyer_id, status, description, street, city, state, country, zip_code)
		VALUES ($1, 'submitted', $2, $3, $4, $5, $6, $7)
		RETURNING ` + orderColumns

	var order model.Order
	if err := tx.GetContext(ctx, &order, q,
		buyerID, in.Description, in.Street, in.City, in.State, in.Country, in.ZipCode,
	); err != nil {
		return nil, err
	}

	const itemQ = `
		INSERT INTO order_items (order_id, product_id, product_name, unit_price, units, discount, picture_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, order_id, product_id, product_name, unit_price, units, discount, picture_url
	`
	for _, item := range in.Items {
		var created model.OrderItem
		if err := tx.GetContext(ctx, &created, itemQ,
			order.ID, item.ProductID, item.ProductName, item.UnitPrice, item.Units, item.Discount, item.PictureURL,
		); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, created)
	}

	return &order, nil
}

func (r *OrdersRepositoryImpl) FindByID(ctx context.Context, id int64) (*model.Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var order model.Order
	if err := r.db.GetContext(ctx, &order, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	items, err := r.findItems(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

func (r *OrdersRepositoryImpl) FindByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*model.Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	var order model.Order
	if err := tx.GetContext(ctx, &order, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	items, err := r.findItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

func (r *OrdersRepositoryImpl) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id int64, status model.OrderStatus) (*model.Order, error) {
	const q = `UPDATE orders SET status = $1 WHERE id = $2 RETURNING ` + orderColumns

	var order model.Order
	if err := tx.GetContext(ctx, &order, q, status.String(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	items, err := r.findItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

func (r *OrdersRepositoryImpl) ListByBuyer(ctx context.Context, buyerID int64, status string, page, pageSize int) ([]model.Order, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	countQ := `SELECT COUNT(*) FROM orders WHERE buyer_id = $1`
	listQ := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1`
	args := []any{buyerID}

	if status != "" {
		countQ += ` AND status = $2`
		listQ += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, countQ, args...); err != nil {
		return nil, 0, err
	}

	listQ += ` ORDER BY order_date DESC LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, pageSize, offset)

	var orders []model.Order
	if err := r.db.SelectContext(ctx, &orders, listQ, args...); err != nil {
		return nil, 0, err
	}

	for i := range orders {
		items, err := r.findItems(ctx, r.db, orders[i].ID)
		if err != nil {
			return nil, 0, err
		}
		orders[i].Items = items
	}

	return orders, total, nil
}

func (r *OrdersRepositoryImpl) findItems(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]model.OrderItem, error) {
	const itemsQ = `
		SELECT id, order_id, product_id, product_name, unit_price, units, discount, picture_url
		FROM order_items WHERE order_id = $1
		ORDER BY id
	`

	var items []model.OrderItem
	if err := sqlx.SelectContext(ctx, q, &items, itemsQ, orderID); err != nil {
		return nil, err
	}

	return items, nil
}
