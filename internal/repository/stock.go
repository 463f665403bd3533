package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/shopmesh/ordering-service/internal/model"
)

// StockRepository is the catalog-side view the stock worker needs: read
// available units and decrement them once an order is validated.
type StockRepository interface {
	// FindForUpdate locks and returns the products with the given ids, keyed
	// by product id. Unknown ids are simply absent from the result.
	FindForUpdate(ctx context.Context, tx *sqlx.Tx, productIDs []int64) (map[int64]model.Product, error)
	// Decrement subtracts units from a product's available stock. It fails if
	// the row was not locked with enough stock first.
	Decrement(ctx context.Context, tx *sqlx.Tx, productID int64, units int) error
}

type StockRepositoryImpl struct {
	db *sqlx.DB
}

func NewStockRepository(db *sqlx.DB) *StockRepositoryImpl {
	return &StockRepositoryImpl{db: db}
}

func (r *StockRepositoryImpl) FindForUpdate(ctx context.Context, tx *sqlx.Tx, productIDs []int64) (map[int64]model.Product, error) {
	if len(productIDs) == 0 {
		return map[int64]model.Product{}, nil
	}

	q, args, err := sqlx.In(
		`SELECT id, name, available_stock, updated_at FROM products WHERE id IN (?) ORDER BY id FOR UPDATE`,
		productIDs,
	)
	if err != nil {
		return nil, err
	}
	q = tx.Rebind(q)

	var products []model.Product
	if err := tx.SelectContext(ctx, &products, q, args...); err != nil {
		return nil, err
	}

	out := make(map[int64]model.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}

	return out, nil
}

func (r *StockRepositoryImpl) Decrement(ctx context.Context, tx *sqlx.Tx, productID int64, units int) error {
	const q = `
		UPDATE products SET available_stock = available_stock - $1, updated_at = NOW()
		WHERE id = $2 AND available_stock >= $1
	`

	res, err := tx.ExecContext(ctx, q, units, productID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("stock: cannot decrement product %d by %d units", productID, units)
	}

	return nil
}
