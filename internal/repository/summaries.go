package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/shopmesh/ordering-service/internal/model"
)

// SummariesRepository maintains the denormalized order_summaries read model.
// Rows here are projections; they can always be rebuilt from the write side.
type SummariesRepository interface {
	// Upsert writes the whole summary row, replacing any existing projection
	// for the same order.
	Upsert(ctx context.Context, s model.OrderSummary) error
	// PatchStatus updates only the status of an existing projection. Missing
	// rows are not an error: the full upsert may simply not have landed yet.
	PatchStatus(ctx context.Context, orderID int64, status string) error
	FindByOrderID(ctx context.Context, orderID int64) (*model.OrderSummary, error)
	ListByBuyer(ctx context.Context, buyerID int64, status string, page, pageSize int) ([]model.OrderSummary, int, error)
}

type SummariesRepositoryImpl struct {
	db *sqlx.DB
}

func NewSummariesRepository(db *sqlx.DB) *SummariesRepositoryImpl {
	return &SummariesRepositoryImpl{db: db}
}

func (r *SummariesRepositoryImpl) Upsert(ctx context.Context, s model.OrderSummary) error {
	const q = `
		INSERT INTO order_summaries (order_id, buyer_id, status, total, item_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (order_id) DO UPDATE SET
			buyer_id   = EXCLUDED.buyer_id,
			status     = EXCLUDED.status,
			total      = EXCLUDED.total,
			item_count = EXCLUDED.item_count,
			updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, q, s.OrderID, s.BuyerID, s.Status, s.Total, s.ItemCount)

	return err
}

func (r *SummariesRepositoryImpl) PatchStatus(ctx context.Context, orderID int64, status string) error {
	const q = `UPDATE order_summaries SET status = $1, updated_at = NOW() WHERE order_id = $2`
	_, err := r.db.ExecContext(ctx, q, status, orderID)

	return err
}

func (r *SummariesRepositoryImpl) FindByOrderID(ctx context.Context, orderID int64) (*model.OrderSummary, error) {
	const q = `
		SELECT order_id, buyer_id, status, total, item_count, created_at, updated_at
		FROM order_summaries WHERE order_id = $1
	`

	var s model.OrderSummary
	if err := r.db.GetContext(ctx, &s, q, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &s, nil
}

func (r *SummariesRepositoryImpl) ListByBuyer(ctx context.Context, buyerID int64, status string, page, pageSize int) ([]model.OrderSummary, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	countQ := `SELECT COUNT(*) FROM order_summaries WHERE buyer_id = $1`
	listQ := `
		SELECT order_id, buyer_id, status, total, item_count, created_at, updated_at
		FROM order_summaries WHERE buyer_id = $1
	`
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

	listQ += ` ORDER BY created_at DESC LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	args = append(args, pageSize, offset)

	var rows []model.OrderSummary
	if err := r.db.SelectContext(ctx, &rows, listQ, args...); err != nil {
		return nil, 0, err
	}

	return rows, total, nil
}
