package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/shopmesh/ordering-service/internal/model"
)

// WebhooksRepository manages outbound webhook subscriptions.
type WebhooksRepository interface {
	Create(ctx context.Context, eventType, url, token string) (*model.WebhookSubscription, error)
	Delete(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context) ([]model.WebhookSubscription, error)
	FindByEventType(ctx context.Context, eventType string) ([]model.WebhookSubscription, error)
}

type WebhooksRepositoryImpl struct {
	db *sqlx.DB
}

func NewWebhooksRepository(db *sqlx.DB) *WebhooksRepositoryImpl {
	return &WebhooksRepositoryImpl{db: db}
}

func (r *WebhooksRepositoryImpl) Create(ctx context.Context, eventType, url, token string) (*model.WebhookSubscription, error) {
	const q = `
		INSERT INTO webhook_subscriptions (event_type, url, token)
		VALUES ($1, $2, $3)
		RETURNING id, event_type, url, token, created_at
	`

	var sub model.WebhookSubscription
	if err := r.db.GetContext(ctx, &sub, q, eventType, url, token); err != nil {
		return nil, err
	}

	return &sub, nil
}

func (r *WebhooksRepositoryImpl) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *WebhooksRepositoryImpl) List(ctx context.Context) ([]model.WebhookSubscription, error) {
	const q = `SELECT id, event_type, url, token, created_at FROM webhook_subscriptions ORDER BY id`

	var subs []model.WebhookSubscription
	if err := r.db.SelectContext(ctx, &subs, q); err != nil {
		return nil, err
	}

	return subs, nil
}

func (r *WebhooksRepositoryImpl) FindByEventType(ctx context.Context, eventType string) ([]model.WebhookSubscription, error) {
	const q = `SELECT id, event_type, url, token, created_at FROM webhook_subscriptions WHERE event_type = $1`

	var subs []model.WebhookSubscription
	if err := r.db.SelectContext(ctx, &subs, q, eventType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return subs, nil
}
