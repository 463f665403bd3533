package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shopmesh/ordering-service/internal/model"
)

// BasketsRepository stores customer baskets in Redis. Baskets are transient
// working state: checkout drains them, nothing else depends on them.
type BasketsRepository interface {
	Get(ctx context.Context, buyerID int64) (*model.CustomerBasket, error)
	Save(ctx context.Context, basket model.CustomerBasket) error
	Delete(ctx context.Context, buyerID int64) error
}

type BasketsRepositoryImpl struct {
	rdb *redis.Client
}

func NewBasketsRepository(rdb *redis.Client) *BasketsRepositoryImpl {
	return &BasketsRepositoryImpl{rdb: rdb}
}

func basketKey(buyerID int64) string {
	return fmt.Sprintf("basket:%d", buyerID)
}

func (r *BasketsRepositoryImpl) Get(ctx context.Context, buyerID int64) (*model.CustomerBasket, error) {
	raw, err := r.rdb.Get(ctx, basketKey(buyerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var basket model.CustomerBasket
	if err := json.Unmarshal(raw, &basket); err != nil {
		return nil, err
	}

	return &basket, nil
}

func (r *BasketsRepositoryImpl) Save(ctx context.Context, basket model.CustomerBasket) error {
	raw, err := json.Marshal(basket)
	if err != nil {
		return err
	}

	return r.rdb.Set(ctx, basketKey(basket.BuyerID), raw, 0).Err()
}

func (r *BasketsRepositoryImpl) Delete(ctx context.Context, buyerID int64) error {
	return r.rdb.Del(ctx, basketKey(buyerID)).Err()
}
