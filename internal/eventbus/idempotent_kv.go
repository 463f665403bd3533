package eventbus

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopmesh/ordering-service/internal/model"
)

const kvKeyPrefix = "processed_event:"

// KVStore is the slice of a key-value store the KV idempotency variant needs:
// atomic set-if-absent with TTL, and delete.
type KVStore interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// RedisKV adapts a go-redis client to KVStore.
type RedisKV struct {
	Client *redis.Client
}

func (r RedisKV) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, key, value, ttl).Result()
}

func (r RedisKV) Delete(ctx context.Context, key string) error {
	return r.Client.Del(ctx, key).Err()
}

// IdempotentKV wraps a Handler with a key-value dedup marker, for consumers
// that have no relational store (e.g. the payment worker). If the key already
// existed the event is skipped; if the handler fails the key is deleted so a
// future retry can re-process.
func IdempotentKV(kv KVStore, ttl time.Duration, handler Handler) Handler {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	return func(ctx context.Context, event model.IntegrationEvent) error {
		key := kvKeyPrefix + event.ID

		set, err := kv.SetIfAbsent(ctx, key, event.Type, ttl)
		if err != nil {
			return err
		}
		if !set {
			// already processed
			return nil
		}

		if err := handler(ctx, event); err != nil {
			_ = kv.Delete(ctx, key)
			return err
		}

		return nil
	}
}
