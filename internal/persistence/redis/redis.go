// Package redis stores collections in Redis, optionally with a TTL so
// abandoned guest collections expire.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/pzron/ecom-sub001/pkg/errors"
)

// KV implements persistence.KV on a Redis client.
type KV struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New wraps client. A zero ttl keeps keys forever.
func New(client redis.Cmdable, ttl time.Duration) *KV {
	return &KV{client: client, ttl: ttl}
}

// Get returns the value under key.
func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := k.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("key", key)
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Set stores value under key and refreshes the TTL.
func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	if err := k.client.Set(ctx, key, value, k.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
