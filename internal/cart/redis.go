package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bazaarlabs/bazaar/internal/domain"
)

// deviceCartTTL keeps abandoned guest carts from accumulating forever.
const deviceCartTTL = 30 * 24 * time.Hour

// RedisStore is the local tier: a device-keyed key/value record, the server
// side analogue of on-device storage.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Read(ctx context.Context, deviceID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, deviceKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}

	return &cart, nil
}

func (r *RedisStore) Write(ctx context.Context, deviceID string, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	if err := r.client.Set(ctx, deviceKey(deviceID), data, deviceCartTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func deviceKey(deviceID string) string {
	return "cart:device:" + deviceID
}
