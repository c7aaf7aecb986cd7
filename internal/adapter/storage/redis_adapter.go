package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/dealership/internal/core/domain"
)

const (
	carKeyPrefix  = "car:"
	defaultCarTTL = 5 * time.Minute
)

type RedisAdapter struct {
	client redis.Cmdable
	carTTL time.Duration
}

func NewRedisAdapter(client redis.Cmdable, carTTL time.Duration) *RedisAdapter {
	if carTTL <= 0 {
		carTTL = defaultCarTTL
	}
	return &RedisAdapter{client: client, carTTL: carTTL}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) GetCar(ctx context.Context, id string) (*domain.Car, error) {
	raw, err := r.client.Get(ctx, carKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var car domain.Car
	if err := json.Unmarshal(raw, &car); err != nil {
		return nil, fmt.Errorf("decode cached car: %w", err)
	}
	return &car, nil
}

func (r *RedisAdapter) SetCar(ctx context.Context, car domain.Car) error {
	raw, err := json.Marshal(car)
	if err != nil {
		return fmt.Errorf("encode car: %w", err)
	}
	return r.client.Set(ctx, carKeyPrefix+car.ID, raw, r.carTTL).Err()
}

func (r *RedisAdapter) InvalidateCars(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = carKeyPrefix + id
	}
	return r.client.Del(ctx, keys...).Err()
}
