package port

import (
	"context"
	"time"

	"github.com/rl1809/dealership/internal/core/domain"
)

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// ReleaseIdempotency removes the key so the guarded work can be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}

type CarCache interface {
	// GetCar returns nil, nil on a cache miss
	GetCar(ctx context.Context, id string) (*domain.Car, error)
	SetCar(ctx context.Context, car domain.Car) error
	InvalidateCars(ctx context.Context, ids ...string) error
}
