package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest observed price per market.
type PriceCache interface {
	SetPrice(ctx context.Context, marketID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, marketID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, marketIDs []string) (map[string]float64, error)
}

// LockManager provides locking for the admission critical section. The
// Redis-backed implementation serializes admission across processes; the
// in-memory one covers single-process deployments and tests.
type LockManager interface {
	// Acquire obtains the lock for key or returns ErrLockHeld. The returned
	// unlock function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
