// Package memory provides in-process implementations of the price cache and
// lock manager for single-process deployments, dry runs and tests. The Redis
// implementations replace them when trading runs across processes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/quantfold/flipbot/internal/domain"
)

// priceTTL matches the Redis price cache. An entry older than this reads as
// missing so consumers fall back to the data source instead of acting on a
// price from a feed that died long ago.
const priceTTL = 5 * time.Minute

type pricePoint struct {
	price float64
	ts    time.Time
}

func (p pricePoint) expired() bool {
	return time.Since(p.ts) > priceTTL
}

// PriceCache is a map-backed domain.PriceCache.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

var _ domain.PriceCache = (*PriceCache)(nil)

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]pricePoint)}
}

func (c *PriceCache) SetPrice(ctx context.Context, marketID string, price float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[marketID] = pricePoint{price: price, ts: ts}
	return nil
}

func (c *PriceCache) GetPrice(ctx context.Context, marketID string) (float64, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[marketID]
	if !ok || p.expired() {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p.price, p.ts, nil
}

func (c *PriceCache) GetPrices(ctx context.Context, marketIDs []string) (map[string]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(marketIDs))
	for _, id := range marketIDs {
		if p, ok := c.prices[id]; ok && !p.expired() {
			out[id] = p.price
		}
	}
	return out, nil
}

// LockManager is a map-backed domain.LockManager. Locks expire after their
// TTL so a holder that never unlocks cannot wedge admission forever.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

var _ domain.LockManager = (*LockManager)(nil)

func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]time.Time)}
}

func (l *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expires, held := l.locks[key]; held && time.Now().Before(expires) {
		return nil, domain.ErrLockHeld
	}
	l.locks[key] = time.Now().Add(ttl)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.locks, key)
		})
	}
	return unlock, nil
}
