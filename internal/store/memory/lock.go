package memory

import (
	"context"
	"sync"
	"time"

	"github.com/klashlabs/klash-engine/internal/domain"
)

// LockManager is a process-local domain.LockManager. TTLs are ignored; a
// lock is held until its unlock func runs. Acquire blocks until the lock is
// free or the context is done.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLockManager creates a LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]chan struct{})}
}

func (m *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		m.mu.Lock()
		held, ok := m.locks[key]
		if !ok {
			release := make(chan struct{})
			m.locks[key] = release
			m.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					m.mu.Lock()
					delete(m.locks, key)
					m.mu.Unlock()
					close(release)
				})
			}, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-held:
		}
	}
}

// MarketCache is a process-local domain.MarketCache without expiry.
type MarketCache struct {
	mu      sync.RWMutex
	markets map[string]domain.Market
}

// NewMarketCache creates a MarketCache.
func NewMarketCache() *MarketCache {
	return &MarketCache{markets: make(map[string]domain.Market)}
}

func (c *MarketCache) Set(ctx context.Context, market domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[market.ID] = cloneMarket(market)
	return nil
}

func (c *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return cloneMarket(m), nil
}

func (c *MarketCache) Invalidate(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	return nil
}
