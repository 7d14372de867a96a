package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market lookups in front of the persistent store.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting, used to bound calls to the
// classification services.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides per-key locking. The ledger acquires a lock for every
// mutated key (market id, or the treasury/config singletons) so that at most
// one mutating call per key is in flight at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
