package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest quotes.
type PriceCache interface {
	SetQuote(ctx context.Context, q PriceQuote, ttl time.Duration) error
	GetQuote(ctx context.Context, symbol string) (PriceQuote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides keyed mutual exclusion. Acquire does not wait; it
// returns ErrLockHeld when another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out between components.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
