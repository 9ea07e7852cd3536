package memory

import (
	"context"
	"sync"
	"time"

	"github.com/amadeodlp/cryptara/internal/domain"
)

type cachedQuote struct {
	q       domain.PriceQuote
	expires time.Time
}

// PriceCache implements domain.PriceCache with per-entry expiry.
type PriceCache struct {
	mu     sync.RWMutex
	quotes map[string]cachedQuote
	now    func() time.Time
}

// NewPriceCache returns an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{quotes: make(map[string]cachedQuote), now: time.Now}
}

func (c *PriceCache) SetQuote(_ context.Context, q domain.PriceQuote, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.quotes[q.Symbol] = cachedQuote{q: q, expires: exp}
	return nil
}

func (c *PriceCache) GetQuote(_ context.Context, symbol string) (domain.PriceQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.quotes[symbol]
	if !ok || (!e.expires.IsZero() && c.now().After(e.expires)) {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	return e.q, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
