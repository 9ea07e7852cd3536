package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes at
// "price:{SYMBOL}" with decimal string fields and a Unix-nano "ts".
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

// SetQuote stores q and expires it after ttl (no expiry when ttl <= 0).
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.PriceQuote, ttl time.Duration) error {
	key := pc.c.key("price", q.Symbol)
	fields := map[string]any{
		"price":      q.PriceUSD.String(),
		"change_24h": q.Change24h.String(),
		"market_cap": q.MarketCap.String(),
		"volume_24h": q.Volume24h.String(),
		"ts":         strconv.FormatInt(q.UpdatedAt.UnixNano(), 10),
	}

	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote returns domain.ErrNotFound when no quote is cached.
func (pc *PriceCache) GetQuote(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("price", symbol)).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 || vals["price"] == "" {
		return domain.PriceQuote{}, domain.ErrNotFound
	}

	q := domain.PriceQuote{Symbol: symbol}
	if q.PriceUSD, err = decimal.NewFromString(vals["price"]); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	// Optional fields default to zero when absent or malformed.
	q.Change24h, _ = decimal.NewFromString(vals["change_24h"])
	q.MarketCap, _ = decimal.NewFromString(vals["market_cap"])
	q.Volume24h, _ = decimal.NewFromString(vals["volume_24h"])
	if ts, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		q.UpdatedAt = time.Unix(0, ts).UTC()
	}
	return q, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
