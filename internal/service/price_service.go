package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// PriceService keeps the quote cache warm from the external oracle and
// serves cached quotes.
type PriceService struct {
	oracle  domain.PriceOracle
	cache   domain.PriceCache
	bus     domain.SignalBus
	symbols []string
	ttl     time.Duration
	logger  *slog.Logger
}

// NewPriceService creates a PriceService. bus may be nil.
func NewPriceService(
	oracle domain.PriceOracle,
	cache domain.PriceCache,
	bus domain.SignalBus,
	symbols []string,
	ttl time.Duration,
	logger *slog.Logger,
) *PriceService {
	norm := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = NormalizeToken(s); s != "" {
			norm = append(norm, s)
		}
	}
	return &PriceService{
		oracle:  oracle,
		cache:   cache,
		bus:     bus,
		symbols: norm,
		ttl:     ttl,
		logger:  logger.With(slog.String("component", "price_service")),
	}
}

// Run refreshes the configured symbols every interval until ctx is done.
func (s *PriceService) Run(ctx context.Context, interval time.Duration) error {
	if err := s.Refresh(ctx); err != nil {
		s.logger.WarnContext(ctx, "price_service: initial refresh failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.WarnContext(ctx, "price_service: refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Refresh fetches every configured symbol once and caches the quotes.
func (s *PriceService) Refresh(ctx context.Context) error {
	if len(s.symbols) == 0 {
		return nil
	}
	quotes, err := s.oracle.Quotes(ctx, s.symbols)
	if err != nil {
		return fmt.Errorf("price_service: fetch quotes: %w", err)
	}

	for _, q := range quotes {
		if err := s.cache.SetQuote(ctx, q, s.ttl); err != nil {
			return fmt.Errorf("price_service: cache %s: %w", q.Symbol, err)
		}
		s.announce(ctx, q)
	}
	s.logger.DebugContext(ctx, "price_service: quotes refreshed", slog.Int("count", len(quotes)))
	return nil
}

// Quote returns the cached quote for symbol, fetching it on a cache miss.
func (s *PriceService) Quote(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	symbol = NormalizeToken(symbol)
	if symbol == "" {
		return domain.PriceQuote{}, fmt.Errorf("%w: symbol is required", domain.ErrInvalidArgument)
	}

	q, err := s.cache.GetQuote(ctx, symbol)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.PriceQuote{}, fmt.Errorf("price_service: get %s: %w", symbol, err)
	}

	quotes, err := s.oracle.Quotes(ctx, []string{symbol})
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("price_service: fetch %s: %w", symbol, err)
	}
	q, ok := quotes[symbol]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("price_service: %s: %w", symbol, domain.ErrNotFound)
	}
	if err := s.cache.SetQuote(ctx, q, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "price_service: cache quote failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	return q, nil
}

func (s *PriceService) announce(ctx context.Context, q domain.PriceQuote) {
	if s.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":     "price_update",
		"symbol":    q.Symbol,
		"price_usd": q.PriceUSD.String(),
		"timestamp": q.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err := s.bus.Publish(ctx, domain.PricesChannel, evt); err != nil {
		s.logger.WarnContext(ctx, "price_service: publish price event failed",
			slog.String("symbol", q.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
