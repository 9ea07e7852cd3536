package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is the latest USD quote for a token symbol.
type PriceQuote struct {
	Symbol    string
	PriceUSD  decimal.Decimal
	Change24h decimal.Decimal
	MarketCap decimal.Decimal
	Volume24h decimal.Decimal
	UpdatedAt time.Time
}

// PricesChannel carries public price updates.
const PricesChannel = "prices"

// PriceOracle fetches quotes from an external market data provider.
type PriceOracle interface {
	Quotes(ctx context.Context, symbols []string) (map[string]PriceQuote, error)
}

// ChainReader reads balances from an EVM chain.
type ChainReader interface {
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
	TokenBalance(ctx context.Context, address, contract string) (decimal.Decimal, error)
}
