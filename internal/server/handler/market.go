package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// QuoteService defines the methods that the price endpoint requires.
type QuoteService interface {
	Quote(ctx context.Context, symbol string) (domain.PriceQuote, error)
}

// MarketHandler serves price quotes and on-chain balance reads. Either
// dependency may be nil, in which case its endpoint answers 503.
type MarketHandler struct {
	quotes QuoteService
	chain  domain.ChainReader
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(quotes QuoteService, chain domain.ChainReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		quotes: quotes,
		chain:  chain,
		logger: logHandler(logger, "market"),
	}
}

// GetPrice returns the latest USD quote for a symbol.
// GET /api/prices/{symbol}
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	if h.quotes == nil {
		writeError(w, http.StatusServiceUnavailable, domain.KindInternal, "price feed is not configured")
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(pathParam(r, "symbol")))

	q, err := h.quotes.Quote(r.Context(), symbol)
	if err != nil {
		writeDomainError(w, r, h.logger, "get price", err)
		return
	}

	writeJSON(w, http.StatusOK, quoteView{
		Symbol:    q.Symbol,
		PriceUSD:  q.PriceUSD.String(),
		Change24h: q.Change24h.String(),
		MarketCap: q.MarketCap.String(),
		Volume24h: q.Volume24h.String(),
		UpdatedAt: q.UpdatedAt,
	})
}

// ChainBalance reads a native or ERC-20 balance from the configured RPC node.
// GET /api/chain/balance?address=0x...&token=0x...
func (h *MarketHandler) ChainBalance(w http.ResponseWriter, r *http.Request) {
	if h.chain == nil {
		writeError(w, http.StatusServiceUnavailable, domain.KindInternal, "chain reader is not configured")
		return
	}
	q := r.URL.Query()
	address := strings.TrimSpace(q.Get("address"))
	contract := strings.TrimSpace(q.Get("token"))
	if address == "" {
		writeError(w, http.StatusBadRequest, domain.KindInvalidArgument, "address query parameter required")
		return
	}

	var (
		bal decimal.Decimal
		err error
	)
	if contract == "" {
		bal, err = h.chain.NativeBalance(r.Context(), address)
	} else {
		bal, err = h.chain.TokenBalance(r.Context(), address, contract)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "chain balance", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"address": address,
		"token":   contract,
		"balance": bal.String(),
	})
}
