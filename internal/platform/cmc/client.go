// Package cmc is a REST client for CoinMarketCap's latest-quotes endpoint.
package cmc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://pro-api.coinmarketcap.com"

// Client fetches USD quotes. It implements domain.PriceOracle.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client. baseURL defaults to DefaultBaseURL.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type quotesResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data map[string]struct {
		Name        string    `json:"name"`
		Symbol      string    `json:"symbol"`
		LastUpdated time.Time `json:"last_updated"`
		Quote       struct {
			USD struct {
				Price            decimal.Decimal `json:"price"`
				PercentChange24h decimal.Decimal `json:"percent_change_24h"`
				MarketCap        decimal.Decimal `json:"market_cap"`
				Volume24h        decimal.Decimal `json:"volume_24h"`
			} `json:"USD"`
		} `json:"quote"`
	} `json:"data"`
}

// Quotes returns the latest quote for each symbol the API knows. Unknown
// symbols are omitted from the result.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]domain.PriceQuote, error) {
	if len(symbols) == 0 {
		return map[string]domain.PriceQuote{}, nil
	}

	params := url.Values{}
	params.Set("symbol", strings.Join(symbols, ","))
	params.Set("convert", "USD")
	endpoint := c.baseURL + "/v1/cryptocurrency/quotes/latest?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("cmc: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cmc: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("cmc: read body: %w", err)
	}

	var out quotesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("cmc: unexpected status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("cmc: decode quotes: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("cmc: status %d code %d: %s", resp.StatusCode, out.Status.ErrorCode, out.Status.ErrorMessage)
	}

	quotes := make(map[string]domain.PriceQuote, len(out.Data))
	for key, d := range out.Data {
		symbol := strings.ToUpper(key)
		quotes[symbol] = domain.PriceQuote{
			Symbol:    symbol,
			PriceUSD:  d.Quote.USD.Price,
			Change24h: d.Quote.USD.PercentChange24h,
			MarketCap: d.Quote.USD.MarketCap,
			Volume24h: d.Quote.USD.Volume24h,
			UpdatedAt: d.LastUpdated.UTC(),
		}
	}
	return quotes, nil
}

var _ domain.PriceOracle = (*Client)(nil)
