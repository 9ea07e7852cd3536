package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amadeodlp/cryptara/internal/domain"
	"github.com/amadeodlp/cryptara/internal/service"
	"github.com/amadeodlp/cryptara/internal/store/memory"
)

type stubOracle struct {
	mu     sync.Mutex
	quotes map[string]domain.PriceQuote
	err    error
	calls  [][]string
}

func (o *stubOracle) Quotes(_ context.Context, symbols []string) (map[string]domain.PriceQuote, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, symbols)
	if o.err != nil {
		return nil, o.err
	}
	out := make(map[string]domain.PriceQuote)
	for _, s := range symbols {
		if q, ok := o.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

func newPriceService(oracle domain.PriceOracle, bus domain.SignalBus, symbols ...string) *service.PriceService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return service.NewPriceService(oracle, memory.NewPriceCache(), bus, symbols, time.Minute, logger)
}

func TestPriceRefreshCachesAndAnnounces(t *testing.T) {
	oracle := &stubOracle{quotes: map[string]domain.PriceQuote{
		"ETH": {Symbol: "ETH", PriceUSD: d("3100"), UpdatedAt: time.Now().UTC()},
	}}
	bus := memory.NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prices, err := bus.Subscribe(ctx, domain.PricesChannel)
	require.NoError(t, err)

	svc := newPriceService(oracle, bus, " eth ")
	require.NoError(t, svc.Refresh(ctx))
	assert.Equal(t, [][]string{{"ETH"}}, oracle.calls)

	select {
	case raw := <-prices:
		var evt map[string]any
		require.NoError(t, json.Unmarshal(raw, &evt))
		assert.Equal(t, "price_update", evt["event"])
		assert.Equal(t, "3100", evt["price_usd"])
	case <-time.After(time.Second):
		t.Fatal("no price event published")
	}

	q, err := svc.Quote(ctx, "eth")
	require.NoError(t, err)
	assertDecimal(t, "3100", q.PriceUSD)
	assert.Len(t, oracle.calls, 1, "served from cache")
}

func TestPriceQuoteFetchesOnMiss(t *testing.T) {
	oracle := &stubOracle{quotes: map[string]domain.PriceQuote{
		"BTC": {Symbol: "BTC", PriceUSD: d("68000")},
	}}
	svc := newPriceService(oracle, nil)

	q, err := svc.Quote(context.Background(), "btc")
	require.NoError(t, err)
	assertDecimal(t, "68000", q.PriceUSD)

	_, err = svc.Quote(context.Background(), "DOGE")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Quote(context.Background(), "  ")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestPriceRefreshOracleError(t *testing.T) {
	svc := newPriceService(&stubOracle{err: errors.New("quota exceeded")}, nil, "ETH")
	err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestNotificationService(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	id, err := store.Notifications().Create(ctx, domain.Notification{UserID: "alice", Title: "Staking Successful"})
	require.NoError(t, err)

	svc := service.NewNotificationService(store.Notifications())

	require.ErrorIs(t, svc.MarkRead(ctx, "bob", id), domain.ErrNotFound)
	require.NoError(t, svc.MarkRead(ctx, "alice", id))

	unread, err := svc.List(ctx, "alice", true)
	require.NoError(t, err)
	assert.Empty(t, unread)

	n, err := svc.MarkAllRead(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLedgerCreditValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Credit(ctx, "", "FIN", d("1"), "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = f.ledger.Credit(ctx, "alice", "FIN", d("-1"), "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = f.ledger.Credit(ctx, "alice", "FIN", d("0.000000001"), "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	bal, err := f.ledger.Credit(ctx, "alice", " fin ", d("12.5"), "")
	require.NoError(t, err)
	assertDecimal(t, "12.5", bal)

	recs, err := f.ledger.RecentTransactions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TxDeposit, recs[0].Type)
	assert.Equal(t, "Deposited 12.5 FIN", recs[0].Details)

	balances, err := f.ledger.Balances(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "FIN", balances[0].Token)
}
