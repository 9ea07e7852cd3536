package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amadeodlp/cryptara/internal/domain"
)

var errBoom = errors.New("boom")

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seed(t *testing.T, s *Store, user, token, amt string) {
	t.Helper()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx domain.LedgerTx) error {
		_, err := tx.Balances().Adjust(ctx, user, token, amount(amt))
		return err
	})
	require.NoError(t, err)
}

func TestWithinTxCommits(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "FIN", "100")

	var id string
	err := s.WithinTx(ctx, func(ctx context.Context, tx domain.LedgerTx) error {
		if _, err := tx.Balances().Adjust(ctx, "alice", "FIN", amount("-40")); err != nil {
			return err
		}
		var err error
		id, err = tx.Positions().Create(ctx, domain.StakingPosition{UserID: "alice", Token: "FIN", Amount: amount("40"), Status: domain.PositionActive})
		if err != nil {
			return err
		}
		return tx.Transactions().Append(ctx, domain.TransactionRecord{UserID: "alice", Type: domain.TxStake, Token: "FIN", Amount: amount("40")})
	})
	require.NoError(t, err)

	bal, err := s.Balances().Get(ctx, "alice", "FIN")
	require.NoError(t, err)
	assert.True(t, amount("60").Equal(bal))

	_, err = s.Positions().Get(ctx, id)
	require.NoError(t, err)

	recs, err := s.Transactions().ListByUser(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].ID)
	assert.False(t, recs[0].CreatedAt.IsZero())
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "FIN", "100")

	var id string
	err := s.WithinTx(ctx, func(ctx context.Context, tx domain.LedgerTx) error {
		_, _ = tx.Balances().Adjust(ctx, "alice", "FIN", amount("-40"))
		_, _ = tx.Balances().Adjust(ctx, "alice", "ETH", amount("3"))
		id, _ = tx.Positions().Create(ctx, domain.StakingPosition{UserID: "alice", Status: domain.PositionActive})
		_ = tx.Transactions().Append(ctx, domain.TransactionRecord{UserID: "alice", Type: domain.TxStake})
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	bal, err := s.Balances().Get(ctx, "alice", "FIN")
	require.NoError(t, err)
	assert.True(t, amount("100").Equal(bal))

	balances, err := s.Balances().ListByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, balances, 1, "balance rows created inside the tx are removed")

	_, err = s.Positions().Get(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound)

	recs, err := s.Transactions().ListByUser(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestWithinTxRollsBackOnPanic(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "FIN", "100")

	assert.Panics(t, func() {
		_ = s.WithinTx(ctx, func(ctx context.Context, tx domain.LedgerTx) error {
			_, _ = tx.Balances().Adjust(ctx, "alice", "FIN", amount("-100"))
			panic("crash mid-transaction")
		})
	})

	bal, err := s.Balances().Get(ctx, "alice", "FIN")
	require.NoError(t, err)
	assert.True(t, amount("100").Equal(bal))
}

func TestWithinTxRejectsCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(context.Context, domain.LedgerTx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestTxStoresUnusableAfterCommit(t *testing.T) {
	s := New()
	var leaked domain.LedgerTx
	require.NoError(t, s.WithinTx(context.Background(), func(_ context.Context, tx domain.LedgerTx) error {
		leaked = tx
		return nil
	}))

	_, err := leaked.Balances().Adjust(context.Background(), "alice", "FIN", amount("1"))
	require.ErrorIs(t, err, errTxClosed)
}

func TestWithinTxDisjointRowsDoNotBlock(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "FIN", "100")
	seed(t, s, "bob", "FIN", "100")

	held := make(chan struct{})
	release := make(chan struct{})
	aliceDone := make(chan error, 1)
	go func() {
		aliceDone <- s.WithinTx(ctx, func(ctx context.Context, tx domain.LedgerTx) error {
			if _, err := tx.Balances().Adjust(ctx, "alice", "FIN", amount("-10")); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	bobCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err := s.WithinTx(bobCtx, func(ctx context.Context, tx domain.LedgerTx) error {
		_, err := tx.Balances().Adjust(ctx, "bob", "FIN", amount("-10"))
		return err
	})
	require.NoError(t, err, "bob's unit of work must not wait for alice's")

	close(release)
	require.NoError(t, <-aliceDone)
}

func TestWithinTxSameRowWaitsForHolder(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "FIN", "100")

	held := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.WithinTx(ctx, func(ctx context.Context, tx domain.LedgerTx) error {
			if _, err := tx.Balances().Get(ctx, "alice", "FIN"); err != nil {
				return err
			}
			close(held)
			<-release
			_, err := tx.Balances().Adjust(ctx, "alice", "FIN", amount("-60"))
			return err
		})
	}()
	<-held

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := s.WithinTx(short, func(ctx context.Context, tx domain.LedgerTx) error {
		_, err := tx.Balances().Adjust(ctx, "alice", "FIN", amount("-60"))
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-firstDone)

	err = s.WithinTx(ctx, func(ctx context.Context, tx domain.LedgerTx) error {
		_, err := tx.Balances().Adjust(ctx, "alice", "FIN", amount("-60"))
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	bal, err := s.Balances().Get(ctx, "alice", "FIN")
	require.NoError(t, err)
	assert.True(t, amount("40").Equal(bal))
}

func TestRecordsVisibleOnlyAfterCommit(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx domain.LedgerTx) error {
		if err := tx.Transactions().Append(ctx, domain.TransactionRecord{UserID: "alice", Type: domain.TxDeposit}); err != nil {
			return err
		}
		recs, err := s.Transactions().ListByUser(ctx, "alice", 0)
		if err != nil {
			return err
		}
		assert.Empty(t, recs)
		return nil
	})
	require.NoError(t, err)

	recs, err := s.Transactions().ListByUser(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestAdjustRejectsNegativeBalance(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "alice", "FIN", "10")

	_, err := s.Balances().Adjust(ctx, "alice", "FIN", amount("-10.00000001"))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	next, err := s.Balances().Adjust(ctx, "alice", "FIN", amount("-10"))
	require.NoError(t, err)
	assert.True(t, next.IsZero())
}

func TestPositionUpdateOnlyFromActive(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Positions().Create(ctx, domain.StakingPosition{UserID: "alice", Status: domain.PositionActive})
	require.NoError(t, err)

	now := time.Now().UTC()
	closed := domain.StakingPosition{ID: id, UserID: "alice", Status: domain.PositionCompleted, UnstakedAt: &now}
	require.NoError(t, s.Positions().Update(ctx, closed))
	require.ErrorIs(t, s.Positions().Update(ctx, closed), domain.ErrPositionNotActive)
	require.ErrorIs(t, s.Positions().Update(ctx, domain.StakingPosition{ID: "nope"}), domain.ErrNotFound)

	_, err = s.Positions().Create(ctx, domain.StakingPosition{ID: id})
	require.Error(t, err)
}

func TestRateLookupSkipsInactive(t *testing.T) {
	s := New()
	s.SetRates([]domain.RateEntry{
		{Token: "FIN", DurationDays: 30, APY: amount("9"), Active: false},
		{Token: "FIN", DurationDays: 30, APY: amount("12.5"), Active: true},
	})

	e, err := s.Rates().Lookup(context.Background(), "FIN", 30)
	require.NoError(t, err)
	assert.True(t, amount("12.5").Equal(e.APY))
	assert.Equal(t, int64(2), e.ID)

	_, err = s.Rates().Lookup(context.Background(), "FIN", 60)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransactionsListBetween(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, at := range []time.Time{base.Add(25 * time.Hour), base.Add(-time.Second), base, base.Add(23 * time.Hour), base.Add(24 * time.Hour)} {
		require.NoError(t, s.Transactions().Append(ctx, domain.TransactionRecord{UserID: "u", CreatedAt: at}))
	}

	recs, err := s.Transactions().ListBetween(ctx, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, base, recs[0].CreatedAt)
	assert.Equal(t, base.Add(23*time.Hour), recs[1].CreatedAt)
}

func TestNotificationInbox(t *testing.T) {
	s := New()
	ctx := context.Background()
	n := s.Notifications()

	first, err := n.Create(ctx, domain.Notification{UserID: "alice", Title: "one"})
	require.NoError(t, err)
	_, err = n.Create(ctx, domain.Notification{UserID: "alice", Title: "two"})
	require.NoError(t, err)
	_, err = n.Create(ctx, domain.Notification{UserID: "bob", Title: "other"})
	require.NoError(t, err)

	list, err := n.ListByUser(ctx, "alice", 10, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "two", list[0].Title)

	require.ErrorIs(t, n.MarkRead(ctx, first, "bob"), domain.ErrNotFound)
	require.NoError(t, n.MarkRead(ctx, first, "alice"))

	unread, err := n.ListByUser(ctx, "alice", 10, true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "two", unread[0].Title)

	count, err := n.MarkAllRead(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLockManager(t *testing.T) {
	lm := NewLockManager()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lm.now = func() time.Time { return now }
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "k", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	_, err = lm.Acquire(ctx, "other", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	second, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err, "expired lease can be taken over")

	unlock()
	_, err = lm.Acquire(ctx, "k", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld, "stale unlock must not release the new holder")

	second()
	second()
	_, err = lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for range 3 {
		ok, err := rl.Allow(ctx, "ip", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "ip", 3, time.Minute)
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "other", 3, time.Minute)
	assert.True(t, ok)

	now = now.Add(time.Minute + time.Second)
	ok, _ = rl.Allow(ctx, "ip", 3, time.Minute)
	assert.True(t, ok)
}

func TestSignalBusFanOut(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())

	a, err := bus.Subscribe(ctx, "staking")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "staking")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "staking", []byte("hello")))
	require.NoError(t, bus.Publish(ctx, "prices", []byte("ignored")))

	assert.Equal(t, []byte("hello"), <-a)
	assert.Equal(t, []byte("hello"), <-b)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-a
		return !open
	}, time.Second, 5*time.Millisecond)
}

func TestPriceCacheExpiry(t *testing.T) {
	c := NewPriceCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.SetQuote(ctx, domain.PriceQuote{Symbol: "ETH", PriceUSD: amount("3100.5")}, time.Minute))
	q, err := c.GetQuote(ctx, "ETH")
	require.NoError(t, err)
	assert.True(t, amount("3100.5").Equal(q.PriceUSD))

	now = now.Add(2 * time.Minute)
	_, err = c.GetQuote(ctx, "ETH")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
