package service_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amadeodlp/cryptara/internal/domain"
	"github.com/amadeodlp/cryptara/internal/metrics"
	"github.com/amadeodlp/cryptara/internal/service"
	"github.com/amadeodlp/cryptara/internal/store/memory"
)

const day = 24 * time.Hour

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(by time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(by)
	c.mu.Unlock()
}

type sent struct {
	userID, title, message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) Send(_ context.Context, userID, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{userID, title, message})
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.title
	}
	return out
}

type fixture struct {
	store    *memory.Store
	locks    *memory.LockManager
	bus      *memory.SignalBus
	notifier *recordingNotifier
	clock    *clock
	engine   *service.StakingEngine
	ledger   *service.LedgerService
}

func newFixture(t *testing.T, opts ...service.EngineOption) *fixture {
	t.Helper()

	store := memory.New()
	store.SetRates([]domain.RateEntry{
		{Token: "FIN", DurationDays: 30, APY: d("12.5"), Active: true},
		{Token: "FIN", DurationDays: 90, APY: d("15"), Active: true},
		{Token: "ETH", DurationDays: 30, APY: d("4"), Active: false},
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store:    store,
		locks:    memory.NewLockManager(),
		bus:      memory.NewSignalBus(),
		notifier: &recordingNotifier{},
		clock:    &clock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
	}
	opts = append([]service.EngineOption{service.WithClock(f.clock.Now)}, opts...)
	f.engine = service.NewStakingEngine(store, store.Rates(), store.Positions(), f.locks, f.notifier, f.bus, logger, opts...)
	f.ledger = service.NewLedgerService(store, store.Balances(), store.Transactions(), logger)
	return f
}

func (f *fixture) fund(t *testing.T, userID, token, amount string) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), userID, token, d(amount), "")
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID, token string) decimal.Decimal {
	t.Helper()
	b, err := f.store.Balances().Get(context.Background(), userID, token)
	require.NoError(t, err)
	return b
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "got %s want %s", got, want)
}

func TestStakeOpensPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "1000")

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := f.bus.Subscribe(subCtx, domain.StakingChannel)
	require.NoError(t, err)

	res, err := f.engine.Stake(ctx, "alice", "fin", d("500"), 30)
	require.NoError(t, err)
	assert.NotEmpty(t, res.PositionID)
	assert.Equal(t, "Successfully staked 500 FIN", res.Message)

	assertDecimal(t, "500", f.balance(t, "alice", "FIN"))

	pos, err := f.store.Positions().Get(ctx, res.PositionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionActive, pos.Status)
	assert.Equal(t, "FIN", pos.Token)
	assertDecimal(t, "12.5", pos.APY)
	assert.Equal(t, f.clock.Now().Add(30*day), pos.UnlockDate)
	assert.Nil(t, pos.UnstakedAt)

	recs, err := f.store.Transactions().ListByUser(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.TxStake, recs[0].Type)
	assert.Equal(t, res.PositionID, recs[0].PositionID)
	assertDecimal(t, "500", recs[0].Amount)

	assert.Equal(t, []string{"Staking Successful"}, f.notifier.titles())

	select {
	case raw := <-events:
		var evt domain.StakingEvent
		require.NoError(t, json.Unmarshal(raw, &evt))
		assert.Equal(t, "stake", evt.Type)
		assert.Equal(t, "alice", evt.UserID)
		assert.Equal(t, res.PositionID, evt.PositionID)
	case <-time.After(time.Second):
		t.Fatal("no staking event published")
	}
}

func TestStakeInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "100")

	_, err := f.engine.Stake(ctx, "alice", "FIN", d("500"), 30)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	assertDecimal(t, "100", f.balance(t, "alice", "FIN"))
	positions, err := f.engine.Positions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.Empty(t, f.notifier.titles())
}

func TestStakeWithoutProgram(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "1000")
	f.fund(t, "alice", "ETH", "10")

	_, err := f.engine.Stake(ctx, "alice", "FIN", d("500"), 45)
	require.ErrorIs(t, err, domain.ErrNoStakingProgram)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = f.engine.Stake(ctx, "alice", "ETH", d("1"), 30)
	require.ErrorIs(t, err, domain.ErrNoStakingProgram, "inactive rate entries are ignored")

	assertDecimal(t, "1000", f.balance(t, "alice", "FIN"))
}

func TestStakeRejectsInvalidArguments(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", "FIN", "1000")

	tests := []struct {
		name   string
		user   string
		token  string
		amount string
		days   int
	}{
		{"empty user", "", "FIN", "1", 30},
		{"empty token", "alice", " ", "1", 30},
		{"bad token", "alice", "FI-N", "1", 30},
		{"zero amount", "alice", "FIN", "0", 30},
		{"negative amount", "alice", "FIN", "-5", 30},
		{"too precise", "alice", "FIN", "1.000000001", 30},
		{"zero duration", "alice", "FIN", "1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Stake(context.Background(), tt.user, tt.token, d(tt.amount), tt.days)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
	assertDecimal(t, "1000", f.balance(t, "alice", "FIN"))
}

func TestUnstakeEarlyAppliesPenalty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "1000")

	staked, err := f.engine.Stake(ctx, "alice", "FIN", d("500"), 30)
	require.NoError(t, err)

	res, err := f.engine.Unstake(ctx, "alice", staked.PositionID)
	require.NoError(t, err)
	assert.Equal(t, "Early unstake completed with 10% penalty", res.Message)
	assertDecimal(t, "50", res.PenaltyAmount)
	assertDecimal(t, "0", res.RewardAmount)
	assertDecimal(t, "450", res.ReturnAmount)
	assert.Equal(t, domain.PositionUnstakedEarly, res.Position.Status)
	require.NotNil(t, res.Position.UnstakedAt)

	assertDecimal(t, "950", f.balance(t, "alice", "FIN"))
	assert.Equal(t, []string{"Staking Successful", "Unstaking Completed"}, f.notifier.titles())
}

func TestUnstakeAfterUnlockPaysReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "1000")

	staked, err := f.engine.Stake(ctx, "alice", "FIN", d("500"), 30)
	require.NoError(t, err)

	f.clock.Advance(31 * day)

	res, err := f.engine.Unstake(ctx, "alice", staked.PositionID)
	require.NoError(t, err)
	assert.Equal(t, "Unstake completed with rewards", res.Message)
	assertDecimal(t, "5.30821918", res.RewardAmount)
	assertDecimal(t, "0", res.PenaltyAmount)
	assertDecimal(t, "505.30821918", res.ReturnAmount)
	assert.Equal(t, domain.PositionCompleted, res.Position.Status)

	assertDecimal(t, "1005.30821918", f.balance(t, "alice", "FIN"))
}

func TestUnstakeKeepsCapturedAPY(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "1000")

	staked, err := f.engine.Stake(ctx, "alice", "FIN", d("500"), 30)
	require.NoError(t, err)

	f.store.SetRates([]domain.RateEntry{
		{Token: "FIN", DurationDays: 30, APY: d("99"), Active: false},
	})

	_, err = f.engine.Stake(ctx, "alice", "FIN", d("100"), 30)
	require.ErrorIs(t, err, domain.ErrNoStakingProgram)

	f.clock.Advance(31 * day)

	preview, err := f.engine.PreviewRewards(ctx, "alice", staked.PositionID)
	require.NoError(t, err)
	assertDecimal(t, "12.5", preview.APY)

	res, err := f.engine.Unstake(ctx, "alice", staked.PositionID)
	require.NoError(t, err)
	assertDecimal(t, "5.30821918", res.RewardAmount)
	assertDecimal(t, "505.30821918", res.ReturnAmount)
}

func TestUnstakeExactlyAtUnlockIsNotEarly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "1000")

	staked, err := f.engine.Stake(ctx, "alice", "FIN", d("1000"), 30)
	require.NoError(t, err)

	f.clock.Advance(30 * day)

	res, err := f.engine.Unstake(ctx, "alice", staked.PositionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionCompleted, res.Position.Status)
	assert.True(t, res.RewardAmount.IsPositive())
}

func TestUnstakeClosedPositionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "1000")

	staked, err := f.engine.Stake(ctx, "alice", "FIN", d("500"), 30)
	require.NoError(t, err)
	f.clock.Advance(31 * day)
	_, err = f.engine.Unstake(ctx, "alice", staked.PositionID)
	require.NoError(t, err)

	before := unstakeCount(t, "FIN", string(domain.KindConflict))
	_, err = f.engine.Unstake(ctx, "alice", staked.PositionID)
	require.ErrorIs(t, err, domain.ErrPositionNotActive)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Equal(t, before+1, unstakeCount(t, "FIN", string(domain.KindConflict)), "failure is counted under the position's token")

	assertDecimal(t, "1005.30821918", f.balance(t, "alice", "FIN"))
}

func TestConcurrentUnstakePaysOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "1000")

	staked, err := f.engine.Stake(ctx, "alice", "FIN", d("500"), 30)
	require.NoError(t, err)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.engine.Unstake(ctx, "alice", staked.PositionID)
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrPositionNotActive)
	}
	assert.Equal(t, 1, ok)
	assertDecimal(t, "950", f.balance(t, "alice", "FIN"))
}

func TestUnstakeForeignPositionIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "1000")

	staked, err := f.engine.Stake(ctx, "alice", "FIN", d("500"), 30)
	require.NoError(t, err)

	_, err = f.engine.Unstake(ctx, "mallory", staked.PositionID)
	require.ErrorIs(t, err, domain.ErrPositionNotFound)

	_, err = f.engine.PreviewRewards(ctx, "mallory", staked.PositionID)
	require.ErrorIs(t, err, domain.ErrPositionNotFound)

	_, err = f.engine.Unstake(ctx, "alice", "does-not-exist")
	require.ErrorIs(t, err, domain.ErrPositionNotFound)

	pos, err := f.store.Positions().Get(ctx, staked.PositionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionActive, pos.Status)
}

func TestPreviewRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "1000")

	staked, err := f.engine.Stake(ctx, "alice", "FIN", d("500"), 30)
	require.NoError(t, err)

	f.clock.Advance(10*day + time.Hour)

	first, err := f.engine.PreviewRewards(ctx, "alice", staked.PositionID)
	require.NoError(t, err)
	second, err := f.engine.PreviewRewards(ctx, "alice", staked.PositionID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.True(t, first.Active)
	assert.Equal(t, 10, first.ElapsedDays)
	assert.Equal(t, 19, first.RemainingDays)
	assert.Equal(t, "19 days remaining until unlock", first.Message)
	assertDecimal(t, "1.71232877", first.CurrentReward)
	assertDecimal(t, "5.1369863", first.ProjectedReward)
	assertDecimal(t, "500", f.balance(t, "alice", "FIN"))

	f.clock.Advance(25 * day)
	unlocked, err := f.engine.PreviewRewards(ctx, "alice", staked.PositionID)
	require.NoError(t, err)
	assert.Equal(t, "Position is unlocked", unlocked.Message)
	assert.Equal(t, 0, unlocked.RemainingDays)

	_, err = f.engine.Unstake(ctx, "alice", staked.PositionID)
	require.NoError(t, err)

	closed, err := f.engine.PreviewRewards(ctx, "alice", staked.PositionID)
	require.NoError(t, err)
	assert.False(t, closed.Active)
	assert.Equal(t, "This staking position is no longer active", closed.Message)
	assert.True(t, closed.CurrentReward.IsZero())
	assert.True(t, closed.ProjectedReward.IsZero())
}

func TestLedgerConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "1000")

	early, err := f.engine.Stake(ctx, "alice", "FIN", d("300"), 30)
	require.NoError(t, err)
	late, err := f.engine.Stake(ctx, "alice", "FIN", d("200"), 90)
	require.NoError(t, err)
	_, err = f.engine.Stake(ctx, "alice", "FIN", d("100.5"), 30)
	require.NoError(t, err)

	f.clock.Advance(5 * day)
	earlyRes, err := f.engine.Unstake(ctx, "alice", early.PositionID)
	require.NoError(t, err)

	f.clock.Advance(100 * day)
	lateRes, err := f.engine.Unstake(ctx, "alice", late.PositionID)
	require.NoError(t, err)

	positions, err := f.engine.Positions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, positions, 3)

	locked := decimal.Zero
	for _, p := range positions {
		if p.IsActive() {
			locked = locked.Add(p.Amount)
		}
	}

	// balance + locked principal = funded - penalties + rewards
	total := f.balance(t, "alice", "FIN").Add(locked)
	want := d("1000").Sub(earlyRes.PenaltyAmount).Add(lateRes.RewardAmount)
	assert.True(t, want.Equal(total), "total %s want %s", total, want)
	assertDecimal(t, "100.5", locked)
}

func TestStakeWaitsForHeldBalanceLock(t *testing.T) {
	f := newFixture(t, service.WithLockTiming(time.Second, 30*time.Millisecond))
	ctx := context.Background()
	f.fund(t, "alice", "FIN", "1000")

	release, err := f.locks.Acquire(ctx, "staking:balance:alice:FIN", time.Minute)
	require.NoError(t, err)

	_, err = f.engine.Stake(ctx, "alice", "FIN", d("10"), 30)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assertDecimal(t, "1000", f.balance(t, "alice", "FIN"))

	release()
	_, err = f.engine.Stake(ctx, "alice", "FIN", d("10"), 30)
	require.NoError(t, err)
}

func TestRatesListsTable(t *testing.T) {
	f := newFixture(t)
	rates, err := f.engine.Rates(context.Background())
	require.NoError(t, err)
	require.Len(t, rates, 3)
	assert.Equal(t, "ETH", rates[0].Token)
}

func TestValidateRates(t *testing.T) {
	ok := []domain.RateEntry{
		{Token: "FIN", DurationDays: 30, APY: d("12.5"), Active: true},
		{Token: "FIN", DurationDays: 30, APY: d("9"), Active: false},
		{Token: "FIN", DurationDays: 90, APY: d("15"), Active: true},
	}
	require.NoError(t, service.ValidateRates(ok))

	dup := append(ok, domain.RateEntry{Token: "fin", DurationDays: 90, APY: d("20"), Active: true})
	err := service.ValidateRates(dup)
	require.ErrorIs(t, err, domain.ErrDuplicateRate)
	assert.Contains(t, err.Error(), "FIN 90 days")
}

func unstakeCount(t *testing.T, token, outcome string) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "cryptara_staking_unstake_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["token"] == token && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
