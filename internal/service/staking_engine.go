package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amadeodlp/cryptara/internal/domain"
	"github.com/amadeodlp/cryptara/internal/metrics"
)

const (
	defaultLockTTL  = 30 * time.Second
	defaultLockWait = 5 * time.Second

	lockBackoffMin = 5 * time.Millisecond
	lockBackoffMax = 100 * time.Millisecond

	maxTokenLen = 16
)

// StakeResult is returned by a successful Stake.
type StakeResult struct {
	PositionID string
	Message    string
	Position   domain.StakingPosition
}

// UnstakeResult is returned by a successful Unstake.
type UnstakeResult struct {
	Message       string
	ReturnAmount  decimal.Decimal
	RewardAmount  decimal.Decimal
	PenaltyAmount decimal.Decimal
	Position      domain.StakingPosition
}

// RewardSnapshot is a read-only view of what a position has earned.
type RewardSnapshot struct {
	PositionID      string
	Token           string
	Amount          decimal.Decimal
	APY             decimal.Decimal
	Status          domain.PositionStatus
	Active          bool
	DurationDays    int
	ElapsedDays     int
	RemainingDays   int
	CurrentReward   decimal.Decimal
	ProjectedReward decimal.Decimal
	UnlockDate      time.Time
	Message         string
}

// EngineOption customises a StakingEngine.
type EngineOption func(*StakingEngine)

// WithClock replaces time.Now. Used by tests to move across unlock dates.
func WithClock(now func() time.Time) EngineOption {
	return func(e *StakingEngine) { e.now = now }
}

// WithLockTiming sets the key lock TTL and how long a caller waits for a
// held key before giving up.
func WithLockTiming(ttl, wait time.Duration) EngineOption {
	return func(e *StakingEngine) {
		if ttl > 0 {
			e.lockTTL = ttl
		}
		if wait > 0 {
			e.lockWait = wait
		}
	}
}

// StakingEngine moves value between spendable balances and staking
// positions. Every mutation runs inside one ledger transaction while the
// caller holds the key lock for the balance or position it touches.
type StakingEngine struct {
	ledger    domain.Ledger
	rates     domain.RateTable
	positions domain.PositionStore
	locks     domain.LockManager
	notifier  domain.Notifier
	bus       domain.SignalBus
	logger    *slog.Logger

	now      func() time.Time
	lockTTL  time.Duration
	lockWait time.Duration
}

// NewStakingEngine creates a StakingEngine. bus may be nil.
func NewStakingEngine(
	ledger domain.Ledger,
	rates domain.RateTable,
	positions domain.PositionStore,
	locks domain.LockManager,
	notifier domain.Notifier,
	bus domain.SignalBus,
	logger *slog.Logger,
	opts ...EngineOption,
) *StakingEngine {
	e := &StakingEngine{
		ledger:    ledger,
		rates:     rates,
		positions: positions,
		locks:     locks,
		notifier:  notifier,
		bus:       bus,
		logger:    logger.With(slog.String("component", "staking_engine")),
		now:       time.Now,
		lockTTL:   defaultLockTTL,
		lockWait:  defaultLockWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NormalizeToken trims and upper-cases a token symbol.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// Stake locks amount of token from the user's balance into a new position
// at the active APY for durationDays.
func (e *StakingEngine) Stake(ctx context.Context, userID, token string, amount decimal.Decimal, durationDays int) (StakeResult, error) {
	token = NormalizeToken(token)
	if err := validateStake(userID, token, amount, durationDays); err != nil {
		metrics.RecordStake("", string(domain.KindInvalidArgument))
		return StakeResult{}, err
	}

	rate, err := e.rates.Lookup(ctx, token, durationDays)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = fmt.Errorf("%w: %s for %d days", domain.ErrNoStakingProgram, token, durationDays)
		} else {
			err = fmt.Errorf("staking: lookup rate: %w", err)
		}
		metrics.RecordStake("", string(domain.KindOf(err)))
		return StakeResult{}, err
	}

	unlock, err := e.lock(ctx, balanceLockKey(userID, token))
	if err != nil {
		metrics.RecordStake(token, string(domain.KindOf(err)))
		return StakeResult{}, err
	}
	defer unlock()

	now := e.now().UTC()
	pos := domain.StakingPosition{
		UserID:       userID,
		Token:        token,
		Amount:       amount,
		APY:          rate.APY,
		DurationDays: durationDays,
		StakedAt:     now,
		UnlockDate:   UnlockDate(now, durationDays),
		Status:       domain.PositionActive,
	}

	err = e.ledger.WithinTx(ctx, func(ctx context.Context, tx domain.LedgerTx) error {
		balance, err := tx.Balances().Get(ctx, userID, token)
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		if balance.LessThan(amount) {
			return fmt.Errorf("%w: have %s %s, need %s", domain.ErrInsufficientBalance, balance, token, amount)
		}
		if _, err := tx.Balances().Adjust(ctx, userID, token, amount.Neg()); err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		id, err := tx.Positions().Create(ctx, pos)
		if err != nil {
			return fmt.Errorf("create position: %w", err)
		}
		pos.ID = id

		return tx.Transactions().Append(ctx, domain.TransactionRecord{
			UserID:     userID,
			Type:       domain.TxStake,
			Token:      token,
			Amount:     amount,
			PositionID: id,
			Status:     "completed",
			Details:    fmt.Sprintf("Staked %s %s for %d days at %s%% APY", amount, token, durationDays, rate.APY),
			CreatedAt:  now,
		})
	})
	if err != nil {
		metrics.RecordStake(token, string(domain.KindOf(err)))
		return StakeResult{}, fmt.Errorf("staking: stake: %w", err)
	}

	metrics.RecordStake(token, "ok")
	e.logger.InfoContext(ctx, "staking: position opened",
		slog.String("user_id", userID),
		slog.String("position_id", pos.ID),
		slog.String("token", token),
		slog.String("amount", amount.String()),
		slog.Int("duration_days", durationDays),
		slog.String("apy", rate.APY.String()),
	)

	e.notifier.Send(ctx, userID, "Staking Successful",
		fmt.Sprintf("You have successfully staked %s %s for %d days with %s%% APY.", amount, token, durationDays, rate.APY))
	e.publish(ctx, "stake", pos, decimal.Zero)

	return StakeResult{
		PositionID: pos.ID,
		Message:    fmt.Sprintf("Successfully staked %s %s", amount, token),
		Position:   pos,
	}, nil
}

// Unstake closes an active position owned by userID and credits the user
// with principal minus penalty (early) or principal plus reward.
func (e *StakingEngine) Unstake(ctx context.Context, userID, positionID string) (UnstakeResult, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(positionID) == "" {
		metrics.RecordUnstake("", string(domain.KindInvalidArgument))
		return UnstakeResult{}, fmt.Errorf("%w: user and position id are required", domain.ErrInvalidArgument)
	}

	unlock, err := e.lock(ctx, positionLockKey(positionID))
	if err != nil {
		metrics.RecordUnstake("", string(domain.KindOf(err)))
		return UnstakeResult{}, err
	}
	defer unlock()

	now := e.now().UTC()
	var (
		pos   domain.StakingPosition
		st    Settlement
		token string
	)
	err = e.ledger.WithinTx(ctx, func(ctx context.Context, tx domain.LedgerTx) error {
		p, err := ownedPosition(ctx, tx.Positions(), userID, positionID)
		if err != nil {
			return err
		}
		token = p.Token
		if !p.IsActive() {
			return fmt.Errorf("%w: %s is %s", domain.ErrPositionNotActive, p.ID, p.Status)
		}

		st = Settle(p, now)
		p.Status = st.Status
		p.UnstakedAt = &now
		if err := tx.Positions().Update(ctx, p); err != nil {
			return fmt.Errorf("close position: %w", err)
		}
		if _, err := tx.Balances().Adjust(ctx, userID, p.Token, st.Return); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		details := fmt.Sprintf("Unstaked %s %s with %s rewards", p.Amount, p.Token, st.Reward)
		if st.Early {
			details = fmt.Sprintf("Unstaked %s %s early with %s penalty", p.Amount, p.Token, st.Penalty)
		}
		if err := tx.Transactions().Append(ctx, domain.TransactionRecord{
			UserID:     userID,
			Type:       domain.TxUnstake,
			Token:      p.Token,
			Amount:     st.Return,
			PositionID: p.ID,
			Status:     "completed",
			Details:    details,
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("append record: %w", err)
		}

		pos = p
		return nil
	})
	if err != nil {
		metrics.RecordUnstake(token, string(domain.KindOf(err)))
		return UnstakeResult{}, fmt.Errorf("staking: unstake %s: %w", positionID, err)
	}

	outcome := "completed"
	title := "Unstaking Completed"
	message := fmt.Sprintf("Staking completed. You received %s %s plus %s in rewards.", pos.Amount, pos.Token, st.Reward)
	resultMsg := "Unstake completed with rewards"
	if st.Early {
		outcome = "early"
		message = fmt.Sprintf("Early unstake completed. You received %s %s after %d%% penalty.", st.Return, pos.Token, EarlyUnstakePenaltyPct)
		resultMsg = fmt.Sprintf("Early unstake completed with %d%% penalty", EarlyUnstakePenaltyPct)
	}

	metrics.RecordUnstake(pos.Token, outcome)
	e.logger.InfoContext(ctx, "staking: position closed",
		slog.String("user_id", userID),
		slog.String("position_id", pos.ID),
		slog.String("token", pos.Token),
		slog.String("status", string(pos.Status)),
		slog.String("return", st.Return.String()),
		slog.String("reward", st.Reward.String()),
		slog.String("penalty", st.Penalty.String()),
	)

	e.notifier.Send(ctx, userID, title, message)
	e.publish(ctx, "unstake", pos, st.Return)

	return UnstakeResult{
		Message:       resultMsg,
		ReturnAmount:  st.Return,
		RewardAmount:  st.Reward,
		PenaltyAmount: st.Penalty,
		Position:      pos,
	}, nil
}

// PreviewRewards reports the accrued and projected reward of a position
// without changing any state. Closed positions yield a zero snapshot.
func (e *StakingEngine) PreviewRewards(ctx context.Context, userID, positionID string) (RewardSnapshot, error) {
	pos, err := ownedPosition(ctx, e.positions, userID, positionID)
	if err != nil {
		return RewardSnapshot{}, fmt.Errorf("staking: preview %s: %w", positionID, err)
	}

	snap := RewardSnapshot{
		PositionID:      pos.ID,
		Token:           pos.Token,
		Amount:          pos.Amount,
		APY:             pos.APY,
		Status:          pos.Status,
		DurationDays:    pos.DurationDays,
		UnlockDate:      pos.UnlockDate,
		CurrentReward:   decimal.Zero,
		ProjectedReward: decimal.Zero,
	}
	if !pos.IsActive() {
		snap.Message = "This staking position is no longer active"
		return snap, nil
	}

	now := e.now().UTC()
	snap.Active = true
	snap.ElapsedDays = WholeDays(pos.StakedAt, now)
	snap.RemainingDays = WholeDays(now, pos.UnlockDate)
	snap.CurrentReward = AccruedReward(pos.Amount, pos.APY, snap.ElapsedDays)
	snap.ProjectedReward = AccruedReward(pos.Amount, pos.APY, pos.DurationDays)
	if now.Before(pos.UnlockDate) {
		snap.Message = fmt.Sprintf("%d days remaining until unlock", snap.RemainingDays)
	} else {
		snap.Message = "Position is unlocked"
	}
	return snap, nil
}

// Positions lists every position of a user, newest first.
func (e *StakingEngine) Positions(ctx context.Context, userID string) ([]domain.StakingPosition, error) {
	positions, err := e.positions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("staking: list positions: %w", err)
	}
	return positions, nil
}

// Rates lists the configured rate table.
func (e *StakingEngine) Rates(ctx context.Context) ([]domain.RateEntry, error) {
	rates, err := e.rates.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("staking: list rates: %w", err)
	}
	return rates, nil
}

// ValidateRates fails when more than one active entry exists for the same
// (token, duration) pair.
func ValidateRates(rates []domain.RateEntry) error {
	type pair struct {
		token string
		days  int
	}
	seen := make(map[pair]bool, len(rates))
	var errs []error
	for _, r := range rates {
		if !r.Active {
			continue
		}
		k := pair{NormalizeToken(r.Token), r.DurationDays}
		if seen[k] {
			errs = append(errs, fmt.Errorf("%w: %s %d days", domain.ErrDuplicateRate, k.token, k.days))
			continue
		}
		seen[k] = true
	}
	return errors.Join(errs...)
}

// lock waits up to lockWait for key, backing off between attempts.
func (e *StakingEngine) lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	deadline := time.NewTimer(e.lockWait)
	defer deadline.Stop()

	backoff := lockBackoffMin
	for {
		unlock, err := e.locks.Acquire(ctx, key, e.lockTTL)
		if err == nil {
			metrics.ObserveLockWait(time.Since(start))
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("staking: acquire %s: %w", key, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("staking: acquire %s: %w", key, ctx.Err())
		case <-deadline.C:
			return nil, fmt.Errorf("staking: acquire %s after %s: %w", key, e.lockWait, domain.ErrLockHeld)
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, lockBackoffMax)
	}
}

func (e *StakingEngine) publish(ctx context.Context, kind string, pos domain.StakingPosition, returned decimal.Decimal) {
	if e.bus == nil {
		return
	}
	evt := domain.StakingEvent{
		Type:       kind,
		UserID:     pos.UserID,
		PositionID: pos.ID,
		Token:      pos.Token,
		Amount:     pos.Amount.String(),
		Status:     string(pos.Status),
		At:         e.now().UTC(),
	}
	if !returned.IsZero() {
		evt.ReturnAmount = returned.String()
	}
	payload, _ := json.Marshal(evt)
	if err := e.bus.Publish(ctx, domain.StakingChannel, payload); err != nil {
		e.logger.WarnContext(ctx, "staking: publish event failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

// ownedPosition loads a position and hides positions of other users.
func ownedPosition(ctx context.Context, store domain.PositionStore, userID, positionID string) (domain.StakingPosition, error) {
	pos, err := store.Get(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.StakingPosition{}, fmt.Errorf("%w: %s", domain.ErrPositionNotFound, positionID)
		}
		return domain.StakingPosition{}, fmt.Errorf("load position: %w", err)
	}
	if pos.UserID != userID {
		return domain.StakingPosition{}, fmt.Errorf("%w: %s", domain.ErrPositionNotFound, positionID)
	}
	return pos, nil
}

func validateStake(userID, token string, amount decimal.Decimal, durationDays int) error {
	switch {
	case strings.TrimSpace(userID) == "":
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	case !validToken(token):
		return fmt.Errorf("%w: token symbol %q", domain.ErrInvalidArgument, token)
	case !amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	case !amount.Round(LedgerScale).Equal(amount):
		return fmt.Errorf("%w: amount has more than %d decimal places", domain.ErrInvalidArgument, LedgerScale)
	case durationDays <= 0:
		return fmt.Errorf("%w: duration must be positive", domain.ErrInvalidArgument)
	}
	return nil
}

func validToken(token string) bool {
	if token == "" || len(token) > maxTokenLen {
		return false
	}
	for _, c := range token {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func balanceLockKey(userID, token string) string {
	return "staking:balance:" + userID + ":" + token
}

func positionLockKey(positionID string) string {
	return "staking:position:" + positionID
}
