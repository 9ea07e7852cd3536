package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// LedgerScale is the number of fractional digits stored for every amount.
const LedgerScale = 8

// EarlyUnstakePenaltyPct is the share of principal forfeited when a position
// is closed before its unlock date. Not configurable per rate entry.
const EarlyUnstakePenaltyPct = 10

var (
	hundred        = decimal.NewFromInt(100)
	percentDayYear = decimal.NewFromInt(100 * 365)
	penaltyPct     = decimal.NewFromInt(EarlyUnstakePenaltyPct)
)

const day = 24 * time.Hour

// Settlement is the outcome of closing a position at a given instant.
// Exactly one of Reward and Penalty is non-zero unless both are zero.
type Settlement struct {
	Early       bool
	ElapsedDays int
	Reward      decimal.Decimal
	Penalty     decimal.Decimal
	Return      decimal.Decimal
	Status      domain.PositionStatus
}

// WholeDays returns the number of complete 24h periods from -> to, never
// negative.
func WholeDays(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / day)
}

// UnlockDate is stakedAt plus durationDays calendar days.
func UnlockDate(stakedAt time.Time, durationDays int) time.Time {
	return stakedAt.AddDate(0, 0, durationDays)
}

// AccruedReward is simple interest on a 365-day year:
// amount * apy/100 * days/365, rounded to LedgerScale.
func AccruedReward(amount, apy decimal.Decimal, days int) decimal.Decimal {
	if days <= 0 {
		return decimal.Zero
	}
	return amount.
		Mul(apy).
		Mul(decimal.NewFromInt(int64(days))).
		Div(percentDayYear).
		Round(LedgerScale)
}

// EarlyPenalty is the fixed share of amount forfeited on early unstake.
func EarlyPenalty(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(penaltyPct).Div(hundred).Round(LedgerScale)
}

// Settle computes what closing pos at now pays out. now equal to the unlock
// date is not early.
func Settle(pos domain.StakingPosition, now time.Time) Settlement {
	if now.Before(pos.UnlockDate) {
		penalty := EarlyPenalty(pos.Amount)
		return Settlement{
			Early:       true,
			ElapsedDays: WholeDays(pos.StakedAt, now),
			Reward:      decimal.Zero,
			Penalty:     penalty,
			Return:      pos.Amount.Sub(penalty),
			Status:      domain.PositionUnstakedEarly,
		}
	}

	elapsed := WholeDays(pos.StakedAt, now)
	reward := AccruedReward(pos.Amount, pos.APY, elapsed)
	return Settlement{
		ElapsedDays: elapsed,
		Reward:      reward,
		Penalty:     decimal.Zero,
		Return:      pos.Amount.Add(reward),
		Status:      domain.PositionCompleted,
	}
}
