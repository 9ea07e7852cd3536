package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a staking position. Only
// PositionActive may transition; the other two are terminal.
type PositionStatus string

const (
	PositionActive        PositionStatus = "active"
	PositionUnstakedEarly PositionStatus = "unstaked_early"
	PositionCompleted     PositionStatus = "completed"
)

// Terminal reports whether no further transition is allowed.
func (s PositionStatus) Terminal() bool {
	return s == PositionUnstakedEarly || s == PositionCompleted
}

// StakingPosition is one stake event: principal locked at a captured APY
// for a fixed number of days.
type StakingPosition struct {
	ID           string
	UserID       string
	Token        string
	Amount       decimal.Decimal
	APY          decimal.Decimal // percent, e.g. 12.5
	DurationDays int
	StakedAt     time.Time
	UnlockDate   time.Time
	UnstakedAt   *time.Time
	Status       PositionStatus
}

// IsActive reports whether the position still holds its principal.
func (p StakingPosition) IsActive() bool {
	return p.Status == PositionActive && p.UnstakedAt == nil
}

// RateEntry is a configured APY for a (token, duration) pair.
type RateEntry struct {
	ID           int64
	Token        string
	DurationDays int
	APY          decimal.Decimal
	Active       bool
}

// StakingEvent is published on the staking channel after a stake or unstake
// commits.
type StakingEvent struct {
	Type         string    `json:"type"`
	UserID       string    `json:"user_id"`
	PositionID   string    `json:"position_id"`
	Token        string    `json:"token"`
	Amount       string    `json:"amount"`
	ReturnAmount string    `json:"return_amount,omitempty"`
	Status       string    `json:"status"`
	At           time.Time `json:"at"`
}

// StakingChannel is the signal-bus channel carrying StakingEvent payloads.
const StakingChannel = "staking"
