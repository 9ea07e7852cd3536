package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceStore holds per-user, per-token spendable balances.
type BalanceStore interface {
	// Get returns zero when the row does not exist yet.
	Get(ctx context.Context, userID, token string) (decimal.Decimal, error)
	// Adjust applies delta atomically and returns the new amount. It fails
	// with ErrInsufficientBalance when the result would be negative.
	Adjust(ctx context.Context, userID, token string, delta decimal.Decimal) (decimal.Decimal, error)
	ListByUser(ctx context.Context, userID string) ([]Balance, error)
}

// RateTable holds the configured APY per (token, duration).
type RateTable interface {
	// Lookup returns the active entry or ErrNotFound.
	Lookup(ctx context.Context, token string, durationDays int) (RateEntry, error)
	List(ctx context.Context) ([]RateEntry, error)
}

// PositionStore persists staking positions.
type PositionStore interface {
	// Create assigns an id when pos.ID is empty and returns it.
	Create(ctx context.Context, pos StakingPosition) (string, error)
	Get(ctx context.Context, id string) (StakingPosition, error)
	// Update closes an active position. A row that is no longer active
	// yields ErrPositionNotActive.
	Update(ctx context.Context, pos StakingPosition) error
	ListByUser(ctx context.Context, userID string) ([]StakingPosition, error)
}

// TransactionLog is the append-only ledger history.
type TransactionLog interface {
	Append(ctx context.Context, rec TransactionRecord) error
	ListByUser(ctx context.Context, userID string, limit int) ([]TransactionRecord, error)
	// ListBetween returns records with from <= created_at < to, oldest first.
	ListBetween(ctx context.Context, from, to time.Time) ([]TransactionRecord, error)
}

// LedgerTx exposes stores bound to one transaction.
type LedgerTx interface {
	Balances() BalanceStore
	Positions() PositionStore
	Transactions() TransactionLog
}

// Ledger scopes a unit of work. WithinTx commits when fn returns nil and
// rolls back on error, panic or context cancellation.
type Ledger interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// NotificationStore persists in-app notifications.
type NotificationStore interface {
	Create(ctx context.Context, n Notification) (string, error)
	ListByUser(ctx context.Context, userID string, limit int, unreadOnly bool) ([]Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}
