package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType identifies what produced a ledger record.
type TransactionType string

const (
	TxStake   TransactionType = "stake"
	TxUnstake TransactionType = "unstake"
	TxDeposit TransactionType = "deposit"
)

// TransactionRecord is an append-only history row.
type TransactionRecord struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Type       TransactionType `json:"type"`
	Token      string          `json:"token"`
	Amount     decimal.Decimal `json:"amount"`
	PositionID string          `json:"position_id,omitempty"`
	Status     string          `json:"status"`
	Details    string          `json:"details"`
	CreatedAt  time.Time       `json:"created_at"`
}
