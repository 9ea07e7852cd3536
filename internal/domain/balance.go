package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a user's spendable amount of one token.
type Balance struct {
	UserID    string
	Token     string
	Amount    decimal.Decimal
	UpdatedAt time.Time
}
