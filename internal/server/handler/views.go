package handler

import (
	"time"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// Amounts are rendered as decimal strings so clients never see float
// rounding.

type positionView struct {
	ID           string     `json:"id"`
	Token        string     `json:"token"`
	Amount       string     `json:"amount"`
	APY          string     `json:"apy"`
	DurationDays int        `json:"duration_days"`
	StakedAt     time.Time  `json:"staked_at"`
	UnlockDate   time.Time  `json:"unlock_date"`
	UnstakedAt   *time.Time `json:"unstaked_at,omitempty"`
	Status       string     `json:"status"`
	Active       bool       `json:"active"`
}

func toPositionView(p domain.StakingPosition) positionView {
	return positionView{
		ID:           p.ID,
		Token:        p.Token,
		Amount:       p.Amount.String(),
		APY:          p.APY.String(),
		DurationDays: p.DurationDays,
		StakedAt:     p.StakedAt,
		UnlockDate:   p.UnlockDate,
		UnstakedAt:   p.UnstakedAt,
		Status:       string(p.Status),
		Active:       p.IsActive(),
	}
}

type rateView struct {
	Token        string `json:"token"`
	DurationDays int    `json:"duration_days"`
	APY          string `json:"apy"`
	Active       bool   `json:"active"`
}

type balanceView struct {
	Token     string    `json:"token"`
	Amount    string    `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

type notificationView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type quoteView struct {
	Symbol    string    `json:"symbol"`
	PriceUSD  string    `json:"price_usd"`
	Change24h string    `json:"change_24h"`
	MarketCap string    `json:"market_cap"`
	Volume24h string    `json:"volume_24h"`
	UpdatedAt time.Time `json:"updated_at"`
}
