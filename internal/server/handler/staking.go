package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amadeodlp/cryptara/internal/domain"
	"github.com/amadeodlp/cryptara/internal/service"
)

// StakingService defines the methods that the staking handler requires.
type StakingService interface {
	Stake(ctx context.Context, userID, token string, amount decimal.Decimal, durationDays int) (service.StakeResult, error)
	Unstake(ctx context.Context, userID, positionID string) (service.UnstakeResult, error)
	PreviewRewards(ctx context.Context, userID, positionID string) (service.RewardSnapshot, error)
	Positions(ctx context.Context, userID string) ([]domain.StakingPosition, error)
	Rates(ctx context.Context) ([]domain.RateEntry, error)
}

// StakingHandler serves the staking endpoints.
type StakingHandler struct {
	staking StakingService
	logger  *slog.Logger
}

// NewStakingHandler creates a StakingHandler.
func NewStakingHandler(staking StakingService, logger *slog.Logger) *StakingHandler {
	return &StakingHandler{
		staking: staking,
		logger:  logHandler(logger, "staking"),
	}
}

type stakeRequest struct {
	Token        string          `json:"token"`
	Amount       decimal.Decimal `json:"amount"`
	DurationDays int             `json:"duration_days"`
}

type stakeResponse struct {
	PositionID string       `json:"position_id"`
	Message    string       `json:"message"`
	Position   positionView `json:"position"`
}

type unstakeResponse struct {
	Message       string       `json:"message"`
	ReturnAmount  string       `json:"return_amount"`
	RewardAmount  string       `json:"reward_amount"`
	PenaltyAmount string       `json:"penalty_amount"`
	Position      positionView `json:"position"`
}

type rewardsResponse struct {
	PositionID      string    `json:"position_id"`
	Token           string    `json:"token"`
	Amount          string    `json:"amount"`
	APY             string    `json:"apy"`
	Status          string    `json:"status"`
	Active          bool      `json:"active"`
	DurationDays    int       `json:"duration_days"`
	ElapsedDays     int       `json:"elapsed_days"`
	RemainingDays   int       `json:"remaining_days"`
	CurrentReward   string    `json:"current_reward"`
	ProjectedReward string    `json:"projected_reward"`
	UnlockDate      time.Time `json:"unlock_date"`
	Message         string    `json:"message"`
}

// ListPositions returns every position of the caller, newest first.
// GET /api/staking
func (h *StakingHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	positions, err := h.staking.Positions(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, h.logger, "list positions", err)
		return
	}

	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, toPositionView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": views})
}

// Stake opens a new position.
// POST /api/staking/stake
func (h *StakingHandler) Stake(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req stakeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "stake", err)
		return
	}

	res, err := h.staking.Stake(r.Context(), userID, req.Token, req.Amount, req.DurationDays)
	if err != nil {
		writeDomainError(w, r, h.logger, "stake", err)
		return
	}

	writeJSON(w, http.StatusCreated, stakeResponse{
		PositionID: res.PositionID,
		Message:    res.Message,
		Position:   toPositionView(res.Position),
	})
}

// Unstake closes a position.
// POST /api/staking/unstake/{id}
func (h *StakingHandler) Unstake(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	res, err := h.staking.Unstake(r.Context(), userID, pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "unstake", err)
		return
	}

	writeJSON(w, http.StatusOK, unstakeResponse{
		Message:       res.Message,
		ReturnAmount:  res.ReturnAmount.String(),
		RewardAmount:  res.RewardAmount.String(),
		PenaltyAmount: res.PenaltyAmount.String(),
		Position:      toPositionView(res.Position),
	})
}

// Rewards previews what a position has earned so far.
// GET /api/staking/rewards/{id}
func (h *StakingHandler) Rewards(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	snap, err := h.staking.PreviewRewards(r.Context(), userID, pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "preview rewards", err)
		return
	}

	writeJSON(w, http.StatusOK, rewardsResponse{
		PositionID:      snap.PositionID,
		Token:           snap.Token,
		Amount:          snap.Amount.String(),
		APY:             snap.APY.String(),
		Status:          string(snap.Status),
		Active:          snap.Active,
		DurationDays:    snap.DurationDays,
		ElapsedDays:     snap.ElapsedDays,
		RemainingDays:   snap.RemainingDays,
		CurrentReward:   snap.CurrentReward.String(),
		ProjectedReward: snap.ProjectedReward.String(),
		UnlockDate:      snap.UnlockDate,
		Message:         snap.Message,
	})
}

// ListRates returns the APY table.
// GET /api/staking/apy
func (h *StakingHandler) ListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.staking.Rates(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list rates", err)
		return
	}

	views := make([]rateView, 0, len(rates))
	for _, e := range rates {
		if !e.Active {
			continue
		}
		views = append(views, rateView{
			Token:        e.Token,
			DurationDays: e.DurationDays,
			APY:          e.APY.String(),
			Active:       e.Active,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": views})
}
