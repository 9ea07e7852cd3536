package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/amadeodlp/cryptara/internal/domain"
	"github.com/amadeodlp/cryptara/internal/service"
)

// LedgerService defines the methods that the ledger handler requires.
type LedgerService interface {
	Balances(ctx context.Context, userID string) ([]domain.Balance, error)
	RecentTransactions(ctx context.Context, userID string) ([]domain.TransactionRecord, error)
	Credit(ctx context.Context, userID, token string, amount decimal.Decimal, note string) (decimal.Decimal, error)
}

// LedgerHandler serves balances, history and the operator credit endpoint.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logHandler(logger, "ledger"),
	}
}

type creditRequest struct {
	UserID string          `json:"user_id"`
	Token  string          `json:"token"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

// ListBalances returns the caller's spendable balances.
// GET /api/balances
func (h *LedgerHandler) ListBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	balances, err := h.ledger.Balances(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, h.logger, "list balances", err)
		return
	}

	views := make([]balanceView, 0, len(balances))
	for _, b := range balances {
		views = append(views, balanceView{Token: b.Token, Amount: b.Amount.String(), UpdatedAt: b.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": views})
}

// ListTransactions returns the caller's most recent history records.
// GET /api/transactions
func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	recs, err := h.ledger.RecentTransactions(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, h.logger, "list transactions", err)
		return
	}
	if recs == nil {
		recs = []domain.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": recs})
}

// Credit adds funds to any user's balance. Operator only.
// POST /api/admin/balances/credit
func (h *LedgerHandler) Credit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "credit", err)
		return
	}

	balance, err := h.ledger.Credit(r.Context(), req.UserID, req.Token, req.Amount, req.Note)
	if err != nil {
		writeDomainError(w, r, h.logger, "credit", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": req.UserID,
		"token":   service.NormalizeToken(req.Token),
		"balance": balance.String(),
	})
}
