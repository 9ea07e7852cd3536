package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// RecentTransactionsLimit caps GET /api/transactions.
const RecentTransactionsLimit = 50

// LedgerService serves balance and history views and admin credits.
type LedgerService struct {
	ledger       domain.Ledger
	balances     domain.BalanceStore
	transactions domain.TransactionLog
	logger       *slog.Logger
	now          func() time.Time
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(
	ledger domain.Ledger,
	balances domain.BalanceStore,
	transactions domain.TransactionLog,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		ledger:       ledger,
		balances:     balances,
		transactions: transactions,
		logger:       logger.With(slog.String("component", "ledger_service")),
		now:          time.Now,
	}
}

// Credit adds amount to a user's balance and records a deposit.
func (s *LedgerService) Credit(ctx context.Context, userID, token string, amount decimal.Decimal, note string) (decimal.Decimal, error) {
	token = NormalizeToken(token)
	switch {
	case userID == "":
		return decimal.Zero, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	case !validToken(token):
		return decimal.Zero, fmt.Errorf("%w: token symbol %q", domain.ErrInvalidArgument, token)
	case !amount.IsPositive() || !amount.Round(LedgerScale).Equal(amount):
		return decimal.Zero, fmt.Errorf("%w: amount must be positive with at most %d decimals", domain.ErrInvalidArgument, LedgerScale)
	}

	if note == "" {
		note = fmt.Sprintf("Deposited %s %s", amount, token)
	}

	var balance decimal.Decimal
	err := s.ledger.WithinTx(ctx, func(ctx context.Context, tx domain.LedgerTx) error {
		var err error
		balance, err = tx.Balances().Adjust(ctx, userID, token, amount)
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		return tx.Transactions().Append(ctx, domain.TransactionRecord{
			UserID:    userID,
			Type:      domain.TxDeposit,
			Token:     token,
			Amount:    amount,
			Status:    "completed",
			Details:   note,
			CreatedAt: s.now().UTC(),
		})
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger_service: credit: %w", err)
	}

	s.logger.InfoContext(ctx, "ledger_service: balance credited",
		slog.String("user_id", userID),
		slog.String("token", token),
		slog.String("amount", amount.String()),
		slog.String("balance", balance.String()),
	)
	return balance, nil
}

// Balances lists a user's spendable balances.
func (s *LedgerService) Balances(ctx context.Context, userID string) ([]domain.Balance, error) {
	balances, err := s.balances.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list balances: %w", err)
	}
	return balances, nil
}

// RecentTransactions lists the newest history records of a user.
func (s *LedgerService) RecentTransactions(ctx context.Context, userID string) ([]domain.TransactionRecord, error) {
	recs, err := s.transactions.ListByUser(ctx, userID, RecentTransactionsLimit)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list transactions: %w", err)
	}
	return recs, nil
}
