package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL.
type BalanceStore struct {
	q         querier
	forUpdate bool
}

// NewBalanceStore creates a BalanceStore backed by the given connection pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{q: pool}
}

// Get returns the balance, or zero when the row does not exist.
func (s *BalanceStore) Get(ctx context.Context, userID, token string) (decimal.Decimal, error) {
	query := `SELECT amount FROM balances WHERE user_id = $1 AND token = $2`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}

	var amount decimal.Decimal
	err := s.q.QueryRow(ctx, query, userID, token).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: get balance %s/%s: %w", userID, token, err)
	}
	return amount, nil
}

// Adjust applies delta in one statement. Debits only touch an existing row
// with enough funds; credits create the row on first use.
func (s *BalanceStore) Adjust(ctx context.Context, userID, token string, delta decimal.Decimal) (decimal.Decimal, error) {
	var (
		query string
		next  decimal.Decimal
	)
	if delta.IsNegative() {
		query = `
			UPDATE balances SET amount = amount + $3::numeric, updated_at = NOW()
			WHERE user_id = $1 AND token = $2 AND amount + $3::numeric >= 0
			RETURNING amount`
	} else {
		query = `
			INSERT INTO balances (user_id, token, amount, updated_at)
			VALUES ($1, $2, $3::numeric, NOW())
			ON CONFLICT (user_id, token) DO UPDATE
				SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()
			RETURNING amount`
	}

	err := s.q.QueryRow(ctx, query, userID, token, delta.String()).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s %s", domain.ErrInsufficientBalance, userID, token)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: adjust balance %s/%s: %w", userID, token, err)
	}
	return next, nil
}

// ListByUser returns all balance rows of a user ordered by token.
func (s *BalanceStore) ListByUser(ctx context.Context, userID string) ([]domain.Balance, error) {
	rows, err := s.q.Query(ctx,
		`SELECT user_id, token, amount, updated_at FROM balances
		 WHERE user_id = $1 ORDER BY token`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances: %w", err)
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.UserID, &b.Token, &b.Amount, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

var _ domain.BalanceStore = (*BalanceStore)(nil)
