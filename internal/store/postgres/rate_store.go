package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// RateStore implements domain.RateTable using PostgreSQL.
type RateStore struct {
	pool *pgxpool.Pool
}

// NewRateStore creates a RateStore backed by the given connection pool.
func NewRateStore(pool *pgxpool.Pool) *RateStore {
	return &RateStore{pool: pool}
}

// Lookup returns the active rate for token and duration.
func (s *RateStore) Lookup(ctx context.Context, token string, durationDays int) (domain.RateEntry, error) {
	var r domain.RateEntry
	err := s.pool.QueryRow(ctx,
		`SELECT id, token, duration_days, apy, is_active FROM staking_rates
		 WHERE token = $1 AND duration_days = $2 AND is_active`,
		token, durationDays,
	).Scan(&r.ID, &r.Token, &r.DurationDays, &r.APY, &r.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RateEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RateEntry{}, fmt.Errorf("postgres: lookup rate %s/%d: %w", token, durationDays, err)
	}
	return r, nil
}

// List returns every rate entry ordered by token and duration.
func (s *RateStore) List(ctx context.Context) ([]domain.RateEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, token, duration_days, apy, is_active FROM staking_rates
		 ORDER BY token, duration_days, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rates: %w", err)
	}
	defer rows.Close()

	var out []domain.RateEntry
	for rows.Next() {
		var r domain.RateEntry
		if err := rows.Scan(&r.ID, &r.Token, &r.DurationDays, &r.APY, &r.Active); err != nil {
			return nil, fmt.Errorf("postgres: scan rate: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ domain.RateTable = (*RateStore)(nil)
