package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// StakingPositionStore implements domain.PositionStore using PostgreSQL.
type StakingPositionStore struct {
	q         querier
	forUpdate bool
}

// NewStakingPositionStore creates a StakingPositionStore backed by the given
// connection pool.
func NewStakingPositionStore(pool *pgxpool.Pool) *StakingPositionStore {
	return &StakingPositionStore{q: pool}
}

const positionSelectCols = `id, user_id, token, amount, apy, duration_days,
	staked_at, unlock_date, unstaked_at, status`

func scanPosition(row pgx.Row) (domain.StakingPosition, error) {
	var p domain.StakingPosition
	var status string
	err := row.Scan(
		&p.ID, &p.UserID, &p.Token, &p.Amount, &p.APY, &p.DurationDays,
		&p.StakedAt, &p.UnlockDate, &p.UnstakedAt, &status,
	)
	if err != nil {
		return domain.StakingPosition{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// Create inserts a new position and returns its id.
func (s *StakingPositionStore) Create(ctx context.Context, p domain.StakingPosition) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	const query = `
		INSERT INTO staking_positions (
			id, user_id, token, amount, apy, duration_days,
			staked_at, unlock_date, unstaked_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.q.Exec(ctx, query,
		p.ID, p.UserID, p.Token, p.Amount.String(), p.APY.String(), p.DurationDays,
		p.StakedAt, p.UnlockDate, p.UnstakedAt, string(p.Status),
	)
	if err != nil {
		return "", fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return p.ID, nil
}

// Get retrieves a position by id, locking the row inside a ledger
// transaction.
func (s *StakingPositionStore) Get(ctx context.Context, id string) (domain.StakingPosition, error) {
	query := `SELECT ` + positionSelectCols + ` FROM staking_positions WHERE id = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}

	p, err := scanPosition(s.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StakingPosition{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.StakingPosition{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// Update moves an active position to its terminal status. Rows that are no
// longer active are left untouched.
func (s *StakingPositionStore) Update(ctx context.Context, p domain.StakingPosition) error {
	const query = `
		UPDATE staking_positions SET
			status      = $2,
			unstaked_at = $3
		WHERE id = $1 AND status = 'active'`

	tag, err := s.q.Exec(ctx, query, p.ID, string(p.Status), p.UnstakedAt)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM staking_positions WHERE id = $1)`, p.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check position %s: %w", p.ID, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrPositionNotActive
}

// ListByUser returns a user's positions, newest first.
func (s *StakingPositionStore) ListByUser(ctx context.Context, userID string) ([]domain.StakingPosition, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+positionSelectCols+` FROM staking_positions
		 WHERE user_id = $1
		 ORDER BY staked_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.StakingPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ domain.PositionStore = (*StakingPositionStore)(nil)
