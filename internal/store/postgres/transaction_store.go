package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// TransactionStore implements domain.TransactionLog using PostgreSQL.
type TransactionStore struct {
	q querier
}

// NewTransactionStore creates a TransactionStore backed by the given
// connection pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{q: pool}
}

const txSelectCols = `id, user_id, type, token, amount, COALESCE(position_id, ''),
	status, details, created_at`

// Append inserts a record. Records are never updated or deleted.
func (s *TransactionStore) Append(ctx context.Context, rec domain.TransactionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO transactions (
			id, user_id, type, token, amount, position_id, status, details, created_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`

	_, err := s.q.Exec(ctx, query,
		rec.ID, rec.UserID, string(rec.Type), rec.Token, rec.Amount.String(),
		rec.PositionID, rec.Status, rec.Details, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append transaction %s: %w", rec.Type, err)
	}
	return nil
}

// ListByUser returns a user's newest records.
func (s *TransactionStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.TransactionRecord, error) {
	query := `SELECT ` + txSelectCols + ` FROM transactions
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	return scanTransactions(rows)
}

// ListBetween returns records created in [from, to), oldest first.
func (s *TransactionStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.TransactionRecord, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+txSelectCols+` FROM transactions
		 WHERE created_at >= $1 AND created_at < $2
		 ORDER BY created_at, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions between: %w", err)
	}
	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]domain.TransactionRecord, error) {
	defer rows.Close()

	var out []domain.TransactionRecord
	for rows.Next() {
		var rec domain.TransactionRecord
		var typ string
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &typ, &rec.Token, &rec.Amount, &rec.PositionID,
			&rec.Status, &rec.Details, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		rec.Type = domain.TransactionType(typ)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: transaction rows: %w", err)
	}
	return out, nil
}

var _ domain.TransactionLog = (*TransactionStore)(nil)
