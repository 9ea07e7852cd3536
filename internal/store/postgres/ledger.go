package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// Ledger implements domain.Ledger on a read-committed pgx transaction.
// Rows read through the transactional stores are locked FOR UPDATE.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

type ledgerTx struct {
	tx pgx.Tx
}

func (l ledgerTx) Balances() domain.BalanceStore {
	return &BalanceStore{q: l.tx, forUpdate: true}
}

func (l ledgerTx) Positions() domain.PositionStore {
	return &StakingPositionStore{q: l.tx, forUpdate: true}
}

func (l ledgerTx) Transactions() domain.TransactionLog {
	return &TransactionStore{q: l.tx}
}

// WithinTx runs fn in one transaction. The transaction is rolled back when
// fn returns an error or panics, and when the commit fails.
func (l *Ledger) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.LedgerTx) error) (err error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx, ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

var _ domain.Ledger = (*Ledger)(nil)
