// Package memory implements the domain stores in process memory. It backs
// the "memory" storage mode and the service tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amadeodlp/cryptara/internal/domain"
)

var errTxClosed = errors.New("memory: transaction already finished")

// Store holds all ledger state. mu guards the maps for the length of one
// operation. A transaction additionally holds a row lock on every balance and
// position it reads or writes until it finishes, so transactions on disjoint
// rows run concurrently. Rollback replays an undo log. Reads outside a
// transaction may observe balance and position writes that are later rolled
// back; transaction records become visible only on commit.
type Store struct {
	mu            sync.RWMutex
	rows          rowLocks
	balances      map[string]map[string]domain.Balance // user -> token
	rates         []domain.RateEntry
	positions     map[string]domain.StakingPosition
	records       []domain.TransactionRecord
	notifications []domain.Notification
	now           func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		rows:      rowLocks{slots: make(map[string]*rowSlot)},
		balances:  make(map[string]map[string]domain.Balance),
		positions: make(map[string]domain.StakingPosition),
		now:       time.Now,
	}
}

// SetRates replaces the rate table.
func (s *Store) SetRates(rates []domain.RateEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = make([]domain.RateEntry, len(rates))
	for i, r := range rates {
		if r.ID == 0 {
			r.ID = int64(i + 1)
		}
		s.rates[i] = r
	}
}

// Balances returns a non-transactional BalanceStore.
func (s *Store) Balances() domain.BalanceStore { return &balanceStore{s: s} }

// Positions returns a non-transactional PositionStore.
func (s *Store) Positions() domain.PositionStore { return &positionStore{s: s} }

// Transactions returns a non-transactional TransactionLog.
func (s *Store) Transactions() domain.TransactionLog { return &transactionLog{s: s} }

// Rates returns the RateTable.
func (s *Store) Rates() domain.RateTable { return &rateTable{s: s} }

// Notifications returns the NotificationStore.
func (s *Store) Notifications() domain.NotificationStore { return &notificationStore{s: s} }

func balanceRow(userID, token string) string { return "balance:" + userID + "\x00" + token }

func positionRow(id string) string { return "position:" + id }

// rowLocks hands out one exclusive lock per row key. Slots are dropped once
// nobody holds or waits for them.
type rowLocks struct {
	mu    sync.Mutex
	slots map[string]*rowSlot
}

type rowSlot struct {
	ch   chan struct{}
	refs int
}

func (r *rowLocks) acquire(ctx context.Context, key string) error {
	r.mu.Lock()
	slot, ok := r.slots[key]
	if !ok {
		slot = &rowSlot{ch: make(chan struct{}, 1)}
		r.slots[key] = slot
	}
	slot.refs++
	r.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		r.drop(key, slot)
		return ctx.Err()
	}
}

func (r *rowLocks) release(key string) {
	r.mu.Lock()
	slot := r.slots[key]
	r.mu.Unlock()
	<-slot.ch
	r.drop(key, slot)
}

func (r *rowLocks) drop(key string, slot *rowSlot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(r.slots, key)
	}
}

// txState is the bookkeeping of one WithinTx call. It is used from the
// goroutine running fn only.
type txState struct {
	s       *Store
	held    map[string]bool
	undo    []func()
	pending []domain.TransactionRecord
	done    bool
}

// lockRow takes the row lock for key unless the transaction already holds it.
func (t *txState) lockRow(ctx context.Context, key string) error {
	if t.done {
		return errTxClosed
	}
	if t.held[key] {
		return nil
	}
	if err := t.s.rows.acquire(ctx, key); err != nil {
		return fmt.Errorf("memory: lock %s: %w", key, err)
	}
	t.held[key] = true
	return nil
}

// record registers an undo step. Undo steps run with s.mu held.
func (t *txState) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *txState) finish(commit bool) {
	t.s.mu.Lock()
	if commit {
		t.s.records = append(t.s.records, t.pending...)
	} else {
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
	}
	t.s.mu.Unlock()

	t.done = true
	for key := range t.held {
		t.s.rows.release(key)
	}
	t.held, t.undo, t.pending = nil, nil, nil
}

// lockRow holds key for the rest of tx, or until the returned func is called
// when tx is nil.
func (s *Store) lockRow(ctx context.Context, tx *txState, key string) (func(), error) {
	if tx != nil {
		if err := tx.lockRow(ctx, key); err != nil {
			return nil, err
		}
		return func() {}, nil
	}
	if err := s.rows.acquire(ctx, key); err != nil {
		return nil, fmt.Errorf("memory: lock %s: %w", key, err)
	}
	return func() { s.rows.release(key) }, nil
}

type ledgerTx struct {
	s  *Store
	tx *txState
}

func (l ledgerTx) Balances() domain.BalanceStore { return &balanceStore{s: l.s, tx: l.tx} }
func (l ledgerTx) Positions() domain.PositionStore { return &positionStore{s: l.s, tx: l.tx} }
func (l ledgerTx) Transactions() domain.TransactionLog { return &transactionLog{s: l.s, tx: l.tx} }

// WithinTx runs fn as one unit of work. Writes made through the LedgerTx are
// undone when fn fails, panics or ctx is cancelled.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.LedgerTx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: begin tx: %w", err)
	}

	st := &txState{s: s, held: make(map[string]bool)}
	defer func() {
		if p := recover(); p != nil {
			st.finish(false)
			panic(p)
		}
		st.finish(err == nil)
	}()

	if err = fn(ctx, ledgerTx{s: s, tx: st}); err != nil {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("memory: commit: %w", cerr)
	}
	return nil
}

// --- balances ---

type balanceStore struct {
	s  *Store
	tx *txState
}

func (b *balanceStore) Get(ctx context.Context, userID, token string) (decimal.Decimal, error) {
	if b.tx != nil {
		if err := b.tx.lockRow(ctx, balanceRow(userID, token)); err != nil {
			return decimal.Zero, err
		}
	}
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	return b.s.balances[userID][token].Amount, nil
}

func (b *balanceStore) Adjust(ctx context.Context, userID, token string, delta decimal.Decimal) (decimal.Decimal, error) {
	unlockRow, err := b.s.lockRow(ctx, b.tx, balanceRow(userID, token))
	if err != nil {
		return decimal.Zero, err
	}
	defer unlockRow()

	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	byToken, ok := b.s.balances[userID]
	if !ok {
		byToken = make(map[string]domain.Balance)
		b.s.balances[userID] = byToken
	}
	prev, existed := byToken[token]
	next := prev.Amount.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s %s", domain.ErrInsufficientBalance, prev.Amount, token)
	}
	byToken[token] = domain.Balance{UserID: userID, Token: token, Amount: next, UpdatedAt: b.s.now().UTC()}

	if b.tx != nil {
		b.tx.record(func() {
			if existed {
				byToken[token] = prev
			} else {
				delete(byToken, token)
			}
		})
	}
	return next, nil
}

func (b *balanceStore) ListByUser(_ context.Context, userID string) ([]domain.Balance, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	out := make([]domain.Balance, 0, len(b.s.balances[userID]))
	for _, bal := range b.s.balances[userID] {
		out = append(out, bal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

// --- rates ---

type rateTable struct {
	s *Store
}

func (r *rateTable) Lookup(_ context.Context, token string, durationDays int) (domain.RateEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, e := range r.s.rates {
		if e.Active && e.Token == token && e.DurationDays == durationDays {
			return e, nil
		}
	}
	return domain.RateEntry{}, domain.ErrNotFound
}

func (r *rateTable) List(_ context.Context) ([]domain.RateEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := append([]domain.RateEntry(nil), r.s.rates...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Token != out[j].Token {
			return out[i].Token < out[j].Token
		}
		return out[i].DurationDays < out[j].DurationDays
	})
	return out, nil
}

// --- positions ---

type positionStore struct {
	s  *Store
	tx *txState
}

func (p *positionStore) Create(ctx context.Context, pos domain.StakingPosition) (string, error) {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	unlockRow, err := p.s.lockRow(ctx, p.tx, positionRow(pos.ID))
	if err != nil {
		return "", err
	}
	defer unlockRow()

	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	if _, dup := p.s.positions[pos.ID]; dup {
		return "", fmt.Errorf("memory: create position %s: duplicate id", pos.ID)
	}
	p.s.positions[pos.ID] = pos
	if p.tx != nil {
		id := pos.ID
		p.tx.record(func() { delete(p.s.positions, id) })
	}
	return pos.ID, nil
}

func (p *positionStore) Get(ctx context.Context, id string) (domain.StakingPosition, error) {
	if p.tx != nil {
		if err := p.tx.lockRow(ctx, positionRow(id)); err != nil {
			return domain.StakingPosition{}, err
		}
	}
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	pos, ok := p.s.positions[id]
	if !ok {
		return domain.StakingPosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (p *positionStore) Update(ctx context.Context, pos domain.StakingPosition) error {
	unlockRow, err := p.s.lockRow(ctx, p.tx, positionRow(pos.ID))
	if err != nil {
		return err
	}
	defer unlockRow()

	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	prev, ok := p.s.positions[pos.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if prev.Status != domain.PositionActive {
		return domain.ErrPositionNotActive
	}
	p.s.positions[pos.ID] = pos
	if p.tx != nil {
		p.tx.record(func() { p.s.positions[prev.ID] = prev })
	}
	return nil
}

func (p *positionStore) ListByUser(_ context.Context, userID string) ([]domain.StakingPosition, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	var out []domain.StakingPosition
	for _, pos := range p.s.positions {
		if pos.UserID == userID {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StakedAt.Equal(out[j].StakedAt) {
			return out[i].StakedAt.After(out[j].StakedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// --- transaction log ---

type transactionLog struct {
	s  *Store
	tx *txState
}

// Append buffers rec inside a transaction until commit.
func (t *transactionLog) Append(_ context.Context, rec domain.TransactionRecord) error {
	if t.tx != nil && t.tx.done {
		return errTxClosed
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.s.now().UTC()
	}
	if t.tx != nil {
		t.tx.pending = append(t.tx.pending, rec)
		return nil
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.records = append(t.s.records, rec)
	return nil
}

func (t *transactionLog) ListByUser(_ context.Context, userID string, limit int) ([]domain.TransactionRecord, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	var out []domain.TransactionRecord
	for i := len(t.s.records) - 1; i >= 0; i-- {
		if t.s.records[i].UserID != userID {
			continue
		}
		out = append(out, t.s.records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *transactionLog) ListBetween(_ context.Context, from, to time.Time) ([]domain.TransactionRecord, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	var out []domain.TransactionRecord
	for _, rec := range t.s.records {
		if !rec.CreatedAt.Before(from) && rec.CreatedAt.Before(to) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.Ledger         = (*Store)(nil)
	_ domain.BalanceStore   = (*balanceStore)(nil)
	_ domain.RateTable      = (*rateTable)(nil)
	_ domain.PositionStore  = (*positionStore)(nil)
	_ domain.TransactionLog = (*transactionLog)(nil)
)
