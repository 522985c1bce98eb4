package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/pagination"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/syncutil"
)

// MemoryStore is an in-memory ledger store for development and tests.
//
// Transactions lock accounts with a per-account mutex taken in sorted order
// and stage their writes; commit applies the staged writes under the store
// mutex, so readers never observe a half-posted transfer.
type MemoryStore struct {
	mu          sync.RWMutex
	accounts    map[string]*Account
	transfers   map[string]*Transfer
	entries     map[string][]*Entry // transferID → entries
	idempotency map[string]string   // senderID|key → transferID
	locks       *syncutil.KeyedMutex
	clock       clockwork.Clock
}

// NewMemoryStore creates an in-memory ledger store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clockwork.NewRealClock())
}

// NewMemoryStoreWithClock creates an in-memory ledger store with an injected clock.
func NewMemoryStoreWithClock(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*Account),
		transfers:   make(map[string]*Transfer),
		entries:     make(map[string][]*Entry),
		idempotency: make(map[string]string),
		locks:       syncutil.NewKeyedMutex(),
		clock:       clock,
	}
}

func idempotencyIndex(senderID, key string) string {
	return senderID + "|" + key
}

func (m *MemoryStore) CreateAccount(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[account.ID]; ok {
		return ErrDuplicateAccount
	}
	for _, a := range m.accounts {
		if a.OwnerID == account.OwnerID {
			return ErrDuplicateAccount
		}
		if a.AccountNumber == account.AccountNumber && a.BankCode == account.BankCode {
			return ErrDuplicateAccount
		}
	}
	if account.Balance.IsNegative() {
		return ErrNegativeBalance
	}
	now := m.clock.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	cp := *account
	m.accounts[account.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetAccountByOwner(_ context.Context, ownerID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.accounts {
		if a.OwnerID == ownerID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MemoryStore) GetAccountByNumber(_ context.Context, accountNumber, bankCode string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.accounts {
		if a.AccountNumber == accountNumber && a.BankCode == bankCode {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MemoryStore) SetAccountActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.Active = active
	a.UpdatedAt = m.clock.Now()
	return nil
}

func (m *MemoryStore) CreateTransfer(_ context.Context, transfer *Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := idempotencyIndex(transfer.SenderAccountID, transfer.IdempotencyKey)
	if _, ok := m.idempotency[idx]; ok {
		return ErrDuplicateIdempotencyKey
	}
	if _, ok := m.transfers[transfer.ID]; ok {
		return fmt.Errorf("transfer %s already exists", transfer.ID)
	}
	if _, ok := m.accounts[transfer.SenderAccountID]; !ok {
		return ErrAccountNotFound
	}
	if _, ok := m.accounts[transfer.ReceiverAccountID]; !ok {
		return ErrAccountNotFound
	}
	if !transfer.Amount.IsPositive() {
		return ErrInvalidAmount
	}

	now := m.clock.Now()
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = now
	}
	transfer.UpdatedAt = transfer.CreatedAt
	m.transfers[transfer.ID] = copyTransfer(transfer)
	m.idempotency[idx] = transfer.ID
	return nil
}

func (m *MemoryStore) GetTransfer(_ context.Context, id string) (*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transfers[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	return copyTransfer(t), nil
}

func (m *MemoryStore) GetTransferByIdempotencyKey(_ context.Context, senderAccountID, key string) (*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.idempotency[idempotencyIndex(senderAccountID, key)]
	if !ok {
		return nil, ErrTransferNotFound
	}
	return copyTransfer(m.transfers[id]), nil
}

func (m *MemoryStore) TransitionTransfer(_ context.Context, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[id]
	if !ok {
		return ErrTransferNotFound
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	if t.Status != from {
		return fmt.Errorf("%w: transfer %s is %s, expected %s", ErrStatusConflict, id, t.Status, from)
	}
	t.Status = to
	t.UpdatedAt = m.clock.Now()
	return nil
}

func (m *MemoryStore) ListTransfers(_ context.Context, accountID string, limit int, cursor *pagination.Cursor) ([]*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transfer
	for _, t := range m.transfers {
		if t.SenderAccountID != accountID && t.ReceiverAccountID != accountID {
			continue
		}
		if !cursor.After(t.CreatedAt, t.ID) {
			continue
		}
		out = append(out, copyTransfer(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListStuckTransfers(_ context.Context, status Status, updatedBefore time.Time, limit int) ([]*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transfer
	for _, t := range m.transfers {
		if t.Status == status && t.UpdatedAt.Before(updatedBefore) {
			out = append(out, copyTransfer(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListEntries(_ context.Context, transferID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.entries[transferID]
	out := make([]*Entry, 0, len(src))
	for _, e := range src {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SumBalances(_ context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for _, a := range m.accounts {
		total = total.Add(a.Balance)
	}
	return total, nil
}

func (m *MemoryStore) SumEntries(_ context.Context) (*EntryTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := &EntryTotals{Debits: decimal.Zero, Credits: decimal.Zero}
	for _, list := range m.entries {
		for _, e := range list {
			totals.Entries++
			if e.Direction == Debit {
				totals.Debits = totals.Debits.Add(e.Amount)
			} else {
				totals.Credits = totals.Credits.Add(e.Amount)
			}
		}
	}
	for _, t := range m.transfers {
		if t.Status == StatusCompleted {
			totals.CompletedTransfers++
		}
	}
	return totals, nil
}

// RunInTx runs fn against a staging transaction and applies its writes
// atomically when fn returns nil.
func (m *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{
		store:    m,
		balances: make(map[string]decimal.Decimal),
		statuses: make(map[string]Status),
		readAt:   make(map[string]Status),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		tx.done = true
		return err
	}
	return tx.commit()
}

type memoryTx struct {
	store    *MemoryStore
	unlock   func()
	locked   map[string]bool
	balances map[string]decimal.Decimal
	entries  []*Entry
	statuses map[string]Status
	readAt   map[string]Status // status observed by GetTransferForUpdate
	done     bool
}

func (tx *memoryTx) release() {
	if tx.unlock != nil {
		tx.unlock()
		tx.unlock = nil
	}
}

func (tx *memoryTx) LockAccounts(ctx context.Context, ids ...string) (map[string]*Account, error) {
	if tx.done {
		return nil, ErrTxClosed
	}
	if tx.unlock != nil {
		return nil, fmt.Errorf("accounts already locked in this transaction")
	}
	unlock, err := tx.store.locks.LockAll(ctx, ids...)
	if err != nil {
		return nil, err
	}
	tx.unlock = unlock
	tx.locked = make(map[string]bool, len(ids))

	out := make(map[string]*Account, len(ids))
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	for _, id := range syncutil.SortedUnique(ids) {
		a, ok := tx.store.accounts[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		cp := *a
		out[id] = &cp
		tx.locked[id] = true
	}
	return out, nil
}

func (tx *memoryTx) GetTransferForUpdate(_ context.Context, id string) (*Transfer, error) {
	if tx.done {
		return nil, ErrTxClosed
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	t, ok := tx.store.transfers[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	cp := copyTransfer(t)
	if _, seen := tx.readAt[id]; !seen {
		tx.readAt[id] = t.Status
	}
	if s, ok := tx.statuses[id]; ok {
		cp.Status = s
	}
	return cp, nil
}

func (tx *memoryTx) UpdateBalance(_ context.Context, accountID string, balance decimal.Decimal) error {
	if tx.done {
		return ErrTxClosed
	}
	if !tx.locked[accountID] {
		return fmt.Errorf("account %s is not locked in this transaction", accountID)
	}
	if balance.IsNegative() {
		return ErrNegativeBalance
	}
	tx.balances[accountID] = balance
	return nil
}

func (tx *memoryTx) InsertEntry(_ context.Context, entry *Entry) error {
	if tx.done {
		return ErrTxClosed
	}
	if !entry.Amount.IsPositive() || entry.BalanceAfter.IsNegative() {
		return ErrInvalidAmount
	}
	for _, e := range tx.entries {
		if e.TransferID == entry.TransferID && e.Direction == entry.Direction {
			return fmt.Errorf("duplicate %s entry for transfer %s", entry.Direction, entry.TransferID)
		}
	}
	cp := *entry
	tx.entries = append(tx.entries, &cp)
	return nil
}

func (tx *memoryTx) SetTransferStatus(_ context.Context, id string, status Status) error {
	if tx.done {
		return ErrTxClosed
	}
	current, ok := tx.statuses[id]
	if !ok {
		observed, seen := tx.readAt[id]
		if !seen {
			return fmt.Errorf("transfer %s must be read for update before changing status", id)
		}
		current = observed
	}
	if !CanTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, status)
	}
	tx.statuses[id] = status
	return nil
}

func (tx *memoryTx) commit() error {
	tx.done = true
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()

	// A status read under this transaction must still hold; otherwise a
	// compare-and-set outside the transaction won the race.
	for id, observed := range tx.readAt {
		if t, ok := m.transfers[id]; !ok || t.Status != observed {
			return fmt.Errorf("%w: transfer %s", ErrStatusConflict, id)
		}
	}
	for _, e := range tx.entries {
		for _, existing := range m.entries[e.TransferID] {
			if existing.Direction == e.Direction {
				return fmt.Errorf("duplicate %s entry for transfer %s", e.Direction, e.TransferID)
			}
		}
	}

	now := m.clock.Now()
	for id, bal := range tx.balances {
		a := m.accounts[id]
		a.Balance = bal
		a.UpdatedAt = now
	}
	for _, e := range tx.entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		m.entries[e.TransferID] = append(m.entries[e.TransferID], e)
	}
	for id, s := range tx.statuses {
		t := m.transfers[id]
		t.Status = s
		t.UpdatedAt = now
	}
	return nil
}

func copyTransfer(t *Transfer) *Transfer {
	cp := *t
	if t.FraudProbability != nil {
		p := *t.FraudProbability
		cp.FraudProbability = &p
	}
	return &cp
}
