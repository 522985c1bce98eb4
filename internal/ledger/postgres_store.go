package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/pagination"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/syncutil"
)

const (
	accountColumns = `id, owner_id, holder_name, account_number, bank_code, currency,
		balance, is_active, created_at, updated_at`

	transferColumns = `id, sender_account_id, receiver_account_id, sender_account_number,
		sender_bank_code, receiver_account_number, receiver_bank_code, amount, currency,
		COALESCE(note, '') AS note, idempotency_key, fraud_probability,
		COALESCE(risk_level, '') AS risk_level, COALESCE(action, '') AS action,
		COALESCE(model_version, '') AS model_version, status, request_id, created_at, updated_at`

	entryColumns = `id, transfer_id, account_id, direction, amount, balance_before,
		balance_after, created_at`
)

// PostgresStore implements Store with PostgreSQL.
//
// Posting transactions run at READ COMMITTED and take row locks with
// SELECT ... FOR UPDATE, one account at a time in ascending id order.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "postgres")}
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return constraint == "" || pqErr.Constraint == constraint
	}
	return false
}

func (p *PostgresStore) CreateAccount(ctx context.Context, account *Account) error {
	if account.Balance.IsNegative() {
		return ErrNegativeBalance
	}
	err := p.db.QueryRowxContext(ctx, `
		INSERT INTO accounts (id, owner_id, holder_name, account_number, bank_code, currency, balance, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, account.ID, account.OwnerID, account.HolderName, account.AccountNumber, account.BankCode,
		account.Currency, account.Balance, account.Active,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if isUniqueViolation(err, "") {
		return ErrDuplicateAccount
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (p *PostgresStore) getAccount(ctx context.Context, where string, args ...any) (*Account, error) {
	var a Account
	err := p.db.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM accounts WHERE `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

func (p *PostgresStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	return p.getAccount(ctx, "id = $1", id)
}

func (p *PostgresStore) GetAccountByOwner(ctx context.Context, ownerID string) (*Account, error) {
	return p.getAccount(ctx, "owner_id = $1", ownerID)
}

func (p *PostgresStore) GetAccountByNumber(ctx context.Context, accountNumber, bankCode string) (*Account, error) {
	return p.getAccount(ctx, "account_number = $1 AND bank_code = $2", accountNumber, bankCode)
}

func (p *PostgresStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (p *PostgresStore) CreateTransfer(ctx context.Context, t *Transfer) error {
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		err := p.db.QueryRowxContext(ctx, `SELECT NOW()`).Scan(&createdAt)
		if err != nil {
			return fmt.Errorf("failed to read clock: %w", err)
		}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transfers (
			id, sender_account_id, receiver_account_id, sender_account_number, sender_bank_code,
			receiver_account_number, receiver_bank_code, amount, currency, note, idempotency_key,
			fraud_probability, risk_level, action, model_version, status, request_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12,
			NULLIF($13, ''), NULLIF($14, ''), NULLIF($15, ''), $16, $17, $18, $18)
	`, t.ID, t.SenderAccountID, t.ReceiverAccountID, t.SenderAccountNumber, t.SenderBankCode,
		t.ReceiverAccountNumber, t.ReceiverBankCode, t.Amount, t.Currency, t.Note, t.IdempotencyKey,
		t.FraudProbability, t.RiskLevel, t.Action, t.ModelVersion, string(t.Status), t.RequestID,
		createdAt,
	)
	if isUniqueViolation(err, "uq_transfers_sender_idempotency") {
		return ErrDuplicateIdempotencyKey
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to create transfer: %w", err)
	}
	t.CreatedAt = createdAt
	t.UpdatedAt = createdAt
	return nil
}

func (p *PostgresStore) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	var t Transfer
	err := p.db.GetContext(ctx, &t, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return &t, nil
}

func (p *PostgresStore) GetTransferByIdempotencyKey(ctx context.Context, senderAccountID, key string) (*Transfer, error) {
	var t Transfer
	err := p.db.GetContext(ctx, &t, `
		SELECT `+transferColumns+` FROM transfers
		WHERE sender_account_id = $1 AND idempotency_key = $2
	`, senderAccountID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer by idempotency key: %w", err)
	}
	return &t, nil
}

func (p *PostgresStore) TransitionTransfer(ctx context.Context, id string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE transfers SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("failed to transition transfer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := p.GetTransfer(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: transfer %s is not %s", ErrStatusConflict, id, from)
	}
	return nil
}

func (p *PostgresStore) ListTransfers(ctx context.Context, accountID string, limit int, cursor *pagination.Cursor) ([]*Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers
		WHERE (sender_account_id = $1 OR receiver_account_id = $1)`
	args := []any{accountID}
	if cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	var out []*Transfer
	if err := p.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) ListStuckTransfers(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]*Transfer, error) {
	var out []*Transfer
	err := p.db.SelectContext(ctx, &out, `
		SELECT `+transferColumns+` FROM transfers
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC, id ASC
		LIMIT $3
	`, status, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck transfers: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) ListEntries(ctx context.Context, transferID string) ([]*Entry, error) {
	var out []*Entry
	err := p.db.SelectContext(ctx, &out, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE transfer_id = $1
		ORDER BY direction DESC
	`, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) SumBalances(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := p.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(balance), 0) FROM accounts`); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum balances: %w", err)
	}
	return total, nil
}

func (p *PostgresStore) SumEntries(ctx context.Context) (*EntryTotals, error) {
	var totals EntryTotals
	err := p.db.GetContext(ctx, &totals, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE direction = 'DEBIT'), 0)  AS debits,
			COALESCE(SUM(amount) FILTER (WHERE direction = 'CREDIT'), 0) AS credits,
			COUNT(*) AS entries,
			(SELECT COUNT(*) FROM transfers WHERE status = 'COMPLETED') AS completed_transfers
		FROM ledger_entries
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to sum entries: %w", err)
	}
	return &totals, nil
}

// RunInTx runs fn inside a READ COMMITTED transaction.
func (p *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := p.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &postgresTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx *sqlx.Tx
}

func (t *postgresTx) LockAccounts(ctx context.Context, ids ...string) (map[string]*Account, error) {
	out := make(map[string]*Account, len(ids))
	for _, id := range syncutil.SortedUnique(ids) {
		var a Account
		err := t.tx.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock account %s: %w", id, err)
		}
		out[id] = &a
	}
	return out, nil
}

func (t *postgresTx) GetTransferForUpdate(ctx context.Context, id string) (*Transfer, error) {
	var tr Transfer
	err := t.tx.GetContext(ctx, &tr, `SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock transfer: %w", err)
	}
	return &tr, nil
}

func (t *postgresTx) UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return ErrNegativeBalance
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts SET balance = $2, updated_at = NOW() WHERE id = $1
	`, accountID, balance)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *postgresTx) InsertEntry(ctx context.Context, e *Entry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, transfer_id, account_id, direction, amount, balance_before, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.TransferID, e.AccountID, string(e.Direction), e.Amount, e.BalanceBefore, e.BalanceAfter, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert %s entry: %w", e.Direction, err)
	}
	return nil
}

func (t *postgresTx) SetTransferStatus(ctx context.Context, id string, status Status) error {
	var current Status
	if err := t.tx.GetContext(ctx, &current, `SELECT status FROM transfers WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTransferNotFound
		}
		return fmt.Errorf("failed to read transfer status: %w", err)
	}
	if !CanTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, status)
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE transfers SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to set transfer status: %w", err)
	}
	return nil
}
