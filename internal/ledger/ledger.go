// Package ledger owns accounts, transfers and double-entry ledger entries.
//
// Balances change in exactly one place: Poster.PostTransfer, which debits the
// sender, credits the receiver, writes the DEBIT/CREDIT entry pair and marks
// the transfer COMPLETED inside a single store transaction.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/pagination"
)

var (
	ErrAccountNotFound         = errors.New("account not found")
	ErrTransferNotFound        = errors.New("transfer not found")
	ErrDuplicateAccount        = errors.New("account already exists")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used by this sender")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidState            = errors.New("transfer is not in a postable state")
	ErrAccountMismatch         = errors.New("locked accounts do not match transfer")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrNegativeBalance         = errors.New("balance would become negative")
	ErrStatusConflict          = errors.New("transfer status changed concurrently")
	ErrIllegalTransition       = errors.New("illegal transfer status transition")
	ErrTxClosed                = errors.New("transaction already finished")
)

// Status is a transfer's lifecycle state.
type Status string

const (
	StatusCompletedPendingPosting   Status = "COMPLETED_PENDING_POSTING"
	StatusCompleted                 Status = "COMPLETED"
	StatusMFARequired               Status = "MFA_REQUIRED"
	StatusRejectedHighRisk          Status = "REJECTED_HIGH_RISK"
	StatusRejectedInsufficientFunds Status = "REJECTED_INSUFFICIENT_FUNDS"
	StatusFailed                    Status = "FAILED"
)

// transitions lists every legal status change.
var transitions = map[Status][]Status{
	StatusCompletedPendingPosting: {StatusCompleted, StatusFailed, StatusRejectedInsufficientFunds},
	StatusMFARequired:             {StatusCompletedPendingPosting},
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Direction of a ledger entry relative to its account.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Account is a customer bank account. Accounts are never deleted; blocking
// clears Active.
type Account struct {
	ID            string          `json:"id" db:"id"`
	OwnerID       string          `json:"ownerId" db:"owner_id"`
	HolderName    string          `json:"holderName" db:"holder_name"`
	AccountNumber string          `json:"accountNumber" db:"account_number"`
	BankCode      string          `json:"bankCode" db:"bank_code"`
	Currency      string          `json:"currency" db:"currency"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	Active        bool            `json:"active" db:"is_active"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}

// Transfer records one request to move money. Everything except Status and
// UpdatedAt is immutable after creation.
type Transfer struct {
	ID                    string          `json:"id" db:"id"`
	SenderAccountID       string          `json:"senderAccountId" db:"sender_account_id"`
	ReceiverAccountID     string          `json:"receiverAccountId" db:"receiver_account_id"`
	SenderAccountNumber   string          `json:"senderAccountNumber" db:"sender_account_number"`
	SenderBankCode        string          `json:"senderBankCode" db:"sender_bank_code"`
	ReceiverAccountNumber string          `json:"receiverAccountNumber" db:"receiver_account_number"`
	ReceiverBankCode      string          `json:"receiverBankCode" db:"receiver_bank_code"`
	Amount                decimal.Decimal `json:"amount" db:"amount"`
	Currency              string          `json:"currency" db:"currency"`
	Note                  string          `json:"note,omitempty" db:"note"`
	IdempotencyKey        string          `json:"idempotencyKey" db:"idempotency_key"`
	FraudProbability      *float64        `json:"fraudProbability,omitempty" db:"fraud_probability"`
	RiskLevel             string          `json:"riskLevel,omitempty" db:"risk_level"`
	Action                string          `json:"action,omitempty" db:"action"`
	ModelVersion          string          `json:"modelVersion,omitempty" db:"model_version"`
	Status                Status          `json:"status" db:"status"`
	RequestID             string          `json:"requestId,omitempty" db:"request_id"`
	CreatedAt             time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time       `json:"updatedAt" db:"updated_at"`
}

// Entry is one side of a posted transfer.
type Entry struct {
	ID            string          `json:"id" db:"id"`
	TransferID    string          `json:"transferId" db:"transfer_id"`
	AccountID     string          `json:"accountId" db:"account_id"`
	Direction     Direction       `json:"direction" db:"direction"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceBefore decimal.Decimal `json:"balanceBefore" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter" db:"balance_after"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// EntryTotals aggregates the whole entry table. A consistent ledger has
// Debits == Credits and Entries == 2*CompletedTransfers.
type EntryTotals struct {
	Debits             decimal.Decimal `json:"debits" db:"debits"`
	Credits            decimal.Decimal `json:"credits" db:"credits"`
	Entries            int             `json:"entries" db:"entries"`
	CompletedTransfers int             `json:"completedTransfers" db:"completed_transfers"`
}

// Store persists accounts, transfers and entries.
type Store interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByOwner(ctx context.Context, ownerID string) (*Account, error)
	GetAccountByNumber(ctx context.Context, accountNumber, bankCode string) (*Account, error)
	SetAccountActive(ctx context.Context, id string, active bool) error

	// CreateTransfer returns ErrDuplicateIdempotencyKey when the sender
	// already used transfer.IdempotencyKey.
	CreateTransfer(ctx context.Context, transfer *Transfer) error
	GetTransfer(ctx context.Context, id string) (*Transfer, error)
	GetTransferByIdempotencyKey(ctx context.Context, senderAccountID, key string) (*Transfer, error)
	// TransitionTransfer is a compare-and-set on status; ErrStatusConflict
	// when the current status is not from.
	TransitionTransfer(ctx context.Context, id string, from, to Status) error
	// ListTransfers returns transfers where the account is sender or
	// receiver, newest first, starting after cursor.
	ListTransfers(ctx context.Context, accountID string, limit int, cursor *pagination.Cursor) ([]*Transfer, error)
	// ListStuckTransfers returns transfers still in status whose last
	// update is before updatedBefore, oldest first.
	ListStuckTransfers(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]*Transfer, error)
	ListEntries(ctx context.Context, transferID string) ([]*Entry, error)
	SumBalances(ctx context.Context) (decimal.Decimal, error)
	SumEntries(ctx context.Context) (*EntryTotals, error)

	// RunInTx runs fn in one atomic unit. A non-nil error from fn rolls
	// back every write made through tx.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write surface available inside Store.RunInTx.
type Tx interface {
	// LockAccounts locks the accounts in ascending id order and returns
	// them keyed by id.
	LockAccounts(ctx context.Context, ids ...string) (map[string]*Account, error)
	GetTransferForUpdate(ctx context.Context, id string) (*Transfer, error)
	UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal) error
	InsertEntry(ctx context.Context, entry *Entry) error
	SetTransferStatus(ctx context.Context, id string, status Status) error
}

// Money formats an amount with two decimal places.
func Money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
