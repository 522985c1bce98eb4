package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/events"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/idgen"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/logging"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/metrics"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/pagination"
)

// History directions relative to the viewing account.
const (
	DirectionIncoming = "INCOMING"
	DirectionOutgoing = "OUTGOING"
)

const accountNumberDigits = 12

// AccountDefaults configures newly opened accounts.
type AccountDefaults struct {
	BankCode       string
	Currency       string
	OpeningBalance decimal.Decimal
}

// HistoryItem is a transfer as seen from one account.
type HistoryItem struct {
	Transfer  *Transfer `json:"transfer"`
	Direction string    `json:"direction"`
}

// HistoryPage is one page of an account's transfer history.
type HistoryPage struct {
	Items      []HistoryItem `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
	HasMore    bool          `json:"hasMore"`
}

// Service exposes account-level operations: onboarding, blocking, history.
type Service struct {
	store     Store
	clock     clockwork.Clock
	publisher events.Publisher
	defaults  AccountDefaults
}

// NewService creates an account service.
func NewService(store Store, clock clockwork.Clock, publisher events.Publisher, defaults AccountDefaults) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: store, clock: clock, publisher: publisher, defaults: defaults}
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// OpenAccount creates the single account owned by ownerID.
func (s *Service) OpenAccount(ctx context.Context, ownerID, holderName string) (*Account, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if _, err := s.store.GetAccountByOwner(ctx, ownerID); err == nil {
		return nil, ErrDuplicateAccount
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		number, err := generateAccountNumber()
		if err != nil {
			return nil, err
		}
		acct := &Account{
			ID:            idgen.WithPrefix(idgen.Account),
			OwnerID:       ownerID,
			HolderName:    holderName,
			AccountNumber: number,
			BankCode:      s.defaults.BankCode,
			Currency:      s.defaults.Currency,
			Balance:       s.defaults.OpeningBalance,
			Active:        true,
			CreatedAt:     s.clock.Now(),
		}
		err = s.store.CreateAccount(ctx, acct)
		if err == nil {
			logging.L(ctx).Info("account opened", "account_id", acct.ID, "owner_id", ownerID)
			return acct, nil
		}
		if !errors.Is(err, ErrDuplicateAccount) {
			return nil, err
		}
		// Owner collision is final; number collision retries.
		if _, ownerErr := s.store.GetAccountByOwner(ctx, ownerID); ownerErr == nil {
			return nil, ErrDuplicateAccount
		}
		lastErr = err
	}
	return nil, fmt.Errorf("could not allocate account number: %w", lastErr)
}

// AccountForOwner resolves the caller's account.
func (s *Service) AccountForOwner(ctx context.Context, ownerID string) (*Account, error) {
	return s.store.GetAccountByOwner(ctx, ownerID)
}

// BlockAccount deactivates an account after a high-risk verdict.
func (s *Service) BlockAccount(ctx context.Context, accountID, transferID string) error {
	if err := s.store.SetAccountActive(ctx, accountID, false); err != nil {
		return fmt.Errorf("block account %s: %w", accountID, err)
	}
	metrics.AccountsBlockedTotal.Inc()
	logging.L(ctx).Warn("account blocked", "account_id", accountID, "transfer_id", transferID)
	events.Emit(ctx, s.publisher, events.Event{
		Type:       events.AccountBlocked,
		AccountID:  accountID,
		TransferID: transferID,
		OccurredAt: s.clock.Now(),
	})
	return nil
}

// UnblockAccount reactivates a blocked account.
func (s *Service) UnblockAccount(ctx context.Context, accountID string) (*Account, error) {
	if err := s.store.SetAccountActive(ctx, accountID, true); err != nil {
		return nil, err
	}
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	logging.L(ctx).Info("account unblocked", "account_id", accountID)
	events.Emit(ctx, s.publisher, events.Event{
		Type:       events.AccountUnblocked,
		AccountID:  accountID,
		OccurredAt: s.clock.Now(),
	})
	return acct, nil
}

// History returns transfers involving accountID, newest first.
func (s *Service) History(ctx context.Context, accountID string, limit int, cursor string) (*HistoryPage, error) {
	if limit <= 0 || limit > pagination.MaxLimit {
		limit = pagination.DefaultLimit
	}
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}

	transfers, err := s.store.ListTransfers(ctx, accountID, limit+1, after)
	if err != nil {
		return nil, err
	}
	page, next, more := pagination.ComputePage(transfers, limit, func(t *Transfer) (time.Time, string) {
		return t.CreatedAt, t.ID
	})

	items := make([]HistoryItem, 0, len(page))
	for _, t := range page {
		dir := DirectionIncoming
		if t.SenderAccountID == accountID {
			dir = DirectionOutgoing
		}
		items = append(items, HistoryItem{Transfer: t, Direction: dir})
	}
	return &HistoryPage{Items: items, NextCursor: next, HasMore: more}, nil
}

// TransferDetail returns a transfer and its entries when accountID is a
// party to it. Transfers of other accounts are reported as not found.
func (s *Service) TransferDetail(ctx context.Context, accountID, transferID string) (*Transfer, []*Entry, error) {
	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, nil, err
	}
	if t.SenderAccountID != accountID && t.ReceiverAccountID != accountID {
		return nil, nil, ErrTransferNotFound
	}
	entries, err := s.store.ListEntries(ctx, transferID)
	if err != nil {
		return nil, nil, err
	}
	return t, entries, nil
}

func generateAccountNumber() (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(accountNumberDigits), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate account number: %w", err)
	}
	return fmt.Sprintf("%0*d", accountNumberDigits, n), nil
}
