package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/idgen"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/pagination"
)

var testEpoch = time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestStore() (*MemoryStore, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	return NewMemoryStoreWithClock(clock), clock
}

var accountSeq int

func seedAccount(t *testing.T, store Store, balance string) *Account {
	t.Helper()
	accountSeq++
	acct := &Account{
		ID:            idgen.WithPrefix(idgen.Account),
		OwnerID:       fmt.Sprintf("user-%d", accountSeq),
		HolderName:    fmt.Sprintf("Holder %d", accountSeq),
		AccountNumber: fmt.Sprintf("%012d", 100000000000+accountSeq),
		BankCode:      "CAPBANK001",
		Currency:      "USD",
		Balance:       dec(balance),
		Active:        true,
	}
	require.NoError(t, store.CreateAccount(context.Background(), acct))
	return acct
}

func seedTransfer(t *testing.T, store Store, sender, receiver *Account, amount string, status Status) *Transfer {
	t.Helper()
	tr := &Transfer{
		ID:                    idgen.WithPrefix(idgen.Transfer),
		SenderAccountID:       sender.ID,
		ReceiverAccountID:     receiver.ID,
		SenderAccountNumber:   sender.AccountNumber,
		SenderBankCode:        sender.BankCode,
		ReceiverAccountNumber: receiver.AccountNumber,
		ReceiverBankCode:      receiver.BankCode,
		Amount:                dec(amount),
		Currency:              "USD",
		IdempotencyKey:        idgen.New(),
		Status:                status,
	}
	require.NoError(t, store.CreateTransfer(context.Background(), tr))
	return tr
}

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, CanTransition(StatusCompletedPendingPosting, StatusCompleted))
	assert.True(t, CanTransition(StatusCompletedPendingPosting, StatusFailed))
	assert.True(t, CanTransition(StatusCompletedPendingPosting, StatusRejectedInsufficientFunds))
	assert.True(t, CanTransition(StatusMFARequired, StatusCompletedPendingPosting))

	assert.False(t, CanTransition(StatusMFARequired, StatusCompleted))
	assert.False(t, CanTransition(StatusCompleted, StatusFailed))
	assert.False(t, CanTransition(StatusRejectedHighRisk, StatusCompletedPendingPosting))

	for _, s := range []Status{StatusCompleted, StatusFailed, StatusRejectedHighRisk, StatusRejectedInsufficientFunds} {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	assert.False(t, StatusMFARequired.IsTerminal())
	assert.False(t, StatusCompletedPendingPosting.IsTerminal())
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "23800.00", Money(dec("23800")))
	assert.Equal(t, "0.10", Money(dec("0.1")))
	assert.Equal(t, "1200.00", Money(dec("1200.000")))
}

func TestMemoryStore_AccountLookups(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	a := seedAccount(t, store, "100.00")

	got, err := store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.AccountNumber, got.AccountNumber)

	got, err = store.GetAccountByOwner(ctx, a.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	got, err = store.GetAccountByNumber(ctx, a.AccountNumber, a.BankCode)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = store.GetAccountByNumber(ctx, a.AccountNumber, "OTHERBANK")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = store.GetAccount(ctx, "acc_missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestMemoryStore_DuplicateAccount(t *testing.T) {
	store, _ := newTestStore()
	a := seedAccount(t, store, "0")

	dup := *a
	dup.ID = idgen.WithPrefix(idgen.Account)
	dup.AccountNumber = "999999999999"
	assert.ErrorIs(t, store.CreateAccount(context.Background(), &dup), ErrDuplicateAccount, "same owner")

	dup = *a
	dup.ID = idgen.WithPrefix(idgen.Account)
	dup.OwnerID = "someone-else"
	assert.ErrorIs(t, store.CreateAccount(context.Background(), &dup), ErrDuplicateAccount, "same number and bank")
}

func TestMemoryStore_SetAccountActive(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	a := seedAccount(t, store, "0")

	require.NoError(t, store.SetAccountActive(ctx, a.ID, false))
	got, _ := store.GetAccount(ctx, a.ID)
	assert.False(t, got.Active)

	assert.ErrorIs(t, store.SetAccountActive(ctx, "acc_missing", false), ErrAccountNotFound)
}

func TestMemoryStore_IdempotencyKeyIsPerSender(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	a := seedAccount(t, store, "100")
	b := seedAccount(t, store, "100")

	first := seedTransfer(t, store, a, b, "10", StatusMFARequired)

	dup := *first
	dup.ID = idgen.WithPrefix(idgen.Transfer)
	assert.ErrorIs(t, store.CreateTransfer(ctx, &dup), ErrDuplicateIdempotencyKey)

	// Same key, different sender is fine.
	other := *first
	other.ID = idgen.WithPrefix(idgen.Transfer)
	other.SenderAccountID, other.ReceiverAccountID = b.ID, a.ID
	assert.NoError(t, store.CreateTransfer(ctx, &other))

	got, err := store.GetTransferByIdempotencyKey(ctx, a.ID, first.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestMemoryStore_CreateTransferRejectsNonPositive(t *testing.T) {
	store, _ := newTestStore()
	a := seedAccount(t, store, "100")
	b := seedAccount(t, store, "100")

	tr := &Transfer{
		ID:                idgen.WithPrefix(idgen.Transfer),
		SenderAccountID:   a.ID,
		ReceiverAccountID: b.ID,
		Amount:            decimal.Zero,
		IdempotencyKey:    "key-00000001",
		Status:            StatusCompletedPendingPosting,
	}
	assert.ErrorIs(t, store.CreateTransfer(context.Background(), tr), ErrInvalidAmount)
}

func TestMemoryStore_TransitionTransfer(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	a := seedAccount(t, store, "100")
	b := seedAccount(t, store, "100")
	tr := seedTransfer(t, store, a, b, "10", StatusMFARequired)

	require.NoError(t, store.TransitionTransfer(ctx, tr.ID, StatusMFARequired, StatusCompletedPendingPosting))

	err := store.TransitionTransfer(ctx, tr.ID, StatusMFARequired, StatusCompletedPendingPosting)
	assert.ErrorIs(t, err, ErrStatusConflict, "second CAS must lose")

	err = store.TransitionTransfer(ctx, tr.ID, StatusCompletedPendingPosting, StatusMFARequired)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	assert.ErrorIs(t, store.TransitionTransfer(ctx, "trf_missing", StatusMFARequired, StatusCompletedPendingPosting), ErrTransferNotFound)
}

func TestMemoryStore_ListTransfersNewestFirstWithCursor(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()
	a := seedAccount(t, store, "100")
	b := seedAccount(t, store, "100")
	c := seedAccount(t, store, "100")

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, seedTransfer(t, store, a, b, "1", StatusMFARequired).ID)
		clock.Advance(time.Second)
	}
	seedTransfer(t, store, b, c, "1", StatusMFARequired) // not involving a

	all, err := store.ListTransfers(ctx, a.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, ids[4], all[0].ID)
	assert.Equal(t, ids[0], all[4].ID)

	cursor := &pagination.Cursor{CreatedAt: all[1].CreatedAt, ID: all[1].ID}
	rest, err := store.ListTransfers(ctx, a.ID, 10, cursor)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, ids[2], rest[0].ID)

	// Receiver sees it too.
	forB, err := store.ListTransfers(ctx, b.ID, 10, nil)
	require.NoError(t, err)
	assert.Len(t, forB, 6)
}

func TestMemoryStore_TxRequiresLocksAndReads(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	a := seedAccount(t, store, "100")
	b := seedAccount(t, store, "100")
	tr := seedTransfer(t, store, a, b, "10", StatusCompletedPendingPosting)

	err := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UpdateBalance(ctx, a.ID, dec("1"))
	})
	assert.Error(t, err, "balance update without lock")

	err = store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SetTransferStatus(ctx, tr.ID, StatusCompleted)
	})
	assert.Error(t, err, "status change without read")

	err = store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, a.ID, dec("-1"))
	})
	assert.ErrorIs(t, err, ErrNegativeBalance)

	got, _ := store.GetAccount(ctx, a.ID)
	assert.True(t, got.Balance.Equal(dec("100")))
}

func TestMemoryStore_TxCommitDetectsConcurrentStatusChange(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	a := seedAccount(t, store, "100")
	b := seedAccount(t, store, "100")
	tr := seedTransfer(t, store, a, b, "10", StatusCompletedPendingPosting)

	err := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetTransferForUpdate(ctx, tr.ID); err != nil {
			return err
		}
		// A CAS outside the transaction wins the race.
		require.NoError(t, store.TransitionTransfer(ctx, tr.ID, StatusCompletedPendingPosting, StatusFailed))
		return tx.SetTransferStatus(ctx, tr.ID, StatusCompleted)
	})
	assert.ErrorIs(t, err, ErrStatusConflict)

	got, _ := store.GetTransfer(ctx, tr.ID)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestMemoryStore_TxRollbackDiscardsWrites(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	a := seedAccount(t, store, "100")

	boom := fmt.Errorf("boom")
	err := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, a.ID, dec("0")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := store.GetAccount(ctx, a.ID)
	assert.True(t, got.Balance.Equal(dec("100")))
}
