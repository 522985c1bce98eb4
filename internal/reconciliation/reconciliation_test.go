package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/ledger"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/logging"
)

type mockSummer struct {
	total  string
	totals ledger.EntryTotals
	err    error
}

func (m *mockSummer) SumBalances(_ context.Context) (decimal.Decimal, error) {
	if m.err != nil {
		return decimal.Zero, m.err
	}
	return decimal.RequireFromString(m.total), nil
}

func (m *mockSummer) SumEntries(_ context.Context) (*ledger.EntryTotals, error) {
	cp := m.totals
	return &cp, nil
}

func balanced() *mockSummer {
	return &mockSummer{
		total: "26200.00",
		totals: ledger.EntryTotals{
			Debits:             decimal.RequireFromString("1200.00"),
			Credits:            decimal.RequireFromString("1200.00"),
			Entries:            2,
			CompletedTransfers: 1,
		},
	}
}

func TestReconcile_Match(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	svc := NewService(balanced(), clock)

	assert.Nil(t, svc.Last())

	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Match)
	assert.Empty(t, report.Problems)
	assert.Equal(t, "26200.00", report.TotalBalance)
	assert.Equal(t, "0.00", report.Imbalance)
	assert.Equal(t, clock.Now(), report.CheckedAt)
	assert.Same(t, report, svc.Last())
}

func TestReconcile_Imbalance(t *testing.T) {
	summer := balanced()
	summer.totals.Credits = decimal.RequireFromString("1195.00")

	report, err := NewService(summer, nil).Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Match)
	assert.Equal(t, "5.00", report.Imbalance)
	require.Len(t, report.Problems, 1)
	assert.Contains(t, report.Problems[0], "debits and credits differ")
}

func TestReconcile_MissingEntry(t *testing.T) {
	summer := balanced()
	summer.totals.Entries = 1

	report, err := NewService(summer, nil).Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Match)
	assert.Equal(t, []string{"1 entries for 1 completed transfers"}, report.Problems)
}

func TestReconcile_StoreError(t *testing.T) {
	svc := NewService(&mockSummer{err: errors.New("db down")}, nil)
	_, err := svc.Reconcile(context.Background())
	assert.Error(t, err)
	assert.Nil(t, svc.Last())
}

func TestReconcile_RealLedger(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	store := ledger.NewMemoryStoreWithClock(clock)

	sender := &ledger.Account{ID: "acc_a", OwnerID: "u1", AccountNumber: "000000000001", BankCode: "CAPBANK001", Currency: "USD", Balance: decimal.RequireFromString("25000.00"), Active: true}
	receiver := &ledger.Account{ID: "acc_b", OwnerID: "u2", AccountNumber: "000000000002", BankCode: "CAPBANK001", Currency: "USD", Balance: decimal.RequireFromString("25000.00"), Active: true}
	require.NoError(t, store.CreateAccount(ctx, sender))
	require.NoError(t, store.CreateAccount(ctx, receiver))
	require.NoError(t, store.CreateTransfer(ctx, &ledger.Transfer{
		ID:                    "trf_1",
		SenderAccountID:       sender.ID,
		ReceiverAccountID:     receiver.ID,
		SenderAccountNumber:   sender.AccountNumber,
		SenderBankCode:        sender.BankCode,
		ReceiverAccountNumber: receiver.AccountNumber,
		ReceiverBankCode:      receiver.BankCode,
		Amount:                decimal.RequireFromString("1200.00"),
		Currency:              "USD",
		IdempotencyKey:        "key-00000001",
		Status:                ledger.StatusCompletedPendingPosting,
	}))
	_, err := ledger.NewPoster(store, clock).PostTransfer(ctx, "trf_1")
	require.NoError(t, err)

	report, err := NewService(store, clock).Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.Match, "problems: %v", report.Problems)
	assert.Equal(t, "50000.00", report.TotalBalance)
	assert.Equal(t, "1200.00", report.Debits)
	assert.Equal(t, 2, report.Entries)
}

func TestTimer_StartAndStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := NewService(balanced(), clock)
	timer := NewTimer(svc, time.Minute, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.True(t, timer.Running())
	clock.Advance(time.Minute)
	assert.Eventually(t, func() bool { return svc.Last() != nil }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.False(t, timer.Running())
}
