package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/events"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/idgen"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/ledger"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/mfa"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/risk"
)

// stubClassifier returns a settable probability or error and counts calls.
type stubClassifier struct {
	mu    sync.Mutex
	p     float64
	err   error
	calls int
}

func (s *stubClassifier) Classify(context.Context, risk.FeatureVector) (float64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, "", s.err
	}
	return s.p, "stub-v1", nil
}

func (s *stubClassifier) set(p float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p, s.err = p, err
}

func (s *stubClassifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	svc         *Service
	accounts    *ledger.Service
	store       *ledger.MemoryStore
	clock       *clockwork.FakeClock
	classifier  *stubClassifier
	gateway     *risk.Gateway
	challenges  *mfa.MemoryStore
	assessments *risk.MemoryStore
	events      *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 14, 0, 0, 0, time.UTC))
	store := ledger.NewMemoryStoreWithClock(clock)
	rec := events.NewRecorder()
	accounts := ledger.NewService(store, clock, rec, ledger.AccountDefaults{
		BankCode:       "CAPBANK001",
		Currency:       "USD",
		OpeningBalance: decimal.RequireFromString("25000.00"),
	})

	classifier := &stubClassifier{p: 0.05}
	gateway, err := risk.NewGateway(classifier, risk.DefaultThresholds(), risk.GatewayConfig{
		Timeout:          100 * time.Millisecond,
		MaxAttempts:      1,
		RetryBaseDelay:   time.Millisecond,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	})
	require.NoError(t, err)

	challenges := mfa.NewMemoryStore()
	manager, err := mfa.NewManager(challenges, mfa.NewHMACHasher("test-secret"), clock, mfa.DefaultConfig())
	require.NoError(t, err)

	assessments := risk.NewMemoryStore()
	svc := NewService(accounts, ledger.NewPoster(store, clock), gateway, manager, rec, clock).
		WithAssessments(assessments).
		WithDemoCodes(true)

	return &fixture{
		svc:         svc,
		accounts:    accounts,
		store:       store,
		clock:       clock,
		classifier:  classifier,
		gateway:     gateway,
		challenges:  challenges,
		assessments: assessments,
		events:      rec,
	}
}

// open creates an account for owner through onboarding (25000.00).
func (f *fixture) open(t *testing.T, owner string) *ledger.Account {
	t.Helper()
	a, err := f.accounts.OpenAccount(context.Background(), owner, "Holder "+owner)
	require.NoError(t, err)
	return a
}

var accountSeq int

// seed creates an account with an explicit balance and currency.
func (f *fixture) seed(t *testing.T, balance, currency string) *ledger.Account {
	t.Helper()
	accountSeq++
	a := &ledger.Account{
		ID:            idgen.WithPrefix(idgen.Account),
		OwnerID:       fmt.Sprintf("seed-%d", accountSeq),
		HolderName:    fmt.Sprintf("Seed %d", accountSeq),
		AccountNumber: fmt.Sprintf("%012d", 900000000000+accountSeq),
		BankCode:      "CAPBANK001",
		Currency:      currency,
		Balance:       decimal.RequireFromString(balance),
		Active:        true,
	}
	require.NoError(t, f.store.CreateAccount(context.Background(), a))
	return a
}

func (f *fixture) balance(t *testing.T, id string) string {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return ledger.Money(a.Balance)
}

func (f *fixture) total(t *testing.T) string {
	t.Helper()
	sum, err := f.store.SumBalances(context.Background())
	require.NoError(t, err)
	return ledger.Money(sum)
}

// serviceOver builds a second orchestrator sharing f's classifier, clock
// and challenges but reading and writing through store.
func (f *fixture) serviceOver(t *testing.T, store ledger.Store) *Service {
	t.Helper()
	accounts := ledger.NewService(store, f.clock, f.events, ledger.AccountDefaults{
		BankCode:       "CAPBANK001",
		Currency:       "USD",
		OpeningBalance: decimal.RequireFromString("25000.00"),
	})
	manager, err := mfa.NewManager(f.challenges, mfa.NewHMACHasher("test-secret"), f.clock, mfa.DefaultConfig())
	require.NoError(t, err)
	return NewService(accounts, ledger.NewPoster(store, f.clock), f.gateway, manager, f.events, f.clock).
		WithAssessments(f.assessments)
}

// flakyBlockStore fails the next n account deactivations.
type flakyBlockStore struct {
	*ledger.MemoryStore
	failures atomic.Int32
}

func (s *flakyBlockStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	if !active && s.failures.Add(-1) >= 0 {
		return errors.New("db hiccup")
	}
	return s.MemoryStore.SetAccountActive(ctx, id, active)
}

// gatedTxStore holds the first RunInTx until release is closed.
type gatedTxStore struct {
	*ledger.MemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedTxStore(inner *ledger.MemoryStore) *gatedTxStore {
	return &gatedTxStore{MemoryStore: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedTxStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.MemoryStore.RunInTx(ctx, fn)
}

func intentTo(receiver *ledger.Account, amount string) Intent {
	return Intent{
		ReceiverAccountNumber: receiver.AccountNumber,
		ReceiverBankCode:      receiver.BankCode,
		Amount:                decimal.RequireFromString(amount),
		IdempotencyKey:        idgen.New(),
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		p      float64
		want   Decision
		status ledger.Status
	}{
		{0.05, Approve{}, ledger.StatusCompletedPendingPosting},
		{0.5, ChallengeRequired{}, ledger.StatusMFARequired},
		{0.91, Blocked{}, ledger.StatusRejectedHighRisk},
	}
	for _, tt := range tests {
		level, action, err := risk.DefaultThresholds().Classify(tt.p)
		require.NoError(t, err)
		d, err := Decide(risk.Verdict{Probability: tt.p, Level: level, Action: action})
		require.NoError(t, err)
		assert.IsType(t, tt.want, d, "p=%v", tt.p)
		assert.Equal(t, tt.status, d.initialStatus())
		assert.Equal(t, tt.p, d.verdict().Probability)
	}

	_, err := Decide(risk.Verdict{Level: "EXTREME"})
	assert.Error(t, err)
}

func TestMaskAccountNumber(t *testing.T) {
	assert.Equal(t, "********1234", MaskAccountNumber("100000001234"))
	assert.Equal(t, "*2345", MaskAccountNumber("12345"))
	assert.Equal(t, "1234", MaskAccountNumber("1234"))
	assert.Equal(t, "12", MaskAccountNumber("12"))
	assert.Equal(t, "", MaskAccountNumber(""))
}

func TestInitiate_LowRiskEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")
	before := f.total(t)

	res, err := f.svc.InitiateTransfer(ctx, sender.ID, intentTo(receiver, "1200.00"))
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusCompleted, res.Status)
	assert.Equal(t, risk.LevelLow, res.RiskLevel)
	assert.Equal(t, risk.ActionApprove, res.Action)
	assert.Equal(t, "stub-v1", res.ModelVersion)
	assert.False(t, res.MFARequired)
	assert.False(t, res.ForceLogout)
	assert.Equal(t, msgApproved, res.Message)
	require.NotNil(t, res.SenderBalance)
	require.NotNil(t, res.ReceiverBalance)
	assert.Equal(t, "23800.00", ledger.Money(*res.SenderBalance))
	assert.Equal(t, "26200.00", ledger.Money(*res.ReceiverBalance))

	assert.Equal(t, "23800.00", f.balance(t, sender.ID))
	assert.Equal(t, "26200.00", f.balance(t, receiver.ID))
	assert.Equal(t, before, f.total(t))

	entries, err := f.store.ListEntries(ctx, res.TransferID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	stored, err := f.store.GetTransfer(ctx, res.TransferID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, stored.Status)
	require.NotNil(t, stored.FraudProbability)
	assert.Equal(t, 0.05, *stored.FraudProbability)

	audit, err := f.assessments.ListByTransfer(ctx, res.TransferID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, 1200.0, audit[0].Features.Amount)
	assert.Equal(t, 25000.0, audit[0].Features.OldBalanceOrig)
	assert.Equal(t, 14, audit[0].Features.Hour)

	assert.Equal(t, []events.Type{events.TransferCompleted}, f.events.Types())
}

func TestInitiate_DispatchByProbability(t *testing.T) {
	tests := []struct {
		p           float64
		status      ledger.Status
		mfa         bool
		forceLogout bool
		senderAfter string
	}{
		{0.05, ledger.StatusCompleted, false, false, "24900.00"},
		{0.5, ledger.StatusMFARequired, true, false, "25000.00"},
		{0.91, ledger.StatusRejectedHighRisk, false, true, "25000.00"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.p), func(t *testing.T) {
			f := newFixture(t)
			sender := f.open(t, "sender")
			receiver := f.open(t, "receiver")
			f.classifier.set(tt.p, nil)

			res, err := f.svc.InitiateTransfer(context.Background(), sender.ID, intentTo(receiver, "100"))
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.mfa, res.MFARequired)
			assert.Equal(t, tt.forceLogout, res.ForceLogout)
			assert.Equal(t, tt.senderAfter, f.balance(t, sender.ID))
			assert.Equal(t, 1, f.classifier.Calls())
		})
	}
}

func TestInitiate_MediumRiskLeavesBalancesUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")
	f.classifier.set(0.5, nil)

	res, err := f.svc.InitiateTransfer(ctx, sender.ID, intentTo(receiver, "1200.00"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusMFARequired, res.Status)
	assert.Nil(t, res.SenderBalance)
	assert.Equal(t, msgMFARequired, res.Message)

	entries, _ := f.store.ListEntries(ctx, res.TransferID)
	assert.Empty(t, entries)
	assert.Equal(t, "25000.00", f.balance(t, sender.ID))
	assert.Equal(t, []events.Type{events.TransferMFARequired}, f.events.Types())
}

func TestInitiate_HighRiskBlocksSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "mallory")
	receiver := f.open(t, "bob")
	f.classifier.set(0.91, nil)

	res, err := f.svc.InitiateTransfer(ctx, sender.ID, intentTo(receiver, "5000"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejectedHighRisk, res.Status)
	assert.True(t, res.ForceLogout)
	assert.Nil(t, res.SenderBalance)

	acct, _ := f.store.GetAccount(ctx, sender.ID)
	assert.False(t, acct.Active)
	assert.Equal(t, "25000.00", f.balance(t, sender.ID))
	assert.Equal(t, []events.Type{events.AccountBlocked, events.TransferRejectedHighRisk}, f.events.Types())

	f.classifier.set(0.05, nil)
	_, err = f.svc.InitiateTransfer(ctx, sender.ID, intentTo(receiver, "1"))
	assert.ErrorIs(t, err, ErrAccountBlocked)
	assert.Equal(t, 1, f.classifier.Calls())
}

func TestInitiate_ClassifierFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")
	f.classifier.set(0, errors.New("connection refused"))

	res, err := f.svc.InitiateTransfer(ctx, sender.ID, intentTo(receiver, "1200.00"))
	require.ErrorIs(t, err, risk.ErrClassifierUnavailable)
	require.NotNil(t, res)
	assert.Equal(t, ledger.StatusFailed, res.Status)
	assert.Empty(t, res.RiskLevel)
	assert.Nil(t, res.FraudProbability)

	stored, err := f.store.GetTransfer(ctx, res.TransferID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, stored.Status)
	assert.Empty(t, stored.RiskLevel)

	entries, _ := f.store.ListEntries(ctx, res.TransferID)
	assert.Empty(t, entries)
	assert.Equal(t, "25000.00", f.balance(t, sender.ID))

	audit, _ := f.assessments.ListByTransfer(ctx, res.TransferID)
	require.Len(t, audit, 1)
	assert.Contains(t, audit[0].Error, "connection refused")
	assert.Nil(t, audit[0].FraudProbability)

	assert.Equal(t, []events.Type{events.TransferFailed}, f.events.Types())
}

func TestInitiate_InvalidProbabilityFailsClosed(t *testing.T) {
	f := newFixture(t)
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")
	f.classifier.set(1.7, nil)

	res, err := f.svc.InitiateTransfer(context.Background(), sender.ID, intentTo(receiver, "10"))
	assert.ErrorIs(t, err, risk.ErrClassifierUnavailable)
	require.NotNil(t, res)
	assert.Equal(t, ledger.StatusFailed, res.Status)
}

func TestInitiate_OpenCircuitFailsClosedWithoutCallingClassifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")
	f.classifier.set(0, errors.New("boom"))

	for i := 0; i < 3; i++ {
		_, err := f.svc.InitiateTransfer(ctx, sender.ID, intentTo(receiver, "1"))
		require.ErrorIs(t, err, risk.ErrClassifierUnavailable)
	}
	calls := f.classifier.Calls()

	f.classifier.set(0.05, nil)
	res, err := f.svc.InitiateTransfer(ctx, sender.ID, intentTo(receiver, "1"))
	require.ErrorIs(t, err, risk.ErrClassifierUnavailable)
	assert.Equal(t, ledger.StatusFailed, res.Status)
	assert.Equal(t, calls, f.classifier.Calls())
	assert.Equal(t, "25000.00", f.balance(t, sender.ID))
}

func TestInitiate_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.seed(t, "100.00", "USD")
	receiver := f.seed(t, "0.00", "USD")

	res, err := f.svc.InitiateTransfer(ctx, sender.ID, intentTo(receiver, "100.01"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejectedInsufficientFunds, res.Status)
	assert.Nil(t, res.SenderBalance)
	assert.Equal(t, msgInsufficientFunds, res.Message)

	assert.Equal(t, "100.00", f.balance(t, sender.ID))
	entries, _ := f.store.ListEntries(ctx, res.TransferID)
	assert.Empty(t, entries)
	assert.Equal(t, []events.Type{events.TransferRejectedInsufficientFunds}, f.events.Types())
}

func TestInitiate_ValidationErrorsHaveNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")
	inactive := f.seed(t, "0", "USD")
	require.NoError(t, f.store.SetAccountActive(ctx, inactive.ID, false))
	euro := f.seed(t, "0", "EUR")

	tests := []struct {
		name   string
		intent Intent
		want   error
	}{
		{"zero amount", intentTo(receiver, "0"), ledger.ErrInvalidAmount},
		{"negative amount", intentTo(receiver, "-5"), ledger.ErrInvalidAmount},
		{"three decimals", intentTo(receiver, "1.005"), ledger.ErrInvalidAmount},
		{"unknown receiver", Intent{ReceiverAccountNumber: "000000000000", ReceiverBankCode: "CAPBANK001", Amount: decimal.NewFromInt(1)}, ErrReceiverNotFound},
		{"wrong bank", Intent{ReceiverAccountNumber: receiver.AccountNumber, ReceiverBankCode: "OTHERBANK", Amount: decimal.NewFromInt(1)}, ErrReceiverNotFound},
		{"self transfer", intentTo(sender, "1"), ErrSameAccount},
		{"inactive receiver", intentTo(inactive, "1"), ErrReceiverInactive},
		{"currency mismatch", intentTo(euro, "1"), ErrCurrencyMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.InitiateTransfer(ctx, sender.ID, tt.intent)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, 0, f.classifier.Calls())
	assert.Empty(t, f.events.Types())
	page, err := f.accounts.History(ctx, sender.ID, 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	_, err = f.svc.InitiateTransfer(ctx, "acc_missing", intentTo(receiver, "1"))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestInitiate_ReceiverLookupIsNormalized(t *testing.T) {
	f := newFixture(t)
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")

	in := intentTo(receiver, "10")
	in.ReceiverBankCode = " capbank001 "
	res, err := f.svc.InitiateTransfer(context.Background(), sender.ID, in)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, res.Status)
}

func TestInitiate_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")
	in := intentTo(receiver, "1200.00")

	first, err := f.svc.InitiateTransfer(ctx, sender.ID, in)
	require.NoError(t, err)
	second, err := f.svc.InitiateTransfer(ctx, sender.ID, in)
	require.NoError(t, err)

	assert.Equal(t, first.TransferID, second.TransferID)
	assert.Equal(t, ledger.StatusCompleted, second.Status)
	assert.True(t, second.Replayed)
	require.NotNil(t, second.SenderBalance)
	assert.Equal(t, "23800.00", ledger.Money(*second.SenderBalance))
	assert.Equal(t, "26200.00", ledger.Money(*second.ReceiverBalance))

	assert.Equal(t, 1, f.classifier.Calls())
	assert.Equal(t, "23800.00", f.balance(t, sender.ID))
	entries, _ := f.store.ListEntries(ctx, first.TransferID)
	assert.Len(t, entries, 2)

	changed := in
	changed.Amount = decimal.RequireFromString("1300.00")
	_, err = f.svc.InitiateTransfer(ctx, sender.ID, changed)
	assert.ErrorIs(t, err, ErrIdempotencyConflict)

	renoted := in
	renoted.Note = "different note"
	_, err = f.svc.InitiateTransfer(ctx, sender.ID, renoted)
	assert.ErrorIs(t, err, ErrIdempotencyConflict)

	padded := in
	padded.Note = "  "
	_, err = f.svc.InitiateTransfer(ctx, sender.ID, padded)
	assert.NoError(t, err, "notes are compared after sanitizing")
}

func TestInitiate_ReplayAfterHighRiskReturnsRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "mallory")
	receiver := f.open(t, "bob")
	f.classifier.set(0.91, nil)
	in := intentTo(receiver, "900")

	first, err := f.svc.InitiateTransfer(ctx, sender.ID, in)
	require.NoError(t, err)

	again, err := f.svc.InitiateTransfer(ctx, sender.ID, in)
	require.NoError(t, err)
	assert.Equal(t, first.TransferID, again.TransferID)
	assert.Equal(t, ledger.StatusRejectedHighRisk, again.Status)
	assert.True(t, again.ForceLogout)
	assert.Equal(t, 1, f.classifier.Calls())
}

func TestInitiate_FailedBlockLeavesNoRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "mallory")
	receiver := f.open(t, "bob")
	store := &flakyBlockStore{MemoryStore: f.store}
	store.failures.Store(1)
	svc := f.serviceOver(t, store)
	f.classifier.set(0.91, nil)
	in := intentTo(receiver, "5000")

	_, err := svc.InitiateTransfer(ctx, sender.ID, in)
	require.Error(t, err)
	_, err = f.store.GetTransferByIdempotencyKey(ctx, sender.ID, in.IdempotencyKey)
	assert.ErrorIs(t, err, ledger.ErrTransferNotFound)

	// The retry scores again and this time the block sticks.
	res, err := svc.InitiateTransfer(ctx, sender.ID, in)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejectedHighRisk, res.Status)
	assert.True(t, res.ForceLogout)
	acct, _ := f.store.GetAccount(ctx, sender.ID)
	assert.False(t, acct.Active)
	assert.Equal(t, 2, f.classifier.Calls())

	f.classifier.set(0.05, nil)
	_, err = svc.InitiateTransfer(ctx, sender.ID, intentTo(receiver, "1"))
	assert.ErrorIs(t, err, ErrAccountBlocked)
	assert.Equal(t, "25000.00", f.balance(t, sender.ID))
}

func TestInitiate_RetryFromAnotherInstanceDuringPosting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")
	gated := newGatedTxStore(f.store)
	first := f.serviceOver(t, gated)
	second := f.serviceOver(t, gated)
	in := intentTo(receiver, "1200.00")

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := first.InitiateTransfer(ctx, sender.ID, in)
		done <- outcome{res, err}
	}()
	select {
	case <-gated.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("posting never started")
	}

	retried, err := second.InitiateTransfer(ctx, sender.ID, in)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, retried.Status)
	close(gated.release)

	var orig outcome
	select {
	case orig = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("original call never returned")
	}
	require.NoError(t, orig.err)
	assert.Equal(t, retried.TransferID, orig.res.TransferID)
	assert.Equal(t, ledger.StatusCompleted, orig.res.Status)
	require.NotNil(t, orig.res.SenderBalance)
	assert.Equal(t, "23800.00", ledger.Money(*orig.res.SenderBalance))
	assert.Equal(t, "26200.00", ledger.Money(*orig.res.ReceiverBalance))

	entries, _ := f.store.ListEntries(ctx, orig.res.TransferID)
	assert.Len(t, entries, 2)
	assert.Equal(t, "23800.00", f.balance(t, sender.ID))
	assert.Equal(t, 1, f.classifier.Calls())
}

func TestInitiate_ReplayOfFailClosedKeepsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")
	f.classifier.set(0, errors.New("down"))
	in := intentTo(receiver, "10")

	first, err := f.svc.InitiateTransfer(ctx, sender.ID, in)
	require.ErrorIs(t, err, risk.ErrClassifierUnavailable)

	f.classifier.set(0.05, nil)
	again, err := f.svc.InitiateTransfer(ctx, sender.ID, in)
	assert.ErrorIs(t, err, risk.ErrClassifierUnavailable)
	assert.Equal(t, first.TransferID, again.TransferID)
	assert.Equal(t, ledger.StatusFailed, again.Status)
}

func TestInitiate_ConcurrentSameKeyScoresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")
	in := intentTo(receiver, "1200.00")

	const n = 10
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.InitiateTransfer(ctx, sender.ID, in)
			if assert.NoError(t, err) {
				ids[i] = res.TransferID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.classifier.Calls())
	assert.Equal(t, "23800.00", f.balance(t, sender.ID))
}

func TestInitiate_NoDoubleSpendUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")
	before := f.total(t)

	const n = 10
	results := make(chan *Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.InitiateTransfer(ctx, sender.ID, intentTo(receiver, "25000.00"))
			if assert.NoError(t, err) {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	completed := 0
	for res := range results {
		switch res.Status {
		case ledger.StatusCompleted:
			completed++
		case ledger.StatusRejectedInsufficientFunds:
		default:
			t.Errorf("unexpected status %s", res.Status)
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, "0.00", f.balance(t, sender.ID))
	assert.Equal(t, "50000.00", f.balance(t, receiver.ID))
	assert.Equal(t, before, f.total(t))
}

func TestValidateReceiver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.open(t, "alice")
	receiver := f.open(t, "bob")
	inactive := f.seed(t, "0", "USD")
	require.NoError(t, f.store.SetAccountActive(ctx, inactive.ID, false))

	check, err := f.svc.ValidateReceiver(ctx, sender.ID, receiver.AccountNumber, "capbank001")
	require.NoError(t, err)
	assert.True(t, check.Exists)
	assert.Equal(t, "Holder bob", check.HolderName)
	assert.Equal(t, "********"+receiver.AccountNumber[8:], check.MaskedAccountNumber)
	assert.Equal(t, "CAPBANK001", check.BankCode)
	assert.Equal(t, msgReceiverValid, check.Message)

	check, err = f.svc.ValidateReceiver(ctx, sender.ID, "999999999999", "CAPBANK001")
	require.NoError(t, err)
	assert.False(t, check.Exists)
	assert.Equal(t, msgReceiverNotFound, check.Message)
	assert.Empty(t, check.HolderName)

	check, err = f.svc.ValidateReceiver(ctx, sender.ID, sender.AccountNumber, sender.BankCode)
	require.NoError(t, err)
	assert.False(t, check.Exists)
	assert.Equal(t, msgSameAccount, check.Message)

	check, err = f.svc.ValidateReceiver(ctx, sender.ID, inactive.AccountNumber, inactive.BankCode)
	require.NoError(t, err)
	assert.False(t, check.Exists)
	assert.Equal(t, msgReceiverInactive, check.Message)

	require.NoError(t, f.store.SetAccountActive(ctx, sender.ID, false))
	_, err = f.svc.ValidateReceiver(ctx, sender.ID, receiver.AccountNumber, receiver.BankCode)
	assert.ErrorIs(t, err, ErrAccountBlocked)
}
