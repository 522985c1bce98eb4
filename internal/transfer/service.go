package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/events"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/idgen"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/ledger"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/logging"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/metrics"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/mfa"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/risk"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/syncutil"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/traces"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/validation"
)

// Scorer returns a risk verdict for a feature vector.
type Scorer interface {
	Score(ctx context.Context, features risk.FeatureVector) (risk.Verdict, error)
}

// Service implements the transfer orchestration.
type Service struct {
	accounts    *ledger.Service
	store       ledger.Store
	poster      *ledger.Poster
	scorer      Scorer
	challenges  *mfa.Manager
	assessments risk.AssessmentStore
	publisher   events.Publisher
	clock       clockwork.Clock
	keys        *syncutil.ContextShardedMutex
	demoCodes   bool
}

// NewService creates a transfer orchestrator.
func NewService(
	accounts *ledger.Service,
	poster *ledger.Poster,
	scorer Scorer,
	challenges *mfa.Manager,
	publisher events.Publisher,
	clock clockwork.Clock,
) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		accounts:   accounts,
		store:      accounts.Store(),
		poster:     poster,
		scorer:     scorer,
		challenges: challenges,
		publisher:  publisher,
		clock:      clock,
		keys:       syncutil.NewContextShardedMutex(),
	}
}

// WithAssessments records every scoring attempt in store.
func (s *Service) WithAssessments(store risk.AssessmentStore) *Service {
	s.assessments = store
	return s
}

// WithDemoCodes echoes MFA codes in challenge responses. Never enable in
// production.
func (s *Service) WithDemoCodes(enabled bool) *Service {
	s.demoCodes = enabled
	return s
}

// InitiateTransfer validates, scores and dispatches a transfer from
// senderAccountID.
//
// Policy outcomes (MFA required, high-risk rejection, insufficient funds)
// are results, not errors. When the classifier is unavailable the FAILED
// transfer is returned together with an error wrapping
// risk.ErrClassifierUnavailable; a posting integrity failure likewise
// returns the result with an error wrapping ErrPostingFailed.
func (s *Service) InitiateTransfer(ctx context.Context, senderAccountID string, in Intent) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "transfer.Initiate",
		traces.AccountID(senderAccountID), traces.Amount(in.Amount.String()))
	defer span.End()

	if err := checkAmount(in.Amount); err != nil {
		return nil, err
	}
	in.ReceiverAccountNumber = validation.NormalizeAccountNumber(in.ReceiverAccountNumber)
	in.ReceiverBankCode = validation.NormalizeBankCode(in.ReceiverBankCode)
	in.Note = validation.SanitizeString(in.Note, validation.MaxNoteLen)
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = idgen.New()
	}

	unlock, err := s.keys.LockContext(ctx, senderAccountID+"|"+in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sender, err := s.store.GetAccount(ctx, senderAccountID)
	if err != nil {
		return nil, err
	}

	// A retry returns the first outcome, even if that outcome blocked the sender.
	existing, err := s.store.GetTransferByIdempotencyKey(ctx, sender.ID, in.IdempotencyKey)
	if err == nil {
		return s.replay(ctx, existing, in)
	}
	if !errors.Is(err, ledger.ErrTransferNotFound) {
		return nil, err
	}

	if !sender.Active {
		return nil, ErrAccountBlocked
	}
	receiver, err := s.resolveReceiver(ctx, sender, in.ReceiverAccountNumber, in.ReceiverBankCode)
	if err != nil {
		return nil, err
	}

	features := risk.BuildFeatures(s.clock.Now(), in.Amount, sender.Balance, receiver.Balance)
	verdict, scoreErr := s.scorer.Score(ctx, features)

	t := &ledger.Transfer{
		ID:                    idgen.WithPrefix(idgen.Transfer),
		SenderAccountID:       sender.ID,
		ReceiverAccountID:     receiver.ID,
		SenderAccountNumber:   sender.AccountNumber,
		SenderBankCode:        sender.BankCode,
		ReceiverAccountNumber: receiver.AccountNumber,
		ReceiverBankCode:      receiver.BankCode,
		Amount:                in.Amount,
		Currency:              sender.Currency,
		Note:                  in.Note,
		IdempotencyKey:        in.IdempotencyKey,
		RequestID:             in.RequestID,
		CreatedAt:             s.clock.Now(),
	}
	span.SetAttributes(traces.TransferID(t.ID))

	if scoreErr != nil {
		traces.RecordError(span, scoreErr)
		return s.failClosed(ctx, t, features, scoreErr)
	}

	decision, err := Decide(verdict)
	if err != nil {
		traces.RecordError(span, err)
		return s.failClosed(ctx, t, features, fmt.Errorf("%w: %w", risk.ErrClassifierUnavailable, err))
	}
	p := verdict.Probability
	t.FraudProbability = &p
	t.RiskLevel = string(verdict.Level)
	t.Action = string(verdict.Action)
	t.ModelVersion = verdict.ModelVersion
	t.Status = decision.initialStatus()

	// The sender is blocked before the rejection is written, so a stored
	// REJECTED_HIGH_RISK always implies an inactive sender.
	if d, ok := decision.(Blocked); ok {
		if err := s.accounts.BlockAccount(ctx, sender.ID, t.ID); err != nil {
			logging.L(ctx).Error("failed to block sender after high-risk verdict",
				"transfer_id", t.ID, "account_id", sender.ID, "probability", d.Probability, "error", err)
			traces.RecordError(span, err)
			return nil, err
		}
	}

	if err := s.store.CreateTransfer(ctx, t); err != nil {
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			// Another process won the race for this key.
			winner, getErr := s.store.GetTransferByIdempotencyKey(ctx, sender.ID, in.IdempotencyKey)
			if getErr != nil {
				return nil, getErr
			}
			return s.replay(ctx, winner, in)
		}
		traces.RecordError(span, err)
		return nil, fmt.Errorf("create transfer: %w", err)
	}
	s.recordAssessment(ctx, t.ID, sender.ID, features, &verdict, nil)

	logging.L(ctx).Info("transfer scored",
		"transfer_id", t.ID,
		"amount", ledger.Money(t.Amount),
		"risk_level", verdict.Level,
		"fraud_probability", verdict.Probability,
		"model_version", verdict.ModelVersion,
	)
	span.SetAttributes(traces.RiskLevel(string(verdict.Level)))

	switch decision.(type) {
	case Approve:
		return s.post(ctx, t, msgApproved)
	case ChallengeRequired:
		s.finish(ctx, t, events.TransferMFARequired)
		res := resultFrom(t)
		res.Message = msgMFARequired
		res.MFARequired = true
		return res, nil
	case Blocked:
		s.finish(ctx, t, events.TransferRejectedHighRisk)
		res := resultFrom(t)
		res.Message = msgBlocked
		res.ForceLogout = true
		return res, nil
	default:
		return nil, fmt.Errorf("unhandled decision %T", decision)
	}
}

// ValidateReceiver checks whether accountNumber at bankCode can receive a
// transfer from senderAccountID.
func (s *Service) ValidateReceiver(ctx context.Context, senderAccountID, accountNumber, bankCode string) (*ReceiverCheck, error) {
	sender, err := s.activeSender(ctx, senderAccountID)
	if err != nil {
		return nil, err
	}

	accountNumber = validation.NormalizeAccountNumber(accountNumber)
	bankCode = validation.NormalizeBankCode(bankCode)
	receiver, err := s.resolveReceiver(ctx, sender, accountNumber, bankCode)
	switch {
	case errors.Is(err, ErrReceiverNotFound):
		return &ReceiverCheck{Exists: false, Message: msgReceiverNotFound}, nil
	case errors.Is(err, ErrSameAccount):
		return &ReceiverCheck{Exists: false, Message: msgSameAccount}, nil
	case errors.Is(err, ErrReceiverInactive):
		return &ReceiverCheck{Exists: false, Message: msgReceiverInactive}, nil
	case errors.Is(err, ErrCurrencyMismatch):
		return &ReceiverCheck{Exists: false, Message: msgCurrencyMismatch}, nil
	case err != nil:
		return nil, err
	}

	return &ReceiverCheck{
		Exists:              true,
		HolderName:          receiver.HolderName,
		MaskedAccountNumber: MaskAccountNumber(receiver.AccountNumber),
		BankCode:            receiver.BankCode,
		Message:             msgReceiverValid,
	}, nil
}

// CreateMfaChallenge issues a fresh code for a transfer held for MFA.
func (s *Service) CreateMfaChallenge(ctx context.Context, senderAccountID, transferID string) (*ChallengeInfo, error) {
	t, err := s.heldTransfer(ctx, senderAccountID, transferID)
	if err != nil {
		return nil, err
	}

	issued, err := s.challenges.CreateChallenge(ctx, t.ID, senderAccountID)
	if err != nil {
		return nil, err
	}

	info := &ChallengeInfo{
		TransferID:        t.ID,
		Status:            t.Status,
		MFARequired:       true,
		Message:           msgChallengeIssued,
		ExpiresAt:         issued.Challenge.ExpiresAt,
		RemainingAttempts: issued.Challenge.RemainingAttempts(),
	}
	if s.demoCodes {
		info.DemoCode = issued.Code
	}
	return info, nil
}

// VerifyMfaChallenge checks code and, when it matches, posts the held
// transfer. A posting failure leaves the challenge VERIFIED.
func (s *Service) VerifyMfaChallenge(ctx context.Context, senderAccountID, transferID, code string) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "transfer.VerifyMfa", traces.TransferID(transferID))
	defer span.End()

	t, err := s.heldTransfer(ctx, senderAccountID, transferID)
	if err != nil {
		return nil, err
	}

	if _, err := s.challenges.VerifyChallenge(ctx, t.ID, strings.TrimSpace(code)); err != nil {
		var invalid *mfa.InvalidCodeError
		if errors.As(err, &invalid) && invalid.Remaining == 0 {
			events.Emit(ctx, s.publisher, events.Event{
				Type:       events.MFALocked,
				TransferID: t.ID,
				AccountID:  t.SenderAccountID,
				Status:     string(t.Status),
				OccurredAt: s.clock.Now(),
			})
		}
		return nil, err
	}

	if err := s.store.TransitionTransfer(ctx, t.ID, ledger.StatusMFARequired, ledger.StatusCompletedPendingPosting); err != nil {
		if errors.Is(err, ledger.ErrStatusConflict) {
			return nil, ErrNotAwaitingMFA
		}
		return nil, err
	}
	t.Status = ledger.StatusCompletedPendingPosting
	logging.L(ctx).Info("mfa verified, posting transfer", "transfer_id", t.ID)

	return s.post(ctx, t, msgMFAVerified)
}

// StuckTransfers lists approved transfers that have waited longer than age
// to be posted, oldest first.
func (s *Service) StuckTransfers(ctx context.Context, age time.Duration, limit int) ([]*ledger.Transfer, error) {
	return s.store.ListStuckTransfers(ctx, ledger.StatusCompletedPendingPosting, s.clock.Now().Add(-age), limit)
}

// RetryPosting posts an approved transfer whose posting never finished.
// The verdict recorded at initiation is reused; the transfer is not re-scored.
func (s *Service) RetryPosting(ctx context.Context, transferID string) (*Result, error) {
	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != ledger.StatusCompletedPendingPosting {
		return nil, fmt.Errorf("%w: status is %s", ErrNotPendingPosting, t.Status)
	}
	logging.L(ctx).Info("retrying transfer posting", "transfer_id", t.ID)
	return s.post(ctx, t, msgApproved)
}

// post runs the poster for t and turns its outcome into a Result.
func (s *Service) post(ctx context.Context, t *ledger.Transfer, okMessage string) (*Result, error) {
	posting, err := s.poster.PostTransfer(ctx, t.ID)
	switch {
	case err == nil:
		t.Status = ledger.StatusCompleted
		s.finish(ctx, t, events.TransferCompleted)
		res := resultFrom(t)
		res.Message = okMessage
		res.SenderBalance = &posting.SenderBalance
		res.ReceiverBalance = &posting.ReceiverBalance
		return res, nil

	case errors.Is(err, ledger.ErrInsufficientFunds):
		t.Status = ledger.StatusRejectedInsufficientFunds
		s.finish(ctx, t, events.TransferRejectedInsufficientFunds)
		res := resultFrom(t)
		res.Message = msgInsufficientFunds
		return res, nil

	case errors.Is(err, ledger.ErrInvalidState):
		// Another caller posted t first. Report the outcome it settled on.
		current, getErr := s.store.GetTransfer(ctx, t.ID)
		if getErr == nil && (current.Status == ledger.StatusCompleted ||
			current.Status == ledger.StatusRejectedInsufficientFunds) {
			logging.L(ctx).Info("transfer already posted", "transfer_id", t.ID, "status", current.Status)
			return s.settled(ctx, current)
		}
		fallthrough

	default:
		logging.L(ctx).Error("transfer posting failed", "transfer_id", t.ID, "error", err)
		if current, getErr := s.store.GetTransfer(ctx, t.ID); getErr == nil {
			t.Status = current.Status
		}
		if t.Status == ledger.StatusFailed {
			s.finish(ctx, t, events.TransferFailed)
		}
		res := resultFrom(t)
		res.Message = msgPostingFailed
		return res, fmt.Errorf("%w: %w", ErrPostingFailed, err)
	}
}

// failClosed persists t as FAILED without a verdict.
func (s *Service) failClosed(ctx context.Context, t *ledger.Transfer, features risk.FeatureVector, cause error) (*Result, error) {
	t.Status = ledger.StatusFailed
	if err := s.store.CreateTransfer(ctx, t); err != nil {
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			winner, getErr := s.store.GetTransferByIdempotencyKey(ctx, t.SenderAccountID, t.IdempotencyKey)
			if getErr != nil {
				return nil, getErr
			}
			return s.replay(ctx, winner, Intent{
				ReceiverAccountNumber: t.ReceiverAccountNumber,
				ReceiverBankCode:      t.ReceiverBankCode,
				Amount:                t.Amount,
				Note:                  t.Note,
			})
		}
		return nil, fmt.Errorf("create failed transfer: %w", err)
	}
	s.recordAssessment(ctx, t.ID, t.SenderAccountID, features, nil, cause)

	logging.L(ctx).Warn("transfer failed closed: classifier unavailable",
		"transfer_id", t.ID, "error", cause)
	s.finish(ctx, t, events.TransferFailed)

	res := resultFrom(t)
	res.Message = msgClassifierDown
	return res, cause
}

// replay rebuilds the result of an already processed transfer.
func (s *Service) replay(ctx context.Context, t *ledger.Transfer, in Intent) (*Result, error) {
	if t.ReceiverAccountNumber != in.ReceiverAccountNumber ||
		t.ReceiverBankCode != in.ReceiverBankCode ||
		!t.Amount.Equal(in.Amount) ||
		t.Note != in.Note {
		return nil, ErrIdempotencyConflict
	}
	logging.L(ctx).Info("idempotent transfer replay", "transfer_id", t.ID, "status", t.Status)

	switch t.Status {
	case ledger.StatusCompleted, ledger.StatusRejectedInsufficientFunds:
		settled, err := s.settled(ctx, t)
		if err != nil {
			return nil, err
		}
		settled.Replayed = true
		return settled, nil
	case ledger.StatusCompletedPendingPosting:
		// A crashed posting left this behind; try once more.
		return s.post(ctx, t, msgApproved)
	}

	res := resultFrom(t)
	res.Replayed = true
	switch t.Status {
	case ledger.StatusMFARequired:
		res.Message = msgMFARequired
		res.MFARequired = true
	case ledger.StatusRejectedHighRisk:
		res.Message = msgBlocked
		res.ForceLogout = true
	case ledger.StatusFailed:
		if t.RiskLevel == "" {
			res.Message = msgClassifierDown
			return res, fmt.Errorf("%w: transfer %s failed closed", risk.ErrClassifierUnavailable, t.ID)
		}
		res.Message = msgPostingFailed
		return res, fmt.Errorf("%w: transfer %s", ErrPostingFailed, t.ID)
	}
	return res, nil
}

// settled rebuilds the result of a posted transfer. Balances come from
// its ledger entries.
func (s *Service) settled(ctx context.Context, t *ledger.Transfer) (*Result, error) {
	res := resultFrom(t)
	if t.Status == ledger.StatusRejectedInsufficientFunds {
		res.Message = msgInsufficientFunds
		return res, nil
	}
	res.Message = msgApproved
	entries, err := s.store.ListEntries(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		after := e.BalanceAfter
		if e.Direction == ledger.Debit {
			res.SenderBalance = &after
		} else {
			res.ReceiverBalance = &after
		}
	}
	return res, nil
}

// finish counts and publishes a transfer outcome.
func (s *Service) finish(ctx context.Context, t *ledger.Transfer, typ events.Type) {
	metrics.TransfersTotal.WithLabelValues(string(t.Status)).Inc()
	events.Emit(ctx, s.publisher, events.Event{
		Type:       typ,
		TransferID: t.ID,
		AccountID:  t.SenderAccountID,
		Status:     string(t.Status),
		RiskLevel:  t.RiskLevel,
		Amount:     ledger.Money(t.Amount),
		Currency:   t.Currency,
		OccurredAt: s.clock.Now(),
	})
}

func (s *Service) recordAssessment(ctx context.Context, transferID, senderID string, features risk.FeatureVector, v *risk.Verdict, cause error) {
	if s.assessments == nil {
		return
	}
	a := &risk.Assessment{
		ID:              idgen.WithPrefix(idgen.Assessment),
		TransferID:      transferID,
		SenderAccountID: senderID,
		Features:        features,
		EvaluatedAt:     s.clock.Now(),
	}
	if v != nil {
		p := v.Probability
		a.FraudProbability = &p
		a.RiskLevel = v.Level
		a.Action = v.Action
		a.ModelVersion = v.ModelVersion
	}
	if cause != nil {
		a.Error = cause.Error()
	}
	if err := s.assessments.Record(ctx, a); err != nil {
		logging.L(ctx).Warn("failed to record risk assessment", "transfer_id", transferID, "error", err)
	}
}

// resolveReceiver finds the receiving account and checks it can accept
// money from sender.
func (s *Service) resolveReceiver(ctx context.Context, sender *ledger.Account, accountNumber, bankCode string) (*ledger.Account, error) {
	receiver, err := s.store.GetAccountByNumber(ctx, accountNumber, bankCode)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, ErrReceiverNotFound
	}
	if err != nil {
		return nil, err
	}
	if receiver.ID == sender.ID {
		return nil, ErrSameAccount
	}
	if !receiver.Active {
		return nil, ErrReceiverInactive
	}
	if receiver.Currency != sender.Currency {
		return receiver, ErrCurrencyMismatch
	}
	return receiver, nil
}

func (s *Service) activeSender(ctx context.Context, accountID string) (*ledger.Account, error) {
	sender, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !sender.Active {
		return nil, ErrAccountBlocked
	}
	return sender, nil
}

// heldTransfer loads a transfer owned by senderAccountID that awaits MFA.
// Transfers of other senders are reported as not found.
func (s *Service) heldTransfer(ctx context.Context, senderAccountID, transferID string) (*ledger.Transfer, error) {
	if _, err := s.activeSender(ctx, senderAccountID); err != nil {
		return nil, err
	}
	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.SenderAccountID != senderAccountID {
		return nil, ledger.ErrTransferNotFound
	}
	if t.Status != ledger.StatusMFARequired {
		return nil, fmt.Errorf("%w (status %s)", ErrNotAwaitingMFA, t.Status)
	}
	return t, nil
}

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(validation.MaxAmountScale)) {
		return fmt.Errorf("%w: at most %d decimal places", ledger.ErrInvalidAmount, validation.MaxAmountScale)
	}
	return nil
}

func resultFrom(t *ledger.Transfer) *Result {
	return &Result{
		TransferID:       t.ID,
		Status:           t.Status,
		FraudProbability: t.FraudProbability,
		RiskLevel:        risk.Level(t.RiskLevel),
		Action:           risk.Action(t.Action),
		ModelVersion:     t.ModelVersion,
		RequestID:        t.RequestID,
	}
}
