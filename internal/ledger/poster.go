package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/idgen"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/logging"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/traces"
)

// Posting is the result of a completed posting.
type Posting struct {
	TransferID      string          `json:"transferId"`
	SenderBalance   decimal.Decimal `json:"senderBalance"`
	ReceiverBalance decimal.Decimal `json:"receiverBalance"`
	Entries         []*Entry        `json:"entries"`
}

// Poster moves money for transfers in COMPLETED_PENDING_POSTING.
type Poster struct {
	store Store
	clock clockwork.Clock
}

// NewPoster creates a poster over store.
func NewPoster(store Store, clock clockwork.Clock) *Poster {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poster{store: store, clock: clock}
}

// PostTransfer debits the sender and credits the receiver of transferID in
// one transaction.
//
// ErrInvalidState is returned untouched when the transfer is not
// COMPLETED_PENDING_POSTING. ErrInsufficientFunds is returned after the
// transfer has been committed as REJECTED_INSUFFICIENT_FUNDS. Any other
// failure rolls back every write and moves the transfer to FAILED.
func (p *Poster) PostTransfer(ctx context.Context, transferID string) (*Posting, error) {
	// Once started, a posting runs to commit or rollback.
	ctx = context.WithoutCancel(ctx)
	ctx, span := traces.StartSpan(ctx, "ledger.PostTransfer", traces.TransferID(transferID))
	defer span.End()
	done := observeOp("post")

	intent, err := p.store.GetTransfer(ctx, transferID)
	if err != nil {
		done("not_found")
		traces.RecordError(span, err)
		return nil, err
	}

	var (
		posting      *Posting
		insufficient bool
	)
	err = p.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		accounts, err := tx.LockAccounts(ctx, intent.SenderAccountID, intent.ReceiverAccountID)
		if err != nil {
			return err
		}
		t, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if t.Status != StatusCompletedPendingPosting {
			return fmt.Errorf("%w: transfer %s is %s", ErrInvalidState, transferID, t.Status)
		}
		sender, okS := accounts[t.SenderAccountID]
		receiver, okR := accounts[t.ReceiverAccountID]
		if !okS || !okR || t.SenderAccountID == t.ReceiverAccountID {
			return fmt.Errorf("%w: transfer %s", ErrAccountMismatch, transferID)
		}
		if !t.Amount.IsPositive() {
			return fmt.Errorf("%w: transfer %s", ErrInvalidAmount, transferID)
		}

		if sender.Balance.LessThan(t.Amount) {
			insufficient = true
			return tx.SetTransferStatus(ctx, transferID, StatusRejectedInsufficientFunds)
		}

		now := p.clock.Now()
		senderAfter := sender.Balance.Sub(t.Amount)
		receiverAfter := receiver.Balance.Add(t.Amount)

		if err := tx.UpdateBalance(ctx, sender.ID, senderAfter); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, receiver.ID, receiverAfter); err != nil {
			return err
		}

		debit := &Entry{
			ID:            idgen.WithPrefix(idgen.Entry),
			TransferID:    transferID,
			AccountID:     sender.ID,
			Direction:     Debit,
			Amount:        t.Amount,
			BalanceBefore: sender.Balance,
			BalanceAfter:  senderAfter,
			CreatedAt:     now,
		}
		credit := &Entry{
			ID:            idgen.WithPrefix(idgen.Entry),
			TransferID:    transferID,
			AccountID:     receiver.ID,
			Direction:     Credit,
			Amount:        t.Amount,
			BalanceBefore: receiver.Balance,
			BalanceAfter:  receiverAfter,
			CreatedAt:     now,
		}
		if err := tx.InsertEntry(ctx, debit); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, credit); err != nil {
			return err
		}
		if err := tx.SetTransferStatus(ctx, transferID, StatusCompleted); err != nil {
			return err
		}

		posting = &Posting{
			TransferID:      transferID,
			SenderBalance:   senderAfter,
			ReceiverBalance: receiverAfter,
			Entries:         []*Entry{debit, credit},
		}
		return nil
	})

	switch {
	case err != nil && errors.Is(err, ErrInvalidState):
		done("invalid_state")
		traces.RecordError(span, err)
		return nil, err
	case err != nil:
		done("failed")
		traces.RecordError(span, err)
		p.markFailed(ctx, transferID, err)
		return nil, fmt.Errorf("post transfer %s: %w", transferID, err)
	case insufficient:
		done("insufficient_funds")
		return nil, fmt.Errorf("%w: transfer %s", ErrInsufficientFunds, transferID)
	}

	done("completed")
	LedgerPostedAmount.WithLabelValues(intent.Currency).Add(intent.Amount.InexactFloat64())
	logging.L(ctx).Info("transfer posted",
		"transfer_id", transferID,
		"amount", Money(intent.Amount),
		"sender_balance", Money(posting.SenderBalance),
		"receiver_balance", Money(posting.ReceiverBalance),
	)
	return posting, nil
}

func (p *Poster) markFailed(ctx context.Context, transferID string, cause error) {
	logger := logging.L(ctx)
	err := p.store.TransitionTransfer(ctx, transferID, StatusCompletedPendingPosting, StatusFailed)
	if err != nil && !errors.Is(err, ErrStatusConflict) {
		logger.Error("failed to mark transfer FAILED after posting error",
			"transfer_id", transferID, "cause", cause, "error", err)
		return
	}
	logger.Error("transfer posting rolled back",
		"transfer_id", transferID, "error", cause, slog.Bool("marked_failed", err == nil))
}
