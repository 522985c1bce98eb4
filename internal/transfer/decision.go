package transfer

import (
	"fmt"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/ledger"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/risk"
)

// Decision is what the orchestrator does with a verdict. It is exactly one
// of Approve, ChallengeRequired or Blocked.
type Decision interface {
	verdict() risk.Verdict
	initialStatus() ledger.Status
}

// Approve posts the transfer immediately.
type Approve struct{ risk.Verdict }

// ChallengeRequired holds the transfer until the sender passes MFA.
type ChallengeRequired struct{ risk.Verdict }

// Blocked rejects the transfer and deactivates the sender.
type Blocked struct{ risk.Verdict }

func (d Approve) verdict() risk.Verdict           { return d.Verdict }
func (d ChallengeRequired) verdict() risk.Verdict { return d.Verdict }
func (d Blocked) verdict() risk.Verdict           { return d.Verdict }

func (Approve) initialStatus() ledger.Status           { return ledger.StatusCompletedPendingPosting }
func (ChallengeRequired) initialStatus() ledger.Status { return ledger.StatusMFARequired }
func (Blocked) initialStatus() ledger.Status           { return ledger.StatusRejectedHighRisk }

// Decide maps a verdict to its decision by risk level.
func Decide(v risk.Verdict) (Decision, error) {
	switch v.Level {
	case risk.LevelLow:
		return Approve{v}, nil
	case risk.LevelMedium:
		return ChallengeRequired{v}, nil
	case risk.LevelHigh:
		return Blocked{v}, nil
	default:
		return nil, fmt.Errorf("unknown risk level %q", v.Level)
	}
}
