// Package risk scores transfers with a fraud classifier and maps the
// probability to a risk level and action.
//
// The classifier is an external model reached through Gateway, which adds a
// per-call timeout, bounded retries and a circuit breaker. Any failure is
// reported as ErrClassifierUnavailable so callers can fail closed.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrClassifierUnavailable = errors.New("fraud classifier unavailable")
	ErrInvalidProbability    = errors.New("fraud probability outside [0, 1]")
	ErrInvalidThresholds     = errors.New("risk thresholds must satisfy 0 <= low < high <= 1")
)

// Level is the risk band derived from a fraud probability.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Action is what the orchestrator does for a level.
type Action string

const (
	ActionApprove    Action = "APPROVE"
	ActionTriggerMFA Action = "TRIGGER_MFA"
	ActionBlock      Action = "BLOCK"
)

// Default thresholds for risk decisions.
const (
	DefaultLowMax  = 0.30
	DefaultHighMin = 0.70
)

// Thresholds splits [0, 1] into three bands: p < LowMax is LOW,
// p >= HighMin is HIGH, everything between is MEDIUM.
type Thresholds struct {
	LowMax  float64
	HighMin float64
}

// DefaultThresholds returns the 0.30 / 0.70 split.
func DefaultThresholds() Thresholds {
	return Thresholds{LowMax: DefaultLowMax, HighMin: DefaultHighMin}
}

// Validate checks 0 <= LowMax < HighMin <= 1.
func (t Thresholds) Validate() error {
	if t.LowMax < 0 || t.HighMin > 1 || t.LowMax >= t.HighMin {
		return fmt.Errorf("%w (got low=%.4f high=%.4f)", ErrInvalidThresholds, t.LowMax, t.HighMin)
	}
	return nil
}

// Classify maps a probability to a level and action.
func (t Thresholds) Classify(p float64) (Level, Action, error) {
	if p < 0 || p > 1 || p != p {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidProbability, p)
	}
	switch {
	case p < t.LowMax:
		return LevelLow, ActionApprove, nil
	case p >= t.HighMin:
		return LevelHigh, ActionBlock, nil
	default:
		return LevelMedium, ActionTriggerMFA, nil
	}
}

// Verdict is the gateway's answer for one transfer.
type Verdict struct {
	Probability  float64 `json:"fraudProbability"`
	Level        Level   `json:"riskLevel"`
	Action       Action  `json:"action"`
	ModelVersion string  `json:"modelVersion"`
}

// Classifier returns the fraud probability for a feature vector.
type Classifier interface {
	Classify(ctx context.Context, features FeatureVector) (probability float64, modelVersion string, err error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, features FeatureVector) (float64, string, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, features FeatureVector) (float64, string, error) {
	return f(ctx, features)
}

// Assessment is the audit record of one scoring attempt.
type Assessment struct {
	ID               string        `json:"id" db:"id"`
	TransferID       string        `json:"transferId,omitempty" db:"transfer_id"`
	SenderAccountID  string        `json:"senderAccountId" db:"sender_account_id"`
	Features         FeatureVector `json:"features" db:"-"`
	FraudProbability *float64      `json:"fraudProbability,omitempty" db:"fraud_probability"`
	RiskLevel        Level         `json:"riskLevel,omitempty" db:"risk_level"`
	Action           Action        `json:"action,omitempty" db:"action"`
	ModelVersion     string        `json:"modelVersion,omitempty" db:"model_version"`
	Error            string        `json:"error,omitempty" db:"error"`
	EvaluatedAt      time.Time     `json:"evaluatedAt" db:"evaluated_at"`
}

// AssessmentStore persists risk assessments for audit trail.
type AssessmentStore interface {
	Record(ctx context.Context, assessment *Assessment) error
	ListByTransfer(ctx context.Context, transferID string) ([]*Assessment, error)
	ListBySender(ctx context.Context, senderAccountID string, limit int) ([]*Assessment, error)
	// ListSince returns assessments evaluated at or after since, oldest first.
	ListSince(ctx context.Context, since time.Time, limit int) ([]*Assessment, error)
}
