package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/circuitbreaker"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/logging"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/metrics"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/retry"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/traces"
)

const breakerKey = "classifier"

// GatewayConfig bounds each classifier call.
type GatewayConfig struct {
	Timeout          time.Duration
	MaxAttempts      int
	RetryBaseDelay   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultGatewayConfig returns conservative defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Timeout:          2 * time.Second,
		MaxAttempts:      2,
		RetryBaseDelay:   100 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Gateway turns a feature vector into a Verdict.
type Gateway struct {
	classifier Classifier
	thresholds Thresholds
	cfg        GatewayConfig
	breaker    *circuitbreaker.Breaker
}

// NewGateway creates a gateway. Invalid thresholds are rejected.
func NewGateway(classifier Classifier, thresholds Thresholds, cfg GatewayConfig) (*Gateway, error) {
	return NewGatewayWithBreaker(classifier, thresholds, cfg,
		circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown))
}

// NewGatewayWithBreaker is NewGateway with a caller-supplied breaker.
func NewGatewayWithBreaker(classifier Classifier, thresholds Thresholds, cfg GatewayConfig, breaker *circuitbreaker.Breaker) (*Gateway, error) {
	if classifier == nil {
		return nil, errors.New("risk: classifier is required")
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGatewayConfig().Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Gateway{
		classifier: classifier,
		thresholds: thresholds,
		cfg:        cfg,
		breaker:    breaker,
	}, nil
}

// Thresholds returns the configured thresholds.
func (g *Gateway) Thresholds() Thresholds {
	return g.thresholds
}

// BreakerState reports the classifier circuit state.
func (g *Gateway) BreakerState() circuitbreaker.State {
	return g.breaker.State(breakerKey)
}

// Score asks the classifier once (with bounded retries of that one logical
// call) and classifies the result. Every failure wraps
// ErrClassifierUnavailable.
func (g *Gateway) Score(ctx context.Context, features FeatureVector) (Verdict, error) {
	ctx, span := traces.StartSpan(ctx, "risk.Score")
	defer span.End()

	start := time.Now()
	var (
		probability float64
		version     string
	)
	err := g.breaker.Do(breakerKey, func() error {
		return retry.Do(ctx, g.cfg.MaxAttempts, g.cfg.RetryBaseDelay, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
			defer cancel()

			p, v, err := g.classifier.Classify(callCtx, features)
			if err != nil {
				return err
			}
			if p < 0 || p > 1 || p != p {
				return retry.Permanent(fmt.Errorf("%w: %v", ErrInvalidProbability, p))
			}
			probability, version = p, v
			return nil
		})
	})
	metrics.ClassifierDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		reason := failureReason(err)
		metrics.ClassifierFailuresTotal.WithLabelValues(reason).Inc()
		traces.RecordError(span, err)
		logging.L(ctx).Warn("fraud classifier failed", "reason", reason, "error", err)
		return Verdict{}, fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}

	level, action, err := g.thresholds.Classify(probability)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}
	metrics.RiskDecisionsTotal.WithLabelValues(string(level)).Inc()
	span.SetAttributes(traces.RiskLevel(string(level)))

	return Verdict{
		Probability:  probability,
		Level:        level,
		Action:       action,
		ModelVersion: version,
	}, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrInvalidProbability):
		return "invalid_probability"
	default:
		return "error"
	}
}
