package mfa

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/logging"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/metrics"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/traces"
)

// Code bounds.
const (
	MinCodeLength = 4
	MaxCodeLength = 10
)

// Config controls challenge issuance.
type Config struct {
	CodeLength  int
	MaxAttempts int
	TTL         time.Duration
}

// DefaultConfig returns 6 digits, 3 attempts, 5 minutes.
func DefaultConfig() Config {
	return Config{CodeLength: 6, MaxAttempts: 3, TTL: 5 * time.Minute}
}

// Validate checks the config bounds.
func (c Config) Validate() error {
	if c.CodeLength < MinCodeLength || c.CodeLength > MaxCodeLength {
		return fmt.Errorf("mfa code length must be between %d and %d", MinCodeLength, MaxCodeLength)
	}
	if c.MaxAttempts <= 0 {
		return errors.New("mfa max attempts must be positive")
	}
	if c.TTL <= 0 {
		return errors.New("mfa ttl must be positive")
	}
	return nil
}

// Issued is a freshly created challenge and its plaintext code. The code is
// handed to the caller once and never stored.
type Issued struct {
	Challenge *Challenge
	Code      string
}

// Manager creates and verifies challenges.
type Manager struct {
	store  Store
	hasher Hasher
	clock  clockwork.Clock
	cfg    Config
}

// NewManager creates a manager.
func NewManager(store Store, hasher Hasher, clock clockwork.Clock, cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{store: store, hasher: hasher, clock: clock, cfg: cfg}, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Store returns the challenge store.
func (m *Manager) Store() Store {
	return m.store
}

// CreateChallenge issues a new code for transferID, replacing any previous
// challenge for it. The caller checks that the transfer awaits MFA.
func (m *Manager) CreateChallenge(ctx context.Context, transferID, senderAccountID string) (*Issued, error) {
	ctx, span := traces.StartSpan(ctx, "mfa.CreateChallenge", traces.TransferID(transferID))
	defer span.End()

	code, err := generateCode(m.cfg.CodeLength)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	hash, err := m.hasher.Hash(transferID, code)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}

	now := m.clock.Now()
	c := &Challenge{
		TransferID:      transferID,
		SenderAccountID: senderAccountID,
		CodeHash:        hash,
		CodeLength:      m.cfg.CodeLength,
		Attempts:        0,
		MaxAttempts:     m.cfg.MaxAttempts,
		Status:          StatusPending,
		ExpiresAt:       now.Add(m.cfg.TTL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.Upsert(ctx, c); err != nil {
		traces.RecordError(span, err)
		return nil, fmt.Errorf("store mfa challenge: %w", err)
	}

	metrics.MFAChallengesTotal.WithLabelValues("created").Inc()
	logging.L(ctx).Info("mfa challenge created",
		"transfer_id", transferID, "expires_at", c.ExpiresAt, "max_attempts", c.MaxAttempts)
	return &Issued{Challenge: c, Code: code}, nil
}

// VerifyChallenge checks code against the challenge for transferID.
//
// Checks run in order: missing, locked, already verified, expired (a
// PENDING challenge past its expiry becomes EXPIRED), wrong code (attempts
// grow; the challenge locks at the ceiling), match (VERIFIED).
func (m *Manager) VerifyChallenge(ctx context.Context, transferID, code string) (*Challenge, error) {
	ctx, span := traces.StartSpan(ctx, "mfa.VerifyChallenge", traces.TransferID(transferID))
	defer span.End()
	logger := logging.L(ctx)

	c, err := m.store.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case StatusLocked:
		return c, ErrChallengeLocked
	case StatusVerified:
		return c, ErrAlreadyVerified
	case StatusExpired:
		return c, ErrChallengeExpired
	}

	now := m.clock.Now()
	if now.After(c.ExpiresAt) {
		prevAttempts := c.Attempts
		c.Status = StatusExpired
		c.UpdatedAt = now
		if err := m.store.Update(ctx, c, StatusPending, prevAttempts); err != nil {
			return nil, err
		}
		metrics.MFAChallengesTotal.WithLabelValues("expired").Inc()
		logger.Info("mfa challenge expired", "transfer_id", transferID)
		return c, ErrChallengeExpired
	}

	prevAttempts := c.Attempts
	if len(code) != c.CodeLength || !m.hasher.Verify(transferID, code, c.CodeHash) {
		c.Attempts++
		if c.Attempts >= c.MaxAttempts {
			c.Status = StatusLocked
		}
		c.UpdatedAt = now
		if err := m.store.Update(ctx, c, StatusPending, prevAttempts); err != nil {
			return nil, err
		}
		if c.Status == StatusLocked {
			metrics.MFAChallengesTotal.WithLabelValues("locked").Inc()
			logger.Warn("mfa challenge locked", "transfer_id", transferID, "attempts", c.Attempts)
		} else {
			metrics.MFAChallengesTotal.WithLabelValues("invalid").Inc()
			logger.Info("invalid mfa code", "transfer_id", transferID, "attempts", c.Attempts)
		}
		return c, &InvalidCodeError{Remaining: c.RemainingAttempts()}
	}

	c.Status = StatusVerified
	c.VerifiedAt = &now
	c.UpdatedAt = now
	if err := m.store.Update(ctx, c, StatusPending, prevAttempts); err != nil {
		return nil, err
	}
	metrics.MFAChallengesTotal.WithLabelValues("verified").Inc()
	logger.Info("mfa challenge verified", "transfer_id", transferID)
	return c, nil
}

// ExpireDue marks PENDING challenges past expiry as EXPIRED.
func (m *Manager) ExpireDue(ctx context.Context, limit int) ([]string, error) {
	ids, err := m.store.ExpirePending(ctx, m.clock.Now(), limit)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		metrics.MFAChallengesTotal.WithLabelValues("expired").Add(float64(len(ids)))
	}
	return ids, nil
}

// generateCode returns length uniformly random decimal digits.
func generateCode(length int) (string, error) {
	buf := make([]byte, length)
	ten := big.NewInt(10)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate mfa code: %w", err)
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}
