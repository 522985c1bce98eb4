// Package mfa issues and verifies one-time codes that gate medium-risk
// transfers.
//
// A challenge belongs to exactly one transfer. Only a hash of the code is
// stored; verification attempts are bounded and the challenge expires after
// a fixed TTL. State changes are compare-and-set on (status, attempts) so
// concurrent verifications cannot lose an attempt.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	ErrChallengeLocked   = errors.New("mfa challenge is locked")
	ErrChallengeExpired  = errors.New("mfa challenge expired")
	ErrAlreadyVerified   = errors.New("mfa challenge already verified")
	ErrInvalidCode       = errors.New("invalid mfa code")
	ErrStaleChallenge    = errors.New("mfa challenge changed concurrently")
)

// InvalidCodeError reports a wrong code and how many attempts remain.
// Remaining is 0 when this attempt locked the challenge.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	if e.Remaining == 0 {
		return "invalid mfa code: challenge locked"
	}
	return fmt.Sprintf("invalid mfa code: %d attempt(s) remaining", e.Remaining)
}

// Is makes errors.Is(err, ErrInvalidCode) match.
func (e *InvalidCodeError) Is(target error) bool {
	return target == ErrInvalidCode
}

// Status is a challenge's lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
	StatusExpired  Status = "EXPIRED"
	StatusLocked   Status = "LOCKED"
)

// Challenge is the stored state of one MFA challenge.
type Challenge struct {
	TransferID      string     `json:"transferId" db:"transfer_id"`
	SenderAccountID string     `json:"senderAccountId" db:"sender_account_id"`
	CodeHash        string     `json:"-" db:"code_hash"`
	CodeLength      int        `json:"codeLength" db:"code_length"`
	Attempts        int        `json:"attempts" db:"attempts"`
	MaxAttempts     int        `json:"maxAttempts" db:"max_attempts"`
	Status          Status     `json:"status" db:"status"`
	ExpiresAt       time.Time  `json:"expiresAt" db:"expires_at"`
	VerifiedAt      *time.Time `json:"verifiedAt,omitempty" db:"verified_at"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`
}

// RemainingAttempts returns how many wrong codes are still tolerated.
func (c *Challenge) RemainingAttempts() int {
	if r := c.MaxAttempts - c.Attempts; r > 0 {
		return r
	}
	return 0
}

// Store persists challenges keyed by transfer id.
type Store interface {
	// Upsert creates the challenge or replaces the one for the same transfer.
	// A VERIFIED challenge is never replaced: ErrAlreadyVerified.
	Upsert(ctx context.Context, c *Challenge) error
	Get(ctx context.Context, transferID string) (*Challenge, error)
	// Update writes c's status, attempts and verifiedAt when the stored
	// challenge still has expectStatus and expectAttempts; otherwise
	// ErrStaleChallenge.
	Update(ctx context.Context, c *Challenge, expectStatus Status, expectAttempts int) error
	// ExpirePending marks up to limit PENDING challenges with expiresAt
	// before now as EXPIRED and returns their transfer ids.
	ExpirePending(ctx context.Context, now time.Time, limit int) ([]string, error)
}
