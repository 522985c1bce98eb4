// Package transfer orchestrates risk-gated money transfers.
//
// Flow:
//  1. Validate the request and resolve both accounts
//  2. Score the transfer once with the fraud classifier (no locks held)
//  3. Persist the transfer with its verdict
//  4. LOW: post immediately. MEDIUM: hold for MFA. HIGH: reject and block the sender
//  5. MFA verification moves a held transfer to posting
package transfer

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/ledger"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/risk"
)

var (
	ErrAccountBlocked      = errors.New("sender account is blocked")
	ErrReceiverNotFound    = errors.New("receiver account not found")
	ErrReceiverInactive    = errors.New("receiver account is inactive")
	ErrSameAccount         = errors.New("sender and receiver account are the same")
	ErrCurrencyMismatch    = errors.New("sender and receiver currencies differ")
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
	ErrNotAwaitingMFA      = errors.New("transfer is not awaiting mfa")
	ErrPostingFailed       = errors.New("transfer posting failed")
	ErrNotPendingPosting   = errors.New("transfer is not waiting to be posted")
)

// User-facing outcome messages.
const (
	msgApproved          = "Transfer approved and posted successfully."
	msgMFARequired       = "Transfer flagged for additional verification. Complete MFA to continue."
	msgBlocked           = "High-risk transfer detected. Account blocked and session must be terminated."
	msgInsufficientFunds = "Insufficient funds. Transfer was rejected."
	msgClassifierDown    = "Risk assessment is unavailable. Transfer was not executed."
	msgPostingFailed     = "Transfer could not be posted."
	msgChallengeIssued   = "MFA challenge generated. Verify the code to complete transfer posting."
	msgMFAVerified       = "MFA verified. Transfer posted successfully."

	msgReceiverNotFound = "Receiver account was not found."
	msgSameAccount      = "Sender and receiver account cannot be the same."
	msgReceiverInactive = "Receiver account is currently inactive."
	msgReceiverValid    = "Receiver account validated."
	msgCurrencyMismatch = "Receiver account holds a different currency."
)

// Intent is a customer's request to move money from their account.
type Intent struct {
	ReceiverAccountNumber string
	ReceiverBankCode      string
	Amount                decimal.Decimal
	Note                  string
	// IdempotencyKey makes retries safe: a second call with the same key
	// returns the first call's result.
	IdempotencyKey string
	RequestID      string
}

// Result is the outcome of InitiateTransfer or VerifyMfaChallenge.
// Balances are set only when money moved.
type Result struct {
	TransferID       string
	Status           ledger.Status
	FraudProbability *float64
	RiskLevel        risk.Level
	Action           risk.Action
	ModelVersion     string
	Message          string
	MFARequired      bool
	ForceLogout      bool
	SenderBalance    *decimal.Decimal
	ReceiverBalance  *decimal.Decimal
	RequestID        string
	Replayed         bool
}

// ReceiverCheck is the answer to ValidateReceiver.
type ReceiverCheck struct {
	Exists              bool   `json:"exists"`
	HolderName          string `json:"holderName,omitempty"`
	MaskedAccountNumber string `json:"maskedAccountNumber,omitempty"`
	BankCode            string `json:"bankCode,omitempty"`
	Message             string `json:"message"`
}

// ChallengeInfo describes an issued MFA challenge.
type ChallengeInfo struct {
	TransferID        string        `json:"transferId"`
	Status            ledger.Status `json:"status"`
	MFARequired       bool          `json:"mfaRequired"`
	Message           string        `json:"message"`
	ExpiresAt         time.Time     `json:"expiresAt"`
	RemainingAttempts int           `json:"remainingAttempts"`
	DemoCode          string        `json:"demoCode,omitempty"`
}

// MaskAccountNumber hides all but the last four characters.
func MaskAccountNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	masked := make([]byte, len(number))
	for i := range masked[:len(number)-4] {
		masked[i] = '*'
	}
	copy(masked[len(number)-4:], number[len(number)-4:])
	return string(masked)
}
