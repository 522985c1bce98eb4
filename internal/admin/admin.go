// Package admin provides admin-only endpoints for resolving stuck transfers
// and auditing the ledger and risk decisions.
package admin

import (
	"time"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/risk"
)

// StuckTransfer is an approved transfer whose posting never finished.
type StuckTransfer struct {
	ID                    string    `json:"id"`
	SenderAccountID       string    `json:"senderAccountId"`
	ReceiverAccountNumber string    `json:"receiverAccountNumber"`
	Amount                string    `json:"amount"`
	Currency              string    `json:"currency"`
	RiskLevel             string    `json:"riskLevel,omitempty"`
	Status                string    `json:"status"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// AssessmentExportRecord is a serializable risk assessment for model
// training and audit export.
type AssessmentExportRecord struct {
	ID               string             `json:"id"`
	TransferID       string             `json:"transferId,omitempty"`
	SenderAccountID  string             `json:"senderAccountId"`
	Features         risk.FeatureVector `json:"features"`
	FraudProbability *float64           `json:"fraudProbability,omitempty"`
	RiskLevel        string             `json:"riskLevel,omitempty"`
	Action           string             `json:"action,omitempty"`
	ModelVersion     string             `json:"modelVersion,omitempty"`
	Error            string             `json:"error,omitempty"`
	EvaluatedAt      time.Time          `json:"evaluatedAt"`
}
