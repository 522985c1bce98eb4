package transfer

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/auth"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/ledger"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/logging"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/mfa"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/risk"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/validation"
)

// IdempotencyKeyHeader carries the client's retry key on POST /v1/transfers.
const IdempotencyKeyHeader = "Idempotency-Key"

// Handler provides HTTP endpoints for transfers and MFA.
type Handler struct {
	service  *Service
	accounts *ledger.Service
}

// NewHandler creates a new transfer handler.
func NewHandler(service *Service, accounts *ledger.Service) *Handler {
	return &Handler{service: service, accounts: accounts}
}

// RegisterProtectedRoutes sets up routes that require a bearer token.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/receivers/validate", h.ValidateReceiver)
	r.POST("/transfers", h.InitiateTransfer)
	r.POST("/transfers/:id/mfa/challenge", validation.TransferIDParamMiddleware(), h.CreateChallenge)
	r.POST("/transfers/:id/mfa/verify", validation.TransferIDParamMiddleware(), h.VerifyChallenge)
}

// ValidateReceiverRequest is the body of POST /v1/receivers/validate.
type ValidateReceiverRequest struct {
	ReceiverAccountNumber string `json:"receiverAccountNumber"`
	ReceiverBankCode      string `json:"receiverBankCode"`
}

// InitiateTransferRequest is the body of POST /v1/transfers.
type InitiateTransferRequest struct {
	ReceiverAccountNumber string          `json:"receiverAccountNumber"`
	ReceiverBankCode      string          `json:"receiverBankCode"`
	Amount                decimal.Decimal `json:"amount"`
	Note                  string          `json:"note,omitempty"`
}

// VerifyChallengeRequest is the body of POST /v1/transfers/:id/mfa/verify.
type VerifyChallengeRequest struct {
	Code string `json:"code"`
}

// ResultView is the JSON shape of a transfer outcome.
type ResultView struct {
	TransferID       string        `json:"transferId"`
	Status           ledger.Status `json:"status"`
	FraudProbability *float64      `json:"fraudProbability,omitempty"`
	RiskLevel        risk.Level    `json:"riskLevel,omitempty"`
	Action           risk.Action   `json:"action,omitempty"`
	ModelVersion     string        `json:"modelVersion,omitempty"`
	Message          string        `json:"message"`
	MFARequired      bool          `json:"mfaRequired"`
	ForceLogout      bool          `json:"forceLogout"`
	SenderBalance    *string       `json:"senderBalance,omitempty"`
	ReceiverBalance  *string       `json:"receiverBalance,omitempty"`
	RequestID        string        `json:"requestId,omitempty"`
	Replayed         bool          `json:"replayed,omitempty"`
}

// NewResultView renders a result with money as two-decimal strings.
func NewResultView(r *Result) ResultView {
	v := ResultView{
		TransferID:       r.TransferID,
		Status:           r.Status,
		FraudProbability: r.FraudProbability,
		RiskLevel:        r.RiskLevel,
		Action:           r.Action,
		ModelVersion:     r.ModelVersion,
		Message:          r.Message,
		MFARequired:      r.MFARequired,
		ForceLogout:      r.ForceLogout,
		RequestID:        r.RequestID,
		Replayed:         r.Replayed,
	}
	if r.SenderBalance != nil {
		s := ledger.Money(*r.SenderBalance)
		v.SenderBalance = &s
	}
	if r.ReceiverBalance != nil {
		s := ledger.Money(*r.ReceiverBalance)
		v.ReceiverBalance = &s
	}
	return v
}

// ValidateReceiver handles POST /v1/receivers/validate
func (h *Handler) ValidateReceiver(c *gin.Context) {
	var req ValidateReceiverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	if errs := validation.Validate(
		validation.Required("receiverAccountNumber", req.ReceiverAccountNumber),
		validation.AccountNumber("receiverAccountNumber", req.ReceiverAccountNumber),
		validation.Required("receiverBankCode", req.ReceiverBankCode),
		validation.BankCode("receiverBankCode", req.ReceiverBankCode),
	); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	acct, ok := h.callerAccount(c)
	if !ok {
		return
	}
	check, err := h.service.ValidateReceiver(c.Request.Context(), acct.ID, req.ReceiverAccountNumber, req.ReceiverBankCode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

// InitiateTransfer handles POST /v1/transfers
func (h *Handler) InitiateTransfer(c *gin.Context) {
	var req InitiateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	key := c.GetHeader(IdempotencyKeyHeader)
	amount := ""
	if !req.Amount.IsZero() {
		amount = req.Amount.String()
	}
	if errs := validation.Validate(
		validation.Required("receiverAccountNumber", req.ReceiverAccountNumber),
		validation.AccountNumber("receiverAccountNumber", req.ReceiverAccountNumber),
		validation.Required("receiverBankCode", req.ReceiverBankCode),
		validation.BankCode("receiverBankCode", req.ReceiverBankCode),
		validation.Required("amount", amount),
		validation.ValidAmount("amount", amount),
		validation.MaxLength("note", req.Note, validation.MaxNoteLen),
	); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	if key != "" && !validation.IsValidIdempotencyKey(key) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_idempotency_key",
			"message": "Idempotency-Key must be 8-128 letters, digits or _.:-",
		})
		return
	}

	acct, ok := h.callerAccount(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	res, err := h.service.InitiateTransfer(ctx, acct.ID, Intent{
		ReceiverAccountNumber: req.ReceiverAccountNumber,
		ReceiverBankCode:      req.ReceiverBankCode,
		Amount:                req.Amount,
		Note:                  req.Note,
		IdempotencyKey:        key,
		RequestID:             logging.RequestID(ctx),
	})
	if err != nil {
		writeResultError(c, res, err)
		return
	}
	c.JSON(http.StatusOK, NewResultView(res))
}

// CreateChallenge handles POST /v1/transfers/:id/mfa/challenge
func (h *Handler) CreateChallenge(c *gin.Context) {
	acct, ok := h.callerAccount(c)
	if !ok {
		return
	}
	info, err := h.service.CreateMfaChallenge(c.Request.Context(), acct.ID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// VerifyChallenge handles POST /v1/transfers/:id/mfa/verify
func (h *Handler) VerifyChallenge(c *gin.Context) {
	var req VerifyChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	if len(req.Code) < mfa.MinCodeLength || len(req.Code) > mfa.MaxCodeLength || !validation.IsNumericCode(req.Code) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": fmt.Sprintf("code must be %d-%d digits", mfa.MinCodeLength, mfa.MaxCodeLength),
		})
		return
	}

	acct, ok := h.callerAccount(c)
	if !ok {
		return
	}
	res, err := h.service.VerifyMfaChallenge(c.Request.Context(), acct.ID, c.Param("id"), req.Code)
	if err != nil {
		writeResultError(c, res, err)
		return
	}
	c.JSON(http.StatusOK, NewResultView(res))
}

// callerAccount resolves the account owned by the token subject.
func (h *Handler) callerAccount(c *gin.Context) (*ledger.Account, bool) {
	acct, err := h.accounts.AccountForOwner(c.Request.Context(), auth.UserID(c))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "account_not_found",
				"message": "No account is linked to this user",
			})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to resolve account",
		})
		return nil, false
	}
	return acct, true
}

// writeResultError reports failures that still produced a transfer record.
func writeResultError(c *gin.Context, res *Result, err error) {
	if res == nil {
		writeError(c, err)
		return
	}
	switch {
	case errors.Is(err, risk.ErrClassifierUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":      "classifier_unavailable",
			"message":    res.Message,
			"transferId": res.TransferID,
			"status":     res.Status,
		})
	default:
		logging.L(c.Request.Context()).Error("transfer integrity failure", "transfer_id", res.TransferID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "posting_failed",
			"message":    res.Message,
			"transferId": res.TransferID,
			"status":     res.Status,
		})
	}
}

func writeError(c *gin.Context, err error) {
	var invalid *mfa.InvalidCodeError
	switch {
	case errors.As(err, &invalid):
		msg := fmt.Sprintf("Invalid MFA code. %d attempt(s) remaining.", invalid.Remaining)
		if invalid.Remaining == 0 {
			msg = "Invalid MFA code. Challenge locked. Request a new challenge."
		}
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_mfa_code",
			"message": msg,
			"details": gin.H{"remainingAttempts": invalid.Remaining},
		})
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	case errors.Is(err, ErrAccountBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": "account_blocked", "message": "Account is blocked. Contact support."})
	case errors.Is(err, ErrReceiverNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "receiver_not_found", "message": msgReceiverNotFound})
	case errors.Is(err, ErrReceiverInactive):
		c.JSON(http.StatusBadRequest, gin.H{"error": "receiver_inactive", "message": "Receiver account is inactive."})
	case errors.Is(err, ErrSameAccount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "same_account", "message": msgSameAccount})
	case errors.Is(err, ErrCurrencyMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "currency_mismatch", "message": msgCurrencyMismatch})
	case errors.Is(err, ErrIdempotencyConflict):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "idempotency_conflict",
			"message": "Idempotency-Key was already used for a different transfer",
		})
	case errors.Is(err, ledger.ErrTransferNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "transfer_not_found", "message": "Transfer request was not found."})
	case errors.Is(err, ErrNotAwaitingMFA):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_transfer_state",
			"message": "Transfer is not eligible for MFA in its current status.",
		})
	case errors.Is(err, mfa.ErrChallengeNotFound):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "mfa_not_initiated",
			"message": "MFA challenge was not initiated for this transfer.",
		})
	case errors.Is(err, mfa.ErrChallengeLocked):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "mfa_locked",
			"message": "MFA challenge is locked due to failed attempts. Request a new challenge.",
		})
	case errors.Is(err, mfa.ErrAlreadyVerified):
		c.JSON(http.StatusConflict, gin.H{"error": "mfa_already_verified", "message": "MFA challenge was already verified."})
	case errors.Is(err, mfa.ErrChallengeExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "mfa_expired", "message": "MFA code expired. Request a new challenge."})
	case errors.Is(err, mfa.ErrStaleChallenge):
		c.JSON(http.StatusConflict, gin.H{"error": "mfa_conflict", "message": "MFA challenge changed concurrently. Retry."})
	default:
		logging.L(c.Request.Context()).Error("transfer request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal server error"})
	}
}

func invalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid request body",
	})
}

func validationFailed(c *gin.Context, errs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": errs.Error(),
		"details": errs,
	})
}
