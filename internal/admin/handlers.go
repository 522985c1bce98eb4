package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/ledger"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/logging"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/reconciliation"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/risk"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/transfer"
)

// DefaultStuckAge is how long an approved transfer may wait for posting
// before it is listed as stuck.
const DefaultStuckAge = 5 * time.Minute

// TransferService abstracts transfer recovery operations for admin handlers.
type TransferService interface {
	StuckTransfers(ctx context.Context, age time.Duration, limit int) ([]*ledger.Transfer, error)
	RetryPosting(ctx context.Context, transferID string) (*transfer.Result, error)
}

// ReconciliationRunner runs ledger reconciliation on demand.
type ReconciliationRunner interface {
	Reconcile(ctx context.Context) (*reconciliation.Report, error)
	Last() *reconciliation.Report
}

// AssessmentExporter exports risk assessments for model training data.
type AssessmentExporter interface {
	ListSince(ctx context.Context, since time.Time, limit int) ([]*risk.Assessment, error)
}

// Handler provides admin HTTP endpoints.
type Handler struct {
	transfers   TransferService
	reconciler  ReconciliationRunner
	assessments AssessmentExporter
	clock       clockwork.Clock
}

// NewHandler creates a new admin handler.
func NewHandler() *Handler {
	return &Handler{clock: clockwork.NewRealClock()}
}

// WithTransferService sets the service used to recover stuck transfers.
func (h *Handler) WithTransferService(svc TransferService) *Handler {
	h.transfers = svc
	return h
}

// WithReconciler sets the reconciliation runner for on-demand reconciliation.
func (h *Handler) WithReconciler(r ReconciliationRunner) *Handler {
	h.reconciler = r
	return h
}

// WithAssessmentExporter sets the store used for assessment export.
func (h *Handler) WithAssessmentExporter(e AssessmentExporter) *Handler {
	h.assessments = e
	return h
}

// WithClock sets the clock used for default export windows.
func (h *Handler) WithClock(clock clockwork.Clock) *Handler {
	h.clock = clock
	return h
}

// RegisterRoutes sets up admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/transfers/stuck", h.listStuck)
	r.POST("/admin/transfers/:id/retry-posting", h.retryPosting)
	r.POST("/admin/reconcile", h.triggerReconciliation)
	r.GET("/admin/reconcile", h.lastReconciliation)
	r.GET("/admin/assessments/export", h.exportAssessments)
}

// listStuck returns approved transfers still waiting to be posted.
func (h *Handler) listStuck(c *gin.Context) {
	if h.transfers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "transfer service not configured"})
		return
	}

	limit := queryInt(c, "limit", 100, 1000)
	age := DefaultStuckAge
	if s := c.Query("olderThan"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": "olderThan must be a duration such as 5m"})
			return
		}
		age = d
	}

	list, err := h.transfers.StuckTransfers(c.Request.Context(), age, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list stuck transfers", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list stuck transfers"})
		return
	}

	out := make([]StuckTransfer, 0, len(list))
	for _, t := range list {
		out = append(out, StuckTransfer{
			ID:                    t.ID,
			SenderAccountID:       t.SenderAccountID,
			ReceiverAccountNumber: transfer.MaskAccountNumber(t.ReceiverAccountNumber),
			Amount:                ledger.Money(t.Amount),
			Currency:              t.Currency,
			RiskLevel:             t.RiskLevel,
			Status:                string(t.Status),
			CreatedAt:             t.CreatedAt,
			UpdatedAt:             t.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"transfers": out, "count": len(out)})
}

// retryPosting re-runs posting for one stuck transfer.
func (h *Handler) retryPosting(c *gin.Context) {
	if h.transfers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "transfer service not configured"})
		return
	}

	id := c.Param("id")
	res, err := h.transfers.RetryPosting(c.Request.Context(), id)
	switch {
	case errors.Is(err, ledger.ErrTransferNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "transfer_not_found", "message": "Transfer not found"})
		return
	case errors.Is(err, transfer.ErrNotPendingPosting):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transfer_state", "message": "Only transfers waiting to be posted can be retried"})
		return
	case err != nil && res != nil:
		logging.L(c.Request.Context()).Error("retry posting failed", "transfer_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "posting_failed",
			"message":    "Posting failed again",
			"transferId": res.TransferID,
			"status":     res.Status,
		})
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("retry posting failed", "transfer_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to retry posting"})
		return
	}

	c.JSON(http.StatusOK, transfer.NewResultView(res))
}

// triggerReconciliation runs an on-demand ledger reconciliation.
func (h *Handler) triggerReconciliation(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "reconciliation not configured"})
		return
	}

	report, err := h.reconciler.Reconcile(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("reconciliation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation_failed", "message": "Failed to reconcile the ledger"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

// lastReconciliation returns the latest report without running a new one.
func (h *Handler) lastReconciliation(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "reconciliation not configured"})
		return
	}

	report := h.reconciler.Last()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No reconciliation has run yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// exportAssessments exports risk assessments for model training data.
func (h *Handler) exportAssessments(c *gin.Context) {
	if h.assessments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "assessment export not configured"})
		return
	}

	since := h.clock.Now().AddDate(0, 0, -30) // Default: last 30 days
	if s := c.Query("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": "since must be an RFC 3339 timestamp"})
			return
		}
		since = parsed
	}
	limit := queryInt(c, "limit", 1000, 10000)

	list, err := h.assessments.ListSince(c.Request.Context(), since, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to export assessments", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to export assessments"})
		return
	}

	records := make([]AssessmentExportRecord, 0, len(list))
	for _, a := range list {
		records = append(records, AssessmentExportRecord{
			ID:               a.ID,
			TransferID:       a.TransferID,
			SenderAccountID:  a.SenderAccountID,
			Features:         a.Features,
			FraudProbability: a.FraudProbability,
			RiskLevel:        string(a.RiskLevel),
			Action:           string(a.Action),
			ModelVersion:     a.ModelVersion,
			Error:            a.Error,
			EvaluatedAt:      a.EvaluatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"assessments": records, "count": len(records), "since": since})
}

func queryInt(c *gin.Context, key string, def, max int) int {
	if s := c.Query(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}
