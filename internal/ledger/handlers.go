package ledger

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/auth"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/pagination"
	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/validation"
)

// Handler provides HTTP endpoints for accounts and transfer history.
type Handler struct {
	service *Service
}

// NewHandler creates a new ledger handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up routes that require a bearer token.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/me", h.GetMyAccount)
	r.POST("/accounts", h.OpenAccount)
	r.GET("/transfers", h.ListHistory)
	r.GET("/transfers/:id", validation.TransferIDParamMiddleware(), h.GetTransfer)
}

// RegisterAdminRoutes sets up routes behind auth.RequireAdmin.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/accounts/:id/unblock", h.UnblockAccount)
}

// OpenAccountRequest is the body of POST /v1/accounts.
type OpenAccountRequest struct {
	HolderName string `json:"holderName"`
}

// GetMyAccount handles GET /v1/accounts/me
func (h *Handler) GetMyAccount(c *gin.Context) {
	acct, ok := h.callerAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": NewAccountView(acct)})
}

// OpenAccount handles POST /v1/accounts
func (h *Handler) OpenAccount(c *gin.Context) {
	var req OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	req.HolderName = validation.SanitizeString(req.HolderName, 120)
	if errs := validation.Validate(
		validation.Required("holderName", req.HolderName),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	acct, err := h.service.OpenAccount(c.Request.Context(), auth.UserID(c), req.HolderName)
	if err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "account_exists",
				"message": "An account already exists for this user",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to open account",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": NewAccountView(acct)})
}

// ListHistory handles GET /v1/transfers
func (h *Handler) ListHistory(c *gin.Context) {
	acct, ok := h.callerAccount(c)
	if !ok {
		return
	}
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	page, err := h.service.History(c.Request.Context(), acct.ID, limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "Cursor is invalid",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load transfer history",
		})
		return
	}

	items := make([]TransferView, 0, len(page.Items))
	for _, it := range page.Items {
		items = append(items, NewTransferView(it.Transfer, it.Direction))
	}
	c.JSON(http.StatusOK, gin.H{
		"transfers":  items,
		"count":      len(items),
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

// GetTransfer handles GET /v1/transfers/:id
func (h *Handler) GetTransfer(c *gin.Context) {
	acct, ok := h.callerAccount(c)
	if !ok {
		return
	}
	t, entries, err := h.service.TransferDetail(c.Request.Context(), acct.ID, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "transfer_not_found",
				"message": "Transfer not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load transfer",
		})
		return
	}

	direction := DirectionIncoming
	if t.SenderAccountID == acct.ID {
		direction = DirectionOutgoing
	}
	c.JSON(http.StatusOK, gin.H{
		"transfer": NewTransferView(t, direction),
		"entries":  NewEntryViews(entries),
	})
}

// UnblockAccount handles POST /v1/admin/accounts/:id/unblock
func (h *Handler) UnblockAccount(c *gin.Context) {
	acct, err := h.service.UnblockAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "account_not_found",
				"message": "Account not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to unblock account",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": NewAccountView(acct)})
}

// callerAccount resolves the account owned by the token subject, writing
// the error response itself when it cannot.
func (h *Handler) callerAccount(c *gin.Context) (*Account, bool) {
	acct, err := h.service.AccountForOwner(c.Request.Context(), auth.UserID(c))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
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
