package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tradewind/settlement/internal/actor"
	"github.com/tradewind/settlement/internal/ledger"
	"github.com/tradewind/settlement/internal/money"
)

// Handler provides HTTP endpoints for wallet operations.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new wallet handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up wallet routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/wallets", h.CreateWallet)
	r.GET("/wallets/:id", h.GetWallet)
	r.GET("/wallets/:id/entries", h.ListEntries)
	r.POST("/wallets/:id/deposit", h.Deposit)
	r.POST("/wallets/:id/withdraw", h.Withdraw)
	r.POST("/wallets/:id/freeze", h.Freeze)
	r.POST("/wallets/:id/unfreeze", h.Unfreeze)
	r.POST("/wallets/:id/adjust", h.Adjust)
}

type createWalletRequest struct {
	AccountID string `json:"accountId" binding:"required"`
}

// movementRequest accepts the amount as minor units or as a quoted
// decimal major-unit string ("25.00").
type movementRequest struct {
	Amount money.Amount `json:"amount" binding:"required"`
	Reason string       `json:"reason" binding:"required"`
}

type freezeRequest struct {
	Reason string `json:"reason"`
}

// CreateWallet handles POST /api/v1/wallets
func (h *Handler) CreateWallet(c *gin.Context) {
	var req createWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	w, err := h.manager.Create(c.Request.Context(), req.AccountID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "wallet_exists",
				"message": "Wallet already exists",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create wallet",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"wallet": w})
}

// GetWallet handles GET /api/v1/wallets/:id
func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// ListEntries handles GET /api/v1/wallets/:id/entries
func (h *Handler) ListEntries(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	entries, err := h.manager.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// Deposit handles POST /api/v1/wallets/:id/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req movementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	e, err := h.manager.Credit(c.Request.Context(), c.Param("id"), int64(req.Amount), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": e})
}

// Withdraw handles POST /api/v1/wallets/:id/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	var req movementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	e, err := h.manager.Debit(c.Request.Context(), c.Param("id"), int64(req.Amount), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": e})
}

// Freeze handles POST /api/v1/wallets/:id/freeze
func (h *Handler) Freeze(c *gin.Context) {
	var req freezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if err := h.manager.Freeze(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "frozen"})
}

// Unfreeze handles POST /api/v1/wallets/:id/unfreeze
func (h *Handler) Unfreeze(c *gin.Context) {
	if err := h.manager.Unfreeze(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// Adjust handles POST /api/v1/wallets/:id/adjust
func (h *Handler) Adjust(c *gin.Context) {
	var req movementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	e, err := h.manager.Adjust(c.Request.Context(), c.Param("id"), int64(req.Amount), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": e})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Wallet not found",
		})
	case errors.Is(err, actor.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Actor lacks the required capability",
		})
	case errors.Is(err, ledger.ErrWalletFrozen):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "wallet_frozen",
			"message": "Wallet is frozen",
		})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "insufficient_funds",
			"message": "Insufficient funds",
		})
	case errors.Is(err, money.ErrInvalidAmount), errors.Is(err, ErrReasonTooShort), errors.Is(err, ErrReasonRequired):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Unexpected error",
		})
	}
}
