package payout

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tradewind/settlement/internal/actor"
	"github.com/tradewind/settlement/internal/ledger"
	"github.com/tradewind/settlement/internal/money"
)

// Handler provides HTTP endpoints for payout operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new payout handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payout routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payouts", h.Request)
	r.GET("/payouts/:id", h.Get)
	r.PATCH("/payouts/:id", h.Decide)
	r.POST("/payouts/:id/complete", h.Complete)
	r.GET("/wallets/:id/payouts", h.ListByWallet)
}

type requestPayoutRequest struct {
	WalletID string `json:"walletId" binding:"required"`
	Amount   int64  `json:"amount" binding:"required"`
}

type decideRequest struct {
	Action string `json:"action" binding:"required"`
	Notes  string `json:"notes"`
}

// Request handles POST /api/v1/payouts
func (h *Handler) Request(c *gin.Context) {
	var req requestPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	p, err := h.service.Request(c.Request.Context(), req.WalletID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payout": p})
}

// Get handles GET /api/v1/payouts/:id
func (h *Handler) Get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": p})
}

// Decide handles PATCH /api/v1/payouts/:id
func (h *Handler) Decide(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	p, err := h.service.Decide(c.Request.Context(), c.Param("id"), Action(req.Action), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": p})
}

// Complete handles POST /api/v1/payouts/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	p, err := h.service.MarkCompleted(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payout": p})
}

// ListByWallet handles GET /api/v1/wallets/:id/payouts
func (h *Handler) ListByWallet(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	payouts, err := h.service.ListByWallet(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payouts": payouts,
		"count":   len(payouts),
	})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ledger.ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Payout or wallet not found",
		})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "Payout is not in a status that allows this decision",
		})
	case errors.Is(err, ErrBelowMinimum):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "below_minimum",
			"message": err.Error(),
		})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "insufficient_funds",
			"message": "Insufficient unlocked funds",
		})
	case errors.Is(err, ledger.ErrWalletFrozen):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "wallet_frozen",
			"message": "Wallet is frozen",
		})
	case errors.Is(err, actor.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Actor lacks the required capability",
		})
	case errors.Is(err, ErrInvalidAction), errors.Is(err, money.ErrInvalidAmount):
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
