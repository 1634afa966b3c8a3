package escrow

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tradewind/settlement/internal/actor"
	"github.com/tradewind/settlement/internal/ledger"
	"github.com/tradewind/settlement/internal/money"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.Lock)
	r.GET("/escrows/:id", h.Get)
	r.GET("/escrows/by-order/:orderId", h.GetByOrder)
	r.POST("/escrows/:id/release", h.Release)
	r.POST("/escrows/:id/refund", h.Refund)
}

type lockRequest struct {
	OrderID             string `json:"orderId" binding:"required"`
	BuyerWalletID       string `json:"buyerWalletId" binding:"required"`
	BeneficiaryWalletID string `json:"beneficiaryWalletId" binding:"required"`
	TotalAmount         int64  `json:"totalAmount" binding:"required"`
	PlatformFee         int64  `json:"platformFee"`
	FundFromWallet      bool   `json:"fundFromWallet"`
}

type releaseRequest struct {
	Note string `json:"note"`
}

type refundRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// Lock handles POST /api/v1/escrows
func (h *Handler) Lock(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	e, err := h.service.Lock(c.Request.Context(), LockParams{
		OrderID:             req.OrderID,
		BuyerWalletID:       req.BuyerWalletID,
		BeneficiaryWalletID: req.BeneficiaryWalletID,
		TotalAmount:         req.TotalAmount,
		PlatformFee:         req.PlatformFee,
		FundFromWallet:      req.FundFromWallet,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"escrow": e})
}

// Get handles GET /api/v1/escrows/:id
func (h *Handler) Get(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// GetByOrder handles GET /api/v1/escrows/by-order/:orderId
func (h *Handler) GetByOrder(c *gin.Context) {
	e, err := h.service.GetByOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// Release handles POST /api/v1/escrows/:id/release
func (h *Handler) Release(c *gin.Context) {
	// The note is optional, so an empty body is fine.
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	e, err := h.service.Release(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// Refund handles POST /api/v1/escrows/:id/refund
func (h *Handler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	e, err := h.service.Refund(c.Request.Context(), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ledger.ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Escrow or wallet not found",
		})
	case errors.Is(err, ErrAlreadyLocked):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_locked",
			"message": "Escrow already exists for this order",
		})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "Escrow is not in a status that allows this operation",
		})
	case errors.Is(err, ErrRefundExceedsTotal):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "refund_exceeds_total",
			"message": "Cumulative refund would exceed the escrow total",
		})
	case errors.Is(err, ErrDeliveryNotConfirmed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "delivery_not_confirmed",
			"message": "Delivery must be confirmed before release",
		})
	case errors.Is(err, actor.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Actor lacks the required capability",
		})
	case errors.Is(err, ledger.ErrWalletFrozen):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "wallet_frozen",
			"message": "Target wallet is frozen",
		})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "insufficient_funds",
			"message": "Insufficient funds",
		})
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, money.ErrInvalidAmount):
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
