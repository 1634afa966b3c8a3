package dispute

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tradewind/settlement/internal/actor"
	"github.com/tradewind/settlement/internal/escrow"
	"github.com/tradewind/settlement/internal/ledger"
	"github.com/tradewind/settlement/internal/money"
	"github.com/tradewind/settlement/internal/order"
)

// Handler provides HTTP endpoints for dispute operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up dispute routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/disputes", h.Open)
	r.GET("/disputes/:id", h.Get)
	r.GET("/disputes/:id/events", h.Events)
	r.POST("/disputes/:id/claim", h.Claim)
	r.POST("/disputes/:id/resolve", h.Resolve)
}

type openRequest struct {
	OrderID string `json:"orderId" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
	Details string `json:"details"`
}

type resolveRequest struct {
	Resolution   string `json:"resolution" binding:"required"`
	Note         string `json:"note"`
	RefundAmount int64  `json:"refundAmount"`
}

// Open handles POST /api/v1/disputes
func (h *Handler) Open(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.Open(c.Request.Context(), req.OrderID, req.Reason, req.Details)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// Get handles GET /api/v1/disputes/:id
func (h *Handler) Get(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// Events handles GET /api/v1/disputes/:id/events
func (h *Handler) Events(c *gin.Context) {
	evs, err := h.service.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": evs,
		"count":  len(evs),
	})
}

// Claim handles POST /api/v1/disputes/:id/claim
func (h *Handler) Claim(c *gin.Context) {
	d, err := h.service.Claim(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// Resolve handles POST /api/v1/disputes/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.Resolve(c.Request.Context(), c.Param("id"), Resolution(req.Resolution), req.Note, req.RefundAmount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, order.ErrNotFound), errors.Is(err, escrow.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute or order not found",
		})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": err.Error(),
		})
	case errors.Is(err, ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_resolved",
			"message": "Dispute is already resolved",
		})
	case errors.Is(err, order.ErrIllegalTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "illegal_transition",
			"message": err.Error(),
		})
	case errors.Is(err, escrow.ErrConflict), errors.Is(err, order.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": err.Error(),
		})
	case errors.Is(err, escrow.ErrRefundExceedsTotal):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "refund_exceeds_total",
			"message": "Refund would exceed the escrow total",
		})
	case errors.Is(err, ledger.ErrWalletFrozen):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "wallet_frozen",
			"message": "Target wallet is frozen; the dispute stays in review",
		})
	case errors.Is(err, actor.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Actor lacks the required capability",
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
