package order

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tradewind/settlement/internal/actor"
	"github.com/tradewind/settlement/internal/money"
)

// Handler provides HTTP endpoints for order operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up order routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.Create)
	r.GET("/orders/:id", h.Get)
	r.POST("/orders/:id/transition", h.Transition)
	r.POST("/orders/:id/confirm-delivery", h.ConfirmDelivery)
	r.POST("/orders/:id/shipment", h.UpdateShipment)
	r.GET("/orders/:id/shipment", h.GetShipment)
}

type createOrderRequest struct {
	BuyerID     string `json:"buyerId" binding:"required"`
	SupplierID  string `json:"supplierId" binding:"required"`
	TotalAmount int64  `json:"totalAmount" binding:"required"`
	Currency    string `json:"currency"`
}

type transitionRequest struct {
	To string `json:"to" binding:"required"`
}

type confirmDeliveryRequest struct {
	ProofOfDelivery string `json:"proofOfDelivery"`
}

type shipmentRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
}

// Create handles POST /api/v1/orders
func (h *Handler) Create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	o, err := h.service.Create(c.Request.Context(), CreateParams{
		BuyerID:     req.BuyerID,
		SupplierID:  req.SupplierID,
		TotalAmount: req.TotalAmount,
		Currency:    req.Currency,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": o})
}

// Get handles GET /api/v1/orders/:id
func (h *Handler) Get(c *gin.Context) {
	o, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// Transition handles POST /api/v1/orders/:id/transition
func (h *Handler) Transition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	o, err := h.service.Transition(c.Request.Context(), c.Param("id"), Status(req.To))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// ConfirmDelivery handles POST /api/v1/orders/:id/confirm-delivery
func (h *Handler) ConfirmDelivery(c *gin.Context) {
	var req confirmDeliveryRequest
	_ = c.ShouldBindJSON(&req) // body optional for buyer confirmations

	sh, err := h.service.ConfirmDelivery(c.Request.Context(), c.Param("id"), req.ProofOfDelivery)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shipment": sh})
}

// UpdateShipment handles POST /api/v1/orders/:id/shipment
func (h *Handler) UpdateShipment(c *gin.Context) {
	var req shipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	sh, err := h.service.UpdateShipment(c.Request.Context(), c.Param("id"), req.Carrier, req.TrackingNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shipment": sh})
}

// GetShipment handles GET /api/v1/orders/:id/shipment
func (h *Handler) GetShipment(c *gin.Context) {
	sh, err := h.service.store.GetShipment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shipment": sh})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrShipmentNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Order not found",
		})
	case errors.Is(err, ErrIllegalTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "illegal_transition",
			"message": err.Error(),
		})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "Order status changed concurrently, re-fetch and retry",
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
