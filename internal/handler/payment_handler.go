package handler

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/tillpoint/possync/internal/models"
	"github.com/tillpoint/possync/internal/payment"
	"github.com/tillpoint/possync/internal/utils"
)

// PaymentHandler exposes the buffered payment manager to the POS UI.
type PaymentHandler struct {
	manager *payment.Manager
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(manager *payment.Manager) *PaymentHandler {
	return &PaymentHandler{manager: manager}
}

type cashPaymentRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Amount  int64  `json:"amount" binding:"required"`
}

type cardPaymentRequest struct {
	OrderID     string              `json:"order_id" binding:"required"`
	Amount      int64               `json:"amount" binding:"required"`
	CardDetails *models.CardDetails `json:"card_details,omitempty"`
}

type orderRequest struct {
	OrderID string          `json:"order_id" binding:"required"`
	Order   json.RawMessage `json:"order" binding:"required"`
}

// BufferCash handles POST /v1/payments/cash.
func (h *PaymentHandler) BufferCash(c *gin.Context) {
	var req cashPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Amount <= 0 {
		utils.Error(c, 400, "INVALID_AMOUNT", "amount must be positive")
		return
	}

	paymentID, err := h.manager.BufferCashPayment(c.Request.Context(), req.OrderID, req.Amount)
	if err != nil {
		utils.Error(c, 500, "STORE_ERROR", err.Error())
		return
	}
	utils.Success(c, 201, "Cash payment buffered", gin.H{"payment_id": paymentID})
}

// BufferCard handles POST /v1/payments/card.
func (h *PaymentHandler) BufferCard(c *gin.Context) {
	var req cardPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Amount <= 0 {
		utils.Error(c, 400, "INVALID_AMOUNT", "amount must be positive")
		return
	}

	res, err := h.manager.BufferCardPayment(c.Request.Context(), req.OrderID, req.Amount, req.CardDetails)
	if err != nil {
		utils.Error(c, 500, "STORE_ERROR", err.Error())
		return
	}
	utils.Success(c, 201, "Card payment buffered", gin.H{
		"payment_id":                 res.PaymentID,
		"requires_online_processing": res.RequiresOnlineProcessing,
	})
}

// BufferOrder handles POST /v1/orders.
func (h *PaymentHandler) BufferOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", err.Error())
		return
	}

	opID, err := h.manager.BufferOrder(c.Request.Context(), req.OrderID, req.Order)
	if err != nil {
		utils.Error(c, 500, "STORE_ERROR", err.Error())
		return
	}
	utils.Success(c, 201, "Order buffered", gin.H{"operation_id": opID})
}

// Cancel handles POST /v1/payments/:id/cancel.
func (h *PaymentHandler) Cancel(c *gin.Context) {
	paymentID := c.Param("id")

	cancelled, err := h.manager.CancelBufferedPayment(paymentID)
	if err != nil {
		utils.Error(c, 500, "STORE_ERROR", err.Error())
		return
	}
	utils.Success(c, 200, "Cancel processed", gin.H{"cancelled": cancelled})
}

// List handles GET /v1/payments.
func (h *PaymentHandler) List(c *gin.Context) {
	utils.Success(c, 200, "Buffered payments", h.manager.AllPayments())
}

// Get handles GET /v1/payments/:id.
func (h *PaymentHandler) Get(c *gin.Context) {
	p := h.manager.Payment(c.Param("id"))
	if p == nil {
		utils.Error(c, 404, "PAYMENT_NOT_FOUND", "No buffered payment with that id")
		return
	}
	utils.Success(c, 200, "Buffered payment", p)
}

// GetStatus handles GET /v1/status.
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	utils.Success(c, 200, "Sync status", h.manager.Status())
}

// TriggerSync handles POST /v1/sync.
func (h *PaymentHandler) TriggerSync(c *gin.Context) {
	go h.manager.TriggerProcessing(context.WithoutCancel(c.Request.Context()))
	utils.Success(c, 202, "Sync triggered", nil)
}
