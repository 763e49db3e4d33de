package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"homebid/internal/api/middleware"
	"homebid/internal/apperrors"
	"homebid/internal/payments"
	"homebid/internal/services"
)

// PaymentHandler exposes the payment state machine over REST.
type PaymentHandler struct {
	paymentService services.IPaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService services.IPaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// CreateOrder handles POST /v1/bid/:id/order: creates the provider order
// backing the caller's bid.
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apperrors.Authorization("authentication required"))
		return
	}
	bidID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payment, err := h.paymentService.CreateOrder(c.Request.Context(), bidID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, payment)
}

// requireOrderOwner verifies the order's payment belongs to the caller and
// responds with the appropriate error otherwise. The state-machine service
// methods stay actor-less for the resolver, so ownership is enforced here.
func (h *PaymentHandler) requireOrderOwner(c *gin.Context, orderID string) bool {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apperrors.Authorization("authentication required"))
		return false
	}
	payment, err := h.paymentService.FindByOrderID(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return false
	}
	if payment.UserID != userID {
		respondError(c, apperrors.Authorization("order %s does not belong to the caller", orderID))
		return false
	}
	return true
}

// Authorize handles POST /v1/order/:id/authorize.
func (h *PaymentHandler) Authorize(c *gin.Context) {
	orderID := c.Param("id")
	if !h.requireOrderOwner(c, orderID) {
		return
	}

	payment, err := h.paymentService.Authorize(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, payment)
}

type updateAmountRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

// UpdateAmount handles PATCH /v1/order/:id/amount.
func (h *PaymentHandler) UpdateAmount(c *gin.Context) {
	var req updateAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request: %v", err))
		return
	}
	orderID := c.Param("id")
	if !h.requireOrderOwner(c, orderID) {
		return
	}

	payment, err := h.paymentService.UpdateOrderAmount(c.Request.Context(), orderID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, payment)
}

// GetPayment handles GET /v1/bid/:id/payment: the payment mirror for the
// caller's bid.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apperrors.Authorization("authentication required"))
		return
	}
	bidID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payment, err := h.paymentService.FindByBidID(c.Request.Context(), bidID)
	if err != nil {
		respondError(c, err)
		return
	}
	if payment.UserID != userID {
		respondError(c, apperrors.Authorization("payment for bid %s does not belong to the caller", bidID.String()))
		return
	}
	respondOK(c, http.StatusOK, payment)
}

type setupTokenRequest struct {
	Number       string `json:"number" binding:"required"`
	Expiry       string `json:"expiry" binding:"required"`
	SecurityCode string `json:"security_code"`
	Name         string `json:"name"`
}

// CreateSetupToken handles POST /v1/vault/setup-token: stores card details
// with the provider's vault for card-on-file setup.
func (h *PaymentHandler) CreateSetupToken(c *gin.Context) {
	var req setupTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request: %v", err))
		return
	}

	token, err := h.paymentService.CreateSetupToken(c.Request.Context(), payments.CardDetails{
		Number:   req.Number,
		Expiry:   req.Expiry,
		Security: req.SecurityCode,
		Name:     req.Name,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, token)
}

type paymentTokenRequest struct {
	OrderID      string `json:"order_id" binding:"required"`
	SetupTokenID string `json:"setup_token_id" binding:"required"`
	Brand        string `json:"brand"`
	LastDigits   string `json:"last_digits"`
}

// CreatePaymentToken handles POST /v1/vault/payment-token: exchanges an
// approved setup token and attaches the card source to the order's payment.
func (h *PaymentHandler) CreatePaymentToken(c *gin.Context) {
	var req paymentTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request: %v", err))
		return
	}
	if !h.requireOrderOwner(c, req.OrderID) {
		return
	}

	payment, err := h.paymentService.CreatePaymentToken(c.Request.Context(), req.OrderID, req.SetupTokenID, req.Brand, req.LastDigits)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, payment)
}
