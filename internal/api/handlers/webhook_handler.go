package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"homebid/internal/config"
	"homebid/internal/payments"
	"homebid/internal/services"
	"homebid/internal/utils"
)

// WebhookHandler receives asynchronous payment-provider events.
type WebhookHandler struct {
	cfg            *config.Config
	paymentService services.IPaymentService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(cfg *config.Config, paymentService services.IPaymentService) *WebhookHandler {
	return &WebhookHandler{cfg: cfg, paymentService: paymentService}
}

// Handle processes POST /v1/payment/webhook. The provider is configured to
// send a shared secret in a header; requests without it are rejected before
// the body is decoded. The endpoint always returns 200 for recognized,
// well-formed events so the provider does not retry storms at us.
func (h *WebhookHandler) Handle(c *gin.Context) {
	secret := c.GetHeader("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.cfg.PaymentWebhookSecret)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "invalid webhook secret"})
		return
	}

	var event payments.WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "malformed webhook payload"})
		return
	}

	if err := h.paymentService.ApplyWebhook(c.Request.Context(), &event); err != nil {
		utils.Error("webhook processing failed", map[string]any{
			"event_id":   event.ID,
			"event_type": event.EventType,
			"error":      err.Error(),
		})
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
