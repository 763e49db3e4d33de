package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homebid/internal/config"
	"homebid/internal/models"
	"homebid/internal/payments"
	"homebid/internal/utils"
)

// stubPaymentService lets each test override just the methods it exercises.
type stubPaymentService struct {
	applyWebhook       func(ctx context.Context, event *payments.WebhookEvent) error
	findByOrderID      func(ctx context.Context, orderID string) (*models.Payment, error)
	authorize          func(ctx context.Context, orderID string) (*models.Payment, error)
	updateOrderAmount  func(ctx context.Context, orderID string, newAmount float64) (*models.Payment, error)
	createPaymentToken func(ctx context.Context, orderID, setupTokenID, brand, lastDigits string) (*models.Payment, error)
}

func (s *stubPaymentService) CreateOrder(ctx context.Context, bidID, actorID utils.SixID) (*models.Payment, error) {
	panic("not used")
}

func (s *stubPaymentService) Authorize(ctx context.Context, orderID string) (*models.Payment, error) {
	if s.authorize == nil {
		panic("not used")
	}
	return s.authorize(ctx, orderID)
}

func (s *stubPaymentService) Capture(ctx context.Context, authorizationID string) (*models.Payment, error) {
	panic("not used")
}

func (s *stubPaymentService) Void(ctx context.Context, authorizationID string) (*models.Payment, error) {
	panic("not used")
}

func (s *stubPaymentService) UpdateOrderAmount(ctx context.Context, orderID string, newAmount float64) (*models.Payment, error) {
	if s.updateOrderAmount == nil {
		panic("not used")
	}
	return s.updateOrderAmount(ctx, orderID, newAmount)
}

func (s *stubPaymentService) CreateSetupToken(ctx context.Context, card payments.CardDetails) (*payments.VaultToken, error) {
	panic("not used")
}

func (s *stubPaymentService) CreatePaymentToken(ctx context.Context, orderID, setupTokenID, brand, lastDigits string) (*models.Payment, error) {
	if s.createPaymentToken == nil {
		panic("not used")
	}
	return s.createPaymentToken(ctx, orderID, setupTokenID, brand, lastDigits)
}

func (s *stubPaymentService) FindByBidID(ctx context.Context, bidID utils.SixID) (*models.Payment, error) {
	panic("not used")
}

func (s *stubPaymentService) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	if s.findByOrderID == nil {
		panic("not used")
	}
	return s.findByOrderID(ctx, orderID)
}

func (s *stubPaymentService) ApplyWebhook(ctx context.Context, event *payments.WebhookEvent) error {
	return s.applyWebhook(ctx, event)
}

func newWebhookRouter(svc *stubPaymentService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{PaymentWebhookSecret: "hook-secret"}
	r := gin.New()
	r.POST("/v1/payment/webhook", NewWebhookHandler(cfg, svc).Handle)
	return r
}

func postWebhook(r *gin.Engine, secret string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/payment/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	called := false
	r := newWebhookRouter(&stubPaymentService{applyWebhook: func(ctx context.Context, event *payments.WebhookEvent) error {
		called = true
		return nil
	}})

	body, _ := json.Marshal(payments.WebhookEvent{ID: "WH-1", EventType: payments.WebhookCaptureCompleted})

	assert.Equal(t, http.StatusForbidden, postWebhook(r, "", body).Code)
	assert.Equal(t, http.StatusForbidden, postWebhook(r, "wrong", body).Code)
	assert.False(t, called)
}

func TestWebhookDeliversEvent(t *testing.T) {
	var got *payments.WebhookEvent
	r := newWebhookRouter(&stubPaymentService{applyWebhook: func(ctx context.Context, event *payments.WebhookEvent) error {
		got = event
		return nil
	}})

	resource, _ := json.Marshal(map[string]string{"id": "AUTH-1"})
	body, _ := json.Marshal(payments.WebhookEvent{
		ID:        "WH-1",
		EventType: payments.WebhookAuthorizationVoided,
		Resource:  resource,
	})

	w := postWebhook(r, "hook-secret", body)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, payments.WebhookAuthorizationVoided, got.EventType)

	decoded, err := got.DecodeResource()
	require.NoError(t, err)
	assert.Equal(t, "AUTH-1", decoded.ID)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	r := newWebhookRouter(&stubPaymentService{applyWebhook: func(ctx context.Context, event *payments.WebhookEvent) error {
		t.Fatal("service must not see malformed payloads")
		return nil
	}})

	w := postWebhook(r, "hook-secret", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
