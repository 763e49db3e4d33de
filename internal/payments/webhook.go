package payments

import (
	"encoding/json"
	"time"
)

// Webhook event types delivered by the provider.
const (
	WebhookOrderApproved       = "CHECKOUT.ORDER.APPROVED"
	WebhookCaptureCompleted    = "PAYMENT.CAPTURE.COMPLETED"
	WebhookAuthorizationVoided = "PAYMENT.AUTHORIZATION.VOIDED"
)

// WebhookEvent is the envelope posted to the webhook receiver.
type WebhookEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime time.Time       `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

// WebhookResource is the subset of resource fields the local mirror needs.
type WebhookResource struct {
	ID              string `json:"id"`
	Status          string `json:"status,omitempty"`
	AuthorizationID string `json:"authorization_id,omitempty"`
	OrderID         string `json:"order_id,omitempty"`
}

// DecodeResource unmarshals the event resource.
func (e *WebhookEvent) DecodeResource() (*WebhookResource, error) {
	var r WebhookResource
	if err := json.Unmarshal(e.Resource, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
