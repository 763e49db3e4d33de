package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"homebid/internal/apperrors"
	"homebid/internal/config"
)

// Provider is the payment-provider contract consumed by the orchestrator.
// Every call is a single provider round trip; failures are returned as
// ExternalService errors with the provider message passed through.
type Provider interface {
	CreateOrder(ctx context.Context, amount float64, currencyCode, referenceID string) (*Order, error)
	AuthorizeOrder(ctx context.Context, orderID string) (*Authorization, error)
	CaptureAuthorization(ctx context.Context, authorizationID string) (*Capture, error)
	VoidAuthorization(ctx context.Context, authorizationID string) error
	UpdateOrderAmount(ctx context.Context, orderID string, amount float64, currencyCode string) error
	CreateSetupToken(ctx context.Context, card CardDetails) (*VaultToken, error)
	CreatePaymentToken(ctx context.Context, setupTokenID string) (*VaultToken, error)
}

// Link is a HATEOAS link returned by the provider.
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// Order is the provider-side order created with AUTHORIZE intent.
type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []Link `json:"links"`
}

// ApproveLink returns the buyer-facing checkout link, if present.
func (o *Order) ApproveLink() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// Authorization is a provider-side hold on funds not yet captured.
type Authorization struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
}

// Capture is the result of converting an authorization into a transfer.
type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CardDetails is the card data submitted for vaulting.
type CardDetails struct {
	Number   string `json:"number"`
	Expiry   string `json:"expiry"` // YYYY-MM
	Name     string `json:"name,omitempty"`
	Security string `json:"security_code,omitempty"`
}

// VaultToken is a setup or payment token for stored card sources.
type VaultToken struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// Client calls the provider's REST surface. Credentials travel as basic
// auth; every mutating request carries a fresh idempotency request ID.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewClient creates a provider client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:      cfg.PaymentAPIBaseURL,
		clientID:     cfg.PaymentClientID,
		clientSecret: cfg.PaymentClientSecret,
		httpClient:   &http.Client{Timeout: cfg.PaymentCallTimeout},
	}
}

func formatAmount(value float64, currencyCode string) amount {
	return amount{
		CurrencyCode: currencyCode,
		Value:        strconv.FormatFloat(value, 'f', 2, 64),
	}
}

// CreateOrder creates a provider order with AUTHORIZE intent.
func (c *Client) CreateOrder(ctx context.Context, value float64, currencyCode, referenceID string) (*Order, error) {
	body := map[string]any{
		"intent": "AUTHORIZE",
		"purchase_units": []map[string]any{
			{
				"reference_id": referenceID,
				"amount":       formatAmount(value, currencyCode),
			},
		},
	}
	var order Order
	if err := c.do(ctx, http.MethodPost, "/orders", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// AuthorizeOrder places a hold on the approved order's funds.
func (c *Client) AuthorizeOrder(ctx context.Context, orderID string) (*Authorization, error) {
	var auth Authorization
	path := fmt.Sprintf("/orders/%s/authorize", orderID)
	if err := c.do(ctx, http.MethodPost, path, map[string]any{}, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

// CaptureAuthorization converts a hold into an actual funds transfer.
func (c *Client) CaptureAuthorization(ctx context.Context, authorizationID string) (*Capture, error) {
	var capture Capture
	path := fmt.Sprintf("/authorizations/%s/capture", authorizationID)
	if err := c.do(ctx, http.MethodPost, path, map[string]any{}, &capture); err != nil {
		return nil, err
	}
	return &capture, nil
}

// VoidAuthorization cancels a hold without capturing funds.
func (c *Client) VoidAuthorization(ctx context.Context, authorizationID string) error {
	path := fmt.Sprintf("/authorizations/%s/void", authorizationID)
	return c.do(ctx, http.MethodPost, path, map[string]any{}, nil)
}

// UpdateOrderAmount replaces the purchase-unit amount on an open order.
func (c *Client) UpdateOrderAmount(ctx context.Context, orderID string, value float64, currencyCode string) error {
	patch := []map[string]any{
		{
			"op":    "replace",
			"path":  "/purchase_units/@reference_id=='default'/amount",
			"value": formatAmount(value, currencyCode),
		},
	}
	path := fmt.Sprintf("/orders/%s", orderID)
	return c.do(ctx, http.MethodPatch, path, patch, nil)
}

// CreateSetupToken stores card details for later tokenization.
func (c *Client) CreateSetupToken(ctx context.Context, card CardDetails) (*VaultToken, error) {
	body := map[string]any{
		"payment_source": map[string]any{"card": card},
	}
	var token VaultToken
	if err := c.do(ctx, http.MethodPost, "/vault/setup-tokens", body, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// CreatePaymentToken exchanges an approved setup token for a reusable
// payment token.
func (c *Client) CreatePaymentToken(ctx context.Context, setupTokenID string) (*VaultToken, error) {
	body := map[string]any{
		"payment_source": map[string]any{
			"token": map[string]any{"id": setupTokenID, "type": "SETUP_TOKEN"},
		},
	}
	var token VaultToken
	if err := c.do(ctx, http.MethodPost, "/vault/payment-tokens", body, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

type providerError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.ExternalService(err, "failed to encode provider request")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.ExternalService(err, "failed to create provider request")
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.ExternalService(err, "provider call %s %s failed", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.ExternalService(err, "failed to read provider response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var pe providerError
		message := string(respBody)
		if json.Unmarshal(respBody, &pe) == nil && pe.Message != "" {
			message = pe.Message
		}
		return apperrors.ExternalService(
			fmt.Errorf("status %d: %s", resp.StatusCode, message),
			"provider rejected %s %s", method, path)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperrors.ExternalService(err, "failed to decode provider response")
		}
	}
	return nil
}
