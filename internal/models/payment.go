package models

import (
	"time"

	"homebid/internal/utils"
)

// PaymentStatus mirrors the provider-side state of the backing order.
type PaymentStatus string

const (
	PaymentCreated    PaymentStatus = "CREATED"
	PaymentAuthorized PaymentStatus = "AUTHORIZED"
	PaymentCaptured   PaymentStatus = "CAPTURED"
	PaymentVoided     PaymentStatus = "VOIDED"
)

// CanAmend reports whether the order amount may still be changed.
// Amendment is a side transition: it changes the amount, not the status.
func (s PaymentStatus) CanAmend() bool {
	return s == PaymentCreated || s == PaymentAuthorized
}

// Terminal reports whether the payment reached a final state.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCaptured || s == PaymentVoided
}

// CardSource is optional tokenized-card metadata attached after vaulting.
type CardSource struct {
	Brand        string `bson:"brand,omitempty" json:"brand,omitempty"`
	LastDigits   string `bson:"last_digits,omitempty" json:"last_digits,omitempty"`
	PaymentToken string `bson:"payment_token,omitempty" json:"payment_token,omitempty"`
}

// Payment is the local mirror of a provider order, 1:1 with a Bid.
// It is created at order-creation time, mutated through the state machine
// and never deleted.
type Payment struct {
	Base            `bson:",inline"`
	UserID          utils.SixID   `bson:"user_id" json:"user_id"`
	BidID           utils.SixID   `bson:"bid_id" json:"bid_id"`
	OrderID         string        `bson:"order_id" json:"order_id"`
	AuthorizationID string        `bson:"authorization_id,omitempty" json:"authorization_id,omitempty"`
	AuthExpiresAt   *time.Time    `bson:"auth_expires_at,omitempty" json:"auth_expires_at,omitempty"`
	Amount          float64       `bson:"amount" json:"amount"`
	CurrencyCode    string        `bson:"currency_code" json:"currency_code"`
	Card            *CardSource   `bson:"card,omitempty" json:"card,omitempty"`
	Status          PaymentStatus `bson:"status" json:"status"`
	CreatedAt       time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at" json:"updated_at"`
}
