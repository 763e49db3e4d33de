package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"homebid/internal/apperrors"
	"homebid/internal/config"
	"homebid/internal/db"
	"homebid/internal/models"
	"homebid/internal/payments"
	"homebid/internal/utils"
)

// IPaymentService is the state machine wrapping the external payment
// provider. It mirrors provider state locally:
// CREATED -> AUTHORIZED -> {CAPTURED | VOIDED}, with amount amendment as a
// side transition from CREATED/AUTHORIZED.
type IPaymentService interface {
	CreateOrder(ctx context.Context, bidID, actorID utils.SixID) (*models.Payment, error)
	Authorize(ctx context.Context, orderID string) (*models.Payment, error)
	Capture(ctx context.Context, authorizationID string) (*models.Payment, error)
	Void(ctx context.Context, authorizationID string) (*models.Payment, error)
	UpdateOrderAmount(ctx context.Context, orderID string, newAmount float64) (*models.Payment, error)
	CreateSetupToken(ctx context.Context, card payments.CardDetails) (*payments.VaultToken, error)
	CreatePaymentToken(ctx context.Context, orderID, setupTokenID, brand, lastDigits string) (*models.Payment, error)
	FindByBidID(ctx context.Context, bidID utils.SixID) (*models.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	ApplyWebhook(ctx context.Context, event *payments.WebhookEvent) error
}

const paymentsCollection = "payments"

type paymentService struct {
	db         *mongo.Database
	cfg        *config.Config
	provider   payments.Provider
	bidService IBidService
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(database *mongo.Database, cfg *config.Config, provider payments.Provider, bidService IBidService) IPaymentService {
	return &paymentService{
		db:         database,
		cfg:        cfg,
		provider:   provider,
		bidService: bidService,
	}
}

// CreateOrder creates the provider order backing a bid, with
// amount = latest accepted price x whole rental days, and persists the
// local Payment mirror in CREATED. One order per bid: successive raises
// amend this order instead of creating a new one.
func (s *paymentService) CreateOrder(ctx context.Context, bidID, actorID utils.SixID) (*models.Payment, error) {
	bid, err := s.bidService.FindBidByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.UserID != actorID {
		return nil, apperrors.Authorization("bid %s does not belong to the caller", bidID.String())
	}
	price, ok := bid.LatestPrice()
	if !ok {
		return nil, apperrors.Validation("bid %s has no accepted price", bidID.String())
	}
	days := bid.RentalDays()
	if days <= 0 {
		return nil, apperrors.Validation("rental period must cover at least one whole day")
	}

	if existing, err := s.FindByBidID(ctx, bidID); err == nil {
		return nil, apperrors.Conflict("order %s already exists for bid %s", existing.OrderID, bidID.String())
	} else if apperrors.KindOf(err) != apperrors.KindNotFound {
		return nil, err
	}

	amount := price * float64(days)
	order, err := s.provider.CreateOrder(ctx, amount, s.cfg.CurrencyCode, bidID.String())
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	payment := &models.Payment{
		UserID:       bid.UserID,
		BidID:        bidID,
		OrderID:      order.ID,
		Amount:       amount,
		CurrencyCode: s.cfg.CurrencyCode,
		Status:       models.PaymentCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	doc, err := db.InsertOne(ctx, s.db.Collection(paymentsCollection), payment)
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, apperrors.Conflict("order already exists for bid %s", bidID.String())
		}
		// The provider order exists but the mirror write failed; no
		// compensating rollback is attempted.
		return nil, apperrors.Persistence(err, "failed to persist payment for order %s", order.ID)
	}
	payment = doc.(*models.Payment)

	checkoutLink := order.ApproveLink()
	bidUpdate := bson.M{"$set": bson.M{"order_id": order.ID, "checkout_link": checkoutLink, "updated_at": now}}
	if _, err := s.db.Collection(bidsCollection).UpdateOne(ctx, bson.M{"_id": bidID}, bidUpdate); err != nil {
		utils.Error("failed to attach order to bid", map[string]any{
			"bid_id":   bidID.String(),
			"order_id": order.ID,
			"error":    err.Error(),
		})
	}
	return payment, nil
}

// Authorize places the provider-side hold and moves CREATED -> AUTHORIZED.
func (s *paymentService) Authorize(ctx context.Context, orderID string) (*models.Payment, error) {
	payment, err := s.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentCreated {
		return nil, apperrors.Conflict("order %s cannot be authorized from status %s", orderID, payment.Status)
	}

	auth, err := s.provider.AuthorizeOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	update := bson.M{"$set": bson.M{
		"status":           models.PaymentAuthorized,
		"authorization_id": auth.ID,
		"auth_expires_at":  auth.ExpirationTime,
		"updated_at":       time.Now().UTC(),
	}}
	return s.transition(ctx, bson.M{"order_id": orderID, "status": models.PaymentCreated}, update,
		"order %s was authorized concurrently", orderID)
}

// Capture converts the hold into a funds transfer: AUTHORIZED -> CAPTURED.
func (s *paymentService) Capture(ctx context.Context, authorizationID string) (*models.Payment, error) {
	payment, err := s.findByAuthorizationID(ctx, authorizationID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentAuthorized {
		return nil, apperrors.Conflict("authorization %s cannot be captured from status %s", authorizationID, payment.Status)
	}

	if _, err := s.provider.CaptureAuthorization(ctx, authorizationID); err != nil {
		return nil, err
	}

	update := bson.M{"$set": bson.M{"status": models.PaymentCaptured, "updated_at": time.Now().UTC()}}
	return s.transition(ctx, bson.M{"authorization_id": authorizationID, "status": models.PaymentAuthorized}, update,
		"authorization %s left AUTHORIZED concurrently", authorizationID)
}

// Void cancels the hold without capturing: AUTHORIZED -> VOIDED.
func (s *paymentService) Void(ctx context.Context, authorizationID string) (*models.Payment, error) {
	payment, err := s.findByAuthorizationID(ctx, authorizationID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentAuthorized {
		return nil, apperrors.Conflict("authorization %s cannot be voided from status %s", authorizationID, payment.Status)
	}

	if err := s.provider.VoidAuthorization(ctx, authorizationID); err != nil {
		return nil, err
	}

	update := bson.M{"$set": bson.M{"status": models.PaymentVoided, "updated_at": time.Now().UTC()}}
	return s.transition(ctx, bson.M{"authorization_id": authorizationID, "status": models.PaymentAuthorized}, update,
		"authorization %s left AUTHORIZED concurrently", authorizationID)
}

// UpdateOrderAmount patches the provider-side order amount and the local
// mirror. Legal only from CREATED or AUTHORIZED.
func (s *paymentService) UpdateOrderAmount(ctx context.Context, orderID string, newAmount float64) (*models.Payment, error) {
	if newAmount <= 0 {
		return nil, apperrors.Validation("order amount must be positive")
	}
	payment, err := s.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !payment.Status.CanAmend() {
		return nil, apperrors.Conflict("order %s amount cannot be changed from status %s", orderID, payment.Status)
	}

	if err := s.provider.UpdateOrderAmount(ctx, orderID, newAmount, payment.CurrencyCode); err != nil {
		return nil, err
	}

	update := bson.M{"$set": bson.M{"amount": newAmount, "updated_at": time.Now().UTC()}}
	filter := bson.M{"order_id": orderID, "status": bson.M{"$in": []models.PaymentStatus{models.PaymentCreated, models.PaymentAuthorized}}}
	return s.transition(ctx, filter, update, "order %s reached a terminal state concurrently", orderID)
}

// CreateSetupToken stores card details with the provider's vault.
func (s *paymentService) CreateSetupToken(ctx context.Context, card payments.CardDetails) (*payments.VaultToken, error) {
	if card.Number == "" || card.Expiry == "" {
		return nil, apperrors.Validation("card number and expiry are required")
	}
	return s.provider.CreateSetupToken(ctx, card)
}

// CreatePaymentToken exchanges an approved setup token for a payment token
// and attaches the resulting card source to the order's payment.
func (s *paymentService) CreatePaymentToken(ctx context.Context, orderID, setupTokenID, brand, lastDigits string) (*models.Payment, error) {
	if setupTokenID == "" {
		return nil, apperrors.Validation("setup token id is required")
	}
	if _, err := s.FindByOrderID(ctx, orderID); err != nil {
		return nil, err
	}

	token, err := s.provider.CreatePaymentToken(ctx, setupTokenID)
	if err != nil {
		return nil, err
	}

	update := bson.M{"$set": bson.M{
		"card": &models.CardSource{
			Brand:        brand,
			LastDigits:   lastDigits,
			PaymentToken: token.ID,
		},
		"updated_at": time.Now().UTC(),
	}}
	return s.transition(ctx, bson.M{"order_id": orderID}, update, "payment for order %s disappeared", orderID)
}

// ApplyWebhook mirrors asynchronous provider state into the local Payment
// row. Events for already-mirrored transitions are ignored.
func (s *paymentService) ApplyWebhook(ctx context.Context, event *payments.WebhookEvent) error {
	resource, err := event.DecodeResource()
	if err != nil {
		return apperrors.Validation("malformed webhook resource: %v", err)
	}

	switch event.EventType {
	case payments.WebhookOrderApproved:
		// Approval precedes the authorize call; nothing to mirror yet.
		utils.Info("order approved by buyer", map[string]any{"order_id": resource.ID, "event_id": event.ID})
		return nil

	case payments.WebhookCaptureCompleted:
		authID := resource.AuthorizationID
		if authID == "" {
			authID = resource.ID
		}
		filter := bson.M{"authorization_id": authID, "status": models.PaymentAuthorized}
		update := bson.M{"$set": bson.M{"status": models.PaymentCaptured, "updated_at": time.Now().UTC()}}
		result, err := s.db.Collection(paymentsCollection).UpdateOne(ctx, filter, update)
		if err != nil {
			return apperrors.Persistence(err, "failed to mirror capture for authorization %s", authID)
		}
		if result.MatchedCount == 0 {
			utils.Warn("capture webhook matched no authorized payment", map[string]any{"authorization_id": authID, "event_id": event.ID})
		}
		return nil

	case payments.WebhookAuthorizationVoided:
		filter := bson.M{"authorization_id": resource.ID, "status": models.PaymentAuthorized}
		update := bson.M{"$set": bson.M{"status": models.PaymentVoided, "updated_at": time.Now().UTC()}}
		result, err := s.db.Collection(paymentsCollection).UpdateOne(ctx, filter, update)
		if err != nil {
			return apperrors.Persistence(err, "failed to mirror void for authorization %s", resource.ID)
		}
		if result.MatchedCount == 0 {
			utils.Warn("void webhook matched no authorized payment", map[string]any{"authorization_id": resource.ID, "event_id": event.ID})
		}
		return nil

	default:
		utils.Info("ignoring webhook event", map[string]any{"event_type": event.EventType, "event_id": event.ID})
		return nil
	}
}

// FindByBidID returns the payment backing a bid.
func (s *paymentService) FindByBidID(ctx context.Context, bidID utils.SixID) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.Collection(paymentsCollection).FindOne(ctx, bson.M{"bid_id": bidID}).Decode(&payment)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("no payment for bid %s", bidID.String())
		}
		return nil, apperrors.Persistence(err, "error finding payment for bid %s", bidID.String())
	}
	return &payment, nil
}

// FindByOrderID returns the payment mirroring a provider order. Handlers
// use it to verify order ownership before mutating calls; the state-machine
// methods themselves stay actor-less so the resolver can drive them.
func (s *paymentService) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.Collection(paymentsCollection).FindOne(ctx, bson.M{"order_id": orderID}).Decode(&payment)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("order %s not found", orderID)
		}
		return nil, apperrors.Persistence(err, "error finding payment for order %s", orderID)
	}
	return &payment, nil
}

func (s *paymentService) findByAuthorizationID(ctx context.Context, authorizationID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.Collection(paymentsCollection).FindOne(ctx, bson.M{"authorization_id": authorizationID}).Decode(&payment)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("authorization %s not found", authorizationID)
		}
		return nil, apperrors.Persistence(err, "error finding payment for authorization %s", authorizationID)
	}
	return &payment, nil
}

// transition applies a guarded local state change. The guard repeats the
// status precondition so a concurrent transition surfaces as a conflict
// instead of a blind overwrite.
func (s *paymentService) transition(ctx context.Context, filter, update bson.M, conflictFormat string, args ...any) (*models.Payment, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Payment
	err := s.db.Collection(paymentsCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.Conflict(conflictFormat, args...)
		}
		return nil, apperrors.Persistence(err, "payment state update failed")
	}
	return &updated, nil
}
