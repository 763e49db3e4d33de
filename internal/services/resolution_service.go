package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"homebid/internal/apperrors"
	"homebid/internal/config"
	"homebid/internal/events"
	"homebid/internal/models"
	"homebid/internal/notify"
	"homebid/internal/utils"
)

// IResolutionService closes expired bidding windows and settles them.
type IResolutionService interface {
	// ResolveExpired claims and resolves every deadline whose window has
	// elapsed. Safe to call from multiple triggers: each deadline is
	// claimed atomically, so re-runs are no-ops.
	ResolveExpired(ctx context.Context) error
	// ResolveDeadline resolves one specific elapsed deadline.
	ResolveDeadline(ctx context.Context, deadlineID utils.SixID) error
}

type resolutionService struct {
	db             *mongo.Database
	cfg            *config.Config
	bidService     IBidService
	paymentService IPaymentService
	listingService IListingService
	userService    IUserService
	dispatcher     notify.Dispatcher
	publisher      events.Publisher
}

// NewResolutionService creates a new ResolutionService.
func NewResolutionService(database *mongo.Database, cfg *config.Config, bidService IBidService, paymentService IPaymentService, listingService IListingService, userService IUserService, dispatcher notify.Dispatcher, publisher events.Publisher) IResolutionService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &resolutionService{
		db:             database,
		cfg:            cfg,
		bidService:     bidService,
		paymentService: paymentService,
		listingService: listingService,
		userService:    userService,
		dispatcher:     dispatcher,
		publisher:      publisher,
	}
}

// ResolveExpired repeatedly claims the next elapsed active deadline until
// none remain.
func (s *resolutionService) ResolveExpired(ctx context.Context) error {
	for {
		deadline, err := s.claimNext(ctx)
		if err != nil {
			return err
		}
		if deadline == nil {
			return nil
		}
		if err := s.settle(ctx, deadline); err != nil {
			// The deadline stays claimed: settlement errors are logged,
			// not rolled back, matching the no-compensation model.
			utils.Error("deadline settlement failed", map[string]any{
				"deadline_id": deadline.ID.String(),
				"listing_id":  deadline.ListingID.String(),
				"error":       err.Error(),
			})
		}
	}
}

// ResolveDeadline claims and settles a single deadline. A deadline that is
// already resolved, still active, or unknown yields no error and no work.
func (s *resolutionService) ResolveDeadline(ctx context.Context, deadlineID utils.SixID) error {
	deadline, err := s.claim(ctx, bson.M{"_id": deadlineID})
	if err != nil {
		return err
	}
	if deadline == nil {
		return nil
	}
	return s.settle(ctx, deadline)
}

// claimNext atomically deactivates and closes one elapsed deadline,
// returning nil when there is nothing left to resolve. The single guarded
// update is what makes resolution idempotent: a deadline can be claimed
// exactly once.
func (s *resolutionService) claimNext(ctx context.Context) (*models.BidDeadline, error) {
	return s.claim(ctx, nil)
}

func (s *resolutionService) claim(ctx context.Context, extra bson.M) (*models.BidDeadline, error) {
	now := time.Now().UTC()
	filter := bson.M{"is_active": true, "end": bson.M{"$lte": now}}
	for k, v := range extra {
		filter[k] = v
	}
	update := bson.M{"$set": bson.M{
		"is_active":   false,
		"is_closed":   true,
		"resolved_at": now,
		"updated_at":  now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var deadline models.BidDeadline
	err := s.db.Collection(deadlinesCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&deadline)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperrors.Persistence(err, "failed to claim expired deadline")
	}
	return &deadline, nil
}

// settle picks the winner, captures their authorization, voids the losers'
// outstanding authorizations and notifies the winner.
func (s *resolutionService) settle(ctx context.Context, deadline *models.BidDeadline) error {
	head, ok := deadline.CurrentPrice()
	if !ok {
		utils.Info("bidding window closed with no bids", map[string]any{
			"deadline_id": deadline.ID.String(),
			"listing_id":  deadline.ListingID.String(),
		})
		return nil
	}

	bids, err := s.bidService.FindBidsByDeadline(ctx, deadline.ID)
	if err != nil {
		return err
	}

	// The ledger is strictly increasing, so exactly one bid holds the head
	// price; ties cannot occur.
	var winner *models.Bid
	for i := range bids {
		if price, ok := bids[i].LatestPrice(); ok && price == head {
			winner = &bids[i]
			break
		}
	}
	if winner == nil {
		return apperrors.Persistence(nil, "no bid holds the ledger head %.2f for deadline %s", head, deadline.ID.String())
	}

	now := time.Now().UTC()
	_, err = s.db.Collection(deadlinesCollection).UpdateOne(ctx,
		bson.M{"_id": deadline.ID},
		bson.M{"$set": bson.M{"winner_bid": winner.ID, "updated_at": now}})
	if err != nil {
		return apperrors.Persistence(err, "failed to record winner for deadline %s", deadline.ID.String())
	}
	if _, err := s.db.Collection(bidsCollection).UpdateOne(ctx,
		bson.M{"_id": winner.ID},
		bson.M{"$set": bson.M{"won": true, "updated_at": now}}); err != nil {
		return apperrors.Persistence(err, "failed to mark winning bid %s", winner.ID.String())
	}

	amount := s.settleWinnerPayment(ctx, winner, head)
	s.voidLosers(ctx, bids, winner.ID)
	s.notifyWinner(ctx, deadline, winner, head, amount)
	return nil
}

// settleWinnerPayment brings the winner's order amount up to date and
// captures the authorization. Provider failures are logged and left for
// manual follow-up; there is no retry.
func (s *resolutionService) settleWinnerPayment(ctx context.Context, winner *models.Bid, head float64) float64 {
	expected := head * float64(winner.RentalDays())

	payment, err := s.paymentService.FindByBidID(ctx, winner.ID)
	if err != nil {
		utils.Warn("winning bid has no payment to capture", map[string]any{
			"bid_id": winner.ID.String(),
			"error":  err.Error(),
		})
		return expected
	}

	if payment.Amount != expected && payment.Status.CanAmend() {
		if _, err := s.paymentService.UpdateOrderAmount(ctx, payment.OrderID, expected); err != nil {
			utils.Error("failed to amend winning order amount", map[string]any{
				"order_id": payment.OrderID,
				"amount":   expected,
				"error":    err.Error(),
			})
		}
	}

	if payment.Status != models.PaymentAuthorized {
		utils.Warn("winning payment is not authorized, skipping capture", map[string]any{
			"bid_id": winner.ID.String(),
			"status": string(payment.Status),
		})
		return expected
	}
	if _, err := s.paymentService.Capture(ctx, payment.AuthorizationID); err != nil {
		utils.Error("failed to capture winning authorization", map[string]any{
			"authorization_id": payment.AuthorizationID,
			"error":            err.Error(),
		})
	}
	return expected
}

// voidLosers releases the losing bidders' outstanding holds. A failed void
// is logged and does not abort the rest of the settlement.
func (s *resolutionService) voidLosers(ctx context.Context, bids []models.Bid, winnerID utils.SixID) {
	for i := range bids {
		if bids[i].ID == winnerID {
			continue
		}
		payment, err := s.paymentService.FindByBidID(ctx, bids[i].ID)
		if err != nil {
			continue
		}
		if payment.Status != models.PaymentAuthorized {
			continue
		}
		if _, err := s.paymentService.Void(ctx, payment.AuthorizationID); err != nil {
			utils.Error("failed to void losing authorization", map[string]any{
				"authorization_id": payment.AuthorizationID,
				"bid_id":           bids[i].ID.String(),
				"error":            err.Error(),
			})
		}
	}
}

// notifyWinner sends the winner an email and an SMS and delivers the
// private Bid-Won event. Notification failures are logged, never retried.
func (s *resolutionService) notifyWinner(ctx context.Context, deadline *models.BidDeadline, winner *models.Bid, head, amount float64) {
	listingTitle := deadline.ListingID.String()
	if listing, err := s.listingService.FindListingByID(ctx, deadline.ListingID); err == nil {
		listingTitle = listing.Title
	}

	user, err := s.userService.FindByID(ctx, winner.UserID)
	if err != nil {
		utils.Error("cannot address winner notification", map[string]any{
			"user_id": winner.UserID.String(),
			"error":   err.Error(),
		})
	} else {
		subject := fmt.Sprintf("You won the bidding for %s", listingTitle)
		body := fmt.Sprintf(
			"<p>Congratulations %s!</p><p>Your bid of %.2f per day won the bidding for <b>%s</b>. The total of %.2f will be charged to your authorized payment method.</p>",
			user.Name, head, listingTitle, amount)
		if err := s.dispatcher.SendEmail(ctx, notify.Message{
			Recipients: []string{user.Email},
			Subject:    subject,
			HTMLBody:   body,
		}); err != nil {
			utils.Error("winner email dispatch failed", map[string]any{"user_id": user.ID.String(), "error": err.Error()})
		}
		if user.Phone != "" {
			text := fmt.Sprintf("You won the bidding for %s at %.2f/day. Total: %.2f.", listingTitle, head, amount)
			if err := s.dispatcher.SendSMS(ctx, user.Phone, text); err != nil {
				utils.Error("winner sms dispatch failed", map[string]any{"user_id": user.ID.String(), "error": err.Error()})
			}
		}
	}

	s.publisher.PublishUser(winner.UserID, events.EventBidWon, events.BidWon{
		ListingID: deadline.ListingID,
		BidID:     winner.ID,
		Price:     head,
		Amount:    amount,
	})
}
