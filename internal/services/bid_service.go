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
	"homebid/internal/events"
	"homebid/internal/models"
	"homebid/internal/utils"
)

// SubmitBidInput carries a bid submission. Both the HTTP handler and the
// realtime channel build one of these and call the same service method.
type SubmitBidInput struct {
	ListingID   utils.SixID
	BidderID    utils.SixID
	PeriodStart time.Time
	PeriodEnd   time.Time
	Price       float64
	TermsAgreed bool
}

// IBidService validates bids and appends them to the ledgers.
type IBidService interface {
	SubmitBid(ctx context.Context, in SubmitBidInput) (*models.Bid, error)
	RaiseBid(ctx context.Context, bidID, bidderID utils.SixID, newPrice float64) (*models.Bid, error)
	FindBidByID(ctx context.Context, bidID utils.SixID) (*models.Bid, error)
	FindBidsByDeadline(ctx context.Context, deadlineID utils.SixID) ([]models.Bid, error)
}

const bidsCollection = "bids"

type bidService struct {
	db              *mongo.Database
	cfg             *config.Config
	listingService  IListingService
	userService     IUserService
	deadlineService IDeadlineService
	publisher       events.Publisher
}

// NewBidService creates a new BidService.
func NewBidService(database *mongo.Database, cfg *config.Config, listingService IListingService, userService IUserService, deadlineService IDeadlineService, publisher events.Publisher) IBidService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &bidService{
		db:              database,
		cfg:             cfg,
		listingService:  listingService,
		userService:     userService,
		deadlineService: deadlineService,
		publisher:       publisher,
	}
}

// SubmitBid validates a submission and appends the price to the listing's
// deadline ledger and to a new Bid's own ledger, then publishes a
// bid-updated event.
func (s *bidService) SubmitBid(ctx context.Context, in SubmitBidInput) (*models.Bid, error) {
	if !in.TermsAgreed {
		return nil, apperrors.Validation("terms must be agreed before bidding")
	}
	if !in.PeriodEnd.After(in.PeriodStart) {
		return nil, apperrors.Validation("rental period end must be after start")
	}
	if in.Price <= 0 {
		return nil, apperrors.Validation("bid price must be positive")
	}

	listing, err := s.listingService.FindListingByID(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}
	if _, err := s.userService.FindByID(ctx, in.BidderID); err != nil {
		return nil, err
	}
	if in.Price < listing.FloorPrice {
		return nil, apperrors.Validation("bid price %.2f is below the floor price %.2f", in.Price, listing.FloorPrice)
	}

	deadline, entry, err := s.appendToDeadlineLedger(ctx, bson.M{"listing_id": in.ListingID}, in.ListingID, in.Price)
	if err != nil {
		return nil, err
	}

	now := entry.At
	bid := &models.Bid{
		UserID:         in.BidderID,
		ListingID:      in.ListingID,
		DeadlineID:     deadline.ID,
		PeriodStart:    in.PeriodStart.UTC(),
		PeriodEnd:      in.PeriodEnd.UTC(),
		TermsAgreed:    true,
		BiddingHistory: []models.PriceEntry{entry},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	doc, err := db.InsertOne(ctx, s.db.Collection(bidsCollection), bid)
	if err != nil {
		// The deadline ledger entry is already in place; there is no
		// compensating rollback on a local write failure.
		utils.Error("bid insert failed after ledger append", map[string]any{
			"listing_id": in.ListingID.String(),
			"bidder_id":  in.BidderID.String(),
			"price":      in.Price,
			"error":      err.Error(),
		})
		return nil, apperrors.Persistence(err, "failed to record bid")
	}
	bid = doc.(*models.Bid)

	s.publisher.PublishListing(in.ListingID, events.EventBidUpdated, events.BidUpdated{
		ListingID:  in.ListingID,
		DeadlineID: deadline.ID,
		BidID:      bid.ID,
		BidderID:   in.BidderID,
		Price:      in.Price,
	})
	return bid, nil
}

// RaiseBid appends a higher price to an existing bid. The new price is
// re-validated against the current ledger head, not the bid's own prior
// price: another bidder's intervening raise makes this call conflict even
// though it looks locally consistent to the caller.
func (s *bidService) RaiseBid(ctx context.Context, bidID, bidderID utils.SixID, newPrice float64) (*models.Bid, error) {
	if newPrice <= 0 {
		return nil, apperrors.Validation("bid price must be positive")
	}

	bid, err := s.FindBidByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.UserID != bidderID {
		return nil, apperrors.Authorization("bid %s does not belong to the caller", bidID.String())
	}

	listing, err := s.listingService.FindListingByID(ctx, bid.ListingID)
	if err != nil {
		return nil, err
	}
	if newPrice < listing.FloorPrice {
		return nil, apperrors.Validation("bid price %.2f is below the floor price %.2f", newPrice, listing.FloorPrice)
	}

	_, entry, err := s.appendToDeadlineLedger(ctx, bson.M{"_id": bid.DeadlineID}, bid.ListingID, newPrice)
	if err != nil {
		return nil, err
	}

	// Mirror the accepted entry into the bid's own ledger. The same guard
	// keeps the per-bid history monotonic when the owner raises twice
	// concurrently.
	filter := bson.M{
		"_id":             bidID,
		"bidding_history": bson.M{"$not": bson.M{"$elemMatch": bson.M{"price": bson.M{"$gte": newPrice}}}},
	}
	update := bson.M{
		"$push": bson.M{"bidding_history": entry},
		"$set":  bson.M{"updated_at": entry.At},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Bid
	if err := s.db.Collection(bidsCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.Conflict("bid %s already holds a price at or above %.2f", bidID.String(), newPrice)
		}
		return nil, apperrors.Persistence(err, "failed to update bid %s", bidID.String())
	}

	s.publisher.PublishListing(bid.ListingID, events.EventBidUpdated, events.BidUpdated{
		ListingID:  bid.ListingID,
		DeadlineID: bid.DeadlineID,
		BidID:      bidID,
		BidderID:   bidderID,
		Price:      newPrice,
	})
	return &updated, nil
}

// appendToDeadlineLedger is the single atomic conditional write behind both
// submission paths: append price P only if the window is open and no ledger
// entry is at or above P. Because the ledger is strictly increasing, "no
// entry >= P" is equivalent to "head < P", and the whole check-then-append
// runs as one FindOneAndUpdate, so two concurrent submissions can never
// both pass.
func (s *bidService) appendToDeadlineLedger(ctx context.Context, base bson.M, listingID utils.SixID, price float64) (*models.BidDeadline, models.PriceEntry, error) {
	now := time.Now().UTC()
	entry := models.PriceEntry{Price: price, At: now}

	filter := bson.M{
		"is_active":       true,
		"start":           bson.M{"$lte": now},
		"end":             bson.M{"$gt": now},
		"bidding_history": bson.M{"$not": bson.M{"$elemMatch": bson.M{"price": bson.M{"$gte": price}}}},
	}
	for k, v := range base {
		filter[k] = v
	}
	update := bson.M{
		"$push": bson.M{"bidding_history": entry},
		"$set":  bson.M{"updated_at": now},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var deadline models.BidDeadline
	err := s.db.Collection(deadlinesCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&deadline)
	if err == nil {
		return &deadline, entry, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, entry, apperrors.Persistence(err, "ledger append failed for listing %s", listingID.String())
	}

	// No match: re-read to tell the caller why. A raise re-reads the bid's
	// own window by ID, not the listing's active window: the listing may
	// have opened a new window since this bid's was resolved, and that
	// window's head says nothing about this bid.
	var current *models.BidDeadline
	var findErr error
	if deadlineID, ok := base["_id"].(utils.SixID); ok {
		current, findErr = s.deadlineService.FindByID(ctx, deadlineID)
	} else {
		current, findErr = s.deadlineService.FindActiveByListing(ctx, listingID)
	}
	if findErr != nil {
		return nil, entry, findErr
	}
	if !current.IsActive || !current.WindowOpen(now) {
		return nil, entry, apperrors.Validation("bidding window for listing %s is not open", listingID.String())
	}
	head, _ := current.CurrentPrice()
	return nil, entry, apperrors.Conflict("bid price %.2f must be strictly greater than the current price %.2f", price, head)
}

// FindBidByID returns a bid by ID.
func (s *bidService) FindBidByID(ctx context.Context, bidID utils.SixID) (*models.Bid, error) {
	var bid models.Bid
	err := s.db.Collection(bidsCollection).FindOne(ctx, bson.M{"_id": bidID}).Decode(&bid)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("bid %s not found", bidID.String())
		}
		return nil, apperrors.Persistence(err, "error finding bid %s", bidID.String())
	}
	return &bid, nil
}

// FindBidsByDeadline returns all bids placed against one bidding window.
func (s *bidService) FindBidsByDeadline(ctx context.Context, deadlineID utils.SixID) ([]models.Bid, error) {
	cursor, err := s.db.Collection(bidsCollection).Find(ctx, bson.M{"deadline_id": deadlineID})
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to query bids for deadline %s", deadlineID.String())
	}
	defer cursor.Close(ctx)

	var bids []models.Bid
	if err = cursor.All(ctx, &bids); err != nil {
		return nil, apperrors.Persistence(err, "failed to decode bids for deadline %s", deadlineID.String())
	}
	return bids, nil
}
