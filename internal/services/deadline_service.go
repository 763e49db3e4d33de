package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"homebid/internal/apperrors"
	"homebid/internal/db"
	"homebid/internal/models"
	"homebid/internal/utils"
)

// IDeadlineScheduler is notified when a new bidding window is opened so the
// process can arm a timer for its end date. Implemented by the scheduler
// package; a nil scheduler is tolerated for worker-only processes.
type IDeadlineScheduler interface {
	Schedule(deadlineID utils.SixID, endAt time.Time)
}

// IDeadlineService manages bidding windows.
type IDeadlineService interface {
	OpenBidding(ctx context.Context, listingID, actorID utils.SixID, startDate, endDate time.Time) (*models.BidDeadline, error)
	FindActiveByListing(ctx context.Context, listingID utils.SixID) (*models.BidDeadline, error)
	FindByID(ctx context.Context, deadlineID utils.SixID) (*models.BidDeadline, error)
	FindUpcoming(ctx context.Context, limit int) ([]models.BidDeadline, error)
	// SetScheduler late-binds the scheduler: the scheduler itself depends
	// on this service, so it cannot exist yet at construction time.
	SetScheduler(scheduler IDeadlineScheduler)
}

const deadlinesCollection = "bid_deadlines"

type deadlineService struct {
	db             *mongo.Database
	listingService IListingService
	scheduler      IDeadlineScheduler
}

// NewDeadlineService creates a new DeadlineService.
func NewDeadlineService(database *mongo.Database, listingService IListingService, scheduler IDeadlineScheduler) IDeadlineService {
	return &deadlineService{db: database, listingService: listingService, scheduler: scheduler}
}

func (s *deadlineService) SetScheduler(scheduler IDeadlineScheduler) {
	s.scheduler = scheduler
}

// OpenBidding opens a bidding window for a listing. Only the owner may open
// one, and a listing can have at most one active window: the partial unique
// index on listing_id rejects a second concurrent insert.
func (s *deadlineService) OpenBidding(ctx context.Context, listingID, actorID utils.SixID, startDate, endDate time.Time) (*models.BidDeadline, error) {
	if !endDate.After(startDate) {
		return nil, apperrors.Validation("end date must be after start date")
	}
	if endDate.Before(time.Now().UTC()) {
		return nil, apperrors.Validation("end date must be in the future")
	}

	listing, err := s.listingService.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.UserID != actorID {
		return nil, apperrors.Authorization("only the listing owner can open bidding")
	}

	now := time.Now().UTC()
	deadline := &models.BidDeadline{
		ListingID:      listingID,
		StartDate:      startDate.UTC(),
		EndDate:        endDate.UTC(),
		BiddingHistory: []models.PriceEntry{},
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	deadline.GenIDIfEmpty()
	_, err = s.db.Collection(deadlinesCollection).InsertOne(ctx, deadline)
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, apperrors.Conflict("listing %s already has an active bidding window", listingID.String())
		}
		return nil, apperrors.Persistence(err, "failed to insert bid deadline")
	}

	if s.scheduler != nil {
		s.scheduler.Schedule(deadline.ID, deadline.EndDate)
	}
	return deadline, nil
}

// FindActiveByListing returns the listing's active bidding window.
func (s *deadlineService) FindActiveByListing(ctx context.Context, listingID utils.SixID) (*models.BidDeadline, error) {
	var deadline models.BidDeadline
	filter := bson.M{"listing_id": listingID, "is_active": true}
	err := s.db.Collection(deadlinesCollection).FindOne(ctx, filter).Decode(&deadline)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("no active bidding window for listing %s", listingID.String())
		}
		return nil, apperrors.Persistence(err, "error finding active deadline for listing %s", listingID.String())
	}
	return &deadline, nil
}

// FindByID returns a bidding window by ID, resolved or not.
func (s *deadlineService) FindByID(ctx context.Context, deadlineID utils.SixID) (*models.BidDeadline, error) {
	var deadline models.BidDeadline
	err := s.db.Collection(deadlinesCollection).FindOne(ctx, bson.M{"_id": deadlineID}).Decode(&deadline)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("bidding window %s not found", deadlineID.String())
		}
		return nil, apperrors.Persistence(err, "error finding deadline %s", deadlineID.String())
	}
	return &deadline, nil
}

// FindUpcoming returns active windows ordered by end date, soonest first.
// The scheduler uses this at startup and on its periodic sweep.
func (s *deadlineService) FindUpcoming(ctx context.Context, limit int) ([]models.BidDeadline, error) {
	opts := options.Find().SetSort(bson.D{{Key: "end", Value: 1}}).SetLimit(int64(limit))
	cursor, err := s.db.Collection(deadlinesCollection).Find(ctx, bson.M{"is_active": true}, opts)
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to query upcoming deadlines")
	}
	defer cursor.Close(ctx)

	var deadlines []models.BidDeadline
	if err = cursor.All(ctx, &deadlines); err != nil {
		return nil, apperrors.Persistence(err, "failed to decode upcoming deadlines")
	}
	return deadlines, nil
}
