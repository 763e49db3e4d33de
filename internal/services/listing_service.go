package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"homebid/internal/apperrors"
	"homebid/internal/config"
	"homebid/internal/db"
	"homebid/internal/models"
	"homebid/internal/utils"
)

// IListingService is the narrow listing contract the bidding pipeline
// depends on: existence, floor price and ownership. Full listing CRUD
// lives outside this service.
type IListingService interface {
	CreateListing(ctx context.Context, ownerID utils.SixID, title, description string, amenities []string, floorPrice float64, currencyCode string) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
}

const listingsCollection = "listings"

type listingService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewListingService creates a new ListingService.
func NewListingService(db *mongo.Database, cfg *config.Config) IListingService {
	return &listingService{db: db, cfg: cfg}
}

// CreateListing creates a listing open for bidding.
func (s *listingService) CreateListing(ctx context.Context, ownerID utils.SixID, title, description string, amenities []string, floorPrice float64, currencyCode string) (*models.Listing, error) {
	if title == "" {
		return nil, apperrors.Validation("listing title is required")
	}
	if floorPrice <= 0 {
		return nil, apperrors.Validation("floor price must be positive")
	}
	if currencyCode == "" {
		currencyCode = s.cfg.CurrencyCode
	}

	now := time.Now().UTC()
	listing := &models.Listing{
		UserID:       ownerID,
		Title:        title,
		Description:  description,
		Amenities:    amenities,
		FloorPrice:   floorPrice,
		CurrencyCode: currencyCode,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	doc, err := db.InsertOne(ctx, s.db.Collection(listingsCollection), listing)
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to insert listing")
	}
	return doc.(*models.Listing), nil
}

// FindListingByID finds a non-deleted listing by its ID.
func (s *listingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var listing models.Listing
	filter := bson.M{"_id": listingID, "deleted": false}
	err := s.db.Collection(listingsCollection).FindOne(ctx, filter).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("listing %s not found", listingID.String())
		}
		return nil, apperrors.Persistence(err, "error finding listing %s", listingID.String())
	}
	return &listing, nil
}
