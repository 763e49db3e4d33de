package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"homebid/internal/api/middleware"
	"homebid/internal/apperrors"
	"homebid/internal/services"
)

// ListingHandler exposes the narrow listing surface the bidding flow needs.
type ListingHandler struct {
	listingService services.IListingService
}

// NewListingHandler creates a new ListingHandler.
func NewListingHandler(listingService services.IListingService) *ListingHandler {
	return &ListingHandler{listingService: listingService}
}

type createListingRequest struct {
	Title        string   `json:"title" binding:"required"`
	Description  string   `json:"description"`
	Amenities    []string `json:"amenities"`
	FloorPrice   float64  `json:"floor_price" binding:"required"`
	CurrencyCode string   `json:"currency_code"`
}

// CreateListing handles POST /v1/listing.
func (h *ListingHandler) CreateListing(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apperrors.Authorization("authentication required"))
		return
	}

	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request: %v", err))
		return
	}

	listing, err := h.listingService.CreateListing(c.Request.Context(), userID, req.Title, req.Description, req.Amenities, req.FloorPrice, req.CurrencyCode)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, listing)
}

// GetListing handles GET /v1/listing/:id. Public.
func (h *ListingHandler) GetListing(c *gin.Context) {
	listingID, ok := pathID(c, "id")
	if !ok {
		return
	}

	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, listing)
}
