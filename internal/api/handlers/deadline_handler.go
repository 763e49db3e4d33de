package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"homebid/internal/api/middleware"
	"homebid/internal/apperrors"
	"homebid/internal/services"
	"homebid/internal/utils"
)

// DeadlineHandler exposes bidding-window management: opening a window and
// reading a listing's public ledger.
type DeadlineHandler struct {
	deadlineService services.IDeadlineService
}

// NewDeadlineHandler creates a new DeadlineHandler.
func NewDeadlineHandler(deadlineService services.IDeadlineService) *DeadlineHandler {
	return &DeadlineHandler{deadlineService: deadlineService}
}

type openBiddingRequest struct {
	ListingID string    `json:"listing_id" binding:"required"`
	StartDate time.Time `json:"start_date" binding:"required"`
	EndDate   time.Time `json:"end_date" binding:"required"`
}

// OpenBidding handles POST /v1/bidding. Owner-only.
func (h *DeadlineHandler) OpenBidding(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apperrors.Authorization("authentication required"))
		return
	}

	var req openBiddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request: %v", err))
		return
	}
	listingID, err := utils.ParseSixID(req.ListingID)
	if err != nil {
		respondError(c, apperrors.Validation("invalid listing_id"))
		return
	}

	deadline, err := h.deadlineService.OpenBidding(c.Request.Context(), listingID, userID, req.StartDate, req.EndDate)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, deadline)
}

// GetListingLedger handles GET /v1/listing/:id/bidding: the listing's
// active window with its price ledger. Public.
func (h *DeadlineHandler) GetListingLedger(c *gin.Context) {
	listingID, ok := pathID(c, "id")
	if !ok {
		return
	}

	deadline, err := h.deadlineService.FindActiveByListing(c.Request.Context(), listingID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, deadline)
}
