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

// BidHandler exposes bid submission and inspection over REST. It calls the
// same service methods the realtime channel does.
type BidHandler struct {
	bidService      services.IBidService
	deadlineService services.IDeadlineService
}

// NewBidHandler creates a new BidHandler.
func NewBidHandler(bidService services.IBidService, deadlineService services.IDeadlineService) *BidHandler {
	return &BidHandler{bidService: bidService, deadlineService: deadlineService}
}

type submitBidRequest struct {
	ListingID   string    `json:"listing_id" binding:"required"`
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
	Price       float64   `json:"price" binding:"required"`
	TermsAgreed bool      `json:"terms_agreed"`
}

// SubmitBid handles POST /v1/bid.
func (h *BidHandler) SubmitBid(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apperrors.Authorization("authentication required"))
		return
	}

	var req submitBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request: %v", err))
		return
	}
	listingID, err := utils.ParseSixID(req.ListingID)
	if err != nil {
		respondError(c, apperrors.Validation("invalid listing_id"))
		return
	}

	bid, err := h.bidService.SubmitBid(c.Request.Context(), services.SubmitBidInput{
		ListingID:   listingID,
		BidderID:    userID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		Price:       req.Price,
		TermsAgreed: req.TermsAgreed,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, bid)
}

type raiseBidRequest struct {
	Price float64 `json:"price" binding:"required"`
}

// RaiseBid handles POST /v1/bid/:id/raise.
func (h *BidHandler) RaiseBid(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apperrors.Authorization("authentication required"))
		return
	}
	bidID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req raiseBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request: %v", err))
		return
	}

	bid, err := h.bidService.RaiseBid(c.Request.Context(), bidID, userID, req.Price)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, bid)
}

// GetBid handles GET /v1/bid/:id. Bids are visible to their owner only.
func (h *BidHandler) GetBid(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apperrors.Authorization("authentication required"))
		return
	}
	bidID, ok := pathID(c, "id")
	if !ok {
		return
	}

	bid, err := h.bidService.FindBidByID(c.Request.Context(), bidID)
	if err != nil {
		respondError(c, err)
		return
	}
	if bid.UserID != userID {
		respondError(c, apperrors.Authorization("bid %s does not belong to the caller", bidID.String()))
		return
	}
	respondOK(c, http.StatusOK, bid)
}
