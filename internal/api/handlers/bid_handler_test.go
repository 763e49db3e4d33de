package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homebid/internal/api/middleware"
	"homebid/internal/apperrors"
	"homebid/internal/models"
	"homebid/internal/services"
	"homebid/internal/utils"
)

type stubBidService struct {
	submitErr error
	submitted *services.SubmitBidInput
}

func (s *stubBidService) SubmitBid(ctx context.Context, in services.SubmitBidInput) (*models.Bid, error) {
	s.submitted = &in
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	bid := &models.Bid{UserID: in.BidderID, ListingID: in.ListingID}
	bid.GenID()
	return bid, nil
}

func (s *stubBidService) RaiseBid(ctx context.Context, bidID, bidderID utils.SixID, newPrice float64) (*models.Bid, error) {
	panic("not used")
}

func (s *stubBidService) FindBidByID(ctx context.Context, bidID utils.SixID) (*models.Bid, error) {
	panic("not used")
}

func (s *stubBidService) FindBidsByDeadline(ctx context.Context, deadlineID utils.SixID) ([]models.Bid, error) {
	panic("not used")
}

func newBidRouter(userID utils.SixID, svc services.IBidService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(middleware.ContextKeyUserID, userID) })
	r.POST("/v1/bid", NewBidHandler(svc, nil).SubmitBid)
	return r
}

func postBid(r *gin.Engine, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/bid", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func validBidBody(listingID utils.SixID) map[string]any {
	now := time.Now().UTC()
	return map[string]any{
		"listing_id":   listingID.String(),
		"period_start": now.AddDate(0, 1, 0).Format(time.RFC3339),
		"period_end":   now.AddDate(0, 1, 7).Format(time.RFC3339),
		"price":        180.0,
		"terms_agreed": true,
	}
}

func TestSubmitBidHandler(t *testing.T) {
	userID := utils.NewSixID()
	listingID := utils.NewSixID()
	svc := &stubBidService{}
	r := newBidRouter(userID, svc)

	w := postBid(r, validBidBody(listingID))
	assert.Equal(t, http.StatusCreated, w.Code)

	require.NotNil(t, svc.submitted)
	assert.Equal(t, userID, svc.submitted.BidderID)
	assert.Equal(t, listingID, svc.submitted.ListingID)
	assert.Equal(t, 180.0, svc.submitted.Price)

	var envelope struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
}

// Every error kind maps to its documented status through the one envelope.
func TestSubmitBidHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", apperrors.Validation("bid price must be positive"), http.StatusBadRequest},
		{"authorization", apperrors.Authorization("not your bid"), http.StatusForbidden},
		{"not found", apperrors.NotFound("no active bidding window"), http.StatusNotFound},
		{"conflict", apperrors.Conflict("price must be strictly greater"), http.StatusConflict},
		{"persistence", apperrors.Persistence(nil, "write failed"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newBidRouter(utils.NewSixID(), &stubBidService{submitErr: tc.err})
			w := postBid(r, validBidBody(utils.NewSixID()))
			assert.Equal(t, tc.status, w.Code)

			var envelope struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
			assert.False(t, envelope.Success)
			assert.NotEmpty(t, envelope.Error)
		})
	}
}

// Internal failure detail stays out of the response body.
func TestSubmitBidHandlerHidesInternalDetail(t *testing.T) {
	r := newBidRouter(utils.NewSixID(), &stubBidService{
		submitErr: apperrors.Persistence(assert.AnError, "ledger append failed for listing X"),
	})
	w := postBid(r, validBidBody(utils.NewSixID()))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "ledger append failed")
	assert.Contains(t, w.Body.String(), "internal error")
}

func TestSubmitBidHandlerBadPayload(t *testing.T) {
	r := newBidRouter(utils.NewSixID(), &stubBidService{})

	w := postBid(r, map[string]any{"listing_id": "not-a-real-id", "price": 100, "terms_agreed": true,
		"period_start": time.Now().Format(time.RFC3339), "period_end": time.Now().Add(time.Hour).Format(time.RFC3339)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
