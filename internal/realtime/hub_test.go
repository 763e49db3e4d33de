package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homebid/internal/apperrors"
	"homebid/internal/auth"
	"homebid/internal/config"
	"homebid/internal/events"
	"homebid/internal/models"
	"homebid/internal/services"
	"homebid/internal/utils"
)

const testSecret = "hub-test-secret"

type stubBidService struct {
	submitted chan services.SubmitBidInput
	err       error
}

func (s *stubBidService) SubmitBid(ctx context.Context, in services.SubmitBidInput) (*models.Bid, error) {
	if s.submitted != nil {
		s.submitted <- in
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.Bid{}, nil
}

func (s *stubBidService) RaiseBid(ctx context.Context, bidID, bidderID utils.SixID, newPrice float64) (*models.Bid, error) {
	return nil, s.err
}

func (s *stubBidService) FindBidByID(ctx context.Context, bidID utils.SixID) (*models.Bid, error) {
	panic("not used")
}

func (s *stubBidService) FindBidsByDeadline(ctx context.Context, deadlineID utils.SixID) ([]models.Bid, error) {
	panic("not used")
}

func newTestServer(t *testing.T, bidService services.IBidService) (*Hub, *httptest.Server) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	cfg := &config.Config{JwtSecret: testSecret}
	r := gin.New()
	r.GET("/ws", ServeWS(hub, cfg, bidService))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func dial(t *testing.T, srv *httptest.Server, userID utils.SixID) *websocket.Conn {
	token, err := auth.GenerateJWT(userID, testSecret, time.Minute)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	_, srv := newTestServer(t, &stubBidService{})

	// No token at all.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Token signed with the wrong secret.
	token, err := auth.GenerateJWT(utils.NewSixID(), "other-secret", time.Minute)
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSubscribeAndFanOut(t *testing.T) {
	hub, srv := newTestServer(t, &stubBidService{})
	listingID := utils.NewSixID()

	subscriber := dial(t, srv, utils.NewSixID())
	bystander := dial(t, srv, utils.NewSixID())

	require.NoError(t, subscriber.WriteJSON(map[string]string{
		"event":      ActionSubscribe,
		"listing_id": listingID.String(),
	}))

	// Subscription is processed asynchronously by the read pump.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.topics[listingID]) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.PublishListing(listingID, events.EventBidUpdated, events.BidUpdated{Price: 150})

	env := readEnvelope(t, subscriber)
	assert.Equal(t, events.EventBidUpdated, env.Event)

	// The unsubscribed connection hears nothing.
	bystander.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := bystander.ReadMessage()
	assert.Error(t, err)
}

func TestPublishUserReachesOnlyThatUser(t *testing.T) {
	hub, srv := newTestServer(t, &stubBidService{})
	winnerID := utils.NewSixID()

	winner := dial(t, srv, winnerID)
	other := dial(t, srv, utils.NewSixID())

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.users) == 2
	}, 2*time.Second, 10*time.Millisecond)

	hub.PublishUser(winnerID, events.EventBidWon, events.BidWon{Price: 250})

	env := readEnvelope(t, winner)
	assert.Equal(t, events.EventBidWon, env.Event)

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err)
}

func TestInboundBidCallsService(t *testing.T) {
	bidService := &stubBidService{submitted: make(chan services.SubmitBidInput, 1)}
	_, srv := newTestServer(t, bidService)

	userID := utils.NewSixID()
	listingID := utils.NewSixID()
	conn := dial(t, srv, userID)

	start := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"event":        ActionNewBid,
		"listing_id":   listingID.String(),
		"period_start": start.Format(time.RFC3339),
		"period_end":   start.AddDate(0, 0, 7).Format(time.RFC3339),
		"price":        180.0,
		"terms_agreed": true,
	}))

	select {
	case in := <-bidService.submitted:
		assert.Equal(t, listingID, in.ListingID)
		assert.Equal(t, userID, in.BidderID)
		assert.Equal(t, 180.0, in.Price)
		assert.True(t, in.TermsAgreed)
	case <-time.After(2 * time.Second):
		t.Fatal("bid never reached the service")
	}
}

// Shutting down with live connections must complete, release their read
// pumps and leave publishing safe.
func TestShutdownWithConnectedClients(t *testing.T) {
	hub, srv := newTestServer(t, &stubBidService{})
	listingID := utils.NewSixID()

	conn := dial(t, srv, utils.NewSixID())
	require.NoError(t, conn.WriteJSON(map[string]string{
		"event":      ActionSubscribe,
		"listing_id": listingID.String(),
	}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.topics[listingID]) == 1
	}, 2*time.Second, 10*time.Millisecond)

	finished := make(chan struct{})
	go func() {
		hub.Shutdown()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never completed with a connected client")
	}

	// The client's read pump exits instead of blocking on a dead hub loop:
	// the connection observes the close frame promptly.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// Publishing into a stopped hub is a no-op, not a panic.
	hub.PublishListing(listingID, events.EventBidUpdated, events.BidUpdated{Price: 150})
	hub.Shutdown()
}

// A frame enqueued concurrently with the hub closing the client's channel
// must never hit a closed channel.
func TestEnqueueDuringCloseIsSafe(t *testing.T) {
	for run := 0; run < 20; run++ {
		c := &Client{userID: utils.NewSixID(), send: make(chan []byte, 1)}
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					c.enqueue([]byte(`{"event":"bid-updated"}`))
				}
			}()
		}
		c.closeSend()
		wg.Wait()
		c.closeSend()
	}
}

func TestRejectedBidGoesToSenderOnly(t *testing.T) {
	bidService := &stubBidService{err: apperrors.Conflict("bid price 100.00 must be strictly greater than the current price 150.00")}
	_, srv := newTestServer(t, bidService)

	conn := dial(t, srv, utils.NewSixID())
	listingID := utils.NewSixID()

	start := time.Now().UTC()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"event":        ActionNewBid,
		"listing_id":   listingID.String(),
		"period_start": start.Format(time.RFC3339),
		"period_end":   start.AddDate(0, 0, 7).Format(time.RFC3339),
		"price":        100.0,
		"terms_agreed": true,
	}))

	env := readEnvelope(t, conn)
	assert.Equal(t, events.EventBidNotUpdated, env.Event)
	data := env.Data.(map[string]any)
	assert.Contains(t, data["reason"], "strictly greater")
}
