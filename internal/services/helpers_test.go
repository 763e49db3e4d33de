package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"homebid/internal/config"
	"homebid/internal/db"
	"homebid/internal/models"
	"homebid/internal/notify"
	"homebid/internal/payments"
	"homebid/internal/utils"
)

const testDbName = "homebid_test"

var testCollections = []string{"users", "listings", "bid_deadlines", "bids", "payments"}

func testConfig() *config.Config {
	return &config.Config{
		CurrencyCode:       "USD",
		ResolveCallTimeout: 10 * time.Second,
	}
}

func setupServicesDB(t *testing.T) *mongo.Database {
	database := utils.SetupTestDB(t, testDbName, testCollections...)
	require.NoError(t, db.EnsureIndexes(context.Background(), database))
	return database
}

func seedUser(t *testing.T, userService IUserService, name string) *models.User {
	user, err := userService.CreateUser(context.Background(), name, name+"@example.com", "+6421000000")
	require.NoError(t, err)
	return user
}

func seedListing(t *testing.T, listingService IListingService, ownerID utils.SixID, floorPrice float64) *models.Listing {
	listing, err := listingService.CreateListing(context.Background(), ownerID,
		"Seaside bach", "Two bedrooms, deck, outdoor bath", []string{"wifi", "parking"}, floorPrice, "USD")
	require.NoError(t, err)
	return listing
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	Topic   utils.SixID
	ToUser  bool
	Event   string
	Payload any
}

func (p *recordingPublisher) PublishListing(listingID utils.SixID, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: listingID, Event: event, Payload: payload})
}

func (p *recordingPublisher) PublishUser(userID utils.SixID, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: userID, ToUser: true, Event: event, Payload: payload})
}

func (p *recordingPublisher) byEvent(event string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// mockProvider is a testify mock of the payment provider.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateOrder(ctx context.Context, amount float64, currencyCode, referenceID string) (*payments.Order, error) {
	args := m.Called(ctx, amount, currencyCode, referenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Order), args.Error(1)
}

func (m *mockProvider) AuthorizeOrder(ctx context.Context, orderID string) (*payments.Authorization, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Authorization), args.Error(1)
}

func (m *mockProvider) CaptureAuthorization(ctx context.Context, authorizationID string) (*payments.Capture, error) {
	args := m.Called(ctx, authorizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Capture), args.Error(1)
}

func (m *mockProvider) VoidAuthorization(ctx context.Context, authorizationID string) error {
	return m.Called(ctx, authorizationID).Error(0)
}

func (m *mockProvider) UpdateOrderAmount(ctx context.Context, orderID string, amount float64, currencyCode string) error {
	return m.Called(ctx, orderID, amount, currencyCode).Error(0)
}

func (m *mockProvider) CreateSetupToken(ctx context.Context, card payments.CardDetails) (*payments.VaultToken, error) {
	args := m.Called(ctx, card)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.VaultToken), args.Error(1)
}

func (m *mockProvider) CreatePaymentToken(ctx context.Context, setupTokenID string) (*payments.VaultToken, error) {
	args := m.Called(ctx, setupTokenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.VaultToken), args.Error(1)
}

// mockDispatcher is a testify mock of the notification dispatcher.
type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) SendEmail(ctx context.Context, msg notify.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockDispatcher) SendSMS(ctx context.Context, phone, text string) error {
	return m.Called(ctx, phone, text).Error(0)
}
