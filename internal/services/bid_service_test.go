package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"homebid/internal/apperrors"
	"homebid/internal/events"
	"homebid/internal/models"
)

type bidFixture struct {
	db              *mongo.Database
	listingService  IListingService
	userService     IUserService
	deadlineService IDeadlineService
	bidService      IBidService
	publisher       *recordingPublisher

	owner   *models.User
	bidder  *models.User
	listing *models.Listing
}

func newBidFixture(t *testing.T) *bidFixture {
	database := setupServicesDB(t)
	cfg := testConfig()

	f := &bidFixture{db: database, publisher: &recordingPublisher{}}
	f.listingService = NewListingService(database, cfg)
	f.userService = NewUserService(database)
	f.deadlineService = NewDeadlineService(database, f.listingService, nil)
	f.bidService = NewBidService(database, cfg, f.listingService, f.userService, f.deadlineService, f.publisher)

	f.owner = seedUser(t, f.userService, "owner")
	f.bidder = seedUser(t, f.userService, "bidder")
	f.listing = seedListing(t, f.listingService, f.owner.ID, 100)
	return f
}

func (f *bidFixture) openWindow(t *testing.T, start, end time.Time) *models.BidDeadline {
	deadline, err := f.deadlineService.OpenBidding(context.Background(), f.listing.ID, f.owner.ID, start, end)
	require.NoError(t, err)
	return deadline
}

func (f *bidFixture) submitInput(price float64) SubmitBidInput {
	now := time.Now().UTC()
	return SubmitBidInput{
		ListingID:   f.listing.ID,
		BidderID:    f.bidder.ID,
		PeriodStart: now.AddDate(0, 1, 0),
		PeriodEnd:   now.AddDate(0, 1, 7),
		Price:       price,
		TermsAgreed: true,
	}
}

func TestSubmitBidInputValidation(t *testing.T) {
	// Preconditions fail before any collaborator is touched.
	svc := NewBidService(nil, testConfig(), nil, nil, nil, nil)
	ctx := context.Background()

	in := SubmitBidInput{TermsAgreed: false, Price: 100, PeriodEnd: time.Now().Add(time.Hour)}
	_, err := svc.SubmitBid(ctx, in)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	in = SubmitBidInput{TermsAgreed: true, Price: 100, PeriodStart: time.Now().Add(time.Hour), PeriodEnd: time.Now()}
	_, err = svc.SubmitBid(ctx, in)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	in = SubmitBidInput{TermsAgreed: true, Price: 0, PeriodStart: time.Now(), PeriodEnd: time.Now().Add(time.Hour)}
	_, err = svc.SubmitBid(ctx, in)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestSubmitBidNoActiveWindow(t *testing.T) {
	f := newBidFixture(t)

	_, err := f.bidService.SubmitBid(context.Background(), f.submitInput(150))
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestSubmitBidWindowNotOpenYet(t *testing.T) {
	f := newBidFixture(t)
	now := time.Now().UTC()
	f.openWindow(t, now.Add(time.Hour), now.Add(2*time.Hour))

	_, err := f.bidService.SubmitBid(context.Background(), f.submitInput(150))
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestSubmitBidWindowAlreadyEnded(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	deadline := f.openWindow(t, now.Add(-2*time.Hour), now.Add(time.Hour))

	// The window elapses before the scheduler gets to it: still active,
	// but past its end date.
	_, err := f.db.Collection("bid_deadlines").UpdateOne(ctx,
		bson.M{"_id": deadline.ID},
		bson.M{"$set": bson.M{"end": now.Add(-time.Minute)}})
	require.NoError(t, err)

	_, err = f.bidService.SubmitBid(ctx, f.submitInput(150))
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation), "unexpected error: %v", err)
	assert.Contains(t, err.Error(), "not open")
}

func TestSubmitBidBelowFloorPrice(t *testing.T) {
	f := newBidFixture(t)
	now := time.Now().UTC()
	f.openWindow(t, now.Add(-time.Hour), now.Add(time.Hour))

	_, err := f.bidService.SubmitBid(context.Background(), f.submitInput(50))
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestSubmitBidStrictlyIncreasing(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	deadline := f.openWindow(t, now.Add(-time.Hour), now.Add(time.Hour))

	first, err := f.bidService.SubmitBid(ctx, f.submitInput(150))
	require.NoError(t, err)
	require.Len(t, first.BiddingHistory, 1)

	// Equal price is rejected with the current head in the message.
	second := seedUser(t, f.userService, "second")
	in := f.submitInput(150)
	in.BidderID = second.ID
	_, err = f.bidService.SubmitBid(ctx, in)
	require.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	assert.Contains(t, err.Error(), "150")

	// Lower price is rejected too.
	in.Price = 120
	_, err = f.bidService.SubmitBid(ctx, in)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

	// Strictly higher is accepted and lands in both ledgers.
	in.Price = 175
	bid, err := f.bidService.SubmitBid(ctx, in)
	require.NoError(t, err)
	price, ok := bid.LatestPrice()
	require.True(t, ok)
	assert.Equal(t, 175.0, price)

	current, err := f.deadlineService.FindByID(ctx, deadline.ID)
	require.NoError(t, err)
	head, ok := current.CurrentPrice()
	require.True(t, ok)
	assert.Equal(t, 175.0, head)
	assert.Len(t, current.BiddingHistory, 2)

	updates := f.publisher.byEvent(events.EventBidUpdated)
	assert.Len(t, updates, 2)
}

func TestRaiseBid(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	deadline := f.openWindow(t, now.Add(-time.Hour), now.Add(time.Hour))

	bid, err := f.bidService.SubmitBid(ctx, f.submitInput(150))
	require.NoError(t, err)

	// A rival pushes the head past the owner's price.
	rival := seedUser(t, f.userService, "rival")
	in := f.submitInput(200)
	in.BidderID = rival.ID
	_, err = f.bidService.SubmitBid(ctx, in)
	require.NoError(t, err)

	// Raising to the rival's head is a conflict, not an update.
	_, err = f.bidService.RaiseBid(ctx, bid.ID, f.bidder.ID, 200)
	require.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	assert.Contains(t, err.Error(), "200")

	// Only the bid's owner may raise it.
	_, err = f.bidService.RaiseBid(ctx, bid.ID, rival.ID, 250)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))

	// A genuine raise lands in the deadline ledger and the bid's own.
	raised, err := f.bidService.RaiseBid(ctx, bid.ID, f.bidder.ID, 250)
	require.NoError(t, err)
	require.Len(t, raised.BiddingHistory, 2)
	price, _ := raised.LatestPrice()
	assert.Equal(t, 250.0, price)

	current, err := f.deadlineService.FindByID(ctx, deadline.ID)
	require.NoError(t, err)
	head, _ := current.CurrentPrice()
	assert.Equal(t, 250.0, head)
	assert.Len(t, current.BiddingHistory, 3)
}

// A raise against a resolved window is a closed-window rejection even when
// the listing has since opened a fresh window with a different head.
func TestRaiseBidAfterWindowResolved(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	deadline := f.openWindow(t, now.Add(-time.Hour), now.Add(time.Hour))

	bid, err := f.bidService.SubmitBid(ctx, f.submitInput(150))
	require.NoError(t, err)

	// The window gets resolved out from under the bid.
	_, err = f.db.Collection("bid_deadlines").UpdateOne(ctx,
		bson.M{"_id": deadline.ID},
		bson.M{"$set": bson.M{"is_active": false, "is_closed": true, "end": now.Add(-time.Minute)}})
	require.NoError(t, err)

	// A fresh window opens for the same listing and collects a lower head.
	f.openWindow(t, now.Add(-time.Minute), now.Add(time.Hour))
	rival := seedUser(t, f.userService, "late-rival")
	in := f.submitInput(120)
	in.BidderID = rival.ID
	_, err = f.bidService.SubmitBid(ctx, in)
	require.NoError(t, err)

	// 250 would beat the new window's head, but the bid's own window is
	// closed; the caller gets told that, not a price conflict.
	_, err = f.bidService.RaiseBid(ctx, bid.ID, f.bidder.ID, 250)
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation), "unexpected error: %v", err)
	assert.Contains(t, err.Error(), "not open")

	// The new window's ledger is untouched by the attempt.
	current, err := f.deadlineService.FindActiveByListing(ctx, f.listing.ID)
	require.NoError(t, err)
	head, _ := current.CurrentPrice()
	assert.Equal(t, 120.0, head)
}

// Two bidders submit the same price at the same moment; the conditional
// append must accept exactly one of them.
func TestConcurrentSubmitsSamePrice(t *testing.T) {
	f := newBidFixture(t)
	now := time.Now().UTC()
	f.openWindow(t, now.Add(-time.Hour), now.Add(time.Hour))

	const bidders = 8
	users := make([]*models.User, bidders)
	for i := range users {
		users[i] = seedUser(t, f.userService, "racer"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	results := make([]error, bidders)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := f.submitInput(180)
			in.BidderID = users[i].ID
			_, results[i] = f.bidService.SubmitBid(context.Background(), in)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range results {
		if err == nil {
			accepted++
		} else {
			assert.True(t, apperrors.IsKind(err, apperrors.KindConflict), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, accepted)

	current, err := f.deadlineService.FindActiveByListing(context.Background(), f.listing.ID)
	require.NoError(t, err)
	assert.Len(t, current.BiddingHistory, 1)
}

func TestOpenBiddingRules(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Only the owner can open a window.
	_, err := f.deadlineService.OpenBidding(ctx, f.listing.ID, f.bidder.ID, now, now.Add(time.Hour))
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))

	// End must be after start and in the future.
	_, err = f.deadlineService.OpenBidding(ctx, f.listing.ID, f.owner.ID, now.Add(time.Hour), now)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	f.openWindow(t, now.Add(-time.Hour), now.Add(time.Hour))

	// A second active window for the same listing is rejected.
	_, err = f.deadlineService.OpenBidding(ctx, f.listing.ID, f.owner.ID, now, now.Add(2*time.Hour))
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestFindUpcomingOrdering(t *testing.T) {
	f := newBidFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	later := seedListing(t, f.listingService, f.owner.ID, 80)
	soonest := seedListing(t, f.listingService, f.owner.ID, 80)

	_, err := f.deadlineService.OpenBidding(ctx, later.ID, f.owner.ID, now, now.Add(48*time.Hour))
	require.NoError(t, err)
	_, err = f.deadlineService.OpenBidding(ctx, soonest.ID, f.owner.ID, now, now.Add(2*time.Hour))
	require.NoError(t, err)

	upcoming, err := f.deadlineService.FindUpcoming(ctx, 10)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, soonest.ID, upcoming[0].ListingID)
	assert.True(t, upcoming[0].EndDate.Before(upcoming[1].EndDate))
}
