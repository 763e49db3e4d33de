package events

import (
	"homebid/internal/utils"
)

// Event names carried over the broadcast channel.
const (
	EventBidUpdated    = "bid-updated"
	EventBidNotUpdated = "bid-not-updated"
	EventBidWon        = "Bid-Won"
)

// BidUpdated is the fan-out payload for an accepted price.
type BidUpdated struct {
	ListingID  utils.SixID `json:"listing_id"`
	DeadlineID utils.SixID `json:"deadline_id"`
	BidID      utils.SixID `json:"bid_id"`
	BidderID   utils.SixID `json:"bidder_id"`
	Price      float64     `json:"price"`
}

// BidWon is the private payload delivered to the winning bidder.
type BidWon struct {
	ListingID utils.SixID `json:"listing_id"`
	BidID     utils.SixID `json:"bid_id"`
	Price     float64     `json:"price"`
	Amount    float64     `json:"amount"`
}

// Publisher distributes events to realtime subscribers. A Publisher instance
// is injected per service; implementations must be safe for concurrent use.
type Publisher interface {
	// PublishListing fans out an event to every subscriber of a listing topic.
	PublishListing(listingID utils.SixID, event string, payload any)
	// PublishUser delivers a private event to one user's connections.
	PublishUser(userID utils.SixID, event string, payload any)
}

// NopPublisher discards all events. Used where no realtime channel is wired,
// and in tests.
type NopPublisher struct{}

func (NopPublisher) PublishListing(utils.SixID, string, any) {}
func (NopPublisher) PublishUser(utils.SixID, string, any)    {}
