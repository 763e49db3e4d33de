package models

import (
	"time"

	"homebid/internal/utils"
)

// PriceEntry is one accepted price in a ledger, ordered by At.
type PriceEntry struct {
	Price float64   `bson:"price" json:"price"`
	At    time.Time `bson:"at" json:"at"`
}

// BidDeadline is the bidding window for a listing. BiddingHistory is the
// authoritative listing-level ledger: its last entry is the current price.
// At most one active deadline may exist per listing (enforced by a partial
// unique index on listing_id where is_active is true).
type BidDeadline struct {
	Base           `bson:",inline"`
	ListingID      utils.SixID  `bson:"listing_id" json:"listing_id"`
	StartDate      time.Time    `bson:"start" json:"start"`
	EndDate        time.Time    `bson:"end" json:"end"`
	BiddingHistory []PriceEntry `bson:"bidding_history" json:"bidding_history"`
	IsActive       bool         `bson:"is_active" json:"is_active"`
	IsClosed       bool         `bson:"is_closed" json:"is_closed"`
	WinnerBidID    *utils.SixID `bson:"winner_bid,omitempty" json:"winner_bid,omitempty"`
	ResolvedAt     *time.Time   `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
	CreatedAt      time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `bson:"updated_at" json:"updated_at"`
}

// CurrentPrice returns the ledger head, or (0, false) when no bid has been
// accepted yet.
func (d *BidDeadline) CurrentPrice() (float64, bool) {
	if len(d.BiddingHistory) == 0 {
		return 0, false
	}
	return d.BiddingHistory[len(d.BiddingHistory)-1].Price, true
}

// WindowOpen reports whether now falls inside [start, end).
func (d *BidDeadline) WindowOpen(now time.Time) bool {
	return !now.Before(d.StartDate) && now.Before(d.EndDate)
}

// Bid is one bidder's participation in a listing's bidding window. Its
// BiddingHistory holds only this bidder's accepted prices; the last entry
// must equal the most recent entry this bidder contributed to the
// deadline's ledger.
type Bid struct {
	Base           `bson:",inline"`
	UserID         utils.SixID  `bson:"user_id" json:"user_id"`
	ListingID      utils.SixID  `bson:"listing_id" json:"listing_id"`
	DeadlineID     utils.SixID  `bson:"deadline_id" json:"deadline_id"`
	PeriodStart    time.Time    `bson:"period_start" json:"period_start"`
	PeriodEnd      time.Time    `bson:"period_end" json:"period_end"`
	TermsAgreed    bool         `bson:"terms_agreed" json:"terms_agreed"`
	OrderID        string       `bson:"order_id,omitempty" json:"order_id,omitempty"`
	CheckoutLink   string       `bson:"checkout_link,omitempty" json:"checkout_link,omitempty"`
	BiddingHistory []PriceEntry `bson:"bidding_history" json:"bidding_history"`
	Won            bool         `bson:"won" json:"won"`
	CreatedAt      time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `bson:"updated_at" json:"updated_at"`
}

// LatestPrice returns the bidder's own ledger head, or (0, false) when the
// bid has no accepted entries.
func (b *Bid) LatestPrice() (float64, bool) {
	if len(b.BiddingHistory) == 0 {
		return 0, false
	}
	return b.BiddingHistory[len(b.BiddingHistory)-1].Price, true
}

// RentalDays returns the whole-day length of the rental period.
func (b *Bid) RentalDays() int {
	return int(b.PeriodEnd.Sub(b.PeriodStart).Hours() / 24)
}
