package models

import (
	"time"

	"homebid/internal/utils"
)

// Listing represents a rental property open for bidding.
type Listing struct {
	Base        `bson:",inline"`
	UserID      utils.SixID `bson:"user_id" json:"user_id"` // owner
	Title       string      `bson:"title" json:"title"`
	Description string      `bson:"description" json:"description"`
	Amenities   []string    `bson:"amenities" json:"amenities"`
	// FloorPrice is the minimum acceptable price per day.
	FloorPrice   float64      `bson:"floor_price" json:"floor_price"`
	CurrencyCode string       `bson:"currency_code" json:"currency_code"`
	UpdatedBy    *utils.SixID `bson:"updated_by,omitempty" json:"updated_by,omitempty"`
	CreatedAt    time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `bson:"updated_at" json:"updated_at"`
	Deleted      bool         `bson:"deleted" json:"-"`
}
