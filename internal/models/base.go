package models

import (
	"homebid/internal/utils"
)

// IBase is the contract db.InsertOne relies on to generate document IDs
// and regenerate them on duplicate-key collisions.
type IBase interface {
	GenIDIfEmpty()
	GenID()
}

// Base carries the SixID primary key embedded by every persisted model.
type Base struct {
	ID utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
}

func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.GenID()
	}
}

func (m *Base) GenID() {
	m.ID = utils.NewSixID()
}
