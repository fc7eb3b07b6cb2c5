package domain

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is a denormalized copy of the catalog fields an item needs for
// display. It is replaced wholesale, never edited in place.
type Snapshot struct {
	ProductID string `json:"product_id" validate:"required,max=128"`
	Name      string `json:"name" validate:"max=512"`
	Price     int64  `json:"price" validate:"gte=0"` // in cents
	Currency  string `json:"currency,omitempty" validate:"omitempty,len=3"`
	ImageURL  string `json:"image_url,omitempty" validate:"omitempty,url"`
	InStock   bool   `json:"in_stock"`
}

// Item is one entry of a collection.
//
// ItemID is generated on the client and is stable for the item's life.
// RecordID is the server-assigned id, empty until a create is confirmed or a
// reconciliation links the item to a server record.
type Item struct {
	ItemID    string    `json:"item_id" validate:"required"`
	ProductID string    `json:"product_id" validate:"required,max=128"`
	Quantity  int       `json:"quantity,omitempty" validate:"gte=0"`
	Snapshot  Snapshot  `json:"product"`
	AddedAt   time.Time `json:"added_at"`
	RecordID  string    `json:"record_id,omitempty"`
}

// NewItem builds an item with a fresh ItemID. Quantity is normalized for kind.
func NewItem(kind Kind, snap Snapshot, quantity int, now time.Time) Item {
	return Item{
		ItemID:    uuid.NewString(),
		ProductID: snap.ProductID,
		Quantity:  NormalizeQuantity(kind, quantity),
		Snapshot:  snap,
		AddedAt:   now.UTC(),
	}
}

// NormalizeQuantity clamps cart quantities to at least one and zeroes them
// for wishlists.
func NormalizeQuantity(kind Kind, n int) int {
	if !kind.Quantified() {
		return 0
	}
	if n < 1 {
		return 1
	}
	return n
}

// Warning is a recoverable, per-item problem reported by the server, such as
// a product that is no longer purchasable.
type Warning struct {
	ProductID string    `json:"product_id"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}
