// Package domain holds the collection API's server-side types.
package domain

import (
	"time"

	core "github.com/pzron/ecom-sub001/internal/domain"
)

// Record is one product in a user's server-side cart or wishlist.
type Record struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Kind      core.Kind     `json:"kind"`
	ProductID string        `json:"product_id"`
	Quantity  int           `json:"quantity,omitempty"`
	Product   core.Snapshot `json:"product"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Remote returns the wire shape clients reconcile against.
func (r *Record) Remote() core.RemoteRecord {
	return core.RemoteRecord{
		ID:        r.ID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		Product:   r.Product,
		CreatedAt: r.CreatedAt,
	}
}
