package domain

import "time"

// Credentials is an authenticated session issued by the external
// authentication service.
type Credentials struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// Anonymous reports whether no usable session is present.
func (c *Credentials) Anonymous() bool {
	return c == nil || c.UserID == "" || c.Token == ""
}

// RemoteRecord is one server-side collection record as returned by a pull.
type RemoteRecord struct {
	ID        string    `json:"id" validate:"required,max=128"`
	ProductID string    `json:"product_id" validate:"required,max=128"`
	Quantity  int       `json:"quantity,omitempty" validate:"gte=0"`
	Product   Snapshot  `json:"product"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot returns the record's product snapshot, falling back to the bare
// product id when the server omitted the embedded product.
func (r RemoteRecord) Snapshot() Snapshot {
	snap := r.Product
	if snap.ProductID == "" {
		snap.ProductID = r.ProductID
	}
	return snap
}
