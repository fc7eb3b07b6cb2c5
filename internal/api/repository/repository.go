package repository

import (
	"context"

	"github.com/pzron/ecom-sub001/internal/api/domain"
	core "github.com/pzron/ecom-sub001/internal/domain"
)

// RecordRepository defines persistence for collection records. Every method
// is scoped to one user and collection kind; a record id of another user is
// reported as not found.
type RecordRepository interface {
	// Create stores rec unless the user already has a record for the same
	// product. It returns the stored record and whether it was created.
	Create(ctx context.Context, rec *domain.Record) (*domain.Record, bool, error)

	// Get returns one record.
	Get(ctx context.Context, kind core.Kind, userID, recordID string) (*domain.Record, error)

	// UpdateQuantity sets a record's quantity and returns the updated record.
	UpdateQuantity(ctx context.Context, kind core.Kind, userID, recordID string, quantity int) (*domain.Record, error)

	// Delete removes a record and returns it.
	Delete(ctx context.Context, kind core.Kind, userID, recordID string) (*domain.Record, error)

	// List returns the user's records oldest first.
	List(ctx context.Context, kind core.Kind, userID string) ([]*domain.Record, error)
}
