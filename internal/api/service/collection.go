package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pzron/ecom-sub001/internal/api/domain"
	"github.com/pzron/ecom-sub001/internal/api/event"
	"github.com/pzron/ecom-sub001/internal/api/repository"
	core "github.com/pzron/ecom-sub001/internal/domain"
	apperrors "github.com/pzron/ecom-sub001/pkg/errors"
	"github.com/pzron/ecom-sub001/pkg/validator"
)

// Collection upper-bound limits to prevent abuse.
const (
	// MaxQuantityPerItem is the maximum quantity allowed for a single cart record.
	MaxQuantityPerItem = 100
	// MaxItemsPerCollection is the maximum number of records in one collection.
	MaxItemsPerCollection = 50
)

// Purchasability codes reported as 422.
const (
	CodeNotPurchasable = "NOT_PURCHASABLE"
	CodeCollectionFull = "COLLECTION_FULL"
)

// CreateInput holds the parameters for adding a product to a collection.
type CreateInput struct {
	ProductID string         `json:"product_id" validate:"required,max=128"`
	Quantity  int            `json:"quantity" validate:"gte=0,lte=100"`
	Product   *core.Snapshot `json:"product"`
}

// UpdateQuantityInput holds the parameters for updating a cart quantity.
type UpdateQuantityInput struct {
	Quantity int `json:"quantity" validate:"gte=1,lte=100"`
}

// EventPublisher publishes record changes.
type EventPublisher interface {
	PublishRecordChanged(ctx context.Context, action string, rec *domain.Record) error
}

// CollectionService implements the business logic for cart and wishlist records.
type CollectionService struct {
	repo      repository.RecordRepository
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewCollectionService creates a new collection service. publisher may be nil.
func NewCollectionService(repo repository.RecordRepository, publisher EventPublisher, logger *slog.Logger) *CollectionService {
	return &CollectionService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Create adds a product to the user's collection. Adding a product that is
// already present returns the existing record unchanged. Out-of-stock
// products cannot be added to a cart.
func (s *CollectionService) Create(ctx context.Context, kind core.Kind, userID string, input CreateInput) (*domain.Record, bool, error) {
	if userID == "" {
		return nil, false, apperrors.InvalidInput("user id is required")
	}
	if err := validator.Validate(input); err != nil {
		return nil, false, err
	}

	product := core.Snapshot{ProductID: input.ProductID}
	if input.Product != nil {
		if input.Product.ProductID != input.ProductID {
			return nil, false, apperrors.InvalidInput("product snapshot does not match product_id")
		}
		if err := validator.Validate(input.Product); err != nil {
			return nil, false, err
		}
		product = *input.Product
	}

	if kind.Quantified() && input.Product != nil && !input.Product.InStock {
		return nil, false, apperrors.Unprocessable(CodeNotPurchasable,
			fmt.Sprintf("product %s is out of stock", input.ProductID))
	}

	existing, err := s.repo.List(ctx, kind, userID)
	if err != nil {
		return nil, false, fmt.Errorf("list %s: %w", kind, err)
	}
	for _, rec := range existing {
		if rec.ProductID == input.ProductID {
			return rec, false, nil
		}
	}
	if len(existing) >= MaxItemsPerCollection {
		return nil, false, apperrors.Unprocessable(CodeCollectionFull,
			fmt.Sprintf("%s must not contain more than %d items", kind, MaxItemsPerCollection))
	}

	now := s.now().UTC()
	rec := &domain.Record{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		ProductID: input.ProductID,
		Quantity:  core.NormalizeQuantity(kind, input.Quantity),
		Product:   product,
		CreatedAt: now,
		UpdatedAt: now,
	}

	stored, created, err := s.repo.Create(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("create %s record: %w", kind, err)
	}
	if !created {
		return stored, false, nil
	}

	s.publish(ctx, event.ActionCreated, stored)
	s.logger.InfoContext(ctx, "record created",
		slog.String("kind", string(kind)),
		slog.String("user_id", userID),
		slog.String("product_id", stored.ProductID),
		slog.String("record_id", stored.ID),
	)
	return stored, true, nil
}

// UpdateQuantity sets the quantity of a cart record.
func (s *CollectionService) UpdateQuantity(ctx context.Context, kind core.Kind, userID, recordID string, input UpdateQuantityInput) (*domain.Record, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if !kind.Quantified() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("%s records have no quantity", kind))
	}
	if err := validator.Validate(input); err != nil {
		return nil, err
	}

	rec, err := s.repo.UpdateQuantity(ctx, kind, userID, recordID, input.Quantity)
	if err != nil {
		return nil, fmt.Errorf("update %s record: %w", kind, err)
	}

	s.publish(ctx, event.ActionQuantityUpdated, rec)
	s.logger.InfoContext(ctx, "record quantity updated",
		slog.String("user_id", userID),
		slog.String("record_id", recordID),
		slog.Int("quantity", input.Quantity),
	)
	return rec, nil
}

// Delete removes a record. Deleting a missing record succeeds.
func (s *CollectionService) Delete(ctx context.Context, kind core.Kind, userID, recordID string) error {
	if userID == "" {
		return apperrors.InvalidInput("user id is required")
	}

	rec, err := s.repo.Delete(ctx, kind, userID, recordID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete %s record: %w", kind, err)
	}

	s.publish(ctx, event.ActionDeleted, rec)
	s.logger.InfoContext(ctx, "record deleted",
		slog.String("kind", string(kind)),
		slog.String("user_id", userID),
		slog.String("record_id", recordID),
	)
	return nil
}

// List returns the user's records. An unknown user has an empty collection.
func (s *CollectionService) List(ctx context.Context, kind core.Kind, userID string) ([]*domain.Record, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}

	records, err := s.repo.List(ctx, kind, userID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return records, nil
}

func (s *CollectionService) publish(ctx context.Context, action string, rec *domain.Record) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRecordChanged(ctx, action, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish collection.changed event",
			slog.String("action", action),
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}
