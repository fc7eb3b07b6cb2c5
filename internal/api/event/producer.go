package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pzron/ecom-sub001/internal/api/domain"
	pkgkafka "github.com/pzron/ecom-sub001/pkg/kafka"
)

// TopicCollectionChanged carries every cart and wishlist record change.
const TopicCollectionChanged = "ecommerce.collection.changed"

// Aggregate type constant.
const AggregateTypeCollection = "collection"

// SourceCollectionService identifies events originating from collectiond.
const SourceCollectionService = "collection-service"

// Change actions.
const (
	ActionCreated         = "created"
	ActionQuantityUpdated = "quantity_updated"
	ActionDeleted         = "deleted"
)

// CollectionChangedData is the payload for a collection.changed event.
type CollectionChangedData struct {
	Action    string `json:"action"`
	Kind      string `json:"kind"`
	UserID    string `json:"user_id"`
	RecordID  string `json:"record_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity,omitempty"`
}

// Publisher is the subset of *pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes collection domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the collection service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishRecordChanged publishes a collection.changed event keyed by user,
// so one user's changes stay ordered within a partition.
func (p *Producer) PublishRecordChanged(ctx context.Context, action string, rec *domain.Record) error {
	data := CollectionChangedData{
		Action:    action,
		Kind:      string(rec.Kind),
		UserID:    rec.UserID,
		RecordID:  rec.ID,
		ProductID: rec.ProductID,
		Quantity:  rec.Quantity,
	}

	event, err := pkgkafka.NewEvent(ctx, TopicCollectionChanged, rec.UserID, AggregateTypeCollection, SourceCollectionService, data)
	if err != nil {
		return fmt.Errorf("create collection.changed event: %w", err)
	}
	event.WithMetadata("kind", string(rec.Kind))

	if err := p.kafka.Publish(ctx, TopicCollectionChanged, event); err != nil {
		return fmt.Errorf("publish collection.changed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published collection.changed event",
		slog.String("action", action),
		slog.String("kind", string(rec.Kind)),
		slog.String("record_id", rec.ID),
	)
	return nil
}
