package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pzron/ecom-sub001/internal/api/domain"
	core "github.com/pzron/ecom-sub001/internal/domain"
	apperrors "github.com/pzron/ecom-sub001/pkg/errors"
)

const keyPrefix = "collection:"

// RecordRepository implements repository.RecordRepository using Redis. Each
// user collection is two hashes: record id to record JSON, and product id to
// record id. The second one makes creates idempotent through HSETNX.
type RecordRepository struct {
	client redis.Cmdable
	ttl    time.Duration
	now    func() time.Time
}

// NewRecordRepository creates a new Redis-backed record repository. A zero
// ttl keeps collections forever.
func NewRecordRepository(client redis.Cmdable, ttl time.Duration) *RecordRepository {
	return &RecordRepository{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

func recordsKey(kind core.Kind, userID string) string {
	return keyPrefix + string(kind) + ":" + userID + ":records"
}

func productsKey(kind core.Kind, userID string) string {
	return keyPrefix + string(kind) + ":" + userID + ":products"
}

// Create claims the product slot with HSETNX and writes the record. If the
// slot is taken the existing record is returned.
func (r *RecordRepository) Create(ctx context.Context, rec *domain.Record) (*domain.Record, bool, error) {
	pKey := productsKey(rec.Kind, rec.UserID)

	claimed, err := r.client.HSetNX(ctx, pKey, rec.ProductID, rec.ID).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis claim product: %w", err)
	}

	if !claimed {
		existingID, err := r.client.HGet(ctx, pKey, rec.ProductID).Result()
		if err != nil {
			return nil, false, fmt.Errorf("redis get product record: %w", err)
		}
		existing, err := r.Get(ctx, rec.Kind, rec.UserID, existingID)
		if errors.Is(err, apperrors.ErrNotFound) {
			// The winning create has claimed the slot but not written yet.
			return nil, false, apperrors.Unavailable("record is being created")
		}
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if err := r.put(ctx, rec); err != nil {
		_ = r.client.HDel(ctx, pKey, rec.ProductID).Err()
		return nil, false, err
	}
	return rec, true, nil
}

// Get retrieves a record by id.
func (r *RecordRepository) Get(ctx context.Context, kind core.Kind, userID, recordID string) (*domain.Record, error) {
	data, err := r.client.HGet(ctx, recordsKey(kind, userID), recordID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound(string(kind)+" record", recordID)
		}
		return nil, fmt.Errorf("redis get record: %w", err)
	}

	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// UpdateQuantity rewrites the record with the new quantity.
func (r *RecordRepository) UpdateQuantity(ctx context.Context, kind core.Kind, userID, recordID string, quantity int) (*domain.Record, error) {
	rec, err := r.Get(ctx, kind, userID, recordID)
	if err != nil {
		return nil, err
	}

	rec.Quantity = quantity
	rec.UpdatedAt = r.now().UTC()
	if err := r.put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the record and releases its product slot.
func (r *RecordRepository) Delete(ctx context.Context, kind core.Kind, userID, recordID string) (*domain.Record, error) {
	rec, err := r.Get(ctx, kind, userID, recordID)
	if err != nil {
		return nil, err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, recordsKey(kind, userID), recordID)
		pipe.HDel(ctx, productsKey(kind, userID), rec.ProductID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis delete record: %w", err)
	}
	return rec, nil
}

// List returns every record of the collection sorted by creation time.
func (r *RecordRepository) List(ctx context.Context, kind core.Kind, userID string) ([]*domain.Record, error) {
	raw, err := r.client.HGetAll(ctx, recordsKey(kind, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list records: %w", err)
	}

	records := make([]*domain.Record, 0, len(raw))
	for id, data := range raw {
		var rec domain.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
		}
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (r *RecordRepository) put(ctx context.Context, rec *domain.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	rKey := recordsKey(rec.Kind, rec.UserID)
	pKey := productsKey(rec.Kind, rec.UserID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, rKey, rec.ID, data)
		if r.ttl > 0 {
			pipe.Expire(ctx, rKey, r.ttl)
			pipe.Expire(ctx, pKey, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set record: %w", err)
	}
	return nil
}
