// Package persistence saves collections to a durable key-value store and
// rehydrates them on startup.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/internal/store"
	apperrors "github.com/pzron/ecom-sub001/pkg/errors"
	"github.com/pzron/ecom-sub001/pkg/validator"
)

// SchemaVersion is written into every payload. Payloads with another version
// are discarded on load.
const SchemaVersion = 1

// DefaultNamespace prefixes every storage key.
const DefaultNamespace = "shopsync"

// KV is the minimal durable storage the adapter needs. Get returns an error
// wrapping apperrors.ErrNotFound for missing keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

type payload struct {
	SchemaVersion int           `json:"schema_version"`
	Items         []domain.Item `json:"items" validate:"dive"`
}

// Adapter serializes collections into a KV.
type Adapter struct {
	kv        KV
	namespace string
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(a *Adapter) { a.namespace = ns }
}

// WithTimeout bounds each write made from a store subscription.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

// NewAdapter creates an adapter over kv.
func NewAdapter(kv KV, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		kv:        kv,
		namespace: DefaultNamespace,
		timeout:   2 * time.Second,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key returns the storage key for kind.
func (a *Adapter) Key(kind domain.Kind) string {
	return a.namespace + ":" + string(kind)
}

// Encode serializes items into the durable payload format.
func Encode(items []domain.Item) ([]byte, error) {
	if items == nil {
		items = []domain.Item{}
	}
	return json.Marshal(payload{SchemaVersion: SchemaVersion, Items: items})
}

// Decode parses and validates a payload. Unknown fields, a different schema
// version, invalid items and duplicate products are all errors.
func Decode(data []byte) ([]domain.Item, error) {
	var p payload
	if err := validator.DecodeJSON(data, &p); err != nil {
		return nil, err
	}
	if p.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("schema version %d, want %d", p.SchemaVersion, SchemaVersion)
	}
	if p.Items == nil {
		return nil, errors.New("missing items")
	}

	seen := make(map[string]struct{}, len(p.Items))
	for _, item := range p.Items {
		if item.Snapshot.ProductID != item.ProductID {
			return nil, fmt.Errorf("item %s: snapshot is for product %s", item.ProductID, item.Snapshot.ProductID)
		}
		if _, dup := seen[item.ProductID]; dup {
			return nil, fmt.Errorf("duplicate product %s", item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}
	return p.Items, nil
}

// Save writes items for kind. Failures are logged and swallowed: they do not
// affect the in-memory collection.
func (a *Adapter) Save(ctx context.Context, kind domain.Kind, items []domain.Item) {
	data, err := Encode(items)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to encode collection",
			slog.String("collection", string(kind)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := a.kv.Set(ctx, a.Key(kind), data); err != nil {
		a.logger.WarnContext(ctx, "failed to persist collection",
			slog.String("collection", string(kind)),
			slog.Int("items", len(items)),
			slog.String("error", err.Error()),
		)
	}
}

// Load reads the items stored for kind. Missing, unreadable, corrupt or
// schema-mismatched payloads yield an empty collection.
func (a *Adapter) Load(ctx context.Context, kind domain.Kind) []domain.Item {
	data, err := a.kv.Get(ctx, a.Key(kind))
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			a.logger.WarnContext(ctx, "failed to read persisted collection",
				slog.String("collection", string(kind)),
				slog.String("error", err.Error()),
			)
		}
		return []domain.Item{}
	}

	items, err := Decode(data)
	if err != nil {
		a.logger.WarnContext(ctx, "discarding persisted collection",
			slog.String("collection", string(kind)),
			slog.Int("bytes", len(data)),
			slog.String("error", err.Error()),
		)
		return []domain.Item{}
	}
	return items
}

// Rehydrate replaces the store's contents with the persisted collection.
func (a *Adapter) Rehydrate(ctx context.Context, s *store.Store) int {
	items := a.Load(ctx, s.Kind())
	s.ReplaceAll(items)
	return len(items)
}

// Bind persists every state s emits, within the emitting call. Loading flags
// and warnings are not persisted. The returned func stops persisting.
func (a *Adapter) Bind(s *store.Store) (unbind func()) {
	kind := s.Kind()
	return s.Subscribe(func(st store.State) {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		a.Save(ctx, kind, st.Items)
	})
}
