// Package memory is an in-process KV used by tests and as the default client
// backend when nothing durable is configured.
package memory

import (
	"context"
	"sync"

	apperrors "github.com/pzron/ecom-sub001/pkg/errors"
)

// KV is a map-backed key-value store.
type KV struct {
	mu   sync.RWMutex
	data map[string][]byte
	// FailWrites makes Set return this error when non-nil.
	FailWrites error
}

// New returns an empty KV.
func New() *KV {
	return &KV{data: make(map[string][]byte)}
}

// Get returns a copy of the value under key.
func (m *KV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, apperrors.NotFound("key", key)
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value under key.
func (m *KV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}
