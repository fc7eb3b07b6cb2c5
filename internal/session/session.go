// Package session ties the cart and wishlist together across the session
// boundary: startup, login, logout and shutdown.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/internal/engine"
	"github.com/pzron/ecom-sub001/internal/persistence"
	"github.com/pzron/ecom-sub001/internal/store"
	apperrors "github.com/pzron/ecom-sub001/pkg/errors"
)

// Bundle is one collection: its store, its sync engine and the binding that
// persists it.
type Bundle struct {
	Kind   domain.Kind
	Store  *store.Store
	Engine *engine.Engine

	unbind func()
}

// Manager owns the cart and wishlist bundles.
type Manager struct {
	adapter *persistence.Adapter
	logger  *slog.Logger

	cart     *Bundle
	wishlist *Bundle

	mu      sync.Mutex
	started bool
}

// NewManager builds both bundles. Nothing is loaded or pulled until Start.
func NewManager(adapter *persistence.Adapter, r engine.Remote, logger *slog.Logger, cfg engine.Config, opts ...store.Option) *Manager {
	build := func(kind domain.Kind) *Bundle {
		l := logger.With(slog.String("collection", string(kind)))
		s := store.New(kind, append([]store.Option{store.WithLogger(l)}, opts...)...)
		return &Bundle{
			Kind:   kind,
			Store:  s,
			Engine: engine.New(kind, s, r, logger, cfg),
		}
	}

	return &Manager{
		adapter:  adapter,
		logger:   logger,
		cart:     build(domain.KindCart),
		wishlist: build(domain.KindWishlist),
	}
}

// Cart returns the cart bundle.
func (m *Manager) Cart() *Bundle { return m.cart }

// Wishlist returns the wishlist bundle.
func (m *Manager) Wishlist() *Bundle { return m.wishlist }

// Bundle returns the bundle for kind.
func (m *Manager) Bundle(kind domain.Kind) (*Bundle, error) {
	switch kind {
	case domain.KindCart:
		return m.cart, nil
	case domain.KindWishlist:
		return m.wishlist, nil
	default:
		return nil, apperrors.InvalidInput("unknown collection " + string(kind))
	}
}

func (m *Manager) bundles() []*Bundle {
	return []*Bundle{m.cart, m.wishlist}
}

// Start rehydrates both collections from durable storage, starts persisting
// them and, when cred is a valid session, reconciles them with the server.
// Pull failures are logged; the local collections stay usable.
func (m *Manager) Start(ctx context.Context, cred *domain.Credentials) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for _, b := range m.bundles() {
		n := m.adapter.Rehydrate(ctx, b.Store)
		b.unbind = m.adapter.Bind(b.Store)
		m.logger.DebugContext(ctx, "collection rehydrated",
			slog.String("collection", string(b.Kind)),
			slog.Int("items", n),
		)
	}

	m.each(ctx, "session start reconciliation failed", func(ctx context.Context, b *Bundle) error {
		return b.Engine.Start(ctx, cred)
	})
}

// Login reconciles both collections for the new session concurrently,
// adopting guest items. Only invalid credentials are reported; remote
// failures are logged.
func (m *Manager) Login(ctx context.Context, cred domain.Credentials) error {
	if cred.Anonymous() {
		return apperrors.InvalidInput("login requires a user id and a token")
	}
	m.each(ctx, "login reconciliation failed", func(ctx context.Context, b *Bundle) error {
		return b.Engine.Login(ctx, cred)
	})
	return nil
}

// Sync reconciles both collections now and reports what failed.
func (m *Manager) Sync(ctx context.Context) (map[domain.Kind]engine.ReconcileResult, error) {
	var mu sync.Mutex
	results := make(map[domain.Kind]engine.ReconcileResult, 2)
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range m.bundles() {
		g.Go(func() error {
			res, err := b.Engine.Reconcile(gctx, engine.ReconcileOptions{})
			mu.Lock()
			defer mu.Unlock()
			results[b.Kind] = res
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// Logout ends the session for both collections.
func (m *Manager) Logout() {
	for _, b := range m.bundles() {
		b.Engine.Logout()
	}
}

// Wait blocks until both engines are idle or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range m.bundles() {
		g.Go(func() error {
			return b.Engine.Wait(gctx)
		})
	}
	return g.Wait()
}

// Close stops both engines and the persistence bindings.
func (m *Manager) Close() {
	for _, b := range m.bundles() {
		b.Engine.Close()
		if b.unbind != nil {
			b.unbind()
		}
	}
}

// each runs fn for both bundles concurrently and logs failures.
func (m *Manager) each(ctx context.Context, msg string, fn func(context.Context, *Bundle) error) {
	var g errgroup.Group
	for _, b := range m.bundles() {
		g.Go(func() error {
			if err := fn(ctx, b); err != nil {
				m.logger.WarnContext(ctx, msg,
					slog.String("collection", string(b.Kind)),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
