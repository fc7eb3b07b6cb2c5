// Package engine pushes local collection mutations to the remote API and
// reconciles the local collection with the server's copy.
//
// Pushes are serialized per product: every product with outstanding work has
// a sync record holding a FIFO of operations, and at most one of them is in
// flight. Failures never roll back local state.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/internal/remote"
	"github.com/pzron/ecom-sub001/internal/store"

	apperrors "github.com/pzron/ecom-sub001/pkg/errors"
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("sync engine closed")

// Remote is the server API used by the engine. *remote.Client implements it.
type Remote interface {
	Create(ctx context.Context, kind domain.Kind, cred domain.Credentials, productID string, quantity int, snap domain.Snapshot) (domain.RemoteRecord, error)
	Delete(ctx context.Context, kind domain.Kind, cred domain.Credentials, recordID string) error
	UpdateQuantity(ctx context.Context, kind domain.Kind, cred domain.Credentials, recordID string, quantity int) error
	List(ctx context.Context, kind domain.Kind, cred domain.Credentials) (remote.ListResult, error)
}

// Config tunes pushing and pulling.
type Config struct {
	// PushTimeout bounds a single attempt.
	PushTimeout time.Duration
	// PullTimeout bounds a reconciliation pull.
	PullTimeout time.Duration
	// MaxAttempts is the number of tries per operation, the first included.
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	// PushRate and PushBurst throttle pushes across all products. A zero
	// rate disables throttling.
	PushRate  float64
	PushBurst int
}

// DefaultConfig returns the engine defaults: one retry after a short backoff.
func DefaultConfig() Config {
	return Config{
		PushTimeout: 10 * time.Second,
		PullTimeout: 15 * time.Second,
		MaxAttempts: 2,
		MinBackoff:  200 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		PushRate:    20,
		PushBurst:   10,
	}
}

// Engine synchronizes one collection.
type Engine struct {
	kind    domain.Kind
	store   *store.Store
	remote  Remote
	logger  *slog.Logger
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	cred       *domain.Credentials
	generation uint64
	records    map[string]*syncRecord
	pulls      map[*pullWindow]struct{}
	active     int
	idle       chan struct{}
	closed     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for warnings and inserted items.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleep overrides how the engine waits between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// New creates an engine for s and subscribes it to the store's mutations.
func New(kind domain.Kind, s *store.Store, r Remote, logger *slog.Logger, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = def.PushTimeout
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = def.PullTimeout
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = def.MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}

	limit := rate.Inf
	if cfg.PushRate > 0 {
		limit = rate.Limit(cfg.PushRate)
	}
	burst := cfg.PushBurst
	if burst < 1 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	e := &Engine{
		kind:    kind,
		store:   s,
		remote:  r,
		logger:  logger.With(slog.String("collection", string(kind))),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
		sleep:   sleepContext,
		ctx:     ctx,
		cancel:  cancel,
		records: make(map[string]*syncRecord),
		pulls:   make(map[*pullWindow]struct{}),
		idle:    idle,
	}
	for _, opt := range opts {
		opt(e)
	}

	s.OnMutation(e.onMutation)
	return e
}

// Kind returns the collection kind.
func (e *Engine) Kind() domain.Kind {
	return e.kind
}

// Credentials returns the current session, nil when anonymous.
func (e *Engine) Credentials() *domain.Credentials {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cred == nil {
		return nil
	}
	c := *e.cred
	return &c
}

// Start begins a session. With credentials it reconciles with the server;
// without them the engine stays offline.
func (e *Engine) Start(ctx context.Context, cred *domain.Credentials) error {
	if cred.Anonymous() {
		return nil
	}
	e.setCredentials(cred)
	_, err := e.Reconcile(ctx, ReconcileOptions{})
	return err
}

// Login authenticates the engine and runs the login reconciliation, adopting
// local-only items into the server collection. Logging in again with the
// same credentials does nothing.
func (e *Engine) Login(ctx context.Context, cred domain.Credentials) error {
	if cred.Anonymous() {
		return apperrors.InvalidInput("login requires a user id and a token")
	}

	e.mu.Lock()
	if e.cred != nil && *e.cred == cred {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.setCredentials(&cred)
	_, err := e.Reconcile(ctx, ReconcileOptions{Adopt: true})
	return err
}

// Logout ends the session. Queued pushes are abandoned. Wishlists drop their
// server record ids; carts keep everything for the guest session.
func (e *Engine) Logout() {
	e.mu.Lock()
	e.cred = nil
	e.generation++
	for pid, rec := range e.records {
		rec.queue = nil
		if !rec.running {
			delete(e.records, pid)
		}
	}
	e.updatePendingGauge()
	e.mu.Unlock()

	if e.kind == domain.KindWishlist {
		e.store.ClearRecordIDs()
	}
	e.logger.Info("session ended")
}

// Wait blocks until no push or pull is running.
func (e *Engine) Wait(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.active == 0 {
			e.mu.Unlock()
			return nil
		}
		idle := e.idle
		e.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops all pushes and waits for running ones to return. Local state
// is left as is.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.generation++
	for _, rec := range e.records {
		rec.queue = nil
	}
	e.mu.Unlock()

	e.cancel()
	_ = e.Wait(context.Background())
}

// Pending returns the sync state of every product with outstanding work.
func (e *Engine) Pending() map[string]domain.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]domain.SyncState, len(e.records))
	for pid, rec := range e.records {
		out[pid] = rec.state
	}
	return out
}

func (e *Engine) setCredentials(cred *domain.Credentials) {
	c := *cred

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cred != nil && e.cred.UserID != c.UserID {
		e.generation++
		for _, rec := range e.records {
			rec.queue = nil
		}
	}
	e.cred = &c
}

// begin and end track running work for Wait. Callers hold e.mu.
func (e *Engine) begin() {
	if e.active == 0 {
		e.idle = make(chan struct{})
	}
	e.active++
}

func (e *Engine) end() {
	e.active--
	if e.active == 0 {
		close(e.idle)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
