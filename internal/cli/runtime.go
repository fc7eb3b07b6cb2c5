package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pzron/ecom-sub001/internal/config"
	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/internal/engine"
	"github.com/pzron/ecom-sub001/internal/persistence"
	"github.com/pzron/ecom-sub001/internal/persistence/memory"
	kvredis "github.com/pzron/ecom-sub001/internal/persistence/redis"
	"github.com/pzron/ecom-sub001/internal/persistence/sqlite"
	"github.com/pzron/ecom-sub001/internal/remote"
	"github.com/pzron/ecom-sub001/pkg/database"
	apperrors "github.com/pzron/ecom-sub001/pkg/errors"
)

// Runtime is everything one invocation needs: durable storage, the remote
// API and engine settings.
type Runtime struct {
	KV        persistence.KV
	Namespace string
	Remote    engine.Remote
	Engine    engine.Config
	Logger    *slog.Logger

	closers []func() error
}

// Opener builds the Runtime for an invocation.
type Opener func(ctx context.Context) (*Runtime, error)

// Adapter returns the persistence adapter over the runtime's KV.
func (rt *Runtime) Adapter() *persistence.Adapter {
	return persistence.NewAdapter(rt.KV, rt.Logger, persistence.WithNamespace(rt.namespace()))
}

// Close releases storage connections.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (rt *Runtime) namespace() string {
	if rt.Namespace == "" {
		return persistence.DefaultNamespace
	}
	return rt.Namespace
}

func (rt *Runtime) sessionKey() string {
	return rt.namespace() + ":session"
}

// Credentials loads the stored session. A missing or unreadable session is
// anonymous.
func (rt *Runtime) Credentials(ctx context.Context) *domain.Credentials {
	data, err := rt.KV.Get(ctx, rt.sessionKey())
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			rt.Logger.WarnContext(ctx, "failed to load session", slog.String("error", err.Error()))
		}
		return nil
	}
	var cred domain.Credentials
	if err := json.Unmarshal(data, &cred); err != nil {
		rt.Logger.WarnContext(ctx, "discarding unreadable session", slog.String("error", err.Error()))
		return nil
	}
	if cred.Anonymous() {
		return nil
	}
	return &cred
}

// SaveCredentials stores cred; nil stores an anonymous session.
func (rt *Runtime) SaveCredentials(ctx context.Context, cred *domain.Credentials) error {
	if cred == nil {
		cred = &domain.Credentials{}
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := rt.KV.Set(ctx, rt.sessionKey(), data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ConfigOpener opens the storage backend and remote client described by cfg.
func ConfigOpener(cfg *config.Client, logger *slog.Logger) Opener {
	return func(ctx context.Context) (*Runtime, error) {
		rt := &Runtime{
			Namespace: cfg.Namespace,
			Remote:    remote.New(remote.Config{BaseURL: cfg.APIBaseURL, Timeout: cfg.RequestTimeout}, logger),
			Engine:    EngineConfig(cfg),
			Logger:    logger,
		}

		switch cfg.Storage {
		case config.StorageRedis:
			client, err := database.NewRedisClient(ctx, cfg.Redis)
			if err != nil {
				return nil, fmt.Errorf("open redis storage: %w", err)
			}
			rt.KV = kvredis.New(client, cfg.RedisTTL)
			rt.closers = append(rt.closers, client.Close)
		case config.StorageSQLite:
			kv, err := sqlite.Open(cfg.SQLitePath)
			if err != nil {
				return nil, fmt.Errorf("open sqlite storage: %w", err)
			}
			rt.KV = kv
			rt.closers = append(rt.closers, kv.Close)
		default:
			rt.KV = memory.New()
		}
		return rt, nil
	}
}

// EngineConfig maps client configuration onto engine settings.
func EngineConfig(cfg *config.Client) engine.Config {
	return engine.Config{
		PushTimeout: cfg.PushTimeout,
		PullTimeout: cfg.PullTimeout,
		MaxAttempts: cfg.MaxAttempts,
		MinBackoff:  cfg.MinBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		PushRate:    cfg.PushRate,
		PushBurst:   cfg.PushBurst,
	}
}
