// Package app wires the collectiond service together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/pzron/ecom-sub001/internal/api/auth"
	"github.com/pzron/ecom-sub001/internal/api/event"
	handler "github.com/pzron/ecom-sub001/internal/api/handler/http"
	"github.com/pzron/ecom-sub001/internal/api/repository"
	pgrepo "github.com/pzron/ecom-sub001/internal/api/repository/postgres"
	redisrepo "github.com/pzron/ecom-sub001/internal/api/repository/redis"
	"github.com/pzron/ecom-sub001/internal/api/service"
	"github.com/pzron/ecom-sub001/internal/config"
	"github.com/pzron/ecom-sub001/pkg/database"
	"github.com/pzron/ecom-sub001/pkg/health"
	pkgkafka "github.com/pzron/ecom-sub001/pkg/kafka"
	"github.com/pzron/ecom-sub001/pkg/tracing"
)

// accessTokenExpiry only matters for tokens minted locally; collectiond
// itself never issues tokens to clients.
const accessTokenExpiry = 15 * time.Minute

// App wires together all dependencies and runs the collection service.
type App struct {
	cfg            *config.Server
	logger         *slog.Logger
	rdb            *redis.Client
	pool           *pgxpool.Pool
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	shutdownTracer func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Server, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, shutdownTracer: shutdownTracer}
	healthHandler := health.NewHandler(5 * time.Second)

	repo, err := a.openRepository(ctx, healthHandler)
	if err != nil {
		a.close()
		return nil, err
	}

	// Change events are optional.
	var publisher service.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = event.NewProducer(a.producer, logger)
		healthHandler.Register("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	collectionService := service.NewCollectionService(repo, publisher, logger)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, accessTokenExpiry)

	router := handler.NewRouter(collectionService, healthHandler, jwtManager.Validator(), logger)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

func (a *App) openRepository(ctx context.Context, healthHandler *health.Handler) (repository.RecordRepository, error) {
	switch a.cfg.Repository {
	case config.RepositoryPostgres:
		pool, err := database.NewPostgresPool(ctx, &a.cfg.Postgres, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.pool = pool
		a.logger.Info("connected to PostgreSQL",
			slog.String("host", a.cfg.Postgres.Host),
			slog.String("database", a.cfg.Postgres.DBName),
		)

		if err := pgrepo.Migrate(ctx, pool, a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, handler.ServiceName); err != nil {
			a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}
		healthHandler.Register("postgres", pool.Ping)
		return pgrepo.NewRecordRepository(pool, a.logger), nil

	default:
		rdb, err := database.NewRedisClient(ctx, a.cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.rdb = rdb
		a.logger.Info("connected to Redis",
			slog.String("addr", a.cfg.Redis.Addr),
			slog.Int("db", a.cfg.Redis.DB),
		)

		healthHandler.Register("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		return redisrepo.NewRecordRepository(rdb, a.cfg.RecordTTL), nil
	}
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.close()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.close()
	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTracer(ctx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}
}
