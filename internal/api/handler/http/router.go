package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pzron/ecom-sub001/internal/api/service"
	"github.com/pzron/ecom-sub001/pkg/health"
	"github.com/pzron/ecom-sub001/pkg/middleware"
)

// ServiceName labels metrics and spans emitted by the router.
const ServiceName = "collectiond"

// NewRouter creates a chi router with all collection routes registered.
func NewRouter(
	collectionService *service.CollectionService,
	healthHandler *health.Handler,
	validate middleware.TokenValidator,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(ServiceName))
	r.Use(middleware.Tracing(ServiceName))

	healthHandler.Mount(r)
	r.Handle("/metrics", promhttp.Handler())

	collectionHandler := NewCollectionHandler(collectionService, logger)

	r.Route("/api/{kind}", func(r chi.Router) {
		r.Use(WithKind)
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(validate))
		r.Use(middleware.RequireOwner("userId"))
		r.Use(middleware.RequestLogger(logger))

		r.Get("/", collectionHandler.List)
		r.Post("/", collectionHandler.Create)
		r.Patch("/{recordId}", collectionHandler.UpdateQuantity)
		r.Delete("/{recordId}", collectionHandler.Delete)
	})

	return r
}
