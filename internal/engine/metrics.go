package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pzron/ecom-sub001/pkg/tracing"
)

var tracer = tracing.Tracer("github.com/pzron/ecom-sub001/internal/engine")

var (
	pushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_pushes_total",
			Help: "Remote pushes by collection, operation and outcome.",
		},
		[]string{"collection", "op", "outcome"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_push_retries_total",
			Help: "Push attempts beyond the first.",
		},
		[]string{"collection", "op"},
	)

	reconcilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_reconciles_total",
			Help: "Reconciliation pulls by collection and outcome.",
		},
		[]string{"collection", "outcome"},
	)

	skippedServerItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_skipped_server_items_total",
			Help: "Malformed server records left out of a reconciliation.",
		},
		[]string{"collection"},
	)

	pendingProducts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shopsync_pending_products",
			Help: "Products with outstanding pushes.",
		},
		[]string{"collection"},
	)
)

// updatePendingGauge must be called with e.mu held.
func (e *Engine) updatePendingGauge() {
	pendingProducts.WithLabelValues(string(e.kind)).Set(float64(len(e.records)))
}
