package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/pkg/tracing"
)

// ReconcileOptions controls a reconciliation pass.
type ReconcileOptions struct {
	// Adopt keeps local-only items and pushes them as creates instead of
	// dropping them. Used on login.
	Adopt bool
}

// ReconcileResult counts what a pass did to each product.
type ReconcileResult struct {
	Kept      int // pending locally, server value ignored
	Confirmed int // overwritten with the server value
	Inserted  int // present only on the server
	Adopted   int // present only locally and pushed
	Dropped   int // present only locally and removed
	Skipped   int // malformed server records
	Stale     bool
}

// Reconcile pulls the server collection and merges it into the store.
//
// A product with outstanding pushes when the pull was issued, or pushed
// while it was in flight, keeps its local value. Any other product
// takes the server's quantity, snapshot and record id while keeping its
// local ItemID. The merge runs under the store lock so no user mutation can
// interleave with it. Anonymous engines return immediately.
func (e *Engine) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ReconcileResult{}, ErrClosed
	}
	if e.cred == nil {
		e.mu.Unlock()
		return ReconcileResult{}, nil
	}
	cred := *e.cred
	gen := e.generation
	win := e.openPullLocked()
	e.begin()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pulls, win)
		e.end()
		e.mu.Unlock()
	}()

	ctx, span := tracer.Start(ctx, "engine.reconcile", trace.WithAttributes(
		attribute.String("collection", string(e.kind)),
		attribute.Bool("adopt", opts.Adopt),
	))
	defer span.End()

	e.store.SetLoading(true)
	defer e.store.SetLoading(false)

	pullCtx, cancel := context.WithTimeout(ctx, e.cfg.PullTimeout)
	list, err := e.remote.List(pullCtx, e.kind, cred)
	cancel()
	if err != nil {
		reconcilesTotal.WithLabelValues(string(e.kind), "error").Inc()
		tracing.RecordError(span, err)
		e.logger.WarnContext(ctx, "reconciliation pull failed", slog.String("error", err.Error()))
		return ReconcileResult{}, fmt.Errorf("pull %s: %w", e.kind, err)
	}

	res := ReconcileResult{Skipped: list.Skipped}
	if list.Skipped > 0 {
		skippedServerItems.WithLabelValues(string(e.kind)).Add(float64(list.Skipped))
	}

	e.store.ReplaceFunc(func(local []domain.Item) []domain.Item {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.closed || e.generation != gen {
			res.Stale = true
			return local
		}
		return e.mergeLocked(local, list.Records, win, opts, &res)
	})

	if res.Stale {
		reconcilesTotal.WithLabelValues(string(e.kind), "stale").Inc()
		e.logger.InfoContext(ctx, "reconciliation discarded, session changed")
		return res, nil
	}

	reconcilesTotal.WithLabelValues(string(e.kind), "ok").Inc()
	span.SetAttributes(
		attribute.Int("kept", res.Kept),
		attribute.Int("inserted", res.Inserted),
		attribute.Int("adopted", res.Adopted),
		attribute.Int("dropped", res.Dropped),
	)
	e.logger.InfoContext(ctx, "collection reconciled",
		slog.Bool("adopt", opts.Adopt),
		slog.Int("kept", res.Kept),
		slog.Int("confirmed", res.Confirmed),
		slog.Int("inserted", res.Inserted),
		slog.Int("adopted", res.Adopted),
		slog.Int("dropped", res.Dropped),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

// pullWindow collects the products that had outstanding work when a pull
// was issued or were pushed while it was in flight. The server list cannot
// be trusted for them: a push confirmed mid-pull is missing from it.
type pullWindow struct {
	touched map[string]struct{}
}

// openPullLocked registers a window seeded with every product that has a
// sync record. enqueueLocked adds to every open window.
func (e *Engine) openPullLocked() *pullWindow {
	win := &pullWindow{touched: make(map[string]struct{}, len(e.records))}
	for pid := range e.records {
		win.touched[pid] = struct{}{}
	}
	e.pulls[win] = struct{}{}
	return win
}

// localWinsLocked reports whether the local value of productID must survive
// the merge.
func (e *Engine) localWinsLocked(productID string, win *pullWindow) bool {
	if e.isPendingLocked(productID) {
		return true
	}
	_, touched := win.touched[productID]
	return touched
}

// mergeLocked runs with both the store lock and e.mu held. Local order is
// kept; server-only products follow in server order.
func (e *Engine) mergeLocked(local []domain.Item, records []domain.RemoteRecord, win *pullWindow, opts ReconcileOptions, res *ReconcileResult) []domain.Item {
	server := make(map[string]domain.RemoteRecord, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		if _, dup := server[r.ProductID]; dup {
			continue
		}
		server[r.ProductID] = r
		order = append(order, r.ProductID)
	}

	out := make([]domain.Item, 0, len(local)+len(order))
	seen := make(map[string]bool, len(local))

	for _, item := range local {
		seen[item.ProductID] = true
		r, onServer := server[item.ProductID]

		switch {
		case e.localWinsLocked(item.ProductID, win):
			out = append(out, item)
			res.Kept++
		case onServer:
			item.Quantity = domain.NormalizeQuantity(e.kind, r.Quantity)
			item.Snapshot = r.Snapshot()
			item.RecordID = r.ID
			out = append(out, item)
			res.Confirmed++
		case opts.Adopt:
			item.RecordID = ""
			out = append(out, item)
			e.enqueueLocked(item.ProductID, pushOp{
				op:       domain.OpCreate,
				quantity: item.Quantity,
				snapshot: item.Snapshot,
			}, "")
			res.Adopted++
		default:
			res.Dropped++
		}
	}

	for _, pid := range order {
		if seen[pid] || e.localWinsLocked(pid, win) {
			continue
		}
		r := server[pid]
		added := r.CreatedAt
		if added.IsZero() {
			added = e.now()
		}
		out = append(out, domain.Item{
			ItemID:    uuid.NewString(),
			ProductID: pid,
			Quantity:  domain.NormalizeQuantity(e.kind, r.Quantity),
			Snapshot:  r.Snapshot(),
			AddedAt:   added.UTC(),
			RecordID:  r.ID,
		})
		res.Inserted++
	}
	return out
}
