package engine

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/internal/remote"
	"github.com/pzron/ecom-sub001/internal/store"
	"github.com/pzron/ecom-sub001/pkg/httpclient"
	"github.com/pzron/ecom-sub001/pkg/tracing"
)

var errAbandoned = errors.New("push abandoned: session changed")

// pushOp is one queued remote operation.
type pushOp struct {
	op         domain.Op
	quantity   int
	snapshot   domain.Snapshot
	generation uint64
}

// syncRecord tracks outstanding pushes for one product. recordID is the last
// server id the engine knows of, so operations queued behind a create use
// the id that create returns.
type syncRecord struct {
	productID string
	state     domain.SyncState
	recordID  string
	queue     []pushOp
	running   bool
}

// onMutation runs under the store lock.
func (e *Engine) onMutation(m store.Mutation) {
	var op pushOp
	switch m.Type {
	case store.MutationAdd:
		if m.Previous == nil {
			op = pushOp{op: domain.OpCreate, quantity: m.Item.Quantity, snapshot: m.Item.Snapshot}
		} else {
			op = pushOp{op: domain.OpUpdateQuantity, quantity: m.Item.Quantity, snapshot: m.Item.Snapshot}
		}
	case store.MutationSetQuantity:
		op = pushOp{op: domain.OpUpdateQuantity, quantity: m.Item.Quantity, snapshot: m.Item.Snapshot}
	case store.MutationRemove:
		op = pushOp{op: domain.OpDelete}
	default:
		return
	}

	recordID := ""
	if m.Previous != nil {
		recordID = m.Previous.RecordID
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.cred.Anonymous() {
		return
	}
	e.enqueueLocked(m.ProductID, op, recordID)
}

// enqueueLocked appends op to the product's queue and starts a drainer when
// none is running. Consecutive quantity updates collapse into the latest.
func (e *Engine) enqueueLocked(productID string, op pushOp, recordID string) {
	rec, ok := e.records[productID]
	if !ok {
		rec = &syncRecord{productID: productID}
		e.records[productID] = rec
	}
	if recordID != "" {
		rec.recordID = recordID
	}

	for win := range e.pulls {
		win.touched[productID] = struct{}{}
	}

	op.generation = e.generation
	if n := len(rec.queue); n > 0 && op.op == domain.OpUpdateQuantity && rec.queue[n-1].op == domain.OpUpdateQuantity {
		rec.queue[n-1] = op
	} else {
		rec.queue = append(rec.queue, op)
	}
	rec.state = op.op.Pending()
	e.updatePendingGauge()

	if !rec.running {
		rec.running = true
		e.begin()
		go e.drain(rec)
	}
}

// isPendingLocked reports whether productID has queued or in-flight work.
func (e *Engine) isPendingLocked(productID string) bool {
	rec, ok := e.records[productID]
	return ok && (rec.running || len(rec.queue) > 0)
}

func (e *Engine) drain(rec *syncRecord) {
	for {
		e.mu.Lock()
		if len(rec.queue) == 0 {
			rec.running = false
			if e.records[rec.productID] == rec {
				delete(e.records, rec.productID)
			}
			e.updatePendingGauge()
			e.end()
			e.mu.Unlock()
			return
		}

		op := rec.queue[0]
		rec.queue = rec.queue[1:]
		rec.state = op.op.Pending()
		stale := op.generation != e.generation || e.cred == nil
		var cred domain.Credentials
		if e.cred != nil {
			cred = *e.cred
		}
		recordID := rec.recordID
		e.mu.Unlock()

		if stale {
			continue
		}
		e.execute(rec, op, cred, recordID)
	}
}

func (e *Engine) execute(rec *syncRecord, op pushOp, cred domain.Credentials, recordID string) {
	effective := op.op
	if effective == domain.OpUpdateQuantity && recordID == "" {
		effective = domain.OpCreate
	}

	log := e.logger.With(
		slog.String("product_id", rec.productID),
		slog.String("op", string(effective)),
	)

	if effective == domain.OpDelete && recordID == "" {
		// Never reached the server.
		log.Debug("nothing to delete remotely")
		e.settle(rec, op, effective, domain.RemoteRecord{}, nil, log)
		return
	}

	ctx, span := tracer.Start(e.ctx, "engine.push", trace.WithAttributes(
		attribute.String("collection", string(e.kind)),
		attribute.String("product_id", rec.productID),
		attribute.String("op", string(effective)),
	))
	defer span.End()

	var created domain.RemoteRecord
	err := e.withRetry(ctx, op, effective, log, func(ctx context.Context) error {
		switch effective {
		case domain.OpCreate:
			r, err := e.remote.Create(ctx, e.kind, cred, rec.productID, op.quantity, op.snapshot)
			if err != nil {
				return err
			}
			created = r
			return nil
		case domain.OpDelete:
			return e.remote.Delete(ctx, e.kind, cred, recordID)
		default:
			return e.remote.UpdateQuantity(ctx, e.kind, cred, recordID, op.quantity)
		}
	})
	tracing.RecordError(span, err)

	e.settle(rec, op, effective, created, err, log)
}

// withRetry runs call until it succeeds, fails with a non-transient error or
// the attempt budget is spent.
func (e *Engine) withRetry(ctx context.Context, op pushOp, effective domain.Op, log *slog.Logger, call func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			retriesTotal.WithLabelValues(string(e.kind), string(effective)).Inc()
			if serr := e.sleep(ctx, httpclient.Backoff(attempt-1, e.cfg.MinBackoff, e.cfg.MaxBackoff)); serr != nil {
				return serr
			}
		}
		if e.generationOf() != op.generation {
			return errAbandoned
		}
		if werr := e.limiter.Wait(ctx); werr != nil {
			return werr
		}

		actx, cancel := context.WithTimeout(ctx, e.cfg.PushTimeout)
		err = call(actx)
		cancel()

		if err == nil || !remote.IsTransient(err) || ctx.Err() != nil {
			return err
		}
		log.Warn("push attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.cfg.MaxAttempts),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// settle records the outcome of op. Results from an earlier session are
// dropped.
func (e *Engine) settle(rec *syncRecord, op pushOp, effective domain.Op, created domain.RemoteRecord, err error, log *slog.Logger) {
	outcome := "ok"
	if err != nil {
		outcome = string(remote.ClassOf(err))
		if errors.Is(err, errAbandoned) || e.ctx.Err() != nil {
			outcome = "abandoned"
		}
	}
	pushesTotal.WithLabelValues(string(e.kind), string(effective), outcome).Inc()

	e.mu.Lock()
	stale := op.generation != e.generation
	publish := ""
	if err == nil && !stale {
		switch effective {
		case domain.OpCreate:
			rec.recordID = created.ID
		case domain.OpDelete:
			rec.recordID = ""
		}
		// Creates are idempotent on the server: a record committed by an
		// earlier attempt comes back unchanged and must be brought up to the
		// quantity this op carried.
		if effective == domain.OpCreate && len(rec.queue) == 0 && e.kind.Quantified() &&
			created.Quantity != domain.NormalizeQuantity(e.kind, op.quantity) {
			log.Debug("server kept an older quantity, following up with an update",
				slog.Int("server_quantity", created.Quantity),
				slog.Int("quantity", op.quantity),
			)
			e.enqueueLocked(rec.productID, pushOp{
				op:       domain.OpUpdateQuantity,
				quantity: op.quantity,
				snapshot: op.snapshot,
			}, created.ID)
		}
		// Only the latest intent links the store item to a record; an id
		// from a superseded create would otherwise land on a newer item.
		if len(rec.queue) == 0 {
			rec.state = effective.Settled()
			if effective != domain.OpDelete {
				publish = rec.recordID
			}
		}
	}
	e.mu.Unlock()

	if stale || outcome == "abandoned" {
		log.Debug("push result discarded")
		return
	}

	if err == nil {
		if publish != "" {
			e.store.SetRecordID(rec.productID, publish)
		}
		if effective != domain.OpDelete {
			e.store.ClearWarning(rec.productID)
		}
		log.Debug("push confirmed")
		return
	}

	re := remote.Classify(err)
	switch re.Class {
	case remote.ClassValidation:
		e.store.SetWarning(domain.Warning{
			ProductID: rec.productID,
			Code:      re.Code,
			Message:   re.Message,
			At:        e.now().UTC(),
		})
		log.Warn("push rejected by server", slog.String("code", re.Code))
	case remote.ClassTransient:
		log.Warn("push abandoned after retries, leaving it to the next reconciliation",
			slog.String("error", err.Error()),
		)
	default:
		log.Error("push failed",
			slog.String("class", string(re.Class)),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) generationOf() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}
