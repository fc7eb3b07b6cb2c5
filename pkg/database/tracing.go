package database

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pzron/ecom-sub001/pkg/database"

// QueryTracer wraps storage calls in client spans and logs slow ones.
type QueryTracer struct {
	system    string
	threshold time.Duration
	logger    *slog.Logger
}

// NewQueryTracer returns a tracer for the given db.system ("postgresql",
// "redis", "sqlite"). A zero threshold or nil logger disables slow query logs.
func NewQueryTracer(system string, threshold time.Duration, logger *slog.Logger) *QueryTracer {
	return &QueryTracer{system: system, threshold: threshold, logger: logger}
}

// Trace starts a span for operation. Call the returned func with the
// operation's error when it completes:
//
//	ctx, end := t.Trace(ctx, "ListRecords", listQuery)
//	defer func() { end(err) }()
func (t *QueryTracer) Trace(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", t.system),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if t.threshold <= 0 || t.logger == nil {
			return
		}
		if elapsed := time.Since(start); elapsed >= t.threshold {
			attrs := []any{
				slog.String("db_system", t.system),
				slog.String("operation", operation),
				slog.Duration("duration", elapsed),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			t.logger.WarnContext(ctx, "slow query detected", attrs...)
		}
	}
}
