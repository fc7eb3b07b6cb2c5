package middleware

import (
	"log/slog"
	"net/http"

	"github.com/pzron/ecom-sub001/pkg/logger"
)

// RequestLogger builds a request-scoped logger enriched with correlation_id,
// user_id, collection, trace_id and span_id and stores it in the context.
// Handlers retrieve it with logger.FromContext.
//
// Mount it after RequestLogging, Tracing and Auth so those fields exist.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if userID := UserIDFromContext(ctx); userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
