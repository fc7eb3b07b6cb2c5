package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	core "github.com/pzron/ecom-sub001/internal/domain"
	apperrors "github.com/pzron/ecom-sub001/pkg/errors"
	"github.com/pzron/ecom-sub001/pkg/httputil"
	"github.com/pzron/ecom-sub001/pkg/logger"
)

type contextKey string

const kindKey contextKey = "collection_kind"

// WithKind resolves the {kind} path segment. Unknown collections answer 404.
func WithKind(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind, err := core.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			httputil.WriteError(w, r, apperrors.NotFound("collection", chi.URLParam(r, "kind")), nil)
			return
		}
		ctx := context.WithValue(r.Context(), kindKey, kind)
		ctx = logger.WithCollection(ctx, string(kind))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func kindFromContext(ctx context.Context) core.Kind {
	k, _ := ctx.Value(kindKey).(core.Kind)
	return k
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
