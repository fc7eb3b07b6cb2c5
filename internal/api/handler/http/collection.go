package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pzron/ecom-sub001/internal/api/domain"
	"github.com/pzron/ecom-sub001/internal/api/service"
	"github.com/pzron/ecom-sub001/pkg/httputil"
	"github.com/pzron/ecom-sub001/pkg/middleware"
	"github.com/pzron/ecom-sub001/pkg/validator"
)

// CollectionHandler handles HTTP requests for cart and wishlist endpoints.
type CollectionHandler struct {
	service *service.CollectionService
	logger  *slog.Logger
}

// NewCollectionHandler creates a new collection HTTP handler.
func NewCollectionHandler(svc *service.CollectionService, logger *slog.Logger) *CollectionHandler {
	return &CollectionHandler{
		service: svc,
		logger:  logger,
	}
}

// List handles GET /api/{kind}?userId=
func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	kind := kindFromContext(r.Context())
	userID := middleware.UserIDFromContext(r.Context())

	records, err := h.service.List(r.Context(), kind, userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, toResponse(records))
}

// Create handles POST /api/{kind}. A new record answers 201, an existing
// one 200.
func (h *CollectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	kind := kindFromContext(r.Context())
	userID := middleware.UserIDFromContext(r.Context())

	var input service.CreateInput
	if err := validator.DecodeAndValidate(r, &input); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	rec, created, err := h.service.Create(r.Context(), kind, userID, input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteData(w, status, rec)
}

// UpdateQuantity handles PATCH /api/cart/{recordId}
func (h *CollectionHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	kind := kindFromContext(r.Context())
	userID := middleware.UserIDFromContext(r.Context())
	recordID := chi.URLParam(r, "recordId")

	var input service.UpdateQuantityInput
	if err := validator.DecodeAndValidate(r, &input); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	rec, err := h.service.UpdateQuantity(r.Context(), kind, userID, recordID, input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, rec)
}

// Delete handles DELETE /api/{kind}/{recordId}
func (h *CollectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kind := kindFromContext(r.Context())
	userID := middleware.UserIDFromContext(r.Context())

	if err := h.service.Delete(r.Context(), kind, userID, chi.URLParam(r, "recordId")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toResponse(records []*domain.Record) []*domain.Record {
	if records == nil {
		return []*domain.Record{}
	}
	return records
}

