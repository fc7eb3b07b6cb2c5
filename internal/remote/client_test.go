package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/pkg/httpclient"
	"github.com/pzron/ecom-sub001/pkg/logger"
)

var testCred = domain.Credentials{UserID: "user-1", Token: "tok-1"}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second}, logger.Discard())
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%q,"message":"refused"}}`, code)
}

func TestCreate_SendsHeadersAndDecodesRecord(t *testing.T) {
	var got CreateRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/cart", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "user-1", r.Header.Get("X-User-ID"))
		assert.Equal(t, "corr-1", r.Header.Get("X-Correlation-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"rec-1","product_id":"p1","quantity":2,"product":{"product_id":"p1","name":"Mug","price":1200,"in_stock":true},"created_at":"2026-01-02T03:04:05Z"}}`))
	}))

	ctx := logger.WithCorrelationID(context.Background(), "corr-1")
	snap := domain.Snapshot{ProductID: "p1", Name: "Mug", Price: 1200, InStock: true}
	rec, err := client.Create(ctx, domain.KindCart, testCred, "p1", 2, snap)
	require.NoError(t, err)

	assert.Equal(t, "p1", got.ProductID)
	assert.Equal(t, 2, got.Quantity)
	require.NotNil(t, got.Product)
	assert.Equal(t, "Mug", got.Product.Name)

	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, 2, rec.Quantity)
	assert.Equal(t, "Mug", rec.Product.Name)
}

func TestCreate_WishlistOmitsQuantity(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasQty := body["quantity"]
		assert.False(t, hasQty)
		_, _ = w.Write([]byte(`{"data":{"id":"rec-9","product_id":"p9","created_at":"2026-01-02T03:04:05Z"}}`))
	}))

	rec, err := client.Create(context.Background(), domain.KindWishlist, testCred, "p9", 5, domain.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, "p9", rec.Product.ProductID)
}

func TestList_SkipsMalformedElements(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user-1", r.URL.Query().Get("userId"))
		_, _ = w.Write([]byte(`{"data":[
			{"id":"rec-1","product_id":"p1","quantity":1,"product":{"product_id":"p1","name":"A","price":100,"in_stock":true},"created_at":"2026-01-02T03:04:05Z"},
			{"id":"","product_id":"p2"},
			{"id":"rec-3","product_id":"p3","product":{"product_id":"other","name":"C","price":1,"in_stock":true}},
			"not-an-object",
			{"id":"rec-4","product_id":"p4","quantity":-1},
			{"id":"rec-5","product_id":"p5","quantity":3}
		]}`))
	}))

	res, err := client.List(context.Background(), domain.KindCart, testCred)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 4, res.Skipped)
	assert.Equal(t, "rec-1", res.Records[0].ID)
	assert.Equal(t, "rec-5", res.Records[1].ID)
	assert.Equal(t, "p5", res.Records[1].Product.ProductID)
}

func TestList_UndecodableBodyIsPermanent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))

	_, err := client.List(context.Background(), domain.KindWishlist, testCred)
	require.Error(t, err)
	assert.Equal(t, ClassPermanent, ClassOf(err))
}

func TestDelete_NotFoundIsSuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/wishlist/rec%2F1", r.URL.EscapedPath())
		writeError(w, http.StatusNotFound, "NOT_FOUND")
	}))

	assert.NoError(t, client.Delete(context.Background(), domain.KindWishlist, testCred, "rec/1"))
}

func TestUpdateQuantity_SendsPatch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/cart/rec-1", r.URL.Path)
		var body UpdateQuantityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 4, body.Quantity)
		w.WriteHeader(http.StatusNoContent)
	}))

	assert.NoError(t, client.UpdateQuantity(context.Background(), domain.KindCart, testCred, "rec-1", 4))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   Class
	}{
		{"server error", http.StatusInternalServerError, "INTERNAL_ERROR", ClassTransient},
		{"unavailable", http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", ClassTransient},
		{"rate limited", http.StatusTooManyRequests, "RATE_LIMITED", ClassTransient},
		{"unauthorized", http.StatusUnauthorized, "UNAUTHORIZED", ClassUnauthorized},
		{"forbidden", http.StatusForbidden, "FORBIDDEN", ClassUnauthorized},
		{"not purchasable", http.StatusUnprocessableEntity, "NOT_PURCHASABLE", ClassValidation},
		{"conflict out of stock", http.StatusConflict, "OUT_OF_STOCK", ClassValidation},
		{"plain conflict", http.StatusConflict, "CONFLICT", ClassPermanent},
		{"bad request", http.StatusBadRequest, "INVALID_INPUT", ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, tt.status, tt.code)
			}))

			err := client.UpdateQuantity(context.Background(), domain.KindCart, testCred, "rec-1", 1)
			require.Error(t, err)

			var re *Error
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.want, re.Class)
			assert.Equal(t, tt.status, re.Status)
			assert.Equal(t, tt.want == ClassTransient, IsTransient(err))
		})
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Delete(ctx, domain.KindCart, testCred, "rec-1")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, Class(""), ClassOf(nil))
	assert.Equal(t, ClassTransient, ClassOf(httpclient.ErrCircuitOpen))
	assert.Equal(t, ClassTransient, ClassOf(&httpclient.StatusError{StatusCode: 502}))
	assert.Equal(t, ClassPermanent, ClassOf(context.Canceled))

	original := &Error{Class: ClassValidation, Err: errors.New("x")}
	assert.Same(t, original, Classify(fmt.Errorf("wrapped: %w", original)))
}
