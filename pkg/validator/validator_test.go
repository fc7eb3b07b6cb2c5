package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSnapshot struct {
	ProductID string `json:"product_id" validate:"required"`
	Name      string `json:"name" validate:"max=10"`
	Price     int64  `json:"price" validate:"gte=0"`
	Kind      string `json:"kind" validate:"omitempty,oneof=cart wishlist"`
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, Validate(testSnapshot{ProductID: "p1", Name: "Lamp", Price: 100}))
}

func TestValidate_UsesJSONFieldNames(t *testing.T) {
	err := Validate(testSnapshot{Price: -1})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, "is required", fields["product_id"])
	assert.Equal(t, "must be greater than or equal to 0", fields["price"])
	assert.Contains(t, err.Error(), "field 'product_id' is required")
}

func TestValidate_OneOf(t *testing.T) {
	err := Validate(testSnapshot{ProductID: "p1", Kind: "basket"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be one of: cart wishlist", valErr.Fields()["kind"])
}

func TestDecodeJSON(t *testing.T) {
	var s testSnapshot
	require.NoError(t, DecodeJSON([]byte(`{"product_id":"p1","price":5}`), &s))
	assert.Equal(t, "p1", s.ProductID)
	assert.Equal(t, int64(5), s.Price)
}

func TestDecodeJSON_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"product_id":`},
		{"unknown field", `{"product_id":"p1","colour":"red"}`},
		{"wrong type", `{"product_id":42}`},
		{"invalid", `{"product_id":""}`},
		{"trailing data", `{"product_id":"p1"} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s testSnapshot
			assert.Error(t, DecodeJSON([]byte(tt.body), &s))
		})
	}
}

func TestDecodeAndValidate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"product_id":"p9"}`))
	var s testSnapshot
	require.NoError(t, DecodeAndValidate(req, &s))
	assert.Equal(t, "p9", s.ProductID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	err := DecodeAndValidate(req, &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}
