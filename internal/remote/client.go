// Package remote is the HTTP client for the collection API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/pkg/httpclient"
	"github.com/pzron/ecom-sub001/pkg/logger"
	"github.com/pzron/ecom-sub001/pkg/validator"
)

const serviceName = "collection-api"

// Config configures the client.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	CircuitBreaker httpclient.CircuitBreakerConfig
}

// CreateRequest is the body of POST /api/{kind}.
type CreateRequest struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity,omitempty"`
	Product   *domain.Snapshot `json:"product,omitempty"`
}

// UpdateQuantityRequest is the body of PATCH /api/cart/{recordId}.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// ListResult is a pull. Skipped counts server elements that failed
// validation and were left out.
type ListResult struct {
	Records []domain.RemoteRecord
	Skipped int
}

// Client talks to the collection API. Retrying is left to the caller: the
// transport never retries on its own.
type Client struct {
	baseURL string
	http    *httpclient.CircuitBreakerClient
	logger  *slog.Logger
}

// New creates a client for cfg.BaseURL.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker = httpclient.DefaultCircuitBreakerConfig(serviceName)
	}
	base := httpclient.New(httpclient.Config{
		Timeout:         cfg.Timeout,
		MaxRetries:      0,
		MaxConnsPerHost: 16,
	})
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpclient.NewCircuitBreakerClient(base, cfg.CircuitBreaker, logger),
		logger:  logger,
	}
}

// Create adds productID to the user's collection and returns the server
// record. Creating an existing product returns the existing record.
func (c *Client) Create(ctx context.Context, kind domain.Kind, cred domain.Credentials, productID string, quantity int, snap domain.Snapshot) (domain.RemoteRecord, error) {
	body := CreateRequest{ProductID: productID}
	if kind.Quantified() {
		body.Quantity = quantity
	}
	if snap.ProductID != "" {
		body.Product = &snap
	}

	resp, err := c.do(ctx, http.MethodPost, c.collectionURL(kind), cred, body)
	if err != nil {
		return domain.RemoteRecord{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Data domain.RemoteRecord `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return domain.RemoteRecord{}, Classify(fmt.Errorf("decode create response: %w", err))
	}
	envelope.Data.Product = envelope.Data.Snapshot()
	if err := validator.Validate(envelope.Data); err != nil {
		return domain.RemoteRecord{}, &Error{Class: ClassPermanent, Status: resp.StatusCode, Code: "INVALID_RESPONSE", Err: err}
	}
	return envelope.Data, nil
}

// Delete removes a record. Deleting a record that no longer exists succeeds.
func (c *Client) Delete(ctx context.Context, kind domain.Kind, cred domain.Credentials, recordID string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.recordURL(kind, recordID), cred, nil)
	if err != nil {
		if Classify(err).Status == http.StatusNotFound {
			return nil
		}
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// UpdateQuantity sets the quantity of a cart record.
func (c *Client) UpdateQuantity(ctx context.Context, kind domain.Kind, cred domain.Credentials, recordID string, quantity int) error {
	resp, err := c.do(ctx, http.MethodPatch, c.recordURL(kind, recordID), cred, UpdateQuantityRequest{Quantity: quantity})
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// List returns the user's server collection. Elements that do not decode
// or validate are skipped individually.
func (c *Client) List(ctx context.Context, kind domain.Kind, cred domain.Credentials) (ListResult, error) {
	u := c.collectionURL(kind) + "?" + url.Values{"userId": {cred.UserID}}.Encode()

	resp, err := c.do(ctx, http.MethodGet, u, cred, nil)
	if err != nil {
		return ListResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return ListResult{}, &Error{Class: ClassPermanent, Status: resp.StatusCode, Code: "INVALID_RESPONSE", Err: fmt.Errorf("decode list response: %w", err)}
	}

	result := ListResult{Records: make([]domain.RemoteRecord, 0, len(envelope.Data))}
	for i, raw := range envelope.Data {
		rec, err := decodeRecord(raw)
		if err != nil {
			result.Skipped++
			c.logger.WarnContext(ctx, "skipping malformed server record",
				slog.String("collection", string(kind)),
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

func decodeRecord(raw json.RawMessage) (domain.RemoteRecord, error) {
	var rec domain.RemoteRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, err
	}
	rec.Product = rec.Snapshot()
	if err := validator.Validate(rec); err != nil {
		return rec, err
	}
	if rec.Product.ProductID != rec.ProductID {
		return rec, fmt.Errorf("record %s: product %s does not match %s", rec.ID, rec.Product.ProductID, rec.ProductID)
	}
	return rec, nil
}

func (c *Client) do(ctx context.Context, method, target string, cred domain.Credentials, body any) (*http.Response, error) {
	var reader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Class: ClassPermanent, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := httpclient.NewRequest(ctx, method, target, contentType, reader)
	if err != nil {
		return nil, &Error{Class: ClassPermanent, Err: err}
	}

	ctx, correlationID := logger.EnsureCorrelationID(ctx)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("X-User-ID", cred.UserID)
	req.Header.Set("X-Correlation-ID", correlationID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, Classify(err)
	}
	if resp.StatusCode >= 300 {
		return nil, Classify(httpclient.ParseResponseError(resp, serviceName))
	}
	return resp, nil
}

func (c *Client) collectionURL(kind domain.Kind) string {
	return c.baseURL + "/api/" + url.PathEscape(string(kind))
}

func (c *Client) recordURL(kind domain.Kind, recordID string) string {
	return c.collectionURL(kind) + "/" + url.PathEscape(recordID)
}
