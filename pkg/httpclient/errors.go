package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/pzron/ecom-sub001/pkg/errors"
)

// ErrorEnvelope mirrors the httputil.ErrorResponse structure returned by the
// collection API. It is used to parse structured error bodies.
type ErrorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StatusError is returned by CircuitBreakerClient for 5xx responses, which the
// breaker counts as failures and therefore never hands back as a response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Body)
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an AppError. Structured bodies keep their code and message; anything
// else falls back to the status text. The body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var envelope ErrorEnvelope
	if json.Unmarshal(bodyBytes, &envelope) == nil && envelope.Error != nil {
		return apperrors.FromStatus(resp.StatusCode, envelope.Error.Code,
			fmt.Sprintf("%s: %s", serviceName, envelope.Error.Message))
	}

	return apperrors.FromStatus(resp.StatusCode, "",
		fmt.Sprintf("%s returned status %d: %s", serviceName, resp.StatusCode, string(bodyBytes)))
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
