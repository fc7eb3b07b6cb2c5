package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pzron/ecom-sub001/pkg/httpclient"

	apperrors "github.com/pzron/ecom-sub001/pkg/errors"
)

// Class groups remote failures by how the sync engine reacts to them.
type Class string

const (
	// ClassTransient failures are retried: network errors, timeouts, 5xx,
	// 429 and an open circuit breaker.
	ClassTransient Class = "transient"
	// ClassValidation failures mean the server refused the item itself, for
	// example because it is no longer purchasable. They surface as warnings.
	ClassValidation Class = "validation"
	// ClassUnauthorized failures mean the session is no longer valid.
	ClassUnauthorized Class = "unauthorized"
	// ClassPermanent covers every other client error and cancellation.
	ClassPermanent Class = "permanent"
)

// purchasabilityCodes are 409 codes that describe the product rather than a
// request conflict.
var purchasabilityCodes = map[string]bool{
	"NOT_PURCHASABLE": true,
	"OUT_OF_STOCK":    true,
}

// Error is a classified remote failure.
type Error struct {
	Class   Class
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s remote error (status %d, %s): %v", e.Class, e.Status, e.Code, e.Err)
	}
	return fmt.Sprintf("%s remote error: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify wraps err in an *Error. Errors that are already classified are
// returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var re *Error
	if errors.As(err, &re) {
		return re
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return &Error{Class: ClassTransient, Status: statusErr.StatusCode, Code: http.StatusText(statusErr.StatusCode), Err: err}
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return &Error{Class: classForStatus(appErr.Status, appErr.Code), Status: appErr.Status, Code: appErr.Code, Message: appErr.Message, Err: err}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, httpclient.ErrCircuitOpen):
		return &Error{Class: ClassTransient, Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Class: ClassPermanent, Err: err}
	}

	// Network failures and anything else unrecognized are worth retrying.
	return &Error{Class: ClassTransient, Err: err}
}

func classForStatus(status int, code string) Class {
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return ClassTransient
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ClassUnauthorized
	case status == http.StatusUnprocessableEntity:
		return ClassValidation
	case status == http.StatusConflict && purchasabilityCodes[code]:
		return ClassValidation
	default:
		return ClassPermanent
	}
}

// ClassOf returns the class of err, or "" for nil.
func ClassOf(err error) Class {
	if re := Classify(err); re != nil {
		return re.Class
	}
	return ""
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return ClassOf(err) == ClassTransient
}
