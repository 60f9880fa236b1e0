// Package apierrors defines the error taxonomy every layer of the control
// plane returns, and the HTTP status/envelope mapping the REST surface uses
// to render it.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the recognized error categories.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindAuthRequired       Kind = "AUTH_REQUIRED"
	KindForbidden          Kind = "FORBIDDEN"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	KindUpstreamRejected   Kind = "UPSTREAM_REJECTED"
	KindLTPUnavailable     Kind = "LTP_UNAVAILABLE"
	KindDatabase           Kind = "DATABASE"
	KindInternal           Kind = "INTERNAL"
)

var statusByKind = map[Kind]int{
	KindValidation:          http.StatusBadRequest,
	KindAuthRequired:        http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindNotFound:            http.StatusNotFound,
	KindConflict:            http.StatusConflict,
	KindRateLimited:         http.StatusTooManyRequests,
	KindUpstreamUnavailable: http.StatusBadGateway,
	KindUpstreamRejected:    http.StatusBadGateway,
	KindLTPUnavailable:      http.StatusUnprocessableEntity,
	KindDatabase:            http.StatusInternalServerError,
	KindInternal:            http.StatusInternalServerError,
}

// FieldError is one schema-validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Error is the typed error the repositories, broker client, safe-switch
// coordinator and REST handlers return; package database returns plain
// fmt.Errorf-wrapped errors.
type Error struct {
	Kind    Kind
	Message string
	Code    string
	Details []FieldError
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As work through this type.
func (e *Error) Unwrap() error { return e.cause }

// StatusCode is the HTTP status the REST surface renders this error as.
func (e *Error) StatusCode() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind that chains cause via %w.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Validation builds a VALIDATION error carrying field-level details.
func Validation(message string, details ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// NotFound builds a NOT_FOUND error for the named resource.
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

// Conflict builds a CONFLICT error, typically a uniqueness violation.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Database wraps a persistence-layer failure.
func Database(message string, cause error) *Error {
	return &Error{Kind: KindDatabase, Message: message, cause: cause}
}

// UpstreamUnavailable wraps a broker-client transport failure (timeout, network, 5xx).
func UpstreamUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: message, cause: cause}
}

// UpstreamRejected wraps a broker response carrying status=error.
func UpstreamRejected(message string) *Error {
	return &Error{Kind: KindUpstreamRejected, Message: message}
}

// LTPUnavailable reports that quantity resolution needed a cached LTP that
// does not exist.
func LTPUnavailable(exchange, symbol string) *Error {
	return &Error{Kind: KindLTPUnavailable, Message: fmt.Sprintf("no cached LTP for %s:%s", exchange, symbol)}
}

// Internal wraps an unexpected failure as a catch-all; details belong only
// in logs, never in the message returned to the caller.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: cause}
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else KindInternal.
func KindOf(err error) Kind {
	if apiErr, ok := As(err); ok {
		return apiErr.Kind
	}
	return KindInternal
}
