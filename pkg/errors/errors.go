// Package errors defines the client-facing error taxonomy of the server.
//
// Every failure path that can reach a caller is expressed as an *Error with a
// stable kind and a stable JSON-RPC error code. Components produce errors at
// the boundary where they detect them; layers above attach context with
// fmt.Errorf("%w") but never re-interpret the kind.
package errors

import (
	"errors"
	"fmt"
)

// Error kinds
const (
	// KindInvalidParams is returned when tool input validation fails
	KindInvalidParams = "invalid_params"

	// KindUnauthorized is returned when the bearer token is missing or invalid
	KindUnauthorized = "unauthorized"

	// KindForbidden is returned when the peer address is not in the allow-list
	KindForbidden = "forbidden"

	// KindRateLimited is returned when the rate-limit bucket is exhausted
	KindRateLimited = "rate_limited"

	// KindNotFound is returned when the upstream reports 404
	KindNotFound = "not_found"

	// KindConflict is returned when the upstream reports 409 on a write
	KindConflict = "conflict"

	// KindUpstreamUnavailable is returned when the upstream keeps failing with 5xx or network errors
	KindUpstreamUnavailable = "upstream_unavailable"

	// KindUpstreamRejected is returned when the upstream reports a non-retryable 4xx
	KindUpstreamRejected = "upstream_rejected"

	// KindCredentialUnavailable is returned when the token refresh path failed
	KindCredentialUnavailable = "credential_unavailable"

	// KindTimeout is returned when a deadline was exceeded
	KindTimeout = "timeout"

	// KindInternal is returned for programming errors and anything unclassified
	KindInternal = "internal"
)

// JSON-RPC error codes for each kind. The protocol-reserved codes
// (-32700..-32600) are produced directly by the dispatcher.
var kindCodes = map[string]int{
	KindInvalidParams:         -32602,
	KindUnauthorized:          -32001,
	KindForbidden:             -32002,
	KindRateLimited:           -32005,
	KindNotFound:              -32010,
	KindConflict:              -32011,
	KindUpstreamUnavailable:   -32012,
	KindUpstreamRejected:      -32013,
	KindCredentialUnavailable: -32014,
	KindTimeout:               -32015,
	KindInternal:              -32603,
}

// Retryable kinds, reported to the caller so assistants can decide whether a
// retry is worth attempting.
var retryableKinds = map[string]bool{
	KindRateLimited:           true,
	KindUpstreamUnavailable:   true,
	KindCredentialUnavailable: true,
	KindTimeout:               true,
}

// Error represents a classified failure in the request pipeline.
type Error struct {
	// Kind is the error kind
	Kind string

	// Message is the human-readable error message
	Message string

	// Data carries structured details for the JSON-RPC error data field.
	// Secrets must never be placed here.
	Data map[string]any

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Code returns the stable JSON-RPC error code for the error kind.
func (e *Error) Code() int {
	if code, ok := kindCodes[e.Kind]; ok {
		return code
	}
	return kindCodes[KindInternal]
}

// Retryable reports whether the caller may retry the operation.
func (e *Error) Retryable() bool {
	return retryableKinds[e.Kind]
}

// WithData attaches a structured detail to the error and returns it.
func (e *Error) WithData(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// New creates a new error with the given kind
func New(kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidParams creates a validation error naming the offending field.
func NewInvalidParams(message, field string) *Error {
	e := New(KindInvalidParams, message, nil)
	if field != "" {
		e.WithData("field", field)
	}
	return e
}

// NewUnauthorized creates a new unauthorized error
func NewUnauthorized(message string, cause error) *Error {
	return New(KindUnauthorized, message, cause)
}

// NewForbidden creates a new forbidden error
func NewForbidden(message string) *Error {
	return New(KindForbidden, message, nil)
}

// NewRateLimited creates a new rate-limited error with a retry-after hint in seconds.
func NewRateLimited(message string, retryAfterSeconds int) *Error {
	return New(KindRateLimited, message, nil).WithData("retry_after", retryAfterSeconds)
}

// NewNotFound creates a new not-found error
func NewNotFound(message string, cause error) *Error {
	return New(KindNotFound, message, cause)
}

// NewConflict creates a new conflict error
func NewConflict(message string, cause error) *Error {
	return New(KindConflict, message, cause)
}

// NewUpstreamUnavailable creates a new upstream-unavailable error
func NewUpstreamUnavailable(message string, cause error) *Error {
	return New(KindUpstreamUnavailable, message, cause)
}

// NewUpstreamRejected creates a new upstream-rejected error
func NewUpstreamRejected(message string, cause error) *Error {
	return New(KindUpstreamRejected, message, cause)
}

// NewCredentialUnavailable creates a new credential-unavailable error
func NewCredentialUnavailable(message string, cause error) *Error {
	return New(KindCredentialUnavailable, message, cause)
}

// NewTimeout creates a new timeout error
func NewTimeout(message string, cause error) *Error {
	return New(KindTimeout, message, cause)
}

// NewInternal creates a new internal error
func NewInternal(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

// IsKind checks whether err is an *Error of the given kind.
func IsKind(err error, kind string) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsInvalidParams checks if the error is a validation error
func IsInvalidParams(err error) bool {
	return IsKind(err, KindInvalidParams)
}

// IsUnauthorized checks if the error is an unauthorized error
func IsUnauthorized(err error) bool {
	return IsKind(err, KindUnauthorized)
}

// IsRateLimited checks if the error is a rate-limited error
func IsRateLimited(err error) bool {
	return IsKind(err, KindRateLimited)
}

// IsNotFound checks if the error is a not-found error
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool {
	return IsKind(err, KindConflict)
}

// IsUpstreamUnavailable checks if the error is an upstream-unavailable error
func IsUpstreamUnavailable(err error) bool {
	return IsKind(err, KindUpstreamUnavailable)
}

// IsCredentialUnavailable checks if the error is a credential-unavailable error
func IsCredentialUnavailable(err error) bool {
	return IsKind(err, KindCredentialUnavailable)
}

// IsTimeout checks if the error is a timeout error
func IsTimeout(err error) bool {
	return IsKind(err, KindTimeout)
}

// Classify maps an arbitrary error to an *Error, wrapping unclassified errors
// as internal. Already-classified errors are returned as-is.
func Classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewInternal("internal server error", err)
}
