// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

/*
Package apperr defines the centralized error handling framework for Savora.

It provides a rich error type that bridges the gap between low-level Domain/Storage
errors and high-level HTTP responses.

Architecture:

  - AppError: A struct containing machine-readable ErrorCode and user-friendly messages.
  - Classification: The authentication core maps every transport outcome onto one of
    the codes below (UNAUTHENTICATED, FORBIDDEN, RATE_LIMITED, ...).
  - Mapping: Explicit mapping from AppError to standard HTTP Status Codes.

Every error that leaves the service layer should be wrapped as an [AppError] to ensure
consistent API responses. End users only ever see "please sign in again" or
"please wait and retry" class messages; the detailed classification stays internal
to logging and routing.
*/
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is the canonical error type for the Savora API.
//
// It carries an HTTP status code, a machine-readable code, a client-safe
// message, and an optional slice of field-level validation errors.
//
// # Security
//
// The Cause field is for server-side logging only and is never sent to clients
// to avoid leaking internal implementation details (e.g., SQL queries).
type AppError struct {
	// Code is a machine-readable error identifier (e.g. "UNAUTHENTICATED", "CONFLICT").
	Code string `json:"code"`
	// Message is a human-readable description safe to return to the client.
	Message string `json:"error"`
	// HTTPStatus is the HTTP response status code.
	HTTPStatus int `json:"-"`
	// Cause is the underlying error, used for server-side logging only.
	Cause error `json:"-"`
	// Details holds per-field validation errors for VALIDATION_FAILURE responses.
	Details []FieldError `json:"details,omitempty"`
	// RetryAfterSeconds carries the server-provided backoff hint for
	// RATE_LIMITED errors. Zero means no hint was provided.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// FieldError represents a single field-level validation failure.
type FieldError struct {
	// Field is the JSON field name that failed validation.
	Field string `json:"field"`
	// Message is the human-readable description of the failure.
	Message string `json:"message"`
}

// Error implements the error interface. It returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *AppError) Unwrap() error { return e.Cause }

// # Authentication Taxonomy

// Unauthenticated creates a 401 [AppError] for missing or invalid credentials.
//
// The session manager performs exactly one refresh-and-retry cycle before an
// error with this code is surfaced to a caller.
func Unauthenticated(msg string) *AppError {
	return &AppError{
		Code:       "UNAUTHENTICATED",
		Message:    msg,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a 403 [AppError] for anti-forgery mismatches and
// insufficient provider-side rights. Never retried blindly: the token cache
// clears its anti-forgery state before this error propagates.
func Forbidden(msg string) *AppError {
	return &AppError{
		Code:       "FORBIDDEN",
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

// PermissionDenied creates a 403 [AppError] for callers that are authenticated
// but lack the capability required by the write gate.
//
// It is distinct from [Forbidden] so that callers can tell "security state is
// broken" apart from "this account simply may not do that".
func PermissionDenied(capability string) *AppError {
	return &AppError{
		Code:       "PERMISSION_DENIED",
		Message:    "You do not have permission to " + capability,
		HTTPStatus: http.StatusForbidden,
	}
}

// RateLimited creates a 429 [AppError] carrying the server-provided backoff
// hint. The transport never retries internally on this code; the caller must
// honor the hint.
func RateLimited(retryAfterSeconds int) *AppError {
	return &AppError{
		Code:              "RATE_LIMITED",
		Message:           fmt.Sprintf("Too many requests. Try again in %ds.", retryAfterSeconds),
		HTTPStatus:        http.StatusTooManyRequests,
		RetryAfterSeconds: retryAfterSeconds,
	}
}

// PayloadTooLarge creates a 413 [AppError] with diagnostic detail.
//
// This almost always indicates client-side header/cookie bloat. It is
// surfaced immediately and never retried — retrying an oversized request
// can only fail again.
func PayloadTooLarge(detail string) *AppError {
	return &AppError{
		Code:       "PAYLOAD_TOO_LARGE",
		Message:    "Request payload too large: " + detail,
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}
}

// # Client Errors

// NotFound creates a 404 [AppError] for a named resource.
//
// Example:
//
//	apperr.NotFound("Identity") // Returns "Identity not found"
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// Conflict creates a 409 [AppError] for duplicate or unique-constraint violations.
func Conflict(msg string) *AppError {
	return &AppError{
		Code:       "CONFLICT",
		Message:    msg,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationFailure creates a 422 [AppError] with optional per-field details.
//
// It is returned (not thrown) by pre-flight checks: cleanup validation and
// transition-phase readiness both fold their findings into the Details slice
// so operator tooling can act on a structured report.
func ValidationFailure(msg string, details ...FieldError) *AppError {
	return &AppError{
		Code:       "VALIDATION_FAILURE",
		Message:    msg,
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    details,
	}
}

// ValidationError creates a 400 [AppError] for malformed request input.
func ValidationError(msg string, details ...FieldError) *AppError {
	return &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// # Server & Upstream Errors

// TransientNetwork creates a 502 [AppError] for timeouts and connection
// failures against the external identity provider. Retried with bounded
// backoff at the transport layer before it ever reaches a caller.
func TransientNetwork(cause error) *AppError {
	return &AppError{
		Code:       "TRANSIENT_NETWORK",
		Message:    "Upstream provider is temporarily unreachable",
		HTTPStatus: http.StatusBadGateway,
		Cause:      cause,
	}
}

// MigrationFailure creates a 500 [AppError] for a single identity's failed
// migration attempt. It is caught per-record by the orchestrator and folded
// into batch statistics — it never aborts the batch it occurred in.
func MigrationFailure(identityID string, cause error) *AppError {
	return &AppError{
		Code:       "MIGRATION_FAILURE",
		Message:    "Migration failed for identity " + identityID,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// Internal creates a 500 [AppError] wrapping an unexpected server-side error.
// The cause is stored for logging but is never sent to the client.
func Internal(cause error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// ServiceUnavailable creates a 503 [AppError] for maintenance mode.
func ServiceUnavailable(msg string) *AppError {
	return &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    msg,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// # Helpers

// IsAppError reports whether err (or any error in its chain) is an [*AppError].
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// As extracts the [*AppError] from err's chain. It returns nil if not found.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// CodeOf returns the machine-readable code of err, or "" if err is not an
// [*AppError]. Convenient for classification switches in the transport.
func CodeOf(err error) string {
	if ae := As(err); ae != nil {
		return ae.Code
	}
	return ""
}
