// Package apperr defines the error kinds the BFF maps to HTTP responses.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthorized means the request has no usable session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the session lacks a required role.
	ErrForbidden = errors.New("forbidden")

	// ErrBackendUnavailable means the backend API could not be reached.
	ErrBackendUnavailable = errors.New("backend service unavailable")

	// ErrInternal is any other failure handling a request.
	ErrInternal = errors.New("internal server error")
)

// Status returns the HTTP status for err's kind, 500 when it has none.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing error text for err's kind.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrBackendUnavailable):
		return "Backend service unavailable"
	default:
		return "Internal server error"
	}
}
