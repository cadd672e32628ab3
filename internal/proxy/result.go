package proxy

import (
	"net/http"

	"github.com/OpreaAngel-Freelance/oil-client/internal/apperr"
	"github.com/OpreaAngel-Freelance/oil-client/internal/session"
)

// Kind tags a Result.
type Kind string

const (
	KindSuccess            Kind = "success"
	KindNoContent          Kind = "no_content"
	KindUpstreamError      Kind = "upstream_error"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindInternalError      Kind = "internal_error"
)

// Result is the outcome of one proxied call. Only the fields of its Kind
// are set.
type Result struct {
	Kind Kind

	// Status, ContentType and Body are the relayed backend response for
	// KindSuccess and KindUpstreamError.
	Status      int
	ContentType string
	Body        []byte

	// SessionError is the terminal tag behind a KindUnauthorized result,
	// nil when there was no session at all.
	SessionError *session.SessionError

	// Err wraps the apperr kind of every non-relayed failure.
	Err error
}

// Relayed builds the result for a backend response that has a body.
func Relayed(status int, contentType string, body []byte) Result {
	kind := KindSuccess
	if status >= http.StatusBadRequest {
		kind = KindUpstreamError
	}
	return Result{Kind: kind, Status: status, ContentType: contentType, Body: body}
}

// NoContent is the result of a backend 204.
func NoContent() Result {
	return Result{Kind: KindNoContent, Status: http.StatusNoContent}
}

// Unauthorized is the result of a request without a usable credential.
func Unauthorized(serr *session.SessionError) Result {
	return Result{Kind: KindUnauthorized, Status: http.StatusUnauthorized, SessionError: serr, Err: apperr.ErrUnauthorized}
}

// Forbidden is the result of a write without a required role.
func Forbidden() Result {
	return Result{Kind: KindForbidden, Status: http.StatusForbidden, Err: apperr.ErrForbidden}
}

// BackendUnavailable is the result of a connection failure to the backend.
func BackendUnavailable(err error) Result {
	return Result{Kind: KindBackendUnavailable, Status: http.StatusServiceUnavailable, Err: err}
}

// InternalError is the result of any other forwarding failure.
func InternalError(err error) Result {
	return Result{Kind: KindInternalError, Status: http.StatusInternalServerError, Err: err}
}
