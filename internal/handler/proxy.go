package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/OpreaAngel-Freelance/oil-client/internal/apperr"
	"github.com/OpreaAngel-Freelance/oil-client/internal/metrics"
	"github.com/OpreaAngel-Freelance/oil-client/internal/middleware"
	"github.com/OpreaAngel-Freelance/oil-client/internal/proxy"
)

// maxProxyBody caps inbound bodies read for forwarding.
const maxProxyBody = 10 << 20

// Forwarder sends one proxied call to the backend. *proxy.Forwarder
// implements it.
type Forwarder interface {
	Forward(ctx context.Context, req proxy.Request) proxy.Result
}

// ProxyHandler turns cookie-session browser calls into bearer-authenticated
// backend calls.
type ProxyHandler struct {
	forwarder  Forwarder
	writeRoles []string
	metrics    *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. When writeRoles is non-empty,
// POST, PUT, PATCH and DELETE need one of them.
func NewProxyHandler(forwarder Forwarder, writeRoles []string, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{forwarder: forwarder, writeRoles: writeRoles, metrics: m}
}

// Handle serves {METHOD} /proxy/*path.
func (h *ProxyHandler) Handle(c *gin.Context) {
	h.respond(c, h.resolve(c))
}

// resolve computes the Result for the request without writing anything.
func (h *ProxyHandler) resolve(c *gin.Context) proxy.Result {
	if err := middleware.GetSessionError(c); err != nil {
		return proxy.InternalError(fmt.Errorf("%w: read session: %v", apperr.ErrInternal, err))
	}
	data, ok := middleware.GetSessionData(c)
	if !ok || data.Credentials.AccessToken == "" {
		return proxy.Unauthorized(nil)
	}
	if serr := data.Credentials.Error; serr != nil {
		return proxy.Unauthorized(serr)
	}
	if !h.allowed(c.Request.Method, data.Credentials.Roles) {
		return proxy.Forbidden()
	}

	var body []byte
	if c.Request.Body != nil {
		b, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBody))
		if err != nil {
			middleware.Logger(c).Error("failed to read proxy request body", slog.String("error", err.Error()))
			return proxy.InternalError(err)
		}
		body = b
	}

	return h.forwarder.Forward(c.Request.Context(), proxy.Request{
		Method:        c.Request.Method,
		Path:          splitPath(c.Param("path")),
		RawQuery:      c.Request.URL.RawQuery,
		Body:          body,
		Accept:        c.GetHeader("Accept"),
		AccessToken:   data.Credentials.AccessToken,
		CorrelationID: middleware.CorrelationID(c),
		TraceID:       middleware.TraceID(c),
	})
}

func (h *ProxyHandler) allowed(method string, roles []string) bool {
	if len(h.writeRoles) == 0 {
		return true
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return slices.ContainsFunc(h.writeRoles, func(r string) bool {
			return slices.Contains(roles, r)
		})
	}
	return true
}

// respond maps a Result to the HTTP response.
func (h *ProxyHandler) respond(c *gin.Context, res proxy.Result) {
	h.metrics.ProxyResult(string(res.Kind))

	switch res.Kind {
	case proxy.KindNoContent:
		c.Status(http.StatusNoContent)
	case proxy.KindSuccess, proxy.KindUpstreamError:
		c.Data(res.Status, res.ContentType, res.Body)
	case proxy.KindUnauthorized:
		if res.SessionError == nil {
			c.JSON(apperr.Status(res.Err), gin.H{"error": apperr.Message(res.Err), "code": "BFF_PROXY_NO_SESSION"})
			return
		}
		c.JSON(apperr.Status(res.Err), gin.H{
			"error":         apperr.Message(res.Err),
			"code":          "BFF_PROXY_SESSION_ERROR",
			"session_error": res.SessionError.Kind,
			"message":       res.SessionError.Message,
		})
	case proxy.KindForbidden:
		c.JSON(apperr.Status(res.Err), gin.H{"error": apperr.Message(res.Err), "code": "BFF_PROXY_FORBIDDEN"})
	default:
		c.JSON(apperr.Status(res.Err), gin.H{"error": apperr.Message(res.Err)})
	}
}

// splitPath turns the *path wildcard into segments. The leading slash gin
// keeps is dropped; a trailing slash survives as an empty last segment.
func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
