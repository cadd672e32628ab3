// Package handler serves the BFF's browser-facing endpoints: the sign-in
// flow, the session-gated backend proxy, the idle channel, the public
// catalog and the health checks.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/OpreaAngel-Freelance/oil-client/internal/middleware"
)

const sessionStorePingTimeout = 2 * time.Second

// Readiness check results.
const (
	checkOK          = "ok"
	checkInMemory    = "in_memory"
	checkUnreachable = "unreachable"
)

// HealthHandler answers the liveness and readiness checks.
type HealthHandler struct {
	service      string
	sessionStore redis.Cmdable
}

// NewHealthHandler creates a HealthHandler. sessionStore is the Redis
// client behind the session store, nil for the in-memory backend.
func NewHealthHandler(service string, sessionStore redis.Cmdable) *HealthHandler {
	return &HealthHandler{service: service, sessionStore: sessionStore}
}

// Healthz reports that the process is serving.
func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.service})
}

// Readyz reports whether sessions can be read.
func (h *HealthHandler) Readyz(c *gin.Context) {
	check := h.checkSessionStore(c)
	status, code := "ready", http.StatusOK
	if check == checkUnreachable {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": h.service,
		"checks":  gin.H{"session_store": check},
	})
}

func (h *HealthHandler) checkSessionStore(c *gin.Context) string {
	if h.sessionStore == nil {
		return checkInMemory
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), sessionStorePingTimeout)
	defer cancel()
	if err := h.sessionStore.Ping(ctx).Err(); err != nil {
		middleware.Logger(c).Warn("session store ping failed", slog.String("error", err.Error()))
		return checkUnreachable
	}
	return checkOK
}
