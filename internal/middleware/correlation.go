package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HeaderCorrelationID is the HTTP header name for correlation IDs.
	HeaderCorrelationID = "X-Correlation-Id"

	// HeaderTraceID is the HTTP header name for trace IDs.
	HeaderTraceID = "X-Trace-Id"

	// CorrelationIDKey is the gin context key for the correlation ID.
	CorrelationIDKey = "correlation_id"

	// TraceIDKey is the gin context key for the trace ID.
	TraceIDKey = "trace_id"

	// LoggerKey is the gin context key for the request-scoped logger.
	LoggerKey = "bff_logger"
)

// CorrelationMiddleware propagates or generates X-Correlation-Id and X-Trace-Id
// headers and stores a request logger carrying both. An active OpenTelemetry
// span wins over an incoming X-Trace-Id.
func CorrelationMiddleware(base *slog.Logger) gin.HandlerFunc {
	if base == nil {
		base = slog.Default()
	}

	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		traceID := c.GetHeader(HeaderTraceID)
		if spanCtx := trace.SpanContextFromContext(c.Request.Context()); spanCtx.HasTraceID() {
			traceID = spanCtx.TraceID().String()
		}
		if traceID == "" {
			traceID = generateTraceID()
		}

		c.Set(CorrelationIDKey, correlationID)
		c.Set(TraceIDKey, traceID)
		c.Set(LoggerKey, base.With(
			slog.String("correlation_id", correlationID),
			slog.String("trace_id", traceID),
		))

		// Propagate to response headers.
		c.Header(HeaderCorrelationID, correlationID)
		c.Header(HeaderTraceID, traceID)

		c.Next()
	}
}

// Logger returns the request-scoped logger, or slog.Default outside a request.
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(LoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}

// CorrelationID returns the request's correlation ID.
func CorrelationID(c *gin.Context) string {
	return c.GetString(CorrelationIDKey)
}

// TraceID returns the request's trace ID.
func TraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// generateTraceID produces a 32-character lowercase hex trace ID (UUID without hyphens).
func generateTraceID() string {
	id := uuid.New()
	raw := id[:]
	const hexChars = "0123456789abcdef"
	buf := make([]byte, 32)
	for i, b := range raw {
		buf[i*2] = hexChars[b>>4]
		buf[i*2+1] = hexChars[b&0x0f]
	}
	return string(buf)
}
