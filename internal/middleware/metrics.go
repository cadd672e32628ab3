package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OpreaAngel-Freelance/oil-client/internal/metrics"
)

// PrometheusMiddleware records request count and latency per route pattern.
func PrometheusMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
