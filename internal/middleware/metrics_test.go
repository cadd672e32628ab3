package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/OpreaAngel-Freelance/oil-client/internal/metrics"
)

func TestPrometheusMiddleware(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry(), "oil-bff")

	router := gin.New()
	router.Use(PrometheusMiddleware(m))
	router.GET("/api/*path", func(c *gin.Context) {
		c.Status(http.StatusTeapot)
	})

	for _, path := range []string{"/api/v1/oil/", "/api/v1/oil/abc", "/missing"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/*path", "418")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestPrometheusMiddleware_NilMetrics(t *testing.T) {
	router := gin.New()
	router.Use(PrometheusMiddleware(nil))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
