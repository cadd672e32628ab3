package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultCSRFHeader is the default header name for CSRF tokens.
	DefaultCSRFHeader = "X-CSRF-Token"
)

// CSRFMiddleware validates the CSRF token from the request header against the
// token bound to the session in the gin context. Only enforced for
// state-changing methods on a session whose credentials are usable; requests
// without one are left to the handler, which rejects them without side effects.
func CSRFMiddleware(headerName string) gin.HandlerFunc {
	if headerName == "" {
		headerName = DefaultCSRFHeader
	}

	return func(c *gin.Context) {
		// Safe methods are exempt from CSRF checks.
		if c.Request.Method == http.MethodGet ||
			c.Request.Method == http.MethodHead ||
			c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		sess, ok := GetSessionData(c)
		if !ok || !sess.Credentials.Usable() {
			c.Next()
			return
		}

		csrfHeader := c.GetHeader(headerName)
		if csrfHeader == "" || subtle.ConstantTimeCompare([]byte(csrfHeader), []byte(sess.CSRFToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "BFF_CSRF_MISMATCH",
				"message": "CSRF token mismatch",
			})
			return
		}

		c.Next()
	}
}
