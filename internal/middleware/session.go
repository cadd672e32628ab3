package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/OpreaAngel-Freelance/oil-client/internal/session"
)

const (
	// SessionDataKey is the gin context key where session.Data is stored.
	SessionDataKey = "bff_session"

	// SessionIDKey is the gin context key where the session ID is stored.
	SessionIDKey = "bff_session_id"

	// SessionErrorKey holds a session store failure for the request.
	SessionErrorKey = "bff_session_error"
)

// SessionReader is the part of session.Manager the middleware needs.
type SessionReader interface {
	Read(ctx context.Context, id string) (*session.Data, error)
	Touch(ctx context.Context, id string) error
}

// SessionMiddleware reads the session named by the cookie through the
// read-refresh path and stores it in the gin context. A missing or unknown
// session is not an error here; handlers decide how to answer. A store
// failure is recorded under SessionErrorKey so it is not mistaken for a
// missing session.
func SessionMiddleware(sessions SessionReader, cookieName string, sliding bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(cookieName)
		if err != nil || sessionID == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		sess, err := sessions.Read(ctx, sessionID)
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			c.Next()
			return
		case err != nil:
			Logger(c).Error("failed to read session", slog.String("error", err.Error()))
			c.Set(SessionErrorKey, err)
			c.Next()
			return
		}

		c.Set(SessionDataKey, sess)
		c.Set(SessionIDKey, sessionID)

		// Sliding window: extend TTL on each request.
		if sliding {
			if err := sessions.Touch(ctx, sessionID); err != nil {
				Logger(c).Warn("failed to extend session TTL", slog.String("error", err.Error()))
			}
		}

		c.Next()
	}
}

// GetSessionData retrieves session.Data from the gin context.
func GetSessionData(c *gin.Context) (*session.Data, bool) {
	val, exists := c.Get(SessionDataKey)
	if !exists {
		return nil, false
	}
	sess, ok := val.(*session.Data)
	return sess, ok
}

// GetSessionID retrieves the session ID from the gin context.
func GetSessionID(c *gin.Context) (string, bool) {
	val, exists := c.Get(SessionIDKey)
	if !exists {
		return "", false
	}
	id, ok := val.(string)
	return id, ok
}

// GetSessionError returns the store failure met while reading the session,
// nil when the read succeeded or there was no session to read.
func GetSessionError(c *gin.Context) error {
	val, exists := c.Get(SessionErrorKey)
	if !exists {
		return nil
	}
	err, _ := val.(error)
	return err
}
