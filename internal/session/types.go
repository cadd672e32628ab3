package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when no record exists for a session ID.
var ErrSessionNotFound = errors.New("session not found")

// ErrorKind tags a terminal session failure.
type ErrorKind string

const (
	// ErrorNoRefreshToken means the access token expired and there was
	// nothing to refresh it with.
	ErrorNoRefreshToken ErrorKind = "NoRefreshToken"

	// ErrorRefreshFailed means the identity provider refused the refresh.
	ErrorRefreshFailed ErrorKind = "RefreshFailed"
)

// SessionError is the terminal error tag carried by a CredentialSet.
// Once set the session can only be logged out.
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

func (e *SessionError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// CredentialSet is the bearer credential state for one session. It is
// replaced as a whole on refresh and never partially updated.
type CredentialSet struct {
	// AccessToken is the OAuth2 bearer token for upstream API calls.
	AccessToken string `json:"access_token"`

	// RefreshToken is the OAuth2 refresh token for silent renewal.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the access token expiration time (Unix timestamp).
	ExpiresAt int64 `json:"expires_at"`

	// Roles are the realm roles decoded from the access token.
	Roles []string `json:"roles"`

	// Error is set when the session reached a terminal state.
	Error *SessionError `json:"error,omitempty"`
}

// IsExpired reports whether the access token is expired at now.
func (c *CredentialSet) IsExpired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// Usable reports whether the access token may be sent upstream.
func (c *CredentialSet) Usable() bool {
	return c != nil && c.AccessToken != "" && c.Error == nil
}

// Data is a user session stored in the session store.
type Data struct {
	Credentials CredentialSet `json:"credentials"`

	// IDToken is the OIDC ID token (kept for logout).
	IDToken string `json:"id_token,omitempty"`

	// Subject is the OIDC sub claim (user identifier).
	Subject  string `json:"sub"`
	Username string `json:"preferred_username,omitempty"`
	Email    string `json:"email,omitempty"`

	// CSRFToken is the per-session CSRF token bound to this session.
	CSRFToken string `json:"csrf_token"`

	// CreatedAt is when the session was created (Unix timestamp).
	CreatedAt int64 `json:"created_at"`
}

// State is a label for where a session sits in its lifecycle.
type State string

const (
	StateUnauthenticated State = "Unauthenticated"
	StateValid           State = "Authenticated(valid)"
	StateExpiring        State = "Authenticated(expiring)"
	StateNoRefreshToken  State = "Errored(NoRefreshToken)"
	StateRefreshFailed   State = "Errored(RefreshFailed)"
)

// expiringWindow is how close to expiry a session counts as expiring.
const expiringWindow = time.Minute

// StateOf classifies a session at now. A nil session is unauthenticated.
func StateOf(d *Data, now time.Time) State {
	if d == nil || d.Credentials.AccessToken == "" {
		return StateUnauthenticated
	}
	if e := d.Credentials.Error; e != nil {
		if e.Kind == ErrorNoRefreshToken {
			return StateNoRefreshToken
		}
		return StateRefreshFailed
	}
	if now.Add(expiringWindow).Unix() >= d.Credentials.ExpiresAt {
		return StateExpiring
	}
	return StateValid
}

// Grant is what the identity provider issued at sign-in.
type Grant struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    int64
	Subject      string
	Username     string
	Email        string
}

// Refreshed is the outcome of a successful refresh grant.
type Refreshed struct {
	Credentials CredentialSet
	IDToken     string
}
