package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OpreaAngel-Freelance/oil-client/internal/apperr"
	"github.com/OpreaAngel-Freelance/oil-client/internal/middleware"
	"github.com/OpreaAngel-Freelance/oil-client/internal/oauth"
	"github.com/OpreaAngel-Freelance/oil-client/internal/session"
)

const (
	// DefaultCookieName is the session cookie name.
	DefaultCookieName = "BFF_SESSION"

	// stateCookieName holds the OAuth state for CSRF protection during login.
	stateCookieName = "oil_oauth_state"

	// verifierCookieName holds the PKCE code_verifier during the auth flow.
	verifierCookieName = "oil_pkce_verifier"

	// flowCookieMaxAge bounds the login round trip, in seconds.
	flowCookieMaxAge = 300
)

// IdentityProvider is the OIDC side of the browser flow. *oauth.Client
// implements it.
type IdentityProvider interface {
	AuthCodeURL(state string, pkce *oauth.PKCE) string
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*session.Grant, error)
	VerifyIDToken(ctx context.Context, rawIDToken string) (*oauth.Identity, error)
	LogoutURL(idTokenHint, postLogoutRedirectURI string) string
}

// SessionManager creates, classifies and ends sessions. *session.Manager
// implements it.
type SessionManager interface {
	SignIn(ctx context.Context, g session.Grant) (string, *session.Data, error)
	Terminate(ctx context.Context, id string) (*session.Data, error)
	State(d *session.Data) session.State
	TTL() time.Duration
}

// AuthOptions configures cookies and redirects of the browser flow.
type AuthOptions struct {
	CookieName        string
	SecureCookie      bool
	AppURL            string
	PostLoginRedirect string
}

// AuthHandler handles the OAuth2/OIDC browser flow.
type AuthHandler struct {
	idp      IdentityProvider
	sessions SessionManager
	opts     AuthOptions
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(idp IdentityProvider, sessions SessionManager, opts AuthOptions) *AuthHandler {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	opts.AppURL = strings.TrimRight(opts.AppURL, "/")
	if opts.PostLoginRedirect == "" {
		opts.PostLoginRedirect = opts.AppURL + "/"
	}
	return &AuthHandler{idp: idp, sessions: sessions, opts: opts}
}

// Login initiates the OIDC authorization code flow with PKCE.
func (h *AuthHandler) Login(c *gin.Context) {
	log := middleware.Logger(c)

	pkce, err := oauth.NewPKCE()
	if err != nil {
		log.Error("failed to generate PKCE", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "BFF_AUTH_PKCE_ERROR"})
		return
	}

	state, err := oauth.NewState()
	if err != nil {
		log.Error("failed to generate state", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "BFF_AUTH_STATE_ERROR"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookieName, state, flowCookieMaxAge, "/", "", h.opts.SecureCookie, true)
	c.SetCookie(verifierCookieName, pkce.CodeVerifier, flowCookieMaxAge, "/", "", h.opts.SecureCookie, true)

	c.Redirect(http.StatusFound, h.idp.AuthCodeURL(state, pkce))
}

// Callback handles the OIDC callback, exchanges the code, and creates a session.
func (h *AuthHandler) Callback(c *gin.Context) {
	log := middleware.Logger(c)
	ctx := c.Request.Context()

	state, err := c.Cookie(stateCookieName)
	if err != nil || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BFF_AUTH_STATE_MISSING"})
		return
	}
	if c.Query("state") != state {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BFF_AUTH_STATE_MISMATCH"})
		return
	}

	if errCode := c.Query("error"); errCode != "" {
		log.Warn("OIDC callback error",
			slog.String("error", errCode),
			slog.String("description", c.Query("error_description")),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       "BFF_AUTH_IDP_ERROR",
			"description": c.Query("error_description"),
		})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BFF_AUTH_CODE_MISSING"})
		return
	}

	verifier, err := c.Cookie(verifierCookieName)
	if err != nil || verifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BFF_AUTH_VERIFIER_MISSING"})
		return
	}

	grant, err := h.idp.ExchangeCode(ctx, code, verifier)
	if err != nil {
		log.Error("token exchange failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "BFF_AUTH_TOKEN_EXCHANGE_FAILED"})
		return
	}

	if grant.IDToken != "" {
		identity, err := h.idp.VerifyIDToken(ctx, grant.IDToken)
		if err != nil {
			log.Error("ID token rejected", slog.String("error", err.Error()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "BFF_AUTH_ID_TOKEN_INVALID"})
			return
		}
		grant.Subject = identity.Subject
		grant.Username = identity.Username
		grant.Email = identity.Email
	}

	sessionID, data, err := h.sessions.SignIn(ctx, *grant)
	if err != nil {
		log.Error("failed to create session", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "BFF_AUTH_SESSION_CREATE_FAILED"})
		return
	}

	c.SetCookie(stateCookieName, "", -1, "/", "", h.opts.SecureCookie, true)
	c.SetCookie(verifierCookieName, "", -1, "/", "", h.opts.SecureCookie, true)

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.opts.CookieName, sessionID, int(h.sessions.TTL().Seconds()), "/", "", h.opts.SecureCookie, true)

	log.Info("session created",
		slog.String("subject", data.Subject),
		slog.Int("roles", len(data.Credentials.Roles)),
	)
	c.Redirect(http.StatusFound, h.opts.PostLoginRedirect)
}

// Logout destroys the session and redirects to the IdP logout endpoint when
// an ID token is held, else to the application root.
func (h *AuthHandler) Logout(c *gin.Context) {
	target := h.opts.AppURL + "/"

	if sessionID, err := c.Cookie(h.opts.CookieName); err == nil && sessionID != "" {
		data, err := h.sessions.Terminate(c.Request.Context(), sessionID)
		if err != nil {
			middleware.Logger(c).Error("failed to delete session", slog.String("error", err.Error()))
		}
		if data != nil && data.IDToken != "" {
			target = h.idp.LogoutURL(data.IDToken, h.opts.AppURL)
		}
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.opts.CookieName, "", -1, "/", "", h.opts.SecureCookie, true)

	status := http.StatusFound
	if c.Request.Method == http.MethodPost {
		status = http.StatusSeeOther
	}
	c.Redirect(status, target)
}

// sessionStatus is the browser's view of its session. Credentials never
// leave the server.
type sessionStatus struct {
	Authenticated bool     `json:"authenticated"`
	State         string   `json:"state,omitempty"`
	Subject       string   `json:"subject,omitempty"`
	Username      string   `json:"username,omitempty"`
	Email         string   `json:"email,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	ExpiresAt     int64    `json:"expires_at,omitempty"`
	Error         string   `json:"error,omitempty"`
	CSRFToken     string   `json:"csrf_token,omitempty"`
}

// Session reports the state of the caller's session. The session middleware
// has already run the read-refresh path. A store failure answers 500 so the
// browser does not treat it as signed out.
func (h *AuthHandler) Session(c *gin.Context) {
	if middleware.GetSessionError(c) != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": apperr.Message(apperr.ErrInternal)})
		return
	}
	data, ok := middleware.GetSessionData(c)
	if !ok {
		c.JSON(http.StatusOK, sessionStatus{Authenticated: false})
		return
	}

	status := sessionStatus{
		Authenticated: data.Credentials.Usable(),
		State:         string(h.sessions.State(data)),
		Subject:       data.Subject,
		Username:      data.Username,
		Email:         data.Email,
		Roles:         data.Credentials.Roles,
		ExpiresAt:     data.Credentials.ExpiresAt,
		CSRFToken:     data.CSRFToken,
	}
	if serr := data.Credentials.Error; serr != nil {
		status.Error = string(serr.Kind)
	}
	c.JSON(http.StatusOK, status)
}
