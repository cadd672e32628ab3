package oauth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const realmPath = "/realms/oil"

// newTokenServer serves the realm token endpoint with handler.
func newTokenServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(realmPath+"/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func signedAccessToken(t *testing.T, roles ...string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          "user-1",
		"exp":          time.Now().Add(time.Hour).Unix(),
		"realm_access": map[string]any{"roles": roles},
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

func TestKeycloakEndpoints(t *testing.T) {
	ep := KeycloakEndpoints("https://sso.example.com/realms/oil/")

	assert.Equal(t, "https://sso.example.com/realms/oil", ep.Issuer)
	assert.Equal(t, "https://sso.example.com/realms/oil/protocol/openid-connect/auth", ep.Authorization)
	assert.Equal(t, "https://sso.example.com/realms/oil/protocol/openid-connect/token", ep.Token)
	assert.Equal(t, "https://sso.example.com/realms/oil/protocol/openid-connect/logout", ep.Logout)
	assert.Equal(t, "https://sso.example.com/realms/oil/protocol/openid-connect/certs", ep.Certs)
}

func TestClient_Refresh(t *testing.T) {
	at := signedAccessToken(t, "ROLE_USER")
	srv, calls := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "oil-client", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  at,
			"refresh_token": "rt-2",
			"id_token":      "id-2",
			"token_type":    "Bearer",
			"expires_in":    300,
		})
	})

	client := NewClient(srv.URL+realmPath, "oil-client", "secret", "http://localhost:3000/auth/callback", nil)

	before := time.Now().Unix()
	refreshed, err := client.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, at, refreshed.Credentials.AccessToken)
	assert.Equal(t, "rt-2", refreshed.Credentials.RefreshToken)
	assert.InDelta(t, before+300, refreshed.Credentials.ExpiresAt, 2)
	assert.Equal(t, []string{"ROLE_USER"}, refreshed.Credentials.Roles)
	assert.Nil(t, refreshed.Credentials.Error)
	assert.Equal(t, "id-2", refreshed.IDToken)
}

func TestClient_Refresh_OpaqueTokenHasNoRoles(t *testing.T) {
	srv, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "at-2",
			"refresh_token": "rt-2",
			"expires_in":    300,
		})
	})

	client := NewClient(srv.URL+realmPath, "oil-client", "secret", "", nil)

	refreshed, err := client.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", refreshed.Credentials.AccessToken)
	assert.Equal(t, "rt-2", refreshed.Credentials.RefreshToken)
	assert.Empty(t, refreshed.Credentials.Roles)
	assert.Empty(t, refreshed.IDToken)
}

func TestClient_Refresh_ProviderDescription(t *testing.T) {
	srv, calls := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "invalid_grant",
		})
	})

	client := NewClient(srv.URL+realmPath, "oil-client", "secret", "", nil)

	refreshed, err := client.Refresh(context.Background(), "rt-1")
	require.Error(t, err)
	assert.Nil(t, refreshed)
	assert.Contains(t, err.Error(), "invalid_grant")

	var rerr *RefreshError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusBadRequest, rerr.Status)
	assert.Equal(t, "token refresh failed: invalid_grant", rerr.Error())
	assert.Equal(t, int32(1), calls.Load(), "refresh must not be retried")
}

func TestClient_Refresh_StatusTextFallback(t *testing.T) {
	srv, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{})
	})

	client := NewClient(srv.URL+realmPath, "oil-client", "secret", "", nil)

	_, err := client.Refresh(context.Background(), "rt-1")
	var rerr *RefreshError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "Service Unavailable", rerr.Description)
	assert.Equal(t, "token refresh failed: Service Unavailable", err.Error())
}

func TestClient_Refresh_Unreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1"+realmPath, "oil-client", "secret", "", nil)

	_, err := client.Refresh(context.Background(), "rt-1")
	var rerr *RefreshError
	require.ErrorAs(t, err, &rerr)
	assert.Zero(t, rerr.Status)
	assert.NotEmpty(t, rerr.Description)
}

func TestClient_AuthCodeURL(t *testing.T) {
	client := NewClient("https://idp.example.com/realms/oil", "my-client", "", "http://localhost/callback", []string{"openid", "profile"})
	pkce := &PKCE{CodeVerifier: "verifier", CodeChallenge: "challenge456"}

	raw := client.AuthCodeURL("state123", pkce)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/realms/oil/protocol/openid-connect/auth", u.Path)

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "my-client", q.Get("client_id"))
	assert.Equal(t, "state123", q.Get("state"))
	assert.Equal(t, "challenge456", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "openid profile", q.Get("scope"))
	assert.Equal(t, "http://localhost/callback", q.Get("redirect_uri"))
}

func TestClient_ExchangeCode(t *testing.T) {
	srv, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "code-abc", r.PostForm.Get("code"))
		assert.Equal(t, "verifier-xyz", r.PostForm.Get("code_verifier"))
		assert.Equal(t, "http://localhost/callback", r.PostForm.Get("redirect_uri"))

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-123",
			"refresh_token": "refresh-456",
			"id_token":      "id-789",
			"token_type":    "Bearer",
			"expires_in":    300,
		})
	})

	client := NewClient(srv.URL+realmPath, "my-client", "secret", "http://localhost/callback", nil)

	grant, err := client.ExchangeCode(context.Background(), "code-abc", "verifier-xyz")
	require.NoError(t, err)
	assert.Equal(t, "access-123", grant.AccessToken)
	assert.Equal(t, "refresh-456", grant.RefreshToken)
	assert.Equal(t, "id-789", grant.IDToken)
	assert.InDelta(t, time.Now().Unix()+300, grant.ExpiresAt, 2)
}

func TestClient_ExchangeCode_Error(t *testing.T) {
	srv, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Code not valid"})
	})

	client := NewClient(srv.URL+realmPath, "my-client", "secret", "http://localhost/callback", nil)

	_, err := client.ExchangeCode(context.Background(), "bad", "verifier")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Code not valid")
}

func TestClient_VerifyIDToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	issuer := "https://idp.example.com/realms/oil"
	client := NewClient(issuer, "oil-client", "", "", nil,
		WithKeySet(&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}))

	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	raw := sign(jwt.MapClaims{
		"iss":                issuer,
		"aud":                "oil-client",
		"sub":                "user-1",
		"exp":                time.Now().Add(time.Hour).Unix(),
		"iat":                time.Now().Unix(),
		"preferred_username": "alice",
		"email":              "alice@example.com",
	})

	id, err := client.VerifyIDToken(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.Subject)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, "alice@example.com", id.Email)

	wrongAudience := sign(jwt.MapClaims{
		"iss": issuer,
		"aud": "someone-else",
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = client.VerifyIDToken(context.Background(), wrongAudience)
	assert.Error(t, err)

	expired := sign(jwt.MapClaims{
		"iss": issuer,
		"aud": "oil-client",
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err = client.VerifyIDToken(context.Background(), expired)
	assert.Error(t, err)
}

func TestClient_LogoutURL(t *testing.T) {
	client := NewClient("https://idp.example.com/realms/oil", "my-client", "", "", nil)

	raw := client.LogoutURL("id-token-hint", "http://localhost:3000")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/realms/oil/protocol/openid-connect/logout", u.Path)
	assert.Equal(t, "id-token-hint", u.Query().Get("id_token_hint"))
	assert.Equal(t, "http://localhost:3000", u.Query().Get("post_logout_redirect_uri"))

	assert.Equal(t, "https://idp.example.com/realms/oil/protocol/openid-connect/logout", client.LogoutURL("", ""))
}
