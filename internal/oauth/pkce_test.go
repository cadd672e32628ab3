package oauth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewPKCE(t *testing.T) {
	pkce, err := NewPKCE()
	require.NoError(t, err)

	// Verifier should be 43 characters (32 bytes base64url without padding).
	assert.Len(t, pkce.CodeVerifier, 43)

	// Challenge should be 43 characters (SHA256 hash base64url without padding).
	assert.Len(t, pkce.CodeChallenge, 43)
	assert.Equal(t, computeCodeChallenge(pkce.CodeVerifier), pkce.CodeChallenge)
}

func TestNewPKCE_Uniqueness(t *testing.T) {
	pkce1, err := NewPKCE()
	require.NoError(t, err)

	pkce2, err := NewPKCE()
	require.NoError(t, err)

	assert.NotEqual(t, pkce1.CodeVerifier, pkce2.CodeVerifier)
	assert.NotEqual(t, pkce1.CodeChallenge, pkce2.CodeChallenge)
}

func TestComputeCodeChallenge_RFC7636Vector(t *testing.T) {
	// Appendix B of RFC 7636.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", computeCodeChallenge(verifier))
}

func TestPKCE_AuthCodeOptions(t *testing.T) {
	cfg := &oauth2.Config{ClientID: "c", Endpoint: oauth2.Endpoint{AuthURL: "https://idp.example.com/auth"}}
	pkce := &PKCE{CodeVerifier: "v", CodeChallenge: "ch"}

	u, err := url.Parse(cfg.AuthCodeURL("s", pkce.AuthCodeOptions()...))
	require.NoError(t, err)
	assert.Equal(t, "ch", u.Query().Get("code_challenge"))
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
}

func TestNewState(t *testing.T) {
	s1, err := NewState()
	require.NoError(t, err)
	s2, err := NewState()
	require.NoError(t, err)

	assert.Len(t, s1, 22)
	assert.NotEqual(t, s1, s2)
}
