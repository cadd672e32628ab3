package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/oauth2"
)

// PKCE holds code_verifier and code_challenge for RFC 7636.
type PKCE struct {
	CodeVerifier  string
	CodeChallenge string
}

// NewPKCE generates a new PKCE pair using S256 method.
func NewPKCE() (*PKCE, error) {
	verifier, err := randomURLSafe(32)
	if err != nil {
		return nil, err
	}

	return &PKCE{
		CodeVerifier:  verifier,
		CodeChallenge: computeCodeChallenge(verifier),
	}, nil
}

// AuthCodeOptions are the authorization request parameters for the pair.
func (p *PKCE) AuthCodeOptions() []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", p.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
}

// VerifierOption sends the code_verifier with the token request.
func VerifierOption(verifier string) oauth2.AuthCodeOption {
	return oauth2.SetAuthURLParam("code_verifier", verifier)
}

// NewState returns an unguessable OAuth2 state value.
func NewState() (string, error) {
	return randomURLSafe(16)
}

// randomURLSafe returns n random bytes as URL-safe base64 without padding.
func randomURLSafe(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// computeCodeChallenge computes the S256 code challenge from a verifier.
func computeCodeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
