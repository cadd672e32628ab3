package token

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrDecode is matched by every DecodeError.
var ErrDecode = errors.New("access token could not be decoded")

// DecodeError reports a credential that is not a decodable compact token.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode access token: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDecode) match any DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// RealmAccess is the Keycloak realm_access claim.
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// payload is the subset of access token claims the BFF reads.
type payload struct {
	jwt.RegisteredClaims
	RealmAccess       *RealmAccess `json:"realm_access,omitempty"`
	PreferredUsername string       `json:"preferred_username,omitempty"`
	Email             string       `json:"email,omitempty"`
}

// Claims is the read-only view of an access token's claims.
type Claims struct {
	Roles     []string `json:"roles"`
	ExpiresAt int64    `json:"expires_at"`

	Subject  string   `json:"sub,omitempty"`
	Issuer   string   `json:"iss,omitempty"`
	Audience []string `json:"aud,omitempty"`
	Username string   `json:"preferred_username,omitempty"`
	Email    string   `json:"email,omitempty"`
}

var parser = jwt.NewParser()

// Decode reads the claims payload of a compact JWT without verifying its
// signature. The identity provider verified it when it was issued.
func Decode(accessToken string) (*Claims, error) {
	var p payload
	if _, _, err := parser.ParseUnverified(accessToken, &p); err != nil {
		return nil, &DecodeError{Err: err}
	}

	claims := &Claims{
		Roles:    []string{},
		Subject:  p.Subject,
		Issuer:   p.Issuer,
		Audience: p.Audience,
		Username: p.PreferredUsername,
		Email:    p.Email,
	}
	if p.ExpiresAt != nil {
		claims.ExpiresAt = p.ExpiresAt.Unix()
	}
	if p.RealmAccess != nil {
		claims.Roles = NormalizeRoles(p.RealmAccess.Roles)
	}
	return claims, nil
}

// DecodeOrEmpty decodes the token and treats any failure as "no roles,
// already expired".
func DecodeOrEmpty(accessToken string) Claims {
	claims, err := Decode(accessToken)
	if err != nil {
		return Claims{Roles: []string{}}
	}
	return *claims
}

// NormalizeRoles returns a sorted copy of roles without blanks or duplicates.
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r != "" {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// HasRole reports whether role is in the claims' role set.
func (c Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// ExpiresAtTime returns the expiry as a time.Time.
func (c Claims) ExpiresAtTime() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// IsExpired reports whether the token is expired at now. A missing exp
// claim decodes to 0 and is always expired.
func (c Claims) IsExpired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}
