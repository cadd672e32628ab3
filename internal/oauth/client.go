package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"

	"github.com/OpreaAngel-Freelance/oil-client/internal/session"
	"github.com/OpreaAngel-Freelance/oil-client/internal/token"
)

var tracer = otel.Tracer("github.com/OpreaAngel-Freelance/oil-client/internal/oauth")

// Endpoints are the Keycloak realm endpoints derived from the issuer URL.
type Endpoints struct {
	Issuer        string
	Authorization string
	Token         string
	Logout        string
	Certs         string
}

// KeycloakEndpoints derives the realm endpoints from issuer.
func KeycloakEndpoints(issuer string) Endpoints {
	base := strings.TrimSuffix(issuer, "/")
	oidcBase := base + "/protocol/openid-connect"
	return Endpoints{
		Issuer:        base,
		Authorization: oidcBase + "/auth",
		Token:         oidcBase + "/token",
		Logout:        oidcBase + "/logout",
		Certs:         oidcBase + "/certs",
	}
}

// RefreshError reports a token endpoint refusal of the refresh grant.
type RefreshError struct {
	// Status is the HTTP status of the token endpoint, 0 when it was not reached.
	Status int

	// Description is the provider's error_description, else the status text.
	Description string
}

func (e *RefreshError) Error() string {
	return "token refresh failed: " + e.Description
}

// Identity is what the BFF keeps from a verified ID token.
type Identity struct {
	Subject  string `json:"sub"`
	Username string `json:"preferred_username"`
	Email    string `json:"email"`
}

// Client handles identity provider interactions for the BFF.
type Client struct {
	endpoints  Endpoints
	config     *oauth2.Config
	httpClient *http.Client
	verifier   *oidc.IDTokenVerifier
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	keySet     oidc.KeySet
}

// WithHTTPClient sets the client used for token and JWKS requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithKeySet replaces the provider JWKS used to verify ID tokens.
func WithKeySet(ks oidc.KeySet) Option {
	return func(o *clientOptions) { o.keySet = ks }
}

// NewClient creates an identity provider client for a Keycloak realm.
func NewClient(issuer, clientID, clientSecret, redirectURI string, scopes []string, opts ...Option) *Client {
	o := clientOptions{httpClient: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(&o)
	}

	endpoints := KeycloakEndpoints(issuer)
	if o.keySet == nil {
		o.keySet = oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), o.httpClient), endpoints.Certs)
	}

	return &Client{
		endpoints: endpoints,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  endpoints.Authorization,
				TokenURL: endpoints.Token,
				// Credentials go in the form body. Auto-detect would retry a
				// refused grant with basic auth.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: o.httpClient,
		verifier:   oidc.NewVerifier(endpoints.Issuer, o.keySet, &oidc.Config{ClientID: clientID}),
	}
}

// Endpoints returns the realm endpoints the client talks to.
func (c *Client) Endpoints() Endpoints { return c.endpoints }

// AuthCodeURL builds the authorization URL with PKCE parameters.
func (c *Client) AuthCodeURL(state string, pkce *PKCE) string {
	return c.config.AuthCodeURL(state, pkce.AuthCodeOptions()...)
}

// ExchangeCode exchanges an authorization code for a sign-in grant.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*session.Grant, error) {
	ctx, span := tracer.Start(ctx, "oauth.exchange_code")
	defer span.End()

	tok, err := c.config.Exchange(c.withHTTPClient(ctx), code, VerifierOption(codeVerifier))
	if err != nil {
		span.SetStatus(codes.Error, "code exchange failed")
		return nil, fmt.Errorf("code exchange failed: %s: %w", describe(err).Description, err)
	}

	grant := &session.Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken(tok),
	}
	if !tok.Expiry.IsZero() {
		grant.ExpiresAt = tok.Expiry.Unix()
	}
	return grant, nil
}

// Refresh performs one refresh-token grant. It is never retried here: a
// refusal becomes the session's terminal error.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*session.Refreshed, error) {
	ctx, span := tracer.Start(ctx, "oauth.refresh")
	defer span.End()

	src := c.config.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		rerr := describe(err)
		span.SetStatus(codes.Error, rerr.Error())
		return nil, rerr
	}
	span.SetAttributes(attribute.Bool("oauth.id_token_returned", idToken(tok) != ""))

	claims := token.DecodeOrEmpty(tok.AccessToken)
	expiresAt := claims.ExpiresAt
	if !tok.Expiry.IsZero() {
		expiresAt = tok.Expiry.Unix()
	}

	return &session.Refreshed{
		Credentials: session.CredentialSet{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    expiresAt,
			Roles:        claims.Roles,
		},
		IDToken: idToken(tok),
	}, nil
}

// VerifyIDToken checks the ID token's signature, issuer, audience and expiry
// and returns the identity it asserts.
func (c *Client) VerifyIDToken(ctx context.Context, rawIDToken string) (*Identity, error) {
	idt, err := c.verifier.Verify(c.withHTTPClient(ctx), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var id Identity
	if err := idt.Claims(&id); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}
	id.Subject = idt.Subject
	return &id, nil
}

// LogoutURL returns the end-session URL. Empty arguments are omitted.
func (c *Client) LogoutURL(idTokenHint, postLogoutRedirectURI string) string {
	params := url.Values{}
	if idTokenHint != "" {
		params.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirectURI != "" {
		params.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	if len(params) == 0 {
		return c.endpoints.Logout
	}
	return c.endpoints.Logout + "?" + params.Encode()
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// describe turns a token endpoint failure into a RefreshError.
func describe(err error) *RefreshError {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		desc := rerr.ErrorDescription
		if desc == "" {
			desc = http.StatusText(status)
		}
		if desc == "" {
			desc = rerr.ErrorCode
		}
		return &RefreshError{Status: status, Description: desc}
	}
	return &RefreshError{Description: err.Error()}
}

func idToken(tok *oauth2.Token) string {
	s, _ := tok.Extra("id_token").(string)
	return s
}
