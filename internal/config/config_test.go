package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoad(t *testing.T) {
	yaml := `
app:
  name: oil-bff
  version: "0.1.0"
  environment: dev
  url: "http://localhost:3000"
server:
  host: "0.0.0.0"
  port: 8080
auth:
  issuer: "http://keycloak:8080/realms/oil"
  client_id: "oil-client"
session:
  redis:
    addr: "redis:6379"
  ttl: "30m"
backend:
  base_url: "http://oil-api:8000"
`
	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "config.yaml", yaml))
	require.NoError(t, err)
	assert.Equal(t, "oil-bff", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "oil-client", cfg.Auth.ClientID)
	assert.Equal(t, "redis:6379", cfg.Session.Redis.Addr)
	assert.Equal(t, "http://oil-api:8000", cfg.Backend.BaseURL)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, "BFF_SESSION", cfg.Session.CookieName)
	assert.Equal(t, "50m", cfg.Idle.Timeout)
	assert.Equal(t, "30s", cfg.Catalog.CacheTTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverlay(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "config.yaml", "backend:\n  base_url: \"http://a:8000\"\n")
	overlay := writeFile(t, dir, "config.prod.yaml", "backend:\n  base_url: \"http://b:8000\"\ndebug:\n  log_token_claims: true\n")

	cfg, err := Load(base, overlay)
	require.NoError(t, err)
	assert.Equal(t, "http://b:8000", cfg.Backend.BaseURL)
	assert.True(t, cfg.Debug.LogTokenClaims)
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://localhost:8000", cfg.Backend.BaseURL)
	assert.Equal(t, 50*time.Minute, ParseDuration(cfg.Idle.Timeout, 0))
	assert.Equal(t, 5*time.Minute, ParseDuration(cfg.Idle.WarningDuration, 0))
	assert.Equal(t, 10*time.Minute, ParseDuration(cfg.Idle.RefreshInterval, 0))
	assert.False(t, cfg.Debug.LogTokenClaims)
	assert.Empty(t, cfg.Proxy.WriteRoles)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"KEYCLOAK_ISSUER":        "https://sso.example.com/realms/oil",
		"KEYCLOAK_CLIENT_ID":     "web",
		"KEYCLOAK_CLIENT_SECRET": "s3cret",
		"NEXTAUTH_URL":           "https://oil.example.com/",
		"BACKEND_API_URL":        "https://api.example.com/",
		"REDIS_ADDR":             "redis:6380",
		"IDLE_TIMEOUT":           "3000000",
		"WARNING_DURATION":       "300000",
		"REFRESH_INTERVAL":       "2m",
		"LOG_LEVEL":              "debug",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "https://sso.example.com/realms/oil", cfg.Auth.Issuer)
	assert.Equal(t, "web", cfg.Auth.ClientID)
	assert.Equal(t, "s3cret", cfg.Auth.ClientSecret)
	assert.Equal(t, "https://oil.example.com", cfg.App.URL)
	assert.Equal(t, "https://api.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "redis:6380", cfg.Session.Redis.Addr)
	assert.Equal(t, 50*time.Minute, ParseDuration(cfg.Idle.Timeout, 0))
	assert.Equal(t, 5*time.Minute, ParseDuration(cfg.Idle.WarningDuration, 0))
	assert.Equal(t, 2*time.Minute, ParseDuration(cfg.Idle.RefreshInterval, 0))
	assert.Equal(t, "debug", cfg.Observability.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_AppURLPrecedence(t *testing.T) {
	env := map[string]string{"APP_URL": "https://a.example.com", "NEXTAUTH_URL": "https://b.example.com"}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "https://a.example.com", cfg.App.URL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", "OIL_BFF_TEST_DOTENV=from-file\n")
	t.Setenv("OIL_BFF_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("OIL_BFF_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(p, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("OIL_BFF_TEST_DOTENV"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"memory backend without redis", func(c *Config) { c.Session.Backend = "memory"; c.Session.Redis.Addr = "" }, false},
		{"redis backend without addr", func(c *Config) { c.Session.Redis.Addr = "" }, true},
		{"unknown backend", func(c *Config) { c.Session.Backend = "etcd" }, true},
		{"bad issuer", func(c *Config) { c.Auth.Issuer = "not a url" }, true},
		{"missing backend url", func(c *Config) { c.Backend.BaseURL = "" }, true},
		{"bad duration", func(c *Config) { c.Idle.Timeout = "soon" }, true},
		{"millisecond duration", func(c *Config) { c.Idle.Timeout = "60000" }, false},
		{"bad log level", func(c *Config) { c.Observability.Log.Level = "verbose" }, true},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedirects(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://localhost:3000/auth/callback", cfg.RedirectURI())
	assert.Equal(t, "http://localhost:3000/", cfg.PostLoginRedirect())

	cfg.Auth.RedirectURI = "https://bff.example.com/auth/callback"
	cfg.Auth.PostLoginRedirectURI = "https://oil.example.com/dashboard"
	assert.Equal(t, "https://bff.example.com/auth/callback", cfg.RedirectURI())
	assert.Equal(t, "https://oil.example.com/dashboard", cfg.PostLoginRedirect())
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		fallback time.Duration
		expected time.Duration
	}{
		{"valid", "30m", 5 * time.Minute, 30 * time.Minute},
		{"milliseconds", "3000000", 5 * time.Minute, 50 * time.Minute},
		{"empty", "", 5 * time.Minute, 5 * time.Minute},
		{"invalid", "not-a-duration", 10 * time.Second, 10 * time.Second},
		{"negative", "-5s", 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDuration(tt.input, tt.fallback)
			assert.Equal(t, tt.expected, got)
		})
	}
}
