package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the BFF configuration.
type Config struct {
	App           AppConfig           `yaml:"app" validate:"required"`
	Server        ServerConfig        `yaml:"server" validate:"required"`
	Observability ObservabilityConfig `yaml:"observability" validate:"required"`
	Auth          AuthConfig          `yaml:"auth" validate:"required"`
	Session       SessionConfig       `yaml:"session" validate:"required"`
	CSRF          CSRFConfig          `yaml:"csrf"`
	Backend       BackendConfig       `yaml:"backend" validate:"required"`
	Proxy         ProxyConfig         `yaml:"proxy"`
	Idle          IdleConfig          `yaml:"idle"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Debug         DebugConfig         `yaml:"debug"`
}

// AppConfig identifies the service and the browser-facing application URL.
type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version" validate:"required"`
	Environment string `yaml:"environment" validate:"required"`
	URL         string `yaml:"url" validate:"required,url"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string `yaml:"host" validate:"required"`
	Port            int    `yaml:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     string `yaml:"read_timeout" validate:"omitempty,duration"`
	WriteTimeout    string `yaml:"write_timeout" validate:"omitempty,duration"`
	ShutdownTimeout string `yaml:"shutdown_timeout" validate:"omitempty,duration"`
}

// ObservabilityConfig holds log/trace/metrics settings.
type ObservabilityConfig struct {
	Log     LogConfig     `yaml:"log"`
	Trace   TraceConfig   `yaml:"trace"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// TraceConfig configures OpenTelemetry tracing.
type TraceConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig holds the Keycloak realm and client settings.
type AuthConfig struct {
	Issuer               string   `yaml:"issuer" validate:"required,url"`
	ClientID             string   `yaml:"client_id" validate:"required"`
	ClientSecret         string   `yaml:"client_secret"`
	RedirectURI          string   `yaml:"redirect_uri" validate:"omitempty,url"`
	PostLoginRedirectURI string   `yaml:"post_login_redirect_uri"`
	Scopes               []string `yaml:"scopes"`
}

// SessionConfig holds session store settings.
type SessionConfig struct {
	Backend      string             `yaml:"backend" validate:"oneof=redis memory"`
	Redis        RedisSessionConfig `yaml:"redis"`
	TTL          string             `yaml:"ttl" validate:"omitempty,duration"`
	Prefix       string             `yaml:"prefix"`
	Sliding      bool               `yaml:"sliding"`
	CookieName   string             `yaml:"cookie_name" validate:"required"`
	CookieSecure bool               `yaml:"cookie_secure"`
}

// RedisSessionConfig holds Redis connection parameters for session storage.
type RedisSessionConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MasterName string `yaml:"master_name"`
}

// CSRFConfig holds CSRF protection settings.
type CSRFConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HeaderName string `yaml:"header_name"`
}

// BackendConfig holds the backend API base URL and its circuit breaker.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout string        `yaml:"timeout" validate:"omitempty,duration"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the backend circuit breaker.
type BreakerConfig struct {
	Enabled             bool   `yaml:"enabled"`
	ConsecutiveFailures uint32 `yaml:"consecutive_failures" validate:"omitempty,min=1"`
	OpenTimeout         string `yaml:"open_timeout" validate:"omitempty,duration"`
	HalfOpenRequests    uint32 `yaml:"half_open_requests"`
}

// ProxyConfig holds authenticated proxy options.
type ProxyConfig struct {
	// WriteRoles, when set, are required (any of) for POST/PUT/PATCH/DELETE.
	WriteRoles []string `yaml:"write_roles"`
}

// IdleConfig configures the idle monitor.
type IdleConfig struct {
	Timeout         string `yaml:"timeout" validate:"omitempty,duration"`
	WarningDuration string `yaml:"warning_duration" validate:"omitempty,duration"`
	RefreshInterval string `yaml:"refresh_interval" validate:"omitempty,duration"`
	TickInterval    string `yaml:"tick_interval" validate:"omitempty,duration"`
}

// CatalogConfig configures the public catalog read path.
type CatalogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CacheTTL string `yaml:"cache_ttl" validate:"omitempty,duration"`
}

// RateLimitConfig limits /auth/* requests per client IP.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
	Burst             int     `yaml:"burst" validate:"min=0"`
}

// DebugConfig holds diagnostics that are off in production.
type DebugConfig struct {
	// LogTokenClaims logs decoded access token claims when the backend answers 401.
	LogTokenClaims bool `yaml:"log_token_claims"`
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "oil-bff",
			Version:     "0.1.0",
			Environment: "dev",
			URL:         "http://localhost:3000",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ReadTimeout:     "10s",
			WriteTimeout:    "30s",
			ShutdownTimeout: "15s",
		},
		Observability: ObservabilityConfig{
			Log:     LogConfig{Level: "info", Format: "json"},
			Trace:   TraceConfig{SampleRate: 1.0},
			Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		},
		Auth: AuthConfig{
			Issuer:   "http://localhost:8080/realms/oil",
			ClientID: "oil-client",
			Scopes:   []string{"openid", "profile", "email"},
		},
		Session: SessionConfig{
			Backend:    "redis",
			Redis:      RedisSessionConfig{Addr: "localhost:6379"},
			TTL:        "8h",
			CookieName: "BFF_SESSION",
		},
		CSRF: CSRFConfig{Enabled: true, HeaderName: "X-CSRF-Token"},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: "30s",
			Breaker: BreakerConfig{
				Enabled:             true,
				ConsecutiveFailures: 5,
				OpenTimeout:         "30s",
				HalfOpenRequests:    1,
			},
		},
		Idle: IdleConfig{
			Timeout:         "50m",
			WarningDuration: "5m",
			RefreshInterval: "10m",
			TickInterval:    "1s",
		},
		Catalog:   CatalogConfig{Enabled: true, CacheTTL: "30s"},
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerSecond: 5, Burst: 20},
	}
}

// ParseDuration parses a duration string with a fallback default. A bare
// integer is read as milliseconds.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, ok := parseDuration(s)
	if !ok {
		return fallback
	}
	return d
}

func parseDuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, false
		}
		return time.Duration(ms) * time.Millisecond, true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// Load reads the base YAML configuration over Default() and optionally merges
// an environment overlay. An empty basePath yields the defaults.
func Load(basePath string, envPath ...string) (*Config, error) {
	cfg := Default()

	if basePath != "" {
		if err := mergeFromFile(cfg, basePath); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if len(envPath) > 0 && envPath[0] != "" {
		if err := mergeFromFile(cfg, envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to merge env config: %w", err)
		}
	}

	return cfg, nil
}

func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.Auth.Issuer, "KEYCLOAK_ISSUER")
	set(&c.Auth.ClientID, "KEYCLOAK_CLIENT_ID")
	set(&c.Auth.ClientSecret, "KEYCLOAK_CLIENT_SECRET")
	set(&c.App.URL, "APP_URL", "NEXTAUTH_URL")
	set(&c.Backend.BaseURL, "BACKEND_API_URL")
	set(&c.Session.Redis.Addr, "REDIS_ADDR")
	set(&c.Session.Redis.Password, "REDIS_PASSWORD")
	set(&c.Idle.Timeout, "IDLE_TIMEOUT")
	set(&c.Idle.WarningDuration, "WARNING_DURATION")
	set(&c.Idle.RefreshInterval, "REFRESH_INTERVAL")
	set(&c.Observability.Log.Level, "LOG_LEVEL")

	c.App.URL = strings.TrimSuffix(c.App.URL, "/")
	c.Backend.BaseURL = strings.TrimSuffix(c.Backend.BaseURL, "/")
}

// RedirectURI is the OAuth2 callback URL, defaulting to {app.url}/auth/callback.
func (c *Config) RedirectURI() string {
	if c.Auth.RedirectURI != "" {
		return c.Auth.RedirectURI
	}
	return strings.TrimSuffix(c.App.URL, "/") + "/auth/callback"
}

// PostLoginRedirect is where a completed sign-in lands.
func (c *Config) PostLoginRedirect() string {
	if c.Auth.PostLoginRedirectURI != "" {
		return c.Auth.PostLoginRedirectURI
	}
	return strings.TrimSuffix(c.App.URL, "/") + "/"
}

// Validate checks the configuration against its validate tags.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, ok := parseDuration(fl.Field().String())
		return ok
	}); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Session.Backend == "redis" && c.Session.Redis.Addr == "" {
		return errors.New("config validation failed: session.redis.addr is required for the redis backend")
	}
	return nil
}
