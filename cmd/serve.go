package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/OpreaAngel-Freelance/oil-client/internal/catalog"
	"github.com/OpreaAngel-Freelance/oil-client/internal/config"
	"github.com/OpreaAngel-Freelance/oil-client/internal/handler"
	"github.com/OpreaAngel-Freelance/oil-client/internal/idle"
	"github.com/OpreaAngel-Freelance/oil-client/internal/metrics"
	"github.com/OpreaAngel-Freelance/oil-client/internal/middleware"
	"github.com/OpreaAngel-Freelance/oil-client/internal/oauth"
	"github.com/OpreaAngel-Freelance/oil-client/internal/proxy"
	"github.com/OpreaAngel-Freelance/oil-client/internal/session"
)

func runServe(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.Observability.Trace.Enabled {
		tp, err := initTracerProvider(ctx, cfg)
		if err != nil {
			logger.Warn("Failed to initialize OTel tracer provider", slog.String("error", err.Error()))
		} else {
			defer func() {
				_ = tp.Shutdown(context.Background())
			}()
		}
	}

	var m *metrics.Metrics
	if cfg.Observability.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer, cfg.App.Name)
	}

	redisClient, store := newSessionStore(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	router, err := newRouter(cfg, logger, m, redisClient, store)
	if err != nil {
		return err
	}

	srv := newHTTPServer(cfg, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("BFF starting", slog.String("addr", srv.Addr), slog.String("backend", cfg.Backend.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownTimeout := config.ParseDuration(cfg.Server.ShutdownTimeout, 15*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("BFF stopped")
	return nil
}

func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: config.ParseDuration(cfg.Server.ReadTimeout, 10*time.Second),
		ReadTimeout:       config.ParseDuration(cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout:      config.ParseDuration(cfg.Server.WriteTimeout, 30*time.Second),
	}
}

// newSessionStore connects the configured session backend. The Redis client
// is nil for the memory backend.
func newSessionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, session.Store) {
	if cfg.Session.Backend == "memory" {
		logger.Warn("using in-memory session store; sessions are lost on restart and not shared between replicas")
		return nil, session.NewMemoryStore()
	}

	rc := cfg.Session.Redis
	var client *redis.Client
	if rc.MasterName != "" {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    rc.MasterName,
			SentinelAddrs: []string{rc.Addr},
			Password:      rc.Password,
			DB:            rc.DB,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis not reachable at startup", slog.String("error", err.Error()))
	}
	return client, session.NewRedisStore(client, cfg.Session.Prefix)
}

// newRouter wires every component behind the gin engine.
func newRouter(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, redisClient *redis.Client, store session.Store) (*gin.Engine, error) {
	sessionTTL := config.ParseDuration(cfg.Session.TTL, 8*time.Hour)
	backendTimeout := config.ParseDuration(cfg.Backend.Timeout, 30*time.Second)
	secureCookie := cfg.Session.CookieSecure || cfg.App.Environment != "dev"

	oauthClient := oauth.NewClient(
		cfg.Auth.Issuer,
		cfg.Auth.ClientID,
		cfg.Auth.ClientSecret,
		cfg.RedirectURI(),
		cfg.Auth.Scopes,
		oauth.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
	)
	manager := session.NewManager(store, oauthClient, sessionTTL, logger, session.WithMetrics(m))

	fwdOpts := []proxy.Option{
		proxy.WithHTTPClient(&http.Client{Timeout: backendTimeout}),
		proxy.WithLogger(logger),
		proxy.WithClaimsLogging(cfg.Debug.LogTokenClaims),
	}
	if b := cfg.Backend.Breaker; b.Enabled {
		fwdOpts = append(fwdOpts, proxy.WithBreaker(proxy.BreakerSettings{
			ConsecutiveFailures: b.ConsecutiveFailures,
			OpenTimeout:         config.ParseDuration(b.OpenTimeout, 30*time.Second),
			HalfOpenRequests:    b.HalfOpenRequests,
		}))
	}
	forwarder := proxy.NewForwarder(cfg.Backend.BaseURL, fwdOpts...)

	appURL, err := url.Parse(cfg.App.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid app url: %w", err)
	}

	healthHandler := handler.NewHealthHandler(cfg.App.Name, nilIfAbsent(redisClient))
	authHandler := handler.NewAuthHandler(oauthClient, manager, handler.AuthOptions{
		CookieName:        cfg.Session.CookieName,
		SecureCookie:      secureCookie,
		AppURL:            cfg.App.URL,
		PostLoginRedirect: cfg.PostLoginRedirect(),
	})
	proxyHandler := handler.NewProxyHandler(forwarder, cfg.Proxy.WriteRoles, m)
	idleHandler := handler.NewIdleHandler(
		func(id string) idle.SessionReader { return manager.Handle(id) },
		idleConfig(cfg),
		[]string{appURL.Host},
		m,
	)

	if cfg.App.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.App.Name))
	router.Use(middleware.CorrelationMiddleware(logger))
	router.Use(middleware.PrometheusMiddleware(m))

	router.GET("/healthz", healthHandler.Healthz)
	router.GET("/readyz", healthHandler.Readyz)
	if cfg.Observability.Metrics.Enabled {
		router.GET(cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	sessions := middleware.SessionMiddleware(manager, cfg.Session.CookieName, cfg.Session.Sliding)

	auth := router.Group("/auth")
	if cfg.RateLimit.Enabled {
		auth.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	}
	auth.GET("/login", authHandler.Login)
	auth.GET("/callback", authHandler.Callback)
	auth.GET("/logout", authHandler.Logout)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/session", sessions, authHandler.Session)
	auth.GET("/idle", sessions, idleHandler.Handle)

	api := router.Group("/proxy", sessions)
	if cfg.CSRF.Enabled {
		api.Use(middleware.CSRFMiddleware(cfg.CSRF.HeaderName))
	}
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		api.Handle(method, "/*path", proxyHandler.Handle)
	}

	if cfg.Catalog.Enabled {
		catOpts := []catalog.Option{
			catalog.WithHTTPClient(&http.Client{Timeout: backendTimeout}),
			catalog.WithLogger(logger),
			catalog.WithMetrics(m),
		}
		if redisClient != nil {
			catOpts = append(catOpts, catalog.WithCache(
				catalog.NewRedisCache(redisClient, ""),
				config.ParseDuration(cfg.Catalog.CacheTTL, 30*time.Second),
			))
		}
		router.GET("/public/oil", handler.NewCatalogHandler(catalog.NewClient(cfg.Backend.BaseURL, catOpts...)).List)
	}

	return router, nil
}

func idleConfig(cfg *config.Config) idle.Config {
	def := idle.DefaultConfig()
	return idle.Config{
		IdleTimeout:     config.ParseDuration(cfg.Idle.Timeout, def.IdleTimeout),
		WarningDuration: config.ParseDuration(cfg.Idle.WarningDuration, def.WarningDuration),
		RefreshInterval: config.ParseDuration(cfg.Idle.RefreshInterval, def.RefreshInterval),
		TickInterval:    config.ParseDuration(cfg.Idle.TickInterval, def.TickInterval),
		LogoutURL:       def.LogoutURL,
	}
}

// nilIfAbsent keeps a nil *redis.Client from becoming a non-nil interface.
func nilIfAbsent(c *redis.Client) redis.Cmdable {
	if c == nil {
		return nil
	}
	return c
}
