package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OpreaAngel-Freelance/oil-client/internal/apperr"
	"github.com/OpreaAngel-Freelance/oil-client/internal/metrics"
)

// StatusError is a non-success answer from the backend list endpoint.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return "API error: " + http.StatusText(e.Status)
}

// Client lists public oil resources, caching pages when a Cache is set.
type Client struct {
	baseURL  string
	client   *http.Client
	cache    Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for backend calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithCache enables page caching for ttl. A non-positive ttl disables it.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		if ttl > 0 {
			cl.cache = cache
			cl.cacheTTL = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithMetrics records cache hits and misses.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the backend list URL for cursor.
func (c *Client) URL(cursor string) string {
	u := c.baseURL + "/api/v1/oil/"
	if cursor != "" {
		u += "?" + url.Values{"cursor": {cursor}}.Encode()
	}
	return u
}

// List returns the page at cursor; an empty cursor is the first page.
// A transport failure wraps apperr.ErrBackendUnavailable and a non-2xx
// answer is a *StatusError.
func (c *Client) List(ctx context.Context, cursor string) (*Page, error) {
	if page, ok := c.cached(ctx, cursor); ok {
		return page, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(cursor), nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode}
	}

	var raw backendPage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode catalog page: %v", apperr.ErrInternal, err)
	}
	page := raw.normalize()
	c.store(ctx, cursor, page)
	return page, nil
}

func (c *Client) cached(ctx context.Context, cursor string) (*Page, bool) {
	if c.cache == nil {
		return nil, false
	}
	data, ok, err := c.cache.Get(ctx, cursor)
	if err != nil {
		c.logger.Warn("catalog cache unavailable", "error", err)
		return nil, false
	}
	if !ok {
		c.metrics.CatalogCache("miss")
		return nil, false
	}
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		c.logger.Warn("discarding corrupt catalog cache entry", "error", err)
		c.metrics.CatalogCache("miss")
		return nil, false
	}
	c.metrics.CatalogCache("hit")
	return &page, true
}

func (c *Client) store(ctx context.Context, cursor string, page *Page) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cursor, data, c.cacheTTL); err != nil {
		c.logger.Warn("catalog cache unavailable", "error", err)
	}
}
