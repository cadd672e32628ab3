// Package proxy forwards browser calls to the backend API with the session's
// bearer credential attached.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/OpreaAngel-Freelance/oil-client/internal/apperr"
	"github.com/OpreaAngel-Freelance/oil-client/internal/token"
)

// APIPrefix is prepended to every proxied path.
const APIPrefix = "/api/v1/"

var tracer = otel.Tracer("github.com/OpreaAngel-Freelance/oil-client/internal/proxy")

// Request is one inbound call to forward.
type Request struct {
	Method        string
	Path          []string
	RawQuery      string
	Body          []byte
	Accept        string
	AccessToken   string
	CorrelationID string
	TraceID       string
}

// HasBody reports whether the request carries a body to forward.
func (r Request) HasBody() bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return len(bytes.TrimSpace(r.Body)) > 0
	}
	return false
}

// BreakerSettings configures the backend circuit breaker.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// Forwarder sends proxied requests to the backend API.
type Forwarder struct {
	baseURL   string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
	logClaims bool
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient sets the client used for backend calls.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

// WithLogger sets the forwarder logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Forwarder) { f.logger = l }
}

// WithClaimsLogging logs the decoded access token claims at debug level
// whenever the backend answers 401.
func WithClaimsLogging(enabled bool) Option {
	return func(f *Forwarder) { f.logClaims = enabled }
}

// WithBreaker trips a circuit breaker after consecutive connection failures.
// While it is open, calls fail as BackendUnavailable without dialing.
func WithBreaker(s BreakerSettings) Option {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	return func(f *Forwarder) {
		f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "backend-api",
			MaxRequests: s.HalfOpenRequests,
			Timeout:     s.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= s.ConsecutiveFailures
			},
			// Only an unreachable backend counts against the breaker.
			IsSuccessful: func(err error) bool {
				return err == nil || !isConnectionFailure(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.logger.Warn("circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		})
	}
}

// NewForwarder creates a forwarder for the backend at baseURL.
func NewForwarder(baseURL string, opts ...Option) *Forwarder {
	f := &Forwarder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL builds the backend URL for req: base, API prefix, escaped path
// segments and the raw query string unchanged. A trailing empty segment
// keeps the trailing slash.
func (f *Forwarder) URL(req Request) string {
	segments := make([]string, 0, len(req.Path))
	for i, s := range req.Path {
		if s == "" && i != len(req.Path)-1 {
			continue
		}
		segments = append(segments, url.PathEscape(s))
	}
	u := f.baseURL + APIPrefix + strings.Join(segments, "/")
	if req.RawQuery != "" {
		u += "?" + req.RawQuery
	}
	return u
}

// Forward sends req to the backend and classifies the outcome.
func (f *Forwarder) Forward(ctx context.Context, req Request) Result {
	target := f.URL(req)
	hasBody := req.HasBody()

	ctx, span := tracer.Start(ctx, "proxy.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", target),
		),
	)
	defer span.End()

	logAttrs := []any{
		slog.String("url", target),
		slog.String("method", req.Method),
		slog.Bool("has_body", hasBody),
		slog.Bool("has_auth", req.AccessToken != ""),
	}

	resp, err := f.do(ctx, req, target, hasBody)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend request failed")
		if isConnectionFailure(err) {
			f.logger.ErrorContext(ctx, "backend connection failed", append(logAttrs, slog.String("error", err.Error()))...)
			return BackendUnavailable(fmt.Errorf("%w: %v", apperr.ErrBackendUnavailable, err))
		}
		f.logger.ErrorContext(ctx, "proxy request failed", append(logAttrs, slog.String("error", err.Error()))...)
		return InternalError(fmt.Errorf("%w: %v", apperr.ErrInternal, err))
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.status))
	if resp.status == http.StatusUnauthorized {
		f.logUnauthorized(ctx, req, logAttrs)
	}

	result := classify(resp)
	if result.Kind == KindInternalError {
		span.SetStatus(codes.Error, "invalid backend response")
		f.logger.ErrorContext(ctx, "proxy request failed", append(logAttrs, slog.String("error", result.Err.Error()))...)
	}
	return result
}

type backendResponse struct {
	status      int
	contentType string
	body        []byte
}

func (f *Forwarder) do(ctx context.Context, req Request, target string, hasBody bool) (*backendResponse, error) {
	call := func() (any, error) {
		var body io.Reader
		if hasBody {
			body = bytes.NewReader(encodeBody(req.Body))
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if req.AccessToken != "" {
			httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
		}
		if req.Accept != "" {
			httpReq.Header.Set("Accept", req.Accept)
		}
		if req.CorrelationID != "" {
			httpReq.Header.Set("X-Correlation-Id", req.CorrelationID)
		}
		if req.TraceID != "" {
			httpReq.Header.Set("X-Trace-Id", req.TraceID)
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

		resp, err := f.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read backend response: %w", err)
		}
		return &backendResponse{
			status:      resp.StatusCode,
			contentType: resp.Header.Get("Content-Type"),
			body:        b,
		}, nil
	}

	if f.breaker == nil {
		v, err := call()
		if err != nil {
			return nil, err
		}
		return v.(*backendResponse), nil
	}

	v, err := f.breaker.Execute(call)
	if err != nil {
		return nil, err
	}
	return v.(*backendResponse), nil
}

// encodeBody forwards valid JSON compacted and anything else as raw text.
func encodeBody(body []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err == nil {
		return buf.Bytes()
	}
	return body
}

func classify(resp *backendResponse) Result {
	if resp.status == http.StatusNoContent {
		return NoContent()
	}

	contentType := resp.contentType
	if contentType == "" {
		contentType = "application/json"
	}

	if isJSON(resp.contentType) && !json.Valid(resp.body) {
		return InternalError(fmt.Errorf("%w: backend returned invalid JSON with status %d", apperr.ErrInternal, resp.status))
	}
	return Relayed(resp.status, contentType, resp.body)
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "application/json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// isConnectionFailure reports whether err means the backend was not reached.
func isConnectionFailure(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func (f *Forwarder) logUnauthorized(ctx context.Context, req Request, attrs []any) {
	if !f.logClaims {
		f.logger.WarnContext(ctx, "backend rejected credential", attrs...)
		return
	}
	claims := token.DecodeOrEmpty(req.AccessToken)
	f.logger.DebugContext(ctx, "backend rejected credential",
		append(attrs,
			slog.String("iss", claims.Issuer),
			slog.Any("aud", claims.Audience),
			slog.String("sub", claims.Subject),
			slog.Any("roles", claims.Roles),
		)...,
	)
}
