package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/OpreaAngel-Freelance/oil-client/internal/metrics"
	"github.com/OpreaAngel-Freelance/oil-client/internal/token"
)

// Refresher exchanges a refresh token for a new credential set.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Refreshed, error)
}

// Manager owns every session's CredentialSet. Reads are the only driver of
// the state machine: an expired set is refreshed on the read that sees it.
type Manager struct {
	store     Store
	refresher Refresher
	ttl       time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	flights   singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records refresh outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a Manager persisting sessions in store for ttl.
func NewManager(store Store, refresher Refresher, ttl time.Duration, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:     store,
		refresher: refresher,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL is the lifetime of a session record in the store.
func (m *Manager) TTL() time.Duration { return m.ttl }

// SignIn creates an Authenticated(valid) session from the provider's grant.
func (m *Manager) SignIn(ctx context.Context, g Grant) (string, *Data, error) {
	claims := token.DecodeOrEmpty(g.AccessToken)

	expiresAt := g.ExpiresAt
	if expiresAt == 0 {
		expiresAt = claims.ExpiresAt
	}

	csrf, err := randomHex(32)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate CSRF token: %w", err)
	}

	data := &Data{
		Credentials: CredentialSet{
			AccessToken:  g.AccessToken,
			RefreshToken: g.RefreshToken,
			ExpiresAt:    expiresAt,
			Roles:        claims.Roles,
		},
		IDToken:   g.IDToken,
		Subject:   g.Subject,
		Username:  g.Username,
		Email:     g.Email,
		CSRFToken: csrf,
		CreatedAt: m.now().Unix(),
	}
	if data.Subject == "" {
		data.Subject = claims.Subject
	}

	id, err := m.store.Create(ctx, data, m.ttl)
	if err != nil {
		return "", nil, err
	}
	m.metrics.SessionCreated()
	return id, data, nil
}

// Read returns the session, refreshing the credential set first when it
// has expired. A valid or terminal session is returned untouched.
func (m *Manager) Read(ctx context.Context, id string) (*Data, error) {
	data, err := m.Peek(ctx, id)
	if err != nil {
		return nil, err
	}
	if data.Credentials.Error != nil || !data.Credentials.IsExpired(m.now()) {
		return data, nil
	}
	return m.refresh(ctx, id)
}

// Peek loads the session without any state transition.
func (m *Manager) Peek(ctx context.Context, id string) (*Data, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	data, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrSessionNotFound
	}
	return data, nil
}

// Touch extends the session TTL.
func (m *Manager) Touch(ctx context.Context, id string) error {
	return m.store.Touch(ctx, id, m.ttl)
}

// Terminate deletes the session and returns what it held, or nil when it
// did not exist.
func (m *Manager) Terminate(ctx context.Context, id string) (*Data, error) {
	if id == "" {
		return nil, nil
	}
	data, err := m.store.Get(ctx, id)
	if err != nil {
		m.logger.Warn("failed to load session before logout", slog.String("error", err.Error()))
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return data, err
	}
	return data, nil
}

// State classifies the session at the manager's current time.
func (m *Manager) State(d *Data) State {
	return StateOf(d, m.now())
}

// Handle binds id to the manager.
func (m *Manager) Handle(id string) Handle {
	return Handle{m: m, id: id}
}

// refresh runs the Refreshing transition. Concurrent refreshes of one
// session inside this process share a single provider call.
func (m *Manager) refresh(ctx context.Context, id string) (*Data, error) {
	v, err, _ := m.flights.Do(id, func() (any, error) {
		data, err := m.Peek(ctx, id)
		if err != nil {
			return nil, err
		}
		if data.Credentials.Error != nil || !data.Credentials.IsExpired(m.now()) {
			return data, nil
		}
		return m.transition(ctx, id, data)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Data), nil
}

func (m *Manager) transition(ctx context.Context, id string, data *Data) (*Data, error) {
	if data.Credentials.RefreshToken == "" {
		m.logger.Error("no refresh token available", slog.String("session_id", id))
		data.Credentials.Error = &SessionError{Kind: ErrorNoRefreshToken, Message: "No refresh token available"}
		m.metrics.Refresh(string(ErrorNoRefreshToken))
		m.persist(ctx, id, data)
		return data, nil
	}

	refreshed, err := m.refresher.Refresh(ctx, data.Credentials.RefreshToken)
	if err != nil {
		// The caller went away; the provider did not refuse anything.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Error("error refreshing access token",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		data.Credentials.Error = &SessionError{Kind: ErrorRefreshFailed, Message: err.Error()}
		m.metrics.Refresh(string(ErrorRefreshFailed))
		m.persist(ctx, id, data)
		return data, nil
	}

	data.Credentials = refreshed.Credentials
	data.Credentials.Error = nil
	if refreshed.IDToken != "" {
		data.IDToken = refreshed.IDToken
	}
	m.metrics.Refresh("success")
	m.persist(ctx, id, data)
	return data, nil
}

func (m *Manager) persist(ctx context.Context, id string, data *Data) {
	if err := m.store.Update(ctx, id, data, m.ttl); err != nil {
		m.logger.Error("failed to update session after refresh",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Handle is a session-read function bound to one session ID.
type Handle struct {
	m  *Manager
	id string
}

// ID returns the bound session ID.
func (h Handle) ID() string { return h.id }

// Read runs Manager.Read for the bound session.
func (h Handle) Read(ctx context.Context) (*Data, error) { return h.m.Read(ctx, h.id) }

// Peek runs Manager.Peek for the bound session.
func (h Handle) Peek(ctx context.Context) (*Data, error) { return h.m.Peek(ctx, h.id) }

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
