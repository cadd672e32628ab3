// Package idle detects user inactivity for one browser session and escalates
// it to a warning countdown and then a forced logout.
package idle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/OpreaAngel-Freelance/oil-client/internal/metrics"
	"github.com/OpreaAngel-Freelance/oil-client/internal/session"
)

// Config holds the monitor timings.
type Config struct {
	// IdleTimeout is the time without activity before the warning opens.
	IdleTimeout time.Duration

	// WarningDuration is the countdown shown before the forced logout.
	WarningDuration time.Duration

	// RefreshInterval is the cadence of session nudges while the user is active.
	RefreshInterval time.Duration

	// TickInterval drives the countdown; one countdown second per elapsed second.
	TickInterval time.Duration

	// LogoutURL is the logout boundary the browser is sent to.
	LogoutURL string
}

// DefaultConfig returns 50m idle, 5m warning and a 10m refresh cadence.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:     50 * time.Minute,
		WarningDuration: 5 * time.Minute,
		RefreshInterval: 10 * time.Minute,
		TickInterval:    time.Second,
		LogoutURL:       "/auth/logout",
	}
}

// SessionReader is the session-read function the monitor is bound to.
// session.Handle implements it.
type SessionReader interface {
	// Read runs the read-refresh path.
	Read(ctx context.Context) (*session.Data, error)

	// Peek loads the session without refreshing it.
	Peek(ctx context.Context) (*session.Data, error)
}

// SignalKind is the kind of a browser signal.
type SignalKind string

const (
	SignalActivity   SignalKind = "activity"
	SignalVisibility SignalKind = "visibility"
	SignalLogout     SignalKind = "logout"
)

// Signal is one event from the activity source.
type Signal struct {
	Kind    SignalKind `json:"type"`
	Visible bool       `json:"visible,omitempty"`
}

// EventType is the kind of a monitor event.
type EventType string

const (
	EventWarning   EventType = "warning"
	EventCountdown EventType = "countdown"
	EventResumed   EventType = "resumed"
	EventRefreshed EventType = "refreshed"
	EventLogout    EventType = "logout"
)

// Logout reasons.
const (
	ReasonCountdown      = "countdown"
	ReasonSessionError   = "session_error"
	ReasonSessionMissing = "session_missing"
	ReasonUser           = "user"
)

// Event is sent to the browser.
type Event struct {
	Type      EventType `json:"type"`
	Remaining int       `json:"remaining,omitempty"`
	ExpiresAt int64     `json:"expires_at,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Redirect  string    `json:"redirect,omitempty"`
}

// State is the monitor's idle/warning state.
type State struct {
	LastActivity  time.Time
	WarningActive bool
	Countdown     int
	LoggedOut     bool
}

// Monitor is the idle state machine for one session. State is owned by the
// goroutine calling Run; the Handle and Tick methods must not be called
// concurrently.
type Monitor struct {
	cfg     Config
	session SessionReader
	notify  func(Event)
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	state         State
	lastNudge     time.Time
	nextDecrement time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the monitor logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics records forced logouts.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// NewMonitor creates a monitor over sess. notify receives every event.
func NewMonitor(cfg Config, sess SessionReader, notify func(Event), opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WarningDuration <= 0 {
		cfg.WarningDuration = def.WarningDuration
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.LogoutURL == "" {
		cfg.LogoutURL = def.LogoutURL
	}
	if notify == nil {
		notify = func(Event) {}
	}

	m := &Monitor{
		cfg:     cfg,
		session: sess,
		notify:  notify,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	start := m.now()
	m.state = State{LastActivity: start, Countdown: m.warningSeconds()}
	m.lastNudge = start
	return m
}

// State returns a copy of the current state.
func (m *Monitor) State() State { return m.state }

// Done reports whether the forced logout has been issued.
func (m *Monitor) Done() bool { return m.state.LoggedOut }

// Run feeds signals and ticks into the monitor until the logout is issued,
// signals is closed, or ctx ends.
func (m *Monitor) Run(ctx context.Context, signals <-chan Signal) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for !m.state.LoggedOut {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			m.HandleSignal(ctx, sig)
		case <-ticker.C:
			m.Tick(ctx, m.now())
		}
	}
	return nil
}

// HandleSignal dispatches one browser signal.
func (m *Monitor) HandleSignal(ctx context.Context, sig Signal) {
	now := m.now()
	switch sig.Kind {
	case SignalActivity:
		m.HandleActivity(ctx, now)
	case SignalVisibility:
		m.HandleVisibility(sig.Visible, now)
	case SignalLogout:
		m.logout(ReasonUser)
	default:
		m.logger.Debug("ignoring unknown idle signal", slog.String("type", string(sig.Kind)))
	}
}

// HandleActivity resets the idle clock. Activity during a warning cancels
// it and nudges the session at once.
func (m *Monitor) HandleActivity(ctx context.Context, now time.Time) {
	if m.state.LoggedOut {
		return
	}
	m.state.LastActivity = now
	if !m.state.WarningActive {
		return
	}

	m.state.WarningActive = false
	m.state.Countdown = m.warningSeconds()
	m.notify(Event{Type: EventResumed})
	m.nudge(ctx, now)
}

// HandleVisibility treats the tab returning to the foreground as activity
// unless a warning is showing.
func (m *Monitor) HandleVisibility(visible bool, now time.Time) {
	if m.state.LoggedOut || !visible || m.state.WarningActive {
		return
	}
	m.state.LastActivity = now
}

// Tick advances the monitor to now.
func (m *Monitor) Tick(ctx context.Context, now time.Time) {
	if m.state.LoggedOut {
		return
	}
	if !m.watchSession(ctx) {
		return
	}

	if m.state.WarningActive {
		for m.state.Countdown > 0 && !now.Before(m.nextDecrement) {
			m.state.Countdown--
			m.nextDecrement = m.nextDecrement.Add(time.Second)
		}
		if m.state.Countdown <= 0 {
			m.logout(ReasonCountdown)
			return
		}
		m.notify(Event{Type: EventCountdown, Remaining: m.state.Countdown})
		return
	}

	if now.Sub(m.state.LastActivity) >= m.cfg.IdleTimeout {
		m.state.WarningActive = true
		m.state.Countdown = m.warningSeconds()
		m.nextDecrement = now.Add(time.Second)
		m.notify(Event{Type: EventWarning, Remaining: m.state.Countdown})
		return
	}

	if now.Sub(m.lastNudge) >= m.cfg.RefreshInterval {
		m.nudge(ctx, now)
	}
}

// watchSession forces the logout when the session is gone or carries a
// terminal error. It reports whether the monitor is still running.
func (m *Monitor) watchSession(ctx context.Context) bool {
	data, err := m.session.Peek(ctx)
	return m.inspect(data, err)
}

// nudge runs the session read-refresh path.
func (m *Monitor) nudge(ctx context.Context, now time.Time) {
	m.lastNudge = now

	data, err := m.session.Read(ctx)
	if !m.inspect(data, err) || err != nil {
		return
	}
	m.notify(Event{Type: EventRefreshed, ExpiresAt: data.Credentials.ExpiresAt})
}

func (m *Monitor) inspect(data *session.Data, err error) bool {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		m.logout(ReasonSessionMissing)
		return false
	case err != nil:
		// A store error leaves the monitor running.
		m.logger.Warn("idle monitor could not read session", slog.String("error", err.Error()))
		return true
	case data.Credentials.Error != nil:
		m.logout(ReasonSessionError)
		return false
	}
	return true
}

func (m *Monitor) logout(reason string) {
	if m.state.LoggedOut {
		return
	}
	m.state.LoggedOut = true
	m.state.WarningActive = false
	m.state.Countdown = 0
	m.metrics.IdleLogout(reason)
	m.logger.Info("forcing logout", slog.String("reason", reason))
	m.notify(Event{Type: EventLogout, Reason: reason, Redirect: m.cfg.LogoutURL})
}

func (m *Monitor) warningSeconds() int {
	return int(m.cfg.WarningDuration / time.Second)
}
