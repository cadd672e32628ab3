package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/OpreaAngel-Freelance/oil-client/internal/apperr"
	"github.com/OpreaAngel-Freelance/oil-client/internal/idle"
	"github.com/OpreaAngel-Freelance/oil-client/internal/metrics"
	"github.com/OpreaAngel-Freelance/oil-client/internal/middleware"
)

const (
	maxIdleFrameBytes = 1 << 10
	idleWriteTimeout  = 5 * time.Second
	idleEventBuffer   = 8
)

// IdleHandler runs one idle monitor per WebSocket connection. Browser
// frames are activity signals; monitor events are written back as JSON.
type IdleHandler struct {
	bind           func(sessionID string) idle.SessionReader
	cfg            idle.Config
	originPatterns []string
	metrics        *metrics.Metrics
}

// NewIdleHandler creates an IdleHandler. bind returns the session the
// monitor watches.
func NewIdleHandler(bind func(sessionID string) idle.SessionReader, cfg idle.Config, originPatterns []string, m *metrics.Metrics) *IdleHandler {
	return &IdleHandler{bind: bind, cfg: cfg, originPatterns: originPatterns, metrics: m}
}

// Handle upgrades GET /auth/idle and runs the monitor until it logs the
// user out or the browser goes away.
func (h *IdleHandler) Handle(c *gin.Context) {
	if middleware.GetSessionError(c) != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": apperr.Message(apperr.ErrInternal)})
		return
	}
	sessionID, ok := middleware.GetSessionID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "BFF_SESSION_MISSING", "message": "Authentication required"})
		return
	}
	log := middleware.Logger(c).With(slog.String("component", "idle"))

	conn, err := websocket.Accept(upgradeWriter(c.Writer), c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Warn("idle websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(maxIdleFrameBytes)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan idle.Event, idleEventBuffer)
	notify := func(ev idle.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range events {
			if ctx.Err() != nil {
				continue
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				log.Debug("idle websocket write failed", slog.String("error", err.Error()))
				cancel()
			}
		}
	}()

	signals := make(chan idle.Signal)
	go func() {
		defer close(signals)
		for {
			sig, err := readSignal(ctx, conn)
			if errors.Is(err, errBadSignal) {
				log.Debug("ignoring malformed idle frame")
				continue
			}
			if err != nil {
				return
			}
			select {
			case signals <- sig:
			case <-ctx.Done():
				return
			}
		}
	}()

	monitor := idle.NewMonitor(h.cfg, h.bind(sessionID), notify,
		idle.WithLogger(log),
		idle.WithMetrics(h.metrics),
	)
	runErr := monitor.Run(ctx, signals)

	close(events)
	<-writerDone

	if monitor.Done() {
		_ = conn.Close(websocket.StatusNormalClosure, "logged out")
		return
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Warn("idle monitor stopped", slog.String("error", runErr.Error()))
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

// upgradeWriter returns the net/http writer under gin's. gin refuses to
// hijack once the 101 status is flushed, which websocket.Accept does first.
func upgradeWriter(w gin.ResponseWriter) http.ResponseWriter {
	if u, ok := w.(interface{ Unwrap() http.ResponseWriter }); ok {
		return u.Unwrap()
	}
	return w
}

var errBadSignal = errors.New("malformed idle signal")

func readSignal(ctx context.Context, conn *websocket.Conn) (idle.Signal, error) {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return idle.Signal{}, err
	}
	if typ != websocket.MessageText {
		return idle.Signal{}, errBadSignal
	}
	var sig idle.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return idle.Signal{}, errBadSignal
	}
	return sig, nil
}

func writeEvent(parent context.Context, conn *websocket.Conn, ev idle.Event) error {
	ctx, cancel := context.WithTimeout(parent, idleWriteTimeout)
	defer cancel()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
