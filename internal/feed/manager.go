// Package feed owns the single streaming connection to the upstream price
// feed: it authorizes, subscribes every instrument, decodes inbound frames
// and reconnects with capped exponential backoff for the process lifetime.
//
// One connection carries every instrument, so an outage affects all of them
// at once.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"tickpulse/internal/logger"
	"tickpulse/internal/model"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// ErrAuth is returned by a session whose authorization was rejected.
var ErrAuth = errors.New("feed: authorization rejected")

// Handler receives decoded market data. Calls are made from the manager's
// goroutine, one at a time.
type Handler interface {
	OnHistory(symbol string, closes []float64)
	OnTick(tick model.PriceTick)
}

// Config holds connection settings.
type Config struct {
	// URL of the feed endpoint, e.g. "wss://ws.derivws.com/websockets/v3".
	// app_id is appended as a query parameter.
	URL   string
	AppID string
	Token string

	Symbols []string

	Backfill           bool
	HistoryCount       int
	HistoryGranularity int
	HistoryStyle       string // "ticks" or "candles"

	ReconnectDelay    time.Duration // initial backoff, default 1s
	MaxReconnectDelay time.Duration // backoff cap, default 10s
	AuthRetryDelay    time.Duration // minimum wait after an auth rejection, default 5s
	ReadTimeout       time.Duration // default 30s
	PingInterval      time.Duration // default 10s
	HandshakeTimeout  time.Duration // default 10s
	WriteTimeout      time.Duration // default 5s
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 10 * time.Second
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = c.ReconnectDelay
	}
	if c.AuthRetryDelay == 0 {
		c.AuthRetryDelay = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.HistoryCount == 0 {
		c.HistoryCount = 100
	}
	if c.HistoryStyle == "" {
		c.HistoryStyle = "ticks"
	}
}

// Hooks are optional callbacks for metrics and health. All run on the
// manager's goroutine and must not block.
type Hooks struct {
	OnConnect     func()
	OnDisconnect  func(err error)
	OnSubscribe   func(symbol string)
	OnAuthFailure func(err error)
	OnDecodeError func(err error)
	OnUnknown     func(f Frame)
}

// Manager runs the connection lifecycle.
type Manager struct {
	cfg     Config
	handler Handler
	hooks   Hooks
	log     *slog.Logger
	dialURL string
}

// NewManager validates cfg and returns a manager. Returns an error if the URL
// is unparseable or no symbols are configured.
func NewManager(cfg Config, h Handler, hooks Hooks, log *slog.Logger) (*Manager, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("feed: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed: unsupported url scheme %q", u.Scheme)
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("feed: no symbols to subscribe")
	}
	if h == nil {
		return nil, errors.New("feed: nil handler")
	}
	if cfg.AppID != "" {
		q := u.Query()
		q.Set("app_id", cfg.AppID)
		u.RawQuery = q.Encode()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		handler: h,
		hooks:   hooks,
		log:     log.With(slog.String("component", "feed")),
		dialURL: u.String(),
	}, nil
}

// Run connects and streams until ctx is cancelled. Every session failure is
// followed by a backoff wait and a fresh connection; there is no retry limit.
func (m *Manager) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.ReconnectDelay
	bo.MaxInterval = m.cfg.MaxReconnectDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}

		authed, err := m.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if authed {
			bo.Reset()
		}

		delay := bo.NextBackOff()
		if delay > m.cfg.MaxReconnectDelay {
			delay = m.cfg.MaxReconnectDelay
		}
		if errors.Is(err, ErrAuth) {
			if m.hooks.OnAuthFailure != nil {
				m.hooks.OnAuthFailure(err)
			}
			if delay < m.cfg.AuthRetryDelay {
				delay = m.cfg.AuthRetryDelay
			}
		}
		if m.hooks.OnDisconnect != nil {
			m.hooks.OnDisconnect(err)
		}
		m.log.Warn("feed session ended, reconnecting",
			slog.Any("error", err),
			slog.Duration("delay", delay),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// runSession makes one connection attempt and streams until it fails.
// authed reports whether the session got past authorization.
func (m *Manager) runSession(ctx context.Context) (authed bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, m.dialURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sessCtx, cancel := context.WithCancel(logger.WithTraceID(ctx, logger.GenerateTraceID("feed", time.Now())))
	defer cancel()
	log := m.log.With(logger.LogWithTrace(sessCtx)...)

	// Closing the connection unblocks ReadMessage on shutdown.
	go func() {
		<-sessCtx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	})

	if err := m.write(conn, AuthorizeRequest(m.cfg.Token)); err != nil {
		return false, fmt.Errorf("write authorize: %w", err)
	}
	if err := m.awaitAuth(conn, log); err != nil {
		return false, err
	}
	authed = true
	log.Info("feed connected", slog.String("url", m.cfg.URL), slog.Int("symbols", len(m.cfg.Symbols)))
	if m.hooks.OnConnect != nil {
		m.hooks.OnConnect()
	}

	for _, sym := range m.cfg.Symbols {
		if err := m.write(conn, SubscribeRequest(sym)); err != nil {
			return authed, fmt.Errorf("subscribe %s: %w", sym, err)
		}
		if m.hooks.OnSubscribe != nil {
			m.hooks.OnSubscribe(sym)
		}
		if m.cfg.Backfill {
			req := HistoryRequest(sym, m.cfg.HistoryCount, m.cfg.HistoryGranularity, m.cfg.HistoryStyle)
			if err := m.write(conn, req); err != nil {
				return authed, fmt.Errorf("history %s: %w", sym, err)
			}
		}
	}

	go m.pingLoop(sessCtx, conn, log)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return authed, fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		m.dispatch(raw, log)
	}
}

// awaitAuth reads frames until the authorization verdict arrives.
// The read deadline bounds the wait.
func (m *Manager) awaitAuth(conn *websocket.Conn, log *slog.Logger) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read authorize: %w", err)
		}
		f, err := Decode(raw)
		if err != nil {
			m.decodeFailed(err, log)
			continue
		}
		switch f.Kind {
		case AuthAck:
			return nil
		case AuthError:
			log.Error("feed authorization rejected", slog.String("reason", f.Err.Error()))
			return fmt.Errorf("%w: %s", ErrAuth, f.Err.Message)
		default:
			log.Debug("frame before authorization ignored", slog.String("kind", f.Kind.String()))
		}
	}
}

func (m *Manager) dispatch(raw []byte, log *slog.Logger) {
	f, err := Decode(raw)
	if err != nil {
		m.decodeFailed(err, log)
		return
	}

	switch f.Kind {
	case TickEvent:
		m.handler.OnTick(f.Tick)
	case HistoryBatch:
		m.handler.OnHistory(f.Symbol, f.Closes)
	case SubscriptionAck:
		log.Debug("subscription confirmed", slog.String("id", f.SubscriptionID))
	case AuthAck:
	case AuthError:
		log.Warn("late authorization error", slog.String("reason", f.Err.Error()))
	default:
		if f.Err != nil {
			log.Warn("feed error frame", slog.String("msg_type", f.MsgType), slog.String("reason", f.Err.Error()))
		} else {
			log.Debug("unknown frame ignored", slog.String("msg_type", f.MsgType))
		}
		if m.hooks.OnUnknown != nil {
			m.hooks.OnUnknown(f)
		}
	}
}

func (m *Manager) decodeFailed(err error, log *slog.Logger) {
	log.Warn("malformed frame skipped", slog.Any("error", err))
	if m.hooks.OnDecodeError != nil {
		m.hooks.OnDecodeError(err)
	}
}

// pingLoop sends WebSocket pings until the session ends. A peer that stops
// answering lets the read deadline expire, which recycles the connection.
func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn, log *slog.Logger) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout)); err != nil {
				log.Debug("ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (m *Manager) write(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	return conn.WriteJSON(v)
}
