// Package feedsim is a local stand-in for the upstream price feed. It speaks
// the same JSON protocol (authorize, ticks subscribe, ticks_history) and
// streams random-walk quotes, so the service and its tests can run without
// credentials or network access.
package feedsim

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Options configures the simulator.
type Options struct {
	// Token accepted by authorize. Empty accepts any token.
	Token string
	// Prices seeds the random walk per symbol. Unknown symbols start at 1.0.
	Prices map[string]float64
	// TickInterval between generated ticks. Zero disables the generator;
	// ticks can still be pushed with Emit.
	TickInterval time.Duration
	// Now supplies tick epochs. Defaults to time.Now.
	Now func() time.Time
	Log *slog.Logger
}

// client is one upstream connection.
type client struct {
	id   int
	conn *websocket.Conn
	send chan []byte

	mu         sync.Mutex
	authorized bool
	subs       map[string]bool
}

func (c *client) subscribed(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized && c.subs[symbol]
}

// Server simulates the feed endpoint.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu        sync.RWMutex
	clients   map[*client]struct{}
	nextID    int
	subCounts []map[string]int // per connection, in accept order
	authFails int
	prices    map[string]float64
	stalled   bool
	rng       *rand.Rand

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a simulator. Call Close to stop its generator.
func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	s := &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		log:     opts.Log.With(slog.String("component", "feedsim")),
		clients: make(map[*client]struct{}),
		prices:  make(map[string]float64),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		stop:    make(chan struct{}),
	}
	for sym, p := range opts.Prices {
		s.prices[sym] = p
	}
	if opts.TickInterval > 0 {
		go s.runGenerator(opts.TickInterval)
	}
	return s
}

// Close stops the generator and drops every connection.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.DropAll()
}

// ServeHTTP upgrades the request and serves one feed session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", slog.Any("error", err))
		return
	}

	c := s.register(conn)
	defer func() {
		s.unregister(c)
		conn.Close()
	}()

	conn.SetPingHandler(func(data string) error {
		s.mu.RLock()
		stalled := s.stalled
		s.mu.RUnlock()
		if stalled {
			return nil
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	go s.writePump(c)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleRequest(c, raw)
	}
}

func (s *Server) writePump(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.conn.Close()
			return
		}
	}
}

func (s *Server) register(conn *websocket.Conn) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &client{
		id:   s.nextID,
		conn: conn,
		send: make(chan []byte, 256),
		subs: make(map[string]bool),
	}
	s.nextID++
	s.clients[c] = struct{}{}
	s.subCounts = append(s.subCounts, make(map[string]int))
	return c
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}

// request is the union of inbound request shapes.
type request struct {
	Authorize    *string `json:"authorize"`
	Ticks        string  `json:"ticks"`
	Subscribe    int     `json:"subscribe"`
	TicksHistory string  `json:"ticks_history"`
	Count        int     `json:"count"`
	Granularity  int     `json:"granularity"`
	Style        string  `json:"style"`
}

func (s *Server) handleRequest(c *client, raw []byte) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		s.reply(c, map[string]any{
			"msg_type": "error",
			"error":    map[string]string{"code": "InputValidationFailed", "message": "invalid json"},
		})
		return
	}
	echo := json.RawMessage(raw)

	switch {
	case req.Authorize != nil:
		if s.opts.Token != "" && *req.Authorize != s.opts.Token {
			s.mu.Lock()
			s.authFails++
			s.mu.Unlock()
			s.reply(c, map[string]any{
				"msg_type": "authorize",
				"echo_req": echo,
				"error":    map[string]string{"code": "InvalidToken", "message": "The token is invalid."},
			})
			return
		}
		c.mu.Lock()
		c.authorized = true
		c.mu.Unlock()
		s.reply(c, map[string]any{
			"msg_type":  "authorize",
			"echo_req":  echo,
			"authorize": map[string]any{"loginid": "VRTC0000001", "currency": "USD"},
		})

	case !c.isAuthorized():
		s.reply(c, map[string]any{
			"msg_type": "error",
			"echo_req": echo,
			"error":    map[string]string{"code": "AuthorizationRequired", "message": "Please log in."},
		})

	case req.Ticks != "":
		c.mu.Lock()
		c.subs[req.Ticks] = true
		c.mu.Unlock()
		s.mu.Lock()
		s.subCounts[c.id][req.Ticks]++
		s.mu.Unlock()
		quote := s.walk(req.Ticks)
		s.reply(c, tickFrame(req.Ticks, quote, s.opts.Now().Unix(), c.id))

	case req.TicksHistory != "":
		s.reply(c, s.historyFrame(req, echo))

	default:
		s.reply(c, map[string]any{
			"msg_type": "error",
			"echo_req": echo,
			"error":    map[string]string{"code": "UnrecognisedRequest", "message": "Unrecognised request."},
		})
	}
}

func (c *client) isAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

func (s *Server) historyFrame(req request, echo json.RawMessage) map[string]any {
	count := req.Count
	if count <= 0 || count > 5000 {
		count = 100
	}
	prices := make([]float64, count)
	for i := range prices {
		prices[i] = s.walk(req.TicksHistory)
	}
	if req.Style == "candles" {
		candles := make([]map[string]any, count)
		now := s.opts.Now().Unix()
		step := int64(req.Granularity)
		if step <= 0 {
			step = 60
		}
		for i, p := range prices {
			candles[i] = map[string]any{
				"epoch": now - int64(count-i)*step,
				"open":  p,
				"high":  p,
				"low":   p,
				"close": p,
			}
		}
		return map[string]any{"msg_type": "candles", "echo_req": echo, "candles": candles}
	}
	return map[string]any{
		"msg_type": "history",
		"echo_req": echo,
		"history":  map[string]any{"prices": prices},
	}
}

func tickFrame(symbol string, quote float64, epoch int64, conn int) map[string]any {
	return map[string]any{
		"msg_type": "tick",
		"echo_req": map[string]any{"ticks": symbol, "subscribe": 1},
		"tick": map[string]any{
			"symbol": symbol,
			"quote":  quote,
			"epoch":  epoch,
		},
		"subscription": map[string]string{"id": subscriptionID(conn, symbol)},
	}
}

func subscriptionID(conn int, symbol string) string {
	return fmt.Sprintf("%s-%04d", symbol, conn)
}

func (s *Server) reply(c *client, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.sendTo(c, b)
}

func (s *Server) sendTo(c *client, b []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.send <- b:
	default: // slow client, drop
	}
}

// walk advances the symbol's random walk by up to ±0.01% and returns the new price.
func (s *Server) walk(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	if !ok || p <= 0 {
		p = 1.0
	}
	p += p * (s.rng.Float64()*0.0002 - 0.0001)
	s.prices[symbol] = p
	return p
}

func (s *Server) runGenerator(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		s.mu.RLock()
		stalled := s.stalled
		symbols := make([]string, 0, len(s.prices))
		for sym := range s.prices {
			symbols = append(symbols, sym)
		}
		s.mu.RUnlock()
		if stalled {
			continue
		}
		for _, sym := range symbols {
			s.Emit(sym, s.walk(sym), s.opts.Now().Unix())
		}
	}
}

// Emit pushes a tick to every client subscribed to symbol.
func (s *Server) Emit(symbol string, quote float64, epoch int64) {
	for _, c := range s.snapshotClients() {
		if c.subscribed(symbol) {
			s.reply(c, tickFrame(symbol, quote, epoch, c.id))
		}
	}
}

// Broadcast sends a raw frame to every authorized client.
func (s *Server) Broadcast(raw []byte) {
	for _, c := range s.snapshotClients() {
		if c.isAuthorized() {
			s.sendTo(c, raw)
		}
	}
}

// DropAll closes every open connection, simulating a network drop.
func (s *Server) DropAll() {
	for _, c := range s.snapshotClients() {
		c.conn.Close()
	}
}

// SetStalled freezes the simulator: no generated ticks and no pong replies,
// while keeping connections open.
func (s *Server) SetStalled(v bool) {
	s.mu.Lock()
	s.stalled = v
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

// Stats is a point-in-time view of simulator activity.
type Stats struct {
	Connections   int              // total accepted connections
	Open          int              // currently open connections
	AuthFailures  int              // rejected authorize requests
	Subscriptions []map[string]int // per connection: symbol -> subscribe requests
}

// Stats returns a copy of the activity counters.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Connections:   s.nextID,
		Open:          len(s.clients),
		AuthFailures:  s.authFails,
		Subscriptions: make([]map[string]int, len(s.subCounts)),
	}
	for i, m := range s.subCounts {
		cp := make(map[string]int, len(m))
		for k, v := range m {
			cp[k] = v
		}
		st.Subscriptions[i] = cp
	}
	return st
}
