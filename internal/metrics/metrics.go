package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tick pipeline.
type Metrics struct {
	// Feed
	TicksTotal        *prometheus.CounterVec // labels: symbol
	HistoryBatches    *prometheus.CounterVec // labels: symbol
	FeedConnected     prometheus.Gauge
	FeedReconnects    prometheus.Counter
	AuthFailures      prometheus.Counter
	SubscriptionsSent prometheus.Counter
	MalformedFrames   prometheus.Counter
	UnknownFrames     prometheus.Counter
	UnknownSymbols    prometheus.Counter

	// Signal engine
	SignalsTotal     *prometheus.CounterVec // labels: symbol, direction
	SignalComputeDur prometheus.Histogram
	WindowSamples    *prometheus.GaugeVec // labels: symbol

	// Sinks
	FanoutDropsTotal         *prometheus.CounterVec // labels: subscriber
	SinkQueueDepth           *prometheus.GaugeVec   // labels: subscriber
	SinkWriteErrors          *prometheus.CounterVec // labels: sink
	RedisWriteDur            prometheus.Histogram
	SQLiteCommitDur          prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Query
	QueriesTotal *prometheus.CounterVec // labels: pair, fallback
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickpulse_ticks_total",
			Help: "Total ticks received from the feed",
		}, []string{"symbol"}),
		HistoryBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickpulse_history_batches_total",
			Help: "Backfill batches applied to rolling windows",
		}, []string{"symbol"}),
		FeedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickpulse_feed_connected",
			Help: "1 while an authorized feed session is open",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickpulse_feed_reconnects_total",
			Help: "Feed sessions that ended and were retried",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickpulse_feed_auth_failures_total",
			Help: "Authorization rejections from the feed",
		}),
		SubscriptionsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickpulse_feed_subscriptions_total",
			Help: "Tick subscription requests sent",
		}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickpulse_feed_malformed_frames_total",
			Help: "Inbound frames that could not be decoded",
		}),
		UnknownFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickpulse_feed_unknown_frames_total",
			Help: "Inbound frames of an unrecognised type",
		}),
		UnknownSymbols: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickpulse_feed_unknown_symbol_total",
			Help: "Ticks or history for instruments outside the registry",
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickpulse_signals_total",
			Help: "Signals computed (by symbol and direction)",
		}, []string{"symbol", "direction"}),
		SignalComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickpulse_signal_compute_duration_seconds",
			Help:    "Signal engine latency per evaluation",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		WindowSamples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickpulse_window_samples",
			Help: "Current rolling window length",
		}, []string{"symbol"}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickpulse_fanout_drops_total",
			Help: "Signal events dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		SinkQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickpulse_sink_queue_depth",
			Help: "Buffered signal events waiting per fan-out subscriber",
		}, []string{"subscriber"}),
		SinkWriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickpulse_sink_write_errors_total",
			Help: "Failed sink writes",
		}, []string{"sink"}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickpulse_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickpulse_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickpulse_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickpulse_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickpulse_queries_total",
			Help: "Snapshot queries served (by resolved pair)",
		}, []string{"pair", "fallback"}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.HistoryBatches,
		m.FeedConnected,
		m.FeedReconnects,
		m.AuthFailures,
		m.SubscriptionsSent,
		m.MalformedFrames,
		m.UnknownFrames,
		m.UnknownSymbols,
		m.SignalsTotal,
		m.SignalComputeDur,
		m.WindowSamples,
		m.FanoutDropsTotal,
		m.SinkQueueDepth,
		m.SinkWriteErrors,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.QueriesTotal,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	LastSignalTime time.Time `json:"last_signal_time"`
	Instruments    int       `json:"instruments"`

	RedisEnabled   bool `json:"redis_enabled"`
	RedisConnected bool `json:"redis_connected"`
	JournalEnabled bool `json:"journal_enabled"`
	SQLiteOK       bool `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSignalTime(t time.Time) {
	h.mu.Lock()
	h.LastSignalTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetInstruments(n int) {
	h.mu.Lock()
	h.Instruments = n
	h.mu.Unlock()
}

// EnableRedis marks the Redis sink as configured so its probe affects status.
func (h *HealthStatus) EnableRedis() {
	h.mu.Lock()
	h.RedisEnabled = true
	h.mu.Unlock()
}

// EnableJournal marks the SQLite journal as configured so its probe affects status.
func (h *HealthStatus) EnableJournal() {
	h.mu.Lock()
	h.JournalEnabled = true
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// Report is the /healthz payload.
type Report struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	FeedConnected   bool    `json:"feed_connected"`
	LastTickTime    string  `json:"last_tick_time"`
	TickAge         string  `json:"tick_age"`
	LastSignalTime  string  `json:"last_signal_time"`
	Instruments     int     `json:"instruments"`
	RedisEnabled    bool    `json:"redis_enabled"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	JournalEnabled  bool    `json:"journal_enabled"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at"`
}

// Report computes the overall status: "healthy" when the feed is connected
// and every enabled sink answers its probe, "degraded" when a sink is down,
// "unhealthy" when the feed is down.
func (h *HealthStatus) Report() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if (h.RedisEnabled && !h.RedisConnected) || (h.JournalEnabled && !h.SQLiteOK) {
		status = "degraded"
	}
	if !h.FeedConnected {
		status = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	return Report{
		Status:          status,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    formatTime(h.LastTickTime),
		TickAge:         tickAge,
		LastSignalTime:  formatTime(h.LastSignalTime),
		Instruments:     h.Instruments,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		JournalEnabled:  h.JournalEnabled,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     formatTime(h.LastCheckAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ServeHTTP handles the /healthz endpoint. Anything but "healthy" is a 503.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if rep.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(rep)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server backed by gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
