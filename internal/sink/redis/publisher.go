// Package redis publishes evaluated signals to Redis: the latest signal per
// instrument as a key with TTL, a capped per-instrument stream, and a pub/sub
// message for live subscribers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tickpulse/internal/metrics"
	"tickpulse/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultTTL       = 10 * time.Minute
	streamMaxLen     = 1440 // one day of minute signals
	writeTimeout     = 2 * time.Second
	breakerFailures  = 5
	breakerCoolDown  = 10 * time.Second
	latestKeyPrefix  = "signal:latest:"
	streamKeyPrefix  = "signal:stream:"
	channelKeyPrefix = "pub:signal:"
)

// LatestKey is the key holding the newest signal for symbol.
func LatestKey(symbol string) string { return latestKeyPrefix + symbol }

// StreamKey is the stream holding recent signals for symbol.
func StreamKey(symbol string) string { return streamKeyPrefix + symbol }

// Channel is the pub/sub channel signals for symbol are published on.
func Channel(symbol string) string { return channelKeyPrefix + symbol }

// Config configures the publisher.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Publisher writes signal events to Redis through a circuit breaker. While
// the breaker is open the newest event per instrument is held back and
// replayed once Redis recovers; older pending events are superseded.
type Publisher struct {
	client  *goredis.Client
	cb      *CircuitBreaker
	ttl     time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]model.SignalEvent
	written map[string]int64 // last minute written per symbol

	recovered chan struct{}
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, m *metrics.Metrics, log *slog.Logger) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.TTL, m, log), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, ttl time.Duration, m *metrics.Metrics, log *slog.Logger) *Publisher {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		client:    client,
		cb:        NewCircuitBreaker(breakerFailures, breakerCoolDown),
		ttl:       ttl,
		metrics:   m,
		log:       log.With(slog.String("component", "redis-sink")),
		pending:   make(map[string]model.SignalEvent),
		written:   make(map[string]int64),
		recovered: make(chan struct{}, 1),
	}
	p.cb.OnStateChange = p.onStateChange
	return p
}

// Client returns the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Run publishes events from ch until ctx is cancelled or ch is closed.
func (p *Publisher) Run(ctx context.Context, ch <-chan model.SignalEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.recovered:
			p.flush(ctx)
		case ev, ok := <-ch:
			if !ok {
				return
			}
			p.Publish(ctx, ev)
		}
	}
}

// Publish writes one event. Failures are counted and logged, never returned:
// the sink must not stall the signal path.
func (p *Publisher) Publish(ctx context.Context, ev model.SignalEvent) {
	if p.superseded(ev) {
		return
	}
	err := p.cb.Execute(func() error { return p.write(ctx, ev) })
	switch {
	case err == nil:
		p.markWritten(ev)
	case err == ErrCircuitOpen:
		p.hold(ev)
	default:
		p.metrics.SinkWriteErrors.WithLabelValues("redis").Inc()
		p.log.Warn("redis publish failed", slog.String("symbol", ev.Symbol), slog.Any("error", err))
		p.hold(ev)
	}
}

func (p *Publisher) write(ctx context.Context, ev model.SignalEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	payload := string(data)

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	start := time.Now()
	pipe := p.client.Pipeline()
	pipe.Set(wctx, LatestKey(ev.Symbol), payload, p.ttl)
	pipe.XAdd(wctx, &goredis.XAddArgs{
		Stream: StreamKey(ev.Symbol),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	})
	pipe.Publish(wctx, Channel(ev.Symbol), payload)
	_, err = pipe.Exec(wctx)
	p.metrics.RedisWriteDur.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis pipeline %s: %w", ev.Symbol, err)
	}
	return nil
}

// superseded reports whether a newer minute for the symbol already reached Redis.
func (p *Publisher) superseded(ev model.SignalEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.written[ev.Symbol]
	return ok && ev.Minute < last
}

// markWritten records ev as the latest written minute and drops any held
// event it replaces.
func (p *Publisher) markWritten(ev model.SignalEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.written[ev.Symbol]; !ok || ev.Minute > last {
		p.written[ev.Symbol] = ev.Minute
	}
	if cur, ok := p.pending[ev.Symbol]; ok && cur.Minute <= ev.Minute {
		delete(p.pending, ev.Symbol)
	}
}

func (p *Publisher) hold(ev model.SignalEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.written[ev.Symbol]; ok && ev.Minute <= last {
		return
	}
	if cur, ok := p.pending[ev.Symbol]; ok && cur.Minute > ev.Minute {
		return
	}
	p.pending[ev.Symbol] = ev
}

// Pending returns the number of instruments with a held-back event.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	held := p.pending
	p.pending = make(map[string]model.SignalEvent, len(held))
	p.mu.Unlock()

	if len(held) == 0 {
		return
	}
	replayed := 0
	for _, ev := range held {
		if p.superseded(ev) {
			continue
		}
		p.Publish(ctx, ev)
		replayed++
	}
	p.log.Info("replayed held signals", slog.Int("count", replayed))
}

func (p *Publisher) onStateChange(from, to State) {
	p.metrics.RedisCircuitBreakerState.Set(float64(to))
	if to == StateOpen && from != StateOpen {
		p.metrics.RedisCircuitBreakerTrips.Inc()
	}
	p.log.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
	if to == StateClosed {
		select {
		case p.recovered <- struct{}{}:
		default:
		}
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
