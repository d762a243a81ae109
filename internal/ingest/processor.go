// Package ingest applies decoded feed events to the state store. It runs on
// the feed manager's goroutine, which makes it the only writer of every
// store record.
package ingest

import (
	"errors"
	"log/slog"
	"time"

	"tickpulse/internal/feed"
	"tickpulse/internal/metrics"
	"tickpulse/internal/model"
	"tickpulse/internal/store"
)

// Processor implements feed.Handler.
type Processor struct {
	store   *store.Store
	eval    store.Evaluator
	metrics *metrics.Metrics
	health  *metrics.HealthStatus
	events  chan<- model.SignalEvent
	log     *slog.Logger
	now     func() time.Time
}

// Config wires a Processor. Store, Engine, Metrics and Health are required;
// Events may be nil when no sink is configured.
type Config struct {
	Store   *store.Store
	Engine  store.Evaluator
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
	Events  chan<- model.SignalEvent
	Log     *slog.Logger
	Now     func() time.Time
}

// New creates a Processor.
func New(cfg Config) (*Processor, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("ingest: store is required")
	case cfg.Engine == nil:
		return nil, errors.New("ingest: engine is required")
	case cfg.Metrics == nil:
		return nil, errors.New("ingest: metrics are required")
	case cfg.Health == nil:
		return nil, errors.New("ingest: health status is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	p := &Processor{
		store:   cfg.Store,
		metrics: cfg.Metrics,
		health:  cfg.Health,
		events:  cfg.Events,
		log:     cfg.Log.With(slog.String("component", "ingest")),
		now:     cfg.Now,
	}
	p.eval = timedEvaluator{next: cfg.Engine, hist: cfg.Metrics.SignalComputeDur}
	return p, nil
}

// OnTick updates the instrument record and, on the evaluation second,
// publishes the freshly computed signal.
func (p *Processor) OnTick(t model.PriceTick) {
	out, err := p.store.ApplyTick(t, p.eval)
	if err != nil {
		p.rejected(t.Symbol, err)
		return
	}
	p.metrics.TicksTotal.WithLabelValues(t.Symbol).Inc()
	p.metrics.WindowSamples.WithLabelValues(t.Symbol).Set(float64(out.Samples))
	p.health.SetLastTickTime(p.now())

	if !out.Evaluated {
		return
	}

	st := out.State
	p.metrics.SignalsTotal.WithLabelValues(t.Symbol, string(st.Direction)).Inc()
	p.health.SetLastSignalTime(p.now())
	p.log.Info("signal",
		slog.String("symbol", t.Symbol),
		slog.String("direction", string(st.Direction)),
		slog.Int("confidence", st.Confidence),
		slog.Float64("live", st.LivePrice),
		slog.Float64("predicted", st.PredictedPrice),
		slog.Int("samples", out.Samples),
	)
	p.publish(t.Symbol, out)
}

// OnHistory replaces the instrument window with a backfill batch.
func (p *Processor) OnHistory(symbol string, closes []float64) {
	n, err := p.store.ReplaceHistory(symbol, closes)
	if err != nil {
		p.rejected(symbol, err)
		return
	}
	p.metrics.HistoryBatches.WithLabelValues(symbol).Inc()
	p.metrics.WindowSamples.WithLabelValues(symbol).Set(float64(n))
	p.log.Info("history loaded", slog.String("symbol", symbol), slog.Int("samples", n))
}

func (p *Processor) rejected(symbol string, err error) {
	if errors.Is(err, store.ErrUnknownInstrument) {
		p.metrics.UnknownSymbols.Inc()
		p.log.Debug("event for unregistered instrument ignored", slog.String("symbol", symbol))
		return
	}
	p.log.Warn("event rejected", slog.String("symbol", symbol), slog.Any("error", err))
}

func (p *Processor) publish(symbol string, out store.TickOutcome) {
	if p.events == nil {
		return
	}
	view, _ := p.store.Snapshot(symbol)
	ev := model.SignalEvent{
		Symbol: symbol,
		Label:  view.Instrument.Label,
		State:  out.State,
		Minute: out.Minute,
		At:     p.now().UTC(),
	}
	select {
	case p.events <- ev:
	default:
		p.metrics.FanoutDropsTotal.WithLabelValues("ingest").Inc()
		p.log.Warn("signal event queue full, dropping", slog.String("symbol", symbol))
	}
}

// FeedHooks returns feed callbacks that keep metrics and health current.
func (p *Processor) FeedHooks() feed.Hooks {
	return feed.Hooks{
		OnConnect: func() {
			p.metrics.FeedConnected.Set(1)
			p.health.SetFeedConnected(true)
		},
		OnDisconnect: func(error) {
			p.metrics.FeedConnected.Set(0)
			p.metrics.FeedReconnects.Inc()
			p.health.SetFeedConnected(false)
		},
		OnSubscribe: func(string) {
			p.metrics.SubscriptionsSent.Inc()
		},
		OnAuthFailure: func(error) {
			p.metrics.AuthFailures.Inc()
		},
		OnDecodeError: func(error) {
			p.metrics.MalformedFrames.Inc()
		},
		OnUnknown: func(feed.Frame) {
			p.metrics.UnknownFrames.Inc()
		},
	}
}

// timedEvaluator records the engine latency of each evaluation.
type timedEvaluator struct {
	next store.Evaluator
	hist interface{ Observe(float64) }
}

func (e timedEvaluator) Evaluate(window []float64, live float64) model.SignalState {
	start := time.Now()
	st := e.next.Evaluate(window, live)
	e.hist.Observe(time.Since(start).Seconds())
	return st
}
