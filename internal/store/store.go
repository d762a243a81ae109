// Package store holds the per-instrument mutable state: rolling price window,
// latest signal and minute marker.
//
// The instrument set is fixed at construction. Each record is guarded by its
// own RWMutex; the ingestion path is the only writer and every write (tick,
// history replacement, signal) is applied as one unit under the write lock.
// Readers get copies.
package store

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"tickpulse/internal/model"
	"tickpulse/internal/ringbuf"
)

// ErrUnknownInstrument is returned for symbols outside the registry.
var ErrUnknownInstrument = errors.New("store: unknown instrument")

// ErrNonFinite is returned for NaN or infinite prices.
var ErrNonFinite = errors.New("store: non-finite price")

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Evaluator computes a signal from a chronological window and a live price.
type Evaluator interface {
	Evaluate(window []float64, live float64) model.SignalState
}

// Options configures tick handling.
type Options struct {
	WindowSize      int
	EvalSecond      int  // second-of-minute that triggers evaluation
	DedupSameSecond bool // skip window append when the epoch repeats
}

// View is a consistent copy of one record.
type View struct {
	Instrument model.Instrument
	State      model.SignalState
	LastMinute int64 // -1 until the first evaluation
	LastEpoch  int64
	Samples    int
}

// TickOutcome reports what ApplyTick did.
type TickOutcome struct {
	Appended  bool
	Evaluated bool
	Minute    int64
	State     model.SignalState
	Samples   int
}

type record struct {
	mu         sync.RWMutex
	inst       model.Instrument
	window     *ringbuf.Window
	state      model.SignalState
	lastMinute int64
	lastEpoch  int64
}

// Store is the per-instrument state table.
type Store struct {
	opts    Options
	records map[string]*record // built once, never mutated
}

// New creates one record per registry instrument with neutral defaults.
func New(reg *model.Registry, opts Options) *Store {
	if opts.WindowSize <= 0 {
		opts.WindowSize = ringbuf.DefaultCapacity
	}
	s := &Store{
		opts:    opts,
		records: make(map[string]*record, reg.Len()),
	}
	for _, inst := range reg.Instruments() {
		s.records[inst.Symbol] = &record{
			inst:   inst,
			window: ringbuf.New(opts.WindowSize),
			state: model.SignalState{
				Direction: model.Neutral,
				Timer:     model.InitialTimer,
			},
			lastMinute: -1,
		}
	}
	return s
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// ApplyTick records a live tick: updates the live price, appends to the
// window, refreshes the countdown timer and, on the evaluation second of a
// minute not yet evaluated, marks the minute and stores eval's verdict.
// eval may be nil, in which case no evaluation runs.
func (s *Store) ApplyTick(tick model.PriceTick, eval Evaluator) (TickOutcome, error) {
	r, ok := s.records[tick.Symbol]
	if !ok {
		return TickOutcome{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, tick.Symbol)
	}
	if !finite(tick.Quote) {
		return TickOutcome{}, fmt.Errorf("%w: %s quote %v", ErrNonFinite, tick.Symbol, tick.Quote)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out TickOutcome
	r.state.LivePrice = tick.Quote

	if !(s.opts.DedupSameSecond && r.window.Len() > 0 && tick.Epoch == r.lastEpoch) {
		r.window.Push(tick.Quote)
		out.Appended = true
	}
	r.lastEpoch = tick.Epoch

	sec := tick.Second()
	r.state.Timer = model.FormatTimer(sec)

	minute := tick.Minute()
	out.Minute = minute
	if eval != nil && sec == s.opts.EvalSecond && minute != r.lastMinute {
		r.lastMinute = minute
		next := eval.Evaluate(r.window.Values(), tick.Quote)
		next.LivePrice = tick.Quote
		next.Timer = r.state.Timer
		next.Confidence = model.ClampConfidence(next.Confidence)
		r.state = next
		out.Evaluated = true
	}

	out.State = r.state
	out.Samples = r.window.Len()
	return out, nil
}

// ReplaceHistory reseeds the window of symbol from a backfill batch.
// The live price, signal and minute marker are untouched.
func (s *Store) ReplaceHistory(symbol string, closes []float64) (int, error) {
	r, ok := s.records[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	for i, c := range closes {
		if !finite(c) {
			return 0, fmt.Errorf("%w: %s close %d", ErrNonFinite, symbol, i)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window.Reset(closes)
	return r.window.Len(), nil
}

// Snapshot returns a copy of the record for symbol.
func (s *Store) Snapshot(symbol string) (View, bool) {
	r, ok := s.records[symbol]
	if !ok {
		return View{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return View{
		Instrument: r.inst,
		State:      r.state,
		LastMinute: r.lastMinute,
		LastEpoch:  r.lastEpoch,
		Samples:    r.window.Len(),
	}, true
}

// Window returns a chronological copy of the price window for symbol.
func (s *Store) Window(symbol string) ([]float64, bool) {
	r, ok := s.records[symbol]
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.window.Values(), true
}
