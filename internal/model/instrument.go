package model

import (
	"fmt"
	"strings"
)

// Instrument represents a tracked instrument: the upstream feed symbol and
// the human label served to clients.
type Instrument struct {
	Symbol string `json:"symbol"` // upstream symbol, e.g. frxEURUSD
	Label  string `json:"label"`  // display label, e.g. EUR/USD
}

// Registry is the static, ordered instrument set for the process lifetime.
// It is immutable once built and safe for concurrent reads.
type Registry struct {
	instruments []Instrument
	bySymbol    map[string]Instrument
	byLabel     map[string]Instrument // key = upper-cased label
	fallback    Instrument
}

// NewRegistry builds a registry. defaultSymbol must be one of the instruments.
func NewRegistry(instruments []Instrument, defaultSymbol string) (*Registry, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("registry: no instruments")
	}
	r := &Registry{
		instruments: make([]Instrument, 0, len(instruments)),
		bySymbol:    make(map[string]Instrument, len(instruments)),
		byLabel:     make(map[string]Instrument, len(instruments)),
	}
	for _, inst := range instruments {
		if inst.Symbol == "" {
			return nil, fmt.Errorf("registry: instrument %q has empty symbol", inst.Label)
		}
		if _, dup := r.bySymbol[inst.Symbol]; dup {
			return nil, fmt.Errorf("registry: duplicate symbol %s", inst.Symbol)
		}
		if inst.Label == "" {
			inst.Label = inst.Symbol
		}
		r.instruments = append(r.instruments, inst)
		r.bySymbol[inst.Symbol] = inst
		r.byLabel[strings.ToUpper(inst.Label)] = inst
	}
	def, ok := r.bySymbol[defaultSymbol]
	if !ok {
		return nil, fmt.Errorf("registry: default instrument %q is not registered", defaultSymbol)
	}
	r.fallback = def
	return r, nil
}

// Instruments returns a copy of the registered instruments in registration order.
func (r *Registry) Instruments() []Instrument {
	out := make([]Instrument, len(r.instruments))
	copy(out, r.instruments)
	return out
}

// Symbols returns the upstream symbols in registration order.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.instruments))
	for i, inst := range r.instruments {
		out[i] = inst.Symbol
	}
	return out
}

// Len returns the number of registered instruments.
func (r *Registry) Len() int { return len(r.instruments) }

// Resolve finds an instrument by symbol or by label (case-insensitive).
func (r *Registry) Resolve(id string) (Instrument, bool) {
	id = strings.TrimSpace(id)
	if inst, ok := r.bySymbol[id]; ok {
		return inst, true
	}
	inst, ok := r.byLabel[strings.ToUpper(id)]
	return inst, ok
}

// Default returns the fallback instrument used for unknown identifiers.
func (r *Registry) Default() Instrument { return r.fallback }
