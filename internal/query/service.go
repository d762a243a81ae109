// Package query serves read-only snapshots of instrument state.
package query

import (
	"math"
	"strconv"
	"strings"

	"tickpulse/internal/metrics"
	"tickpulse/internal/model"
	"tickpulse/internal/store"

	"github.com/shopspring/decimal"
)

// PricePlaces is the fixed precision of prices returned to clients.
const PricePlaces = 5

// Service resolves instrument identifiers and returns snapshots.
type Service struct {
	reg     *model.Registry
	store   *store.Store
	metrics *metrics.Metrics
}

// NewService creates a query service. m may be nil.
func NewService(reg *model.Registry, st *store.Store, m *metrics.Metrics) *Service {
	return &Service{reg: reg, store: st, metrics: m}
}

// Resolve maps an identifier (symbol or label) to a registered instrument.
// Unknown or empty identifiers resolve to the default instrument and
// fallback is true.
func (s *Service) Resolve(id string) (inst model.Instrument, fallback bool) {
	if strings.TrimSpace(id) != "" {
		if inst, ok := s.reg.Resolve(id); ok {
			return inst, false
		}
	}
	return s.reg.Default(), true
}

// Get returns the current snapshot for id, falling back to the default
// instrument for identifiers outside the registry. It never fails.
func (s *Service) Get(id string) model.Snapshot {
	inst, fallback := s.Resolve(id)
	if s.metrics != nil {
		s.metrics.QueriesTotal.WithLabelValues(inst.Label, strconv.FormatBool(fallback)).Inc()
	}
	return s.snapshot(inst)
}

// Instruments returns the registry contents.
func (s *Service) Instruments() []model.Instrument {
	return s.reg.Instruments()
}

func (s *Service) snapshot(inst model.Instrument) model.Snapshot {
	v, _ := s.store.Snapshot(inst.Symbol)
	st := v.State
	dir := st.Direction
	if !dir.Valid() {
		dir = model.Neutral
	}
	return model.Snapshot{
		Direction:      dir.Colour(),
		Bias:           string(dir),
		Confidence:     model.ClampConfidence(st.Confidence),
		LivePrice:      Round(st.LivePrice),
		PredictedPrice: Round(st.PredictedPrice),
		Timer:          st.Timer,
		Pair:           inst.Label,
		Symbol:         inst.Symbol,
	}
}

// Round rounds a price half away from zero to PricePlaces decimals.
// Non-finite values are returned unchanged.
func Round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(PricePlaces).Float64()
	return f
}
