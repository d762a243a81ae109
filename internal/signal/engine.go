// Package signal turns a price window into a directional verdict.
//
// The engine is pure: the same (window, live price) pair always yields the
// same SignalState, and the window is never modified.
package signal

import (
	"tickpulse/internal/indicator"
	"tickpulse/internal/model"
)

// Engine scores indicator votes and decides a direction.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Scores is the vote breakdown behind a verdict.
type Scores struct {
	Buy   int
	Sell  int
	Trend indicator.Direction
	RSI   float64
	MACD  float64
}

// Evaluate computes the signal for window (chronological, most recent last)
// at the given live price. Windows shorter than MinSamples yield NEUTRAL.
// Timer is left empty; the store owns the countdown label.
func (e *Engine) Evaluate(window []float64, live float64) model.SignalState {
	if len(window) < e.cfg.MinSamples || len(window) == 0 {
		return neutral(live)
	}
	s := e.Score(window, live)
	return e.Decide(s.Buy, s.Sell, s.Trend, live)
}

// Score computes every indicator and accumulates buy and sell votes.
func (e *Engine) Score(window []float64, live float64) Scores {
	c := e.cfg
	w := c.Weights
	var s Scores

	s.Trend = indicator.Trend(window, c.TrendLookback)

	// RSI
	s.RSI = indicator.RSI(window, c.RSIPeriod)
	if s.RSI < c.RSIOversold {
		s.Buy += w.RSI
	} else if s.RSI > c.RSIOverbought {
		s.Sell += w.RSI
	}

	// Moving-average crossover
	switch indicator.Crossover(window, c.FastPeriod, c.SlowPeriod) {
	case indicator.Bullish:
		s.Buy += w.Crossover
	case indicator.Bearish:
		s.Sell += w.Crossover
	}

	// MACD sign
	s.MACD = indicator.MACD(window, c.MACDFast, c.MACDSlow)
	if s.MACD > 0 {
		s.Buy += w.MACD
	} else if s.MACD < 0 {
		s.Sell += w.MACD
	}

	// Price outside Bollinger bands
	if b := indicator.Bollinger(window, c.BollingerPeriod, c.BollingerK); b.Ready {
		if live < b.Lower {
			s.Buy += w.Bollinger
		} else if live > b.Upper {
			s.Sell += w.Bollinger
		}
	}

	// Directional strength confirming the trend
	if indicator.DirectionalStrength(window, c.StrengthPeriod) >= c.ADXThreshold {
		switch s.Trend {
		case indicator.Up:
			s.Buy += w.Strength
		case indicator.Down:
			s.Sell += w.Strength
		}
	}

	// Supertrend breakout
	if st := indicator.Supertrend(window, c.SupertrendPeriod, c.SupertrendMult); st.Ready {
		if st.Upper && live > st.Level {
			s.Buy += w.Supertrend
		} else if !st.Upper && live < st.Level {
			s.Sell += w.Supertrend
		}
	}

	// Elevated activity confirming MACD
	if e.volumeElevated(window) {
		if s.MACD > 0 {
			s.Buy += w.Volume
		} else if s.MACD < 0 {
			s.Sell += w.Volume
		}
	}

	// Momentum sign
	if m := indicator.Momentum(window, c.MomentumPeriod); m > 0 {
		s.Buy += w.Momentum
	} else if m < 0 {
		s.Sell += w.Momentum
	}

	// Proximity to the recent range extremes
	if hi, lo, ok := indicator.HighLow(window, c.ProximityPeriod); ok && hi > lo {
		band := (hi - lo) * c.ProximityFraction
		if live-lo <= band {
			s.Buy += w.Proximity
		} else if hi-live <= band {
			s.Sell += w.Proximity
		}
	}

	return s
}

// volumeElevated compares the current volume proxy with the one for the
// period immediately before it.
func (e *Engine) volumeElevated(window []float64) bool {
	period := e.cfg.VolumePeriod
	if period <= 0 || len(window) < 2*period+1 {
		return false
	}
	cur := indicator.VolumeProxy(window, period)
	prev := indicator.VolumeProxy(window[:len(window)-period], period)
	return prev > 0 && cur > prev*e.cfg.VolumeElevation
}

// Decide maps scores and trend to a SignalState.
//
// A score at or above the threshold is promoted to high confidence only when
// the trend does not oppose it; otherwise the strictly larger score wins at
// fallback confidence. Equal scores are NEUTRAL.
func (e *Engine) Decide(buy, sell int, trend indicator.Direction, live float64) model.SignalState {
	c := e.cfg
	switch {
	case buy >= c.Threshold && trend != indicator.Down:
		return state(model.Up, c.HighConfidence, live+c.LargeOffset, live)
	case sell >= c.Threshold && trend != indicator.Up:
		return state(model.Down, c.HighConfidence, live-c.LargeOffset, live)
	case buy > sell:
		return state(model.Up, c.FallbackConfidence, live+c.SmallOffset, live)
	case sell > buy:
		return state(model.Down, c.FallbackConfidence, live-c.SmallOffset, live)
	default:
		return neutral(live)
	}
}

func state(d model.Direction, confidence int, predicted, live float64) model.SignalState {
	return model.SignalState{
		Direction:      d,
		Confidence:     model.ClampConfidence(confidence),
		PredictedPrice: predicted,
		LivePrice:      live,
	}
}

func neutral(live float64) model.SignalState {
	return state(model.Neutral, 50, live, live)
}
