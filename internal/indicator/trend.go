package indicator

import "gonum.org/v1/gonum/floats"

// Trend compares the latest price against p[n-lookback].
// Returns Flat when fewer than lookback prices are available or the two are equal.
func Trend(p []float64, lookback int) Direction {
	if lookback <= 1 || len(p) < lookback {
		return Flat
	}
	now, then := p[len(p)-1], p[len(p)-lookback]
	switch {
	case now > then:
		return Up
	case now < then:
		return Down
	default:
		return Flat
	}
}

// HighLow returns the max and min of the last period prices (all prices when
// period <= 0 or exceeds the input). ok is false for empty input.
func HighLow(p []float64, period int) (high, low float64, ok bool) {
	if len(p) == 0 {
		return 0, 0, false
	}
	w := tail(p, period)
	return floats.Max(w), floats.Min(w), true
}
