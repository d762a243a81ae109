// Package indicator provides technical indicator calculations over a price
// window.
//
// Every function is pure: it takes a chronological slice of prices (most
// recent last), never mutates it, and returns a documented neutral value when
// the input is shorter than the indicator's minimum length. Tick feeds carry
// no OHLC or volume data, so several indicators are proxies: simple averages
// stand in for exponential ones and mean absolute delta stands in for true
// range.
package indicator

// Default periods used by the signal engine.
const (
	DefaultRSIPeriod        = 14
	DefaultFastPeriod       = 8
	DefaultSlowPeriod       = 21
	DefaultMACDFast         = 12
	DefaultMACDSlow         = 26
	DefaultBollingerPeriod  = 20
	DefaultBollingerK       = 2.0
	DefaultStrengthPeriod   = 14
	DefaultSupertrendPeriod = 10
	DefaultSupertrendMult   = 3.0
	DefaultVolumePeriod     = 10
	DefaultMomentumPeriod   = 10

	// VolumeScale converts a sum of absolute price deltas into a volume-like
	// magnitude for forex quotes.
	VolumeScale = 10000.0

	// NeutralRSI is returned when the window is too short.
	NeutralRSI = 50.0
)

// Cross is the relative position of a fast versus a slow average.
type Cross string

const (
	Bullish Cross = "BULLISH"
	Bearish Cross = "BEARISH"
	NoCross Cross = "NEUTRAL"
)

// Direction is the long-horizon trend flag.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
	Flat Direction = "FLAT"
)

// tail returns the last n values of p (or all of p if shorter).
func tail(p []float64, n int) []float64 {
	if n <= 0 || n >= len(p) {
		return p
	}
	return p[len(p)-n:]
}

// deltas returns the last n consecutive differences of p.
// Requires len(p) >= n+1.
func deltas(p []float64, n int) []float64 {
	out := make([]float64, n)
	base := len(p) - n - 1
	for i := 0; i < n; i++ {
		out[i] = p[base+i+1] - p[base+i]
	}
	return out
}
