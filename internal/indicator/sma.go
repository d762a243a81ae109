package indicator

import "gonum.org/v1/gonum/stat"

// SMA returns the simple moving average of the last period prices,
// or 0 when fewer than period prices are available.
func SMA(p []float64, period int) float64 {
	if period <= 0 || len(p) < period {
		return 0
	}
	return stat.Mean(tail(p, period), nil)
}

// Crossover compares the fast and slow simple averages.
// Returns NoCross when fewer than slow prices are available.
func Crossover(p []float64, fast, slow int) Cross {
	if fast <= 0 || slow <= 0 || len(p) < slow || len(p) < fast {
		return NoCross
	}
	if SMA(p, fast) > SMA(p, slow) {
		return Bullish
	}
	return Bearish
}

// MACD returns the difference between the fast and slow simple averages.
// Its sign is the momentum direction. Returns 0 when fewer than slow prices
// are available.
func MACD(p []float64, fast, slow int) float64 {
	if fast <= 0 || slow <= 0 || len(p) < slow || len(p) < fast {
		return 0
	}
	return SMA(p, fast) - SMA(p, slow)
}
