package indicator

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DirectionalStrength is an ADX stand-in: the imbalance between up-deltas and
// down-deltas over the last period deltas, scaled to 0..100.
// Returns 0 when fewer than period+1 prices are available.
func DirectionalStrength(p []float64, period int) float64 {
	if period <= 0 || len(p) < period+1 {
		return 0
	}
	var ups, downs int
	for _, d := range deltas(p, period) {
		switch {
		case d > 0:
			ups++
		case d < 0:
			downs++
		}
	}
	imbalance := ups - downs
	if imbalance < 0 {
		imbalance = -imbalance
	}
	return 100.0 * float64(imbalance) / float64(period)
}

// VolumeProxy approximates activity as the sum of absolute deltas over the
// last period deltas, scaled by VolumeScale. Returns 0 when fewer than
// period+1 prices are available.
func VolumeProxy(p []float64, period int) float64 {
	if period <= 0 || len(p) < period+1 {
		return 0
	}
	d := deltas(p, period)
	for i := range d {
		d[i] = math.Abs(d[i])
	}
	return floats.Sum(d) * VolumeScale
}

// Momentum returns the price change over period samples:
// p[n-1] - p[n-1-period]. Returns 0 when fewer than period+1 prices are
// available.
func Momentum(p []float64, period int) float64 {
	if period <= 0 || len(p) < period+1 {
		return 0
	}
	n := len(p)
	return p[n-1] - p[n-1-period]
}
