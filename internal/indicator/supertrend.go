package indicator

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Band is a single Supertrend level and which side of the midpoint it sits on.
type Band struct {
	Level float64
	Upper bool // true: mid + mult·atr, false: mid - mult·atr
	Ready bool
}

// Supertrend is a volatility-banded trend level. The midpoint is the centre
// of the last period prices' range, and the mean absolute delta over the last
// period deltas stands in for ATR. The upper band is returned while the
// current price is at or above the midpoint, the lower band otherwise.
// Returns a zero Band (Ready=false) when fewer than period+1 prices are
// available.
func Supertrend(p []float64, period int, mult float64) Band {
	if period <= 0 || len(p) < period+1 {
		return Band{}
	}
	w := tail(p, period)
	mid := (floats.Max(w) + floats.Min(w)) / 2

	d := deltas(p, period)
	for i := range d {
		d[i] = math.Abs(d[i])
	}
	atr := stat.Mean(d, nil)

	price := p[len(p)-1]
	if price >= mid {
		return Band{Level: mid + mult*atr, Upper: true, Ready: true}
	}
	return Band{Level: mid - mult*atr, Upper: false, Ready: true}
}
