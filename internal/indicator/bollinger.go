package indicator

import "gonum.org/v1/gonum/stat"

// Bands holds Bollinger Band levels.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
	Ready  bool
}

// Bollinger computes mean ± k·σ over the last period prices, σ being the
// population standard deviation. Returns zero Bands (Ready=false) when fewer
// than period prices are available.
func Bollinger(p []float64, period int, k float64) Bands {
	if period <= 0 || len(p) < period {
		return Bands{}
	}
	mean, std := stat.PopMeanStdDev(tail(p, period), nil)
	return Bands{
		Upper:  mean + k*std,
		Middle: mean,
		Lower:  mean - k*std,
		Ready:  true,
	}
}
