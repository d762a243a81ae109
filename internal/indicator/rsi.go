package indicator

// RSI calculates the Relative Strength Index over the last period deltas
// using simple averages of gains and losses.
//
// Returns NeutralRSI when fewer than period+1 prices are available, and 100
// when the window contains no down-deltas.
func RSI(p []float64, period int) float64 {
	if period <= 0 || len(p) < period+1 {
		return NeutralRSI
	}

	var up, down float64
	for _, d := range deltas(p, period) {
		if d > 0 {
			up += d
		} else {
			down -= d
		}
	}
	up /= float64(period)
	down /= float64(period)

	if down == 0 {
		return 100.0
	}
	rs := up / down
	return 100.0 - (100.0 / (1.0 + rs))
}
