package signal

import (
	"fmt"

	"tickpulse/internal/indicator"
)

// Config holds every tunable of the signal engine.
type Config struct {
	RSIPeriod     int
	RSIOversold   float64
	RSIOverbought float64

	FastPeriod int
	SlowPeriod int

	MACDFast int
	MACDSlow int

	BollingerPeriod int
	BollingerK      float64

	StrengthPeriod int
	ADXThreshold   float64

	SupertrendPeriod int
	SupertrendMult   float64

	VolumePeriod    int
	VolumeElevation float64 // current proxy must exceed previous × this

	MomentumPeriod int

	ProximityPeriod   int
	ProximityFraction float64 // fraction of the high-low range

	Weights Weights

	Threshold          int
	TrendLookback      int
	MinSamples         int
	HighConfidence     int
	FallbackConfidence int
	LargeOffset        float64
	SmallOffset        float64
}

// Weights is the score added to buy or sell per crossed condition.
type Weights struct {
	RSI        int
	Crossover  int
	MACD       int
	Bollinger  int
	Strength   int
	Supertrend int
	Volume     int
	Momentum   int
	Proximity  int
}

// DefaultWeights returns the standard vote weights.
func DefaultWeights() Weights {
	return Weights{
		RSI:        2,
		Crossover:  2,
		MACD:       1,
		Bollinger:  2,
		Strength:   1,
		Supertrend: 2,
		Volume:     1,
		Momentum:   1,
		Proximity:  1,
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:          indicator.DefaultRSIPeriod,
		RSIOversold:        35,
		RSIOverbought:      65,
		FastPeriod:         indicator.DefaultFastPeriod,
		SlowPeriod:         indicator.DefaultSlowPeriod,
		MACDFast:           indicator.DefaultMACDFast,
		MACDSlow:           indicator.DefaultMACDSlow,
		BollingerPeriod:    indicator.DefaultBollingerPeriod,
		BollingerK:         indicator.DefaultBollingerK,
		StrengthPeriod:     indicator.DefaultStrengthPeriod,
		ADXThreshold:       25,
		SupertrendPeriod:   indicator.DefaultSupertrendPeriod,
		SupertrendMult:     indicator.DefaultSupertrendMult,
		VolumePeriod:       indicator.DefaultVolumePeriod,
		VolumeElevation:    1.0,
		MomentumPeriod:     indicator.DefaultMomentumPeriod,
		ProximityPeriod:    20,
		ProximityFraction:  0.1,
		Weights:            DefaultWeights(),
		Threshold:          4,
		TrendLookback:      30,
		MinSamples:         30,
		HighConfidence:     99,
		FallbackConfidence: 70,
		LargeOffset:        0.00045,
		SmallOffset:        0.00015,
	}
}

// Validate checks the configuration for values the engine cannot use.
func (c Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("signal: threshold must be positive, got %d", c.Threshold)
	}
	if c.TrendLookback < 2 {
		return fmt.Errorf("signal: trend lookback must be >= 2, got %d", c.TrendLookback)
	}
	if c.MinSamples < 0 {
		return fmt.Errorf("signal: min samples must be >= 0, got %d", c.MinSamples)
	}
	if c.FallbackConfidence < 0 || c.FallbackConfidence > 100 {
		return fmt.Errorf("signal: fallback confidence must be in [0,100], got %d", c.FallbackConfidence)
	}
	if c.HighConfidence < 0 || c.HighConfidence > 100 {
		return fmt.Errorf("signal: high confidence must be in [0,100], got %d", c.HighConfidence)
	}
	if c.RSIOversold >= c.RSIOverbought {
		return fmt.Errorf("signal: RSI oversold (%.1f) must be below overbought (%.1f)", c.RSIOversold, c.RSIOverbought)
	}
	if c.LargeOffset < 0 || c.SmallOffset < 0 {
		return fmt.Errorf("signal: price offsets must be non-negative")
	}
	return nil
}
