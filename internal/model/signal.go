package model

import (
	"fmt"
	"time"
)

// Direction is the verdict of a signal evaluation.
type Direction string

const (
	Up      Direction = "UP"
	Down    Direction = "DOWN"
	Neutral Direction = "NEUTRAL"
)

// Colour returns the dashboard colour for the direction (GREEN, RED or NEUTRAL).
func (d Direction) Colour() string {
	switch d {
	case Up:
		return "GREEN"
	case Down:
		return "RED"
	default:
		return "NEUTRAL"
	}
}

// Valid reports whether d is one of the three known directions.
func (d Direction) Valid() bool {
	return d == Up || d == Down || d == Neutral
}

// InitialTimer is the countdown label before any tick arrives.
const InitialTimer = "00:59"

// FormatTimer renders the seconds remaining until the minute boundary for a
// tick at the given second-of-minute, e.g. second 5 → "00:54".
func FormatTimer(second int) string {
	return fmt.Sprintf("00:%02d", 59-second)
}

// SignalState is the latest evaluation result for one instrument.
type SignalState struct {
	Direction      Direction `json:"direction"`
	Confidence     int       `json:"confidence"` // 0..100
	PredictedPrice float64   `json:"predicted_price"`
	LivePrice      float64   `json:"live_price"`
	Timer          string    `json:"timer"`
}

// ClampConfidence bounds c to [0, 100].
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// Snapshot is the read-only view of an instrument returned to clients.
type Snapshot struct {
	Direction      string  `json:"direction"` // GREEN / RED / NEUTRAL
	Bias           string  `json:"bias"`      // UP / DOWN / NEUTRAL
	Confidence     int     `json:"confidence"`
	LivePrice      float64 `json:"live_price"`
	PredictedPrice float64 `json:"predicted_price"`
	Timer          string  `json:"timer"`
	Pair           string  `json:"pair"`
	Symbol         string  `json:"symbol"`
}

// SignalEvent is emitted each time a new signal is written to the store.
type SignalEvent struct {
	Symbol string      `json:"symbol"`
	Label  string      `json:"label"`
	State  SignalState `json:"state"`
	Minute int64       `json:"minute"` // epoch / 60 of the evaluated tick
	At     time.Time   `json:"at"`
}
