package model

import "time"

// PriceTick is a single quote from the streaming feed. It is consumed
// immediately by the ingestion path and never retained.
type PriceTick struct {
	Symbol string  `json:"symbol"`
	Quote  float64 `json:"quote"`
	Epoch  int64   `json:"epoch"` // unix seconds
}

// Second returns the second-of-minute of the tick (0..59).
func (t PriceTick) Second() int {
	s := t.Epoch % 60
	if s < 0 {
		s += 60
	}
	return int(s)
}

// Minute returns the minute index (epoch / 60) the tick falls in.
func (t PriceTick) Minute() int64 {
	if t.Epoch < 0 {
		return (t.Epoch - 59) / 60
	}
	return t.Epoch / 60
}

// Time returns the tick timestamp in UTC.
func (t PriceTick) Time() time.Time {
	return time.Unix(t.Epoch, 0).UTC()
}
