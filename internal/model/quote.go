package model

import "time"

// Quote is a snapshot of an instrument at a wall-clock instant.
//
// Invariant: all numeric fields are non-negative; Timestamp is
// monotonically non-decreasing per instrument within a session.
type Quote struct {
	Symbol        string    `json:"symbol"`
	LastPrice     float64   `json:"last_price"`
	VolumeToday   int64     `json:"volume_today"`
	OpenInterest  *int64    `json:"open_interest,omitempty"`
	DayOpen       float64   `json:"day_open"`
	DayHigh       float64   `json:"day_high"`
	DayLow        float64   `json:"day_low"`
	DayClose      float64   `json:"day_close"`
	Timestamp     time.Time `json:"timestamp"`
}

// HasOI reports whether this quote carries a valid open-interest reading.
func (q Quote) HasOI() bool {
	return q.OpenInterest != nil
}

// CachedQuote is the row shape persisted by the quote cache: the quote
// payload plus the minute it was collected at.
type CachedQuote struct {
	Symbol   string    `json:"symbol"`
	Quote    Quote     `json:"quote"`
	CachedAt time.Time `json:"cached_at"`
}
