package model

import "time"

// DayStartBaseline is the first valid open-interest reading of the
// trading session for an F&O instrument (spec §4.7). Set exactly once
// per trading day; persisted so mid-day restarts retain it.
type DayStartBaseline struct {
	Symbol    string    `json:"symbol"`
	TradeDate string    `json:"trade_date"` // YYYY-MM-DD, IST
	OI        int64     `json:"oi"`
	Price     float64   `json:"price"`
	SetAt     time.Time `json:"set_at"`
}
