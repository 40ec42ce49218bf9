package model

import "time"

// EnrichmentRecord tracks the post-alert price backfill for one alert row.
// Invariant: once a slot is written it is never rewritten.
type EnrichmentRecord struct {
	RowID        int64            `json:"row_id"`
	Symbol       string           `json:"symbol"`
	AlertTS      time.Time        `json:"alert_ts"`
	PricePlus2m  *float64         `json:"price_plus_2m,omitempty"`
	PricePlus10m *float64         `json:"price_plus_10m,omitempty"`
	PriceEOD     *float64         `json:"price_eod,omitempty"`
	Status       EnrichmentStatus `json:"status"`
	RetryCount2m  int             `json:"retry_count_2m"`
	RetryCount10m int             `json:"retry_count_10m"`
	RetryCountEOD int             `json:"retry_count_eod"`
}

// Recompute derives Status from which slots are populated (spec §4.10).
func (e *EnrichmentRecord) Recompute() {
	switch {
	case e.PricePlus2m != nil && e.PricePlus10m != nil && e.PriceEOD != nil:
		e.Status = StatusComplete
	case e.PricePlus2m != nil || e.PricePlus10m != nil || e.PriceEOD != nil:
		e.Status = StatusPartial
	default:
		e.Status = StatusPending
	}
}

// EnrichmentJob is the payload handed from the sink fanout (C10) to the
// enrichment queue for the price-enrichment worker (C11) to drain.
type EnrichmentJob struct {
	RowID   int64     `json:"row_id"`
	Symbol  string    `json:"symbol"`
	AlertTS time.Time `json:"alert_ts"`
}
