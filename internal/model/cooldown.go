package model

import "time"

// CooldownKey identifies a (symbol, alert kind) dedup slot.
type CooldownKey struct {
	Symbol string
	Kind   AlertKind
}

// CooldownEntry records the last time an alert of this kind was emitted
// for this symbol. Persisted across restarts (spec §4.8).
type CooldownEntry struct {
	Symbol        string    `json:"symbol"`
	Kind          AlertKind `json:"kind"`
	LastEmittedTS time.Time `json:"last_emitted_ts"`
}
