package model

import (
	"errors"
	"fmt"
)

// The closed error taxonomy of spec §7. Components use errors.Is/errors.As
// against these — never string matching — except for the single point
// the cache retry wrapper recognizes a driver-level "database is locked"
// message (per Design Note §9).

// ErrProviderUnavailable wraps a transient Quote Provider failure. Retried
// with backoff; surfaces as a tick-level WARN; does not halt the scheduler.
type ErrProviderUnavailable struct {
	Op  string
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	return fmt.Sprintf("provider unavailable during %s: %v", e.Op, e.Err)
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// ErrProviderAuth is fatal for the current tick. The Notifier receives a
// one-time "credentials expired" health ping; the scheduler keeps ticking.
type ErrProviderAuth struct {
	Err error
}

func (e *ErrProviderAuth) Error() string { return fmt.Sprintf("provider auth failure: %v", e.Err) }
func (e *ErrProviderAuth) Unwrap() error { return e.Err }

// ErrCacheLocked is raised by the retry wrapper only after all attempts
// against a "database locked" condition are exhausted.
type ErrCacheLocked struct {
	Key      string
	Attempts int
}

func (e *ErrCacheLocked) Error() string {
	return fmt.Sprintf("cache locked on key %q after %d attempts", e.Key, e.Attempts)
}

// ErrCacheCorrupt is fatal for the owning cache component. On detection the
// store file is renamed aside and a fresh one created.
type ErrCacheCorrupt struct {
	Path string
	Err  error
}

func (e *ErrCacheCorrupt) Error() string {
	return fmt.Sprintf("cache corrupt at %s: %v", e.Path, e.Err)
}
func (e *ErrCacheCorrupt) Unwrap() error { return e.Err }

// ErrStaleCache signals the collector's last_collection_ts is older than
// 2 ticks. Readers log a WARN and MAY fall back to a direct provider query.
type ErrStaleCache struct {
	Age string
}

func (e *ErrStaleCache) Error() string { return fmt.Sprintf("quote cache stale: age=%s", e.Age) }

// ErrDetectorPrecondition signals a missing snapshot input (e.g. no price
// 10 minutes ago this early in the session). Callers silently skip the
// horizon for that instrument — this is not logged as an error.
var ErrDetectorPrecondition = errors.New("detector precondition not met")

// ErrEnrichmentMissing signals the target candle is not yet available.
// The slot is left empty and retried up to max_slot_retries.
var ErrEnrichmentMissing = errors.New("enrichment candle not yet available")

// ErrEnrichmentExhausted is logged once a slot has been retried
// max_slot_retries times and is abandoned.
type ErrEnrichmentExhausted struct {
	RowID int64
	Slot  string
}

func (e *ErrEnrichmentExhausted) Error() string {
	return fmt.Sprintf("enrichment slot %s abandoned for row %d: retries exhausted", e.Slot, e.RowID)
}
