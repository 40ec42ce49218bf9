// Package snapshotring implements C6, the rolling per-instrument snapshot
// store: a bounded sequence of minute-aligned (timestamp, price, volume,
// oi) points sufficient to answer "price/volume K minutes ago" for
// K in {1, 5, 10, 30}.
//
// Adapted from the teacher's ringbuf.Ring (fixed capacity, explicit
// overflow counting). That buffer is a lock-free SPSC ring for a
// producer/consumer pair on different goroutines; C6 is task-local (one
// instance per monitor, spec §5), so there is no goroutine boundary to
// protect and the atomic/cache-line-padding machinery is dropped in favor
// of a plain slice — the ring shape is kept, the SPSC plumbing is not.
package snapshotring

import "time"

// point is one entry in the ring.
type point struct {
	ts     time.Time
	price  float64
	volume int64
	oi     *int64
}

// capacity covers 30 minutes of lookback plus one safety bucket.
const capacity = 31

// tolerance is the ±1-minute allowance for PriceAt/VolumeAt lookups
// (spec §4.5).
const tolerance = time.Minute

// Ring is a per-instrument rolling snapshot buffer.
type Ring struct {
	buf   [capacity]point
	count int // number of valid entries, <= capacity
	head  int // index of the most recently appended entry
}

// New creates an empty ring.
func New() *Ring {
	return &Ring{head: -1}
}

// Append adds the quote for tick T. Idempotent: if the latest entry's
// timestamp already is >= ts, the append is skipped (spec §4.5).
func (r *Ring) Append(ts time.Time, price float64, volume int64, oi *int64) {
	if r.count > 0 {
		latest := r.buf[r.head]
		if !latest.ts.Before(ts) {
			return
		}
	}

	r.head = (r.head + 1) % capacity
	r.buf[r.head] = point{ts: ts, price: price, volume: volume, oi: oi}
	if r.count < capacity {
		r.count++
	}
}

// at walks back from the head, returning the entry whose ts is closest to
// target within tolerance, or ok=false if none qualifies.
func (r *Ring) at(target time.Time) (point, bool) {
	best := point{}
	bestDelta := time.Duration(-1)
	found := false

	idx := r.head
	for i := 0; i < r.count; i++ {
		p := r.buf[idx]
		delta := p.ts.Sub(target)
		if delta < 0 {
			delta = -delta
		}
		if delta <= tolerance && (bestDelta < 0 || delta < bestDelta) {
			best = p
			bestDelta = delta
			found = true
		}
		idx--
		if idx < 0 {
			idx = capacity - 1
		}
	}
	return best, found
}

// latest returns the most recent entry, or ok=false if the ring is empty.
func (r *Ring) latest() (point, bool) {
	if r.count == 0 {
		return point{}, false
	}
	return r.buf[r.head], true
}

// PriceAt returns the price nearest T-k within ±1 minute, where T is the
// timestamp of the most recent entry. Returns ok=false if no entry
// qualifies (ErrDetectorPrecondition territory for the caller).
func (r *Ring) PriceAt(k time.Duration) (float64, bool) {
	latest, ok := r.latest()
	if !ok {
		return 0, false
	}
	p, ok := r.at(latest.ts.Add(-k))
	if !ok {
		return 0, false
	}
	return p.price, true
}

// VolumeAt returns the volume nearest T-k within ±1 minute, identical in
// contract to PriceAt.
func (r *Ring) VolumeAt(k time.Duration) (int64, bool) {
	latest, ok := r.latest()
	if !ok {
		return 0, false
	}
	p, ok := r.at(latest.ts.Add(-k))
	if !ok {
		return 0, false
	}
	return p.volume, true
}

// OIAt returns the open interest nearest T-k within ±1 minute.
func (r *Ring) OIAt(k time.Duration) (int64, bool) {
	latest, ok := r.latest()
	if !ok {
		return 0, false
	}
	p, ok := r.at(latest.ts.Add(-k))
	if !ok || p.oi == nil {
		return 0, false
	}
	return *p.oi, true
}

// LatestTS returns the timestamp of the most recent entry.
func (r *Ring) LatestTS() (time.Time, bool) {
	p, ok := r.latest()
	return p.ts, ok
}

// SessionAge returns how far back in time the oldest retained entry is
// from the latest one — used by the detector to implement "at session
// open, lookbacks for horizons > elapsed session time MUST NOT fire"
// (spec §8).
func (r *Ring) SessionAge() time.Duration {
	if r.count == 0 {
		return 0
	}
	latest := r.buf[r.head]
	oldestIdx := r.head - r.count + 1
	for oldestIdx < 0 {
		oldestIdx += capacity
	}
	oldest := r.buf[oldestIdx]
	return latest.ts.Sub(oldest.ts)
}

// Reset clears the ring on a calendar-day transition (spec §4.5).
func (r *Ring) Reset() {
	r.count = 0
	r.head = -1
}
