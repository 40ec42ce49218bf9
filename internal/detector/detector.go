// Package detector implements C8, the stateless alert detector: given a
// snapshot ring and config (and an optional OI context from C7), it
// produces the set of candidate alerts for one instrument at one tick, in
// the fixed priority order of spec §4.6. It never touches cooldown state,
// storage, or the clock beyond what the caller passes in — two calls with
// identical inputs always produce identical output (spec §8 property 3).
//
// Built in the style of the teacher's internal/indicator.Indicator
// interface (pure Update/Value/Ready with no side effects), generalized
// from "one indicator instance with internal state" to "one pure function
// of a snapshot ring plus config".
package detector

import (
	"time"

	"nsewatch/internal/model"
	"nsewatch/internal/snapshotring"
)

// Config holds every detector threshold named in spec §6, with its
// documented default.
type Config struct {
	Th1m              float64 // default 1.25 (spec gives no separate default; reuses th_5m shape)
	Th5m              float64 // default 1.25
	Th10m             float64 // default 2.0
	Th30m             float64 // default 3.0
	SpikePriceThresh  float64 // default 1.2
	SpikeVolMultiple  float64 // default 2.5
	VolMult1m         float64 // default 5.0
	MinPrice          float64
	MinADV            float64
	AccelFactor       float64 // default 1.2
}

// DefaultConfig matches spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		Th1m:             1.25,
		Th5m:             1.25,
		Th10m:            2.0,
		Th30m:            3.0,
		SpikePriceThresh: 1.2,
		SpikeVolMultiple: 2.5,
		VolMult1m:        5.0,
		AccelFactor:      1.2,
	}
}

// Candidate is one alert the detector proposes; cooldown gating (C9) and
// row-id assignment happen downstream.
type Candidate struct {
	Kind           model.AlertKind
	Direction      model.Direction
	MagnitudePct   float64
	Horizon        model.Horizon
	ReferencePrice float64
	CurrentPrice   float64
	VolumeMultiple float64
}

// Inputs bundles the baselines the detector needs beyond the ring itself.
type Inputs struct {
	AvgVolumePer5m  float64 // average volume per 5-minute bucket
	AvgVolumePer1m  float64 // average volume per 1-minute bucket
	AvgDailyVolume  float64
}

// Detect evaluates P1-P4 in priority order (spec §4.6 table). At most one
// alert per (horizon, direction) is produced; independently-eligible
// horizons may all fire. Ties within a kind are not possible since each
// horizon produces at most one candidate per tick.
func Detect(ring *snapshotring.Ring, cfg Config, in Inputs) []Candidate {
	var out []Candidate

	// P1: volume_spike — evaluated against the 5-minute window.
	if c, ok := detectVolumeSpike(ring, cfg, in); ok {
		out = append(out, c)
	}

	// P2: 5m_drop / 5m_rise, with a momentum/acceleration filter on drops.
	if c, ok := detectHorizon(ring, 5*time.Minute, cfg.Th5m, model.Horizon5m, model.Alert5mDrop, model.Alert5mRise, true, cfg.AccelFactor); ok {
		out = append(out, c)
	}

	// P3: 10m_drop / 10m_rise, no momentum filter, no cooldown in this spec slot.
	if c, ok := detectHorizon(ring, 10*time.Minute, cfg.Th10m, model.Horizon10m, model.Alert10mDrop, model.Alert10mRise, false, 0); ok {
		out = append(out, c)
	}

	// P4: 30m_drop / 30m_rise.
	if c, ok := detectHorizon(ring, 30*time.Minute, cfg.Th30m, model.Horizon30m, model.Alert30mDrop, model.Alert30mRise, false, 0); ok {
		out = append(out, c)
	}

	return out
}

// detectHorizon implements the shared Δk = (price_at(0) - price_at(k)) /
// price_at(k) * 100 comparison used by P2/P3/P4 (spec §4.6). If
// requireMomentum is set, a drop additionally requires the last-1m rate to
// exceed accelFactor times the average per-minute rate over the prior 4m.
func detectHorizon(ring *snapshotring.Ring, k time.Duration, threshold float64, horizon model.Horizon, dropKind, riseKind model.AlertKind, requireMomentum bool, accelFactor float64) (Candidate, bool) {
	current, ok := ring.PriceAt(0)
	if !ok {
		return Candidate{}, false
	}
	reference, ok := ring.PriceAt(k)
	if !ok {
		// ErrDetectorPrecondition territory: missing snapshot this early in
		// the session — silent skip of this horizon (spec §7).
		return Candidate{}, false
	}
	if reference == 0 {
		return Candidate{}, false
	}

	deltaPct := (current - reference) / reference * 100
	if deltaPct < 0 {
		// Drop: magnitude is positive on a falling price.
		magnitude := -deltaPct
		if magnitude < threshold {
			return Candidate{}, false
		}
		if requireMomentum && !hasMomentum(ring, accelFactor) {
			return Candidate{}, false
		}
		return Candidate{
			Kind: dropKind, Direction: model.DirDown, MagnitudePct: magnitude,
			Horizon: horizon, ReferencePrice: reference, CurrentPrice: current,
		}, true
	}

	magnitude := deltaPct
	if magnitude < threshold {
		return Candidate{}, false
	}
	return Candidate{
		Kind: riseKind, Direction: model.DirUp, MagnitudePct: magnitude,
		Horizon: horizon, ReferencePrice: reference, CurrentPrice: current,
	}, true
}

// hasMomentum implements the acceleration test shared by P2 and the
// 1-minute variant: the per-minute change rate over the last 1m exceeds
// accelFactor times the average per-minute rate over the prior 4m.
func hasMomentum(ring *snapshotring.Ring, accelFactor float64) bool {
	p0, ok0 := ring.PriceAt(0)
	p1, ok1 := ring.PriceAt(time.Minute)
	p5, ok5 := ring.PriceAt(5 * time.Minute)
	if !ok0 || !ok1 || !ok5 || p1 == 0 || p5 == 0 {
		return false
	}

	last1mRate := (p0 - p1) / p1
	prior4mRate := (p1 - p5) / p5 / 4

	abs := func(v float64) float64 {
		if v < 0 {
			return -v
		}
		return v
	}
	if prior4mRate == 0 {
		return abs(last1mRate) > 0
	}
	return abs(last1mRate) > accelFactor*abs(prior4mRate)
}

// detectVolumeSpike implements P1: |Δ5m| >= spike_price_threshold AND
// volume_5m / avg_volume_per_5m >= spike_vol_multiple.
func detectVolumeSpike(ring *snapshotring.Ring, cfg Config, in Inputs) (Candidate, bool) {
	current, ok := ring.PriceAt(0)
	if !ok {
		return Candidate{}, false
	}
	reference, ok := ring.PriceAt(5 * time.Minute)
	if !ok || reference == 0 {
		return Candidate{}, false
	}

	deltaPct := (current - reference) / reference * 100
	magnitude := deltaPct
	direction := model.DirUp
	kind := model.AlertVolumeSpikeRise
	if deltaPct < 0 {
		magnitude = -deltaPct
		direction = model.DirDown
		kind = model.AlertVolumeSpikeDrop
	}
	if magnitude < cfg.SpikePriceThresh {
		return Candidate{}, false
	}

	volNow, ok := ring.VolumeAt(0)
	if !ok || in.AvgVolumePer5m <= 0 {
		return Candidate{}, false
	}
	volThen, ok := ring.VolumeAt(5 * time.Minute)
	if !ok {
		return Candidate{}, false
	}
	vol5m := volNow - volThen
	multiple := float64(vol5m) / in.AvgVolumePer5m
	if multiple < cfg.SpikeVolMultiple {
		return Candidate{}, false
	}

	return Candidate{
		Kind: kind, Direction: direction, MagnitudePct: magnitude, Horizon: model.HorizonVolumeSpike,
		ReferencePrice: reference, CurrentPrice: current, VolumeMultiple: multiple,
	}, true
}

// Detect1mVariant implements the 1-minute monitor's 6 additive filters
// (spec §4.6): all must pass. cooldownActive is evaluated once per call
// against a point-in-time cooldown snapshot, keeping the function pure
// given that snapshot.
func Detect1mVariant(ring *snapshotring.Ring, cfg Config, in Inputs, cooldownActive func(model.AlertKind) bool) (Candidate, bool) {
	current, ok := ring.PriceAt(0)
	if !ok {
		return Candidate{}, false
	}
	reference, ok := ring.PriceAt(time.Minute)
	if !ok || reference == 0 {
		return Candidate{}, false
	}

	deltaPct := (current - reference) / reference * 100
	magnitude := deltaPct
	direction := model.DirUp
	kind := model.Alert1mRise
	if deltaPct < 0 {
		magnitude = -deltaPct
		direction = model.DirDown
		kind = model.Alert1mDrop
	}

	// (1) |Δ1m| >= th_1m
	if magnitude < cfg.Th1m {
		return Candidate{}, false
	}

	// (2) volume in the last minute >= vol_mult_1m * avg_per_minute
	volNow, ok := ring.VolumeAt(0)
	if !ok || in.AvgVolumePer1m <= 0 {
		return Candidate{}, false
	}
	volThen, ok := ring.VolumeAt(time.Minute)
	if !ok {
		return Candidate{}, false
	}
	vol1m := volNow - volThen
	if float64(vol1m) < cfg.VolMult1m*in.AvgVolumePer1m {
		return Candidate{}, false
	}

	// (3) price >= min_price
	if current < cfg.MinPrice {
		return Candidate{}, false
	}

	// (4) avg_daily_volume >= min_adv
	if in.AvgDailyVolume < cfg.MinADV {
		return Candidate{}, false
	}

	// (5) not in cooldown
	if cooldownActive != nil && cooldownActive(kind) {
		return Candidate{}, false
	}

	// (6) momentum — same acceleration test as P2
	if !hasMomentum(ring, cfg.AccelFactor) {
		return Candidate{}, false
	}

	return Candidate{
		Kind: kind, Direction: direction, MagnitudePct: magnitude, Horizon: model.Horizon1m,
		ReferencePrice: reference, CurrentPrice: current, VolumeMultiple: float64(vol1m) / in.AvgVolumePer1m,
	}, true
}
