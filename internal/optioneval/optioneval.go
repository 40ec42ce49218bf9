// Package optioneval implements C13, the option-selling evaluator: a
// hard-veto gate in front of a pluggable composite score, invoked once daily
// in an entry window and then on a 15-minute intraday cadence against the
// recorded entry state. Spec §4.12 treats the composite-score formula as an
// opaque, swappable strategy — only the veto gating and the cadence are
// mandatory core behavior — so ScoreFunc is grounded on the teacher's own
// pluggable-strategy shape (internal/strategy.Strategy/Engine.Register)
// generalized from "emit a trading signal per candle" to "score a single
// daily snapshot".
package optioneval

import (
	"time"
)

// Signal is C13's output.
type Signal string

const (
	SignalAvoid Signal = "AVOID"
	SignalHold  Signal = "HOLD"
	SignalSell  Signal = "SELL"
)

// Regime is a coarse volatility-regime label fed into scoring; its
// classification is left to the composite ScoreFunc.
type Regime string

// Greeks holds the selected option Greeks for one strike.
type Greeks struct {
	Delta float64
	Theta float64
	Gamma float64
	Vega  float64
}

// Inputs is everything C13 reads from C3/C4 for one evaluation (spec
// §4.12's input list).
type Inputs struct {
	VIXLevel          float64
	VIXTrend3d        float64 // signed % change over 3 trading days
	VIXPercentile1y   float64 // IV rank, 0-100
	RealizedImpliedRatio5d float64
	AvgDailyRange5d   float64 // %
	AvgIntradayRange3d float64 // %
	ATMGreeks         Greeks
	OTMGreeks         Greeks
	Regime            Regime
	OIChangePct       float64
}

// VetoThresholds are the hard-veto cutoffs (spec §4.12 defaults).
type VetoThresholds struct {
	IVRankFloor float64 // default 15
	RVIVCap     float64 // default 1.2
	RangeCap    float64 // default 1.5
}

// DefaultVetoThresholds matches spec §6/§4.12.
func DefaultVetoThresholds() VetoThresholds {
	return VetoThresholds{IVRankFloor: 15, RVIVCap: 1.2, RangeCap: 1.5}
}

// VetoReason names which hard veto fired, for metrics/logging.
type VetoReason string

const (
	VetoNone        VetoReason = ""
	VetoIVRankFloor VetoReason = "iv_rank_floor"
	VetoRVIVCap     VetoReason = "rv_iv_cap"
	VetoRangeCap    VetoReason = "range_cap"
)

// Result is one evaluation's outcome.
type Result struct {
	Signal Signal
	Score  float64 // 0-100; always 0 on veto
	Veto   VetoReason
}

// checkVetoes returns the first hard veto that fires, in the spec's listed
// order, or VetoNone if all three pass.
func checkVetoes(in Inputs, th VetoThresholds) VetoReason {
	switch {
	case in.VIXPercentile1y < th.IVRankFloor:
		return VetoIVRankFloor
	case in.RealizedImpliedRatio5d > th.RVIVCap:
		return VetoRVIVCap
	case in.AvgDailyRange5d > th.RangeCap:
		return VetoRangeCap
	default:
		return VetoNone
	}
}

// ScoreFunc is the pluggable composite scorer: weighs Theta/Gamma/Vega,
// VIX level and trend, regime, and OI into a 0-100 score and a signal. Only
// called when checkVetoes finds nothing; a ScoreFunc MUST NOT itself return
// AVOID with a nonzero score (Evaluate treats AVOID as implicitly score 0).
type ScoreFunc func(in Inputs) (Signal, float64)

// DefaultScore is a reasonable composite: weights theta decay and vega
// favorably for selling, penalizes rising VIX trend and large OI swings.
// Pluggable — callers may supply their own ScoreFunc to Evaluator.
func DefaultScore(in Inputs) (Signal, float64) {
	score := 50.0
	score += clamp(-in.ATMGreeks.Theta*20, -15, 15) // more negative theta (decay) favors selling
	score += clamp(in.ATMGreeks.Vega*-5, -10, 10)
	score -= clamp(in.VIXTrend3d*2, -10, 20) // rising VIX trend hurts
	score -= clamp(absf(in.OIChangePct)*0.5, 0, 15)
	score = clamp(score, 0, 100)

	switch {
	case score >= 65:
		return SignalSell, score
	case score >= 40:
		return SignalHold, score
	default:
		return SignalAvoid, score
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Evaluator runs C13: veto gate, then the pluggable score.
type Evaluator struct {
	th    VetoThresholds
	score ScoreFunc
}

// New builds an Evaluator. A nil score falls back to DefaultScore.
func New(th VetoThresholds, score ScoreFunc) *Evaluator {
	if score == nil {
		score = DefaultScore
	}
	return &Evaluator{th: th, score: score}
}

// Evaluate runs the hard-veto gate and, if all three pass, the composite
// score (spec §4.12).
func (e *Evaluator) Evaluate(in Inputs) Result {
	if reason := checkVetoes(in, e.th); reason != VetoNone {
		return Result{Signal: SignalAvoid, Score: 0, Veto: reason}
	}
	sig, score := e.score(in)
	return Result{Signal: sig, Score: score}
}

// EntryState is the recorded outcome of an entry-window evaluation,
// carried forward to the intraday monitor for exit/add-position triggers.
type EntryState struct {
	EnteredAt   time.Time
	EntryScore  float64
	EntryVIXRank float64
	Layers      int // number of layered positions added, max 3
	LastAddAt   time.Time
}

// Trigger names which monitor condition fired, if any.
type Trigger string

const (
	TriggerNone   Trigger = ""
	TriggerExit   Trigger = "exit"
	TriggerAdd    Trigger = "add"
)

// MonitorThresholds are the intraday exit/add trigger cutoffs (spec §4.12).
type MonitorThresholds struct {
	ExitScoreDrop   float64 // default 20
	ExitPointsMoved float64 // default 100
	MaxLayers       int     // default 3
	AddMinInterval  time.Duration // default 30m
	AddMinScoreGain float64       // default 10
}

// DefaultMonitorThresholds matches spec §6/§4.12.
func DefaultMonitorThresholds() MonitorThresholds {
	return MonitorThresholds{
		ExitScoreDrop: 20, ExitPointsMoved: 100, MaxLayers: 3,
		AddMinInterval: 30 * time.Minute, AddMinScoreGain: 10,
	}
}

// Monitor evaluates the intraday tick against the recorded entry state and
// the evaluator's current read: exit on a score drop of >= ExitScoreDrop,
// an IV-rank regime shift (re-veto), or underlying movement >=
// ExitPointsMoved; add a layer when under MaxLayers, at least
// AddMinInterval since the last add, and the current score beats the entry
// score by at least AddMinScoreGain.
func (e *Evaluator) Monitor(state EntryState, in Inputs, pointsMoved float64, now time.Time, th MonitorThresholds) (Trigger, Result) {
	cur := e.Evaluate(in)

	if cur.Veto != VetoNone {
		return TriggerExit, cur
	}
	if state.EntryScore-cur.Score >= th.ExitScoreDrop {
		return TriggerExit, cur
	}
	if absf(pointsMoved) >= th.ExitPointsMoved {
		return TriggerExit, cur
	}

	if state.Layers < th.MaxLayers &&
		now.Sub(state.LastAddAt) >= th.AddMinInterval &&
		cur.Score-state.EntryScore >= th.AddMinScoreGain {
		return TriggerAdd, cur
	}

	return TriggerNone, cur
}
