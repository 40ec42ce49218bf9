// Package oi implements C7, the open-interest pattern engine: for F&O
// instruments, classifies open-interest + price co-movement against a
// day-start baseline into one of four named patterns with a strength
// and priority (spec §4.7).
//
// Built in the style of the teacher's internal/indicator (a small, pure
// classifier function over a running baseline value, Ready()-style
// booleans) since the teacher has no OI concept of its own — this is
// the closest idiom the corpus offers for "stateless compute over a
// persisted running value".
package oi

import (
	"context"

	"nsewatch/internal/model"
)

// Bands configures the OI-strength thresholds (spec §6 defaults).
type Bands struct {
	Minimal     float64 // < this => MINIMAL
	Significant float64 // < this => SIGNIFICANT
	Strong      float64 // < this => STRONG
	// >= Strong => VERY_STRONG
}

// DefaultBands matches spec §6: minimal<1%, significant<5%, strong<10%, very_strong>=10%.
func DefaultBands() Bands {
	return Bands{Minimal: 1, Significant: 5, Strong: 10}
}

// Engine tracks day-start OI baselines per instrument and classifies
// subsequent ticks against them.
type Engine struct {
	store     model.OIBaselineStore
	bands     Bands
	tradeDate func() string // returns today's trade date, injected for testability
}

// NewEngine builds an Engine backed by store.
func NewEngine(store model.OIBaselineStore, bands Bands, tradeDate func() string) *Engine {
	return &Engine{store: store, bands: bands, tradeDate: tradeDate}
}

// Observe records symbol's day-start baseline on the first valid-OI quote
// of the trading day; a no-op on subsequent calls the same day. Detects a
// new day by calendar transition and persists the baseline so a mid-day
// restart retains it (spec §4.7 step 1).
func (e *Engine) Observe(ctx context.Context, symbol string, oiValue int64, price float64) (model.DayStartBaseline, error) {
	today := e.tradeDate()

	existing, err := e.store.Load(ctx, symbol)
	if err != nil {
		return model.DayStartBaseline{}, err
	}
	if existing != nil && existing.TradeDate == today {
		return *existing, nil
	}

	b := model.DayStartBaseline{Symbol: symbol, TradeDate: today, OI: oiValue, Price: price}
	if err := e.store.Save(ctx, b); err != nil {
		return model.DayStartBaseline{}, err
	}
	return b, nil
}

// Classify computes the OI context for symbol given its current OI and
// price against the recorded baseline (spec §4.7 steps 2-3). Returns
// ok=false if no baseline has been observed yet today.
func (e *Engine) Classify(ctx context.Context, symbol string, currentOI int64, currentPrice float64) (model.OIContext, bool, error) {
	baseline, err := e.store.Load(ctx, symbol)
	if err != nil {
		return model.OIContext{}, false, err
	}
	if baseline == nil || baseline.TradeDate != e.tradeDate() || baseline.OI == 0 {
		return model.OIContext{}, false, nil
	}

	oiChangePct := float64(currentOI-baseline.OI) / float64(baseline.OI) * 100
	var priceChangePct float64
	if baseline.Price != 0 {
		priceChangePct = (currentPrice - baseline.Price) / baseline.Price * 100
	}

	pattern := classifyPattern(priceChangePct, oiChangePct)
	strength := e.bands.classifyStrength(oiChangePct)
	priority := e.bands.classifyPriority(strength, oiChangePct)

	return model.OIContext{
		Pattern:     pattern,
		OIChangePct: oiChangePct,
		Strength:    strength,
		Priority:    priority,
	}, true, nil
}

func classifyPattern(priceChangePct, oiChangePct float64) model.OIPattern {
	switch {
	case priceChangePct > 0 && oiChangePct > 0:
		return model.PatternLongBuildup
	case priceChangePct < 0 && oiChangePct > 0:
		return model.PatternShortBuildup
	case priceChangePct > 0 && oiChangePct < 0:
		return model.PatternShortCovering
	default:
		return model.PatternLongUnwinding
	}
}

func (b Bands) classifyStrength(oiChangePct float64) model.OIStrength {
	abs := oiChangePct
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < b.Minimal:
		return model.StrengthMinimal
	case abs < b.Significant:
		return model.StrengthSignificant
	case abs < b.Strong:
		return model.StrengthStrong
	default:
		return model.StrengthVeryStrong
	}
}

// classifyPriority maps strength to priority. SIGNIFICANT spans LOW/MEDIUM
// (spec §4.7): the lower half of the [Minimal, Significant) band is LOW,
// the upper half MEDIUM.
func (b Bands) classifyPriority(s model.OIStrength, oiChangePct float64) model.OIPriority {
	abs := oiChangePct
	if abs < 0 {
		abs = -abs
	}
	switch s {
	case model.StrengthMinimal:
		return model.PriorityLow
	case model.StrengthSignificant:
		mid := (b.Minimal + b.Significant) / 2
		if abs < mid {
			return model.PriorityLow
		}
		return model.PriorityMedium
	case model.StrengthStrong, model.StrengthVeryStrong:
		return model.PriorityHigh
	default:
		return model.PriorityLow
	}
}
