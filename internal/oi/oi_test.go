package oi

import (
	"context"
	"testing"

	"nsewatch/internal/model"
)

type fakeBaselineStore struct {
	bySymbol map[string]model.DayStartBaseline
}

func newFakeBaselineStore() *fakeBaselineStore {
	return &fakeBaselineStore{bySymbol: make(map[string]model.DayStartBaseline)}
}

func (s *fakeBaselineStore) Load(ctx context.Context, symbol string) (*model.DayStartBaseline, error) {
	b, ok := s.bySymbol[symbol]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *fakeBaselineStore) Save(ctx context.Context, b model.DayStartBaseline) error {
	s.bySymbol[b.Symbol] = b
	return nil
}

func today() string { return "2026-07-31" }

func TestEngine_ObserveSetsBaselineOnceADay(t *testing.T) {
	store := newFakeBaselineStore()
	e := NewEngine(store, DefaultBands(), today)

	b1, err := e.Observe(context.Background(), "NIFTY", 1000, 100)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if b1.OI != 1000 || b1.Price != 100 {
		t.Fatalf("unexpected first baseline: %+v", b1)
	}

	// Second observe the same day must not overwrite the baseline.
	b2, err := e.Observe(context.Background(), "NIFTY", 2000, 200)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if b2.OI != 1000 || b2.Price != 100 {
		t.Fatalf("second Observe overwrote same-day baseline: %+v", b2)
	}
}

func TestEngine_ClassifyNoBaselineYet(t *testing.T) {
	store := newFakeBaselineStore()
	e := NewEngine(store, DefaultBands(), today)

	_, ok, err := e.Classify(context.Background(), "NIFTY", 1200, 105)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false with no baseline recorded")
	}
}

func TestEngine_ClassifyStaleBaselineDate(t *testing.T) {
	store := newFakeBaselineStore()
	store.bySymbol["NIFTY"] = model.DayStartBaseline{Symbol: "NIFTY", TradeDate: "2026-07-30", OI: 1000, Price: 100}
	e := NewEngine(store, DefaultBands(), today)

	_, ok, err := e.Classify(context.Background(), "NIFTY", 1200, 105)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false when baseline trade date doesn't match today")
	}
}

func TestEngine_ClassifyPatterns(t *testing.T) {
	cases := []struct {
		name            string
		baseOI          int64
		basePrice       float64
		currentOI       int64
		currentPrice    float64
		wantPattern     model.OIPattern
	}{
		{"price up oi up -> long buildup", 1000, 100, 1100, 105, model.PatternLongBuildup},
		{"price down oi up -> short buildup", 1000, 100, 1100, 95, model.PatternShortBuildup},
		{"price up oi down -> short covering", 1000, 100, 900, 105, model.PatternShortCovering},
		{"price down oi down -> long unwinding", 1000, 100, 900, 95, model.PatternLongUnwinding},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeBaselineStore()
			store.bySymbol["NIFTY"] = model.DayStartBaseline{Symbol: "NIFTY", TradeDate: today(), OI: tc.baseOI, Price: tc.basePrice}
			e := NewEngine(store, DefaultBands(), today)

			ctx, ok, err := e.Classify(context.Background(), "NIFTY", tc.currentOI, tc.currentPrice)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if !ok {
				t.Fatal("expected ok=true with a same-day baseline present")
			}
			if ctx.Pattern != tc.wantPattern {
				t.Errorf("pattern: got %v, want %v", ctx.Pattern, tc.wantPattern)
			}
		})
	}
}

func TestEngine_ClassifyStrengthAndPriorityBands(t *testing.T) {
	bands := DefaultBands() // Minimal=1, Significant=5, Strong=10
	cases := []struct {
		oiChangePct  float64
		wantStrength model.OIStrength
		wantPriority model.OIPriority
	}{
		{0.5, model.StrengthMinimal, model.PriorityLow},
		{2, model.StrengthSignificant, model.PriorityLow}, // below midpoint (1+5)/2=3
		{4.5, model.StrengthSignificant, model.PriorityMedium},
		{7, model.StrengthStrong, model.PriorityHigh},
		{15, model.StrengthVeryStrong, model.PriorityHigh},
	}

	for _, tc := range cases {
		store := newFakeBaselineStore()
		baseOI := int64(10000)
		currentOI := baseOI + int64(float64(baseOI)*tc.oiChangePct/100)
		store.bySymbol["NIFTY"] = model.DayStartBaseline{Symbol: "NIFTY", TradeDate: today(), OI: baseOI, Price: 100}
		e := NewEngine(store, bands, today)

		ctx, ok, err := e.Classify(context.Background(), "NIFTY", currentOI, 105)
		if err != nil || !ok {
			t.Fatalf("Classify failed: ok=%v err=%v", ok, err)
		}
		if ctx.Strength != tc.wantStrength {
			t.Errorf("oiChangePct=%v: strength got %v, want %v", tc.oiChangePct, ctx.Strength, tc.wantStrength)
		}
		if ctx.Priority != tc.wantPriority {
			t.Errorf("oiChangePct=%v: priority got %v, want %v", tc.oiChangePct, ctx.Priority, tc.wantPriority)
		}
	}
}
