package model

import (
	"errors"
	"testing"
)

func TestAlertKindToPattern_MapsKnownPatterns(t *testing.T) {
	cases := map[OIPattern]AlertKind{
		PatternLongBuildup:   AlertOILongBuildup,
		PatternShortBuildup:  AlertOIShortBuildup,
		PatternShortCovering: AlertOIShortCovering,
		PatternLongUnwinding: AlertOILongUnwinding,
	}
	for pattern, want := range cases {
		if got := AlertKindToPattern(pattern); got != want {
			t.Errorf("AlertKindToPattern(%v) = %v, want %v", pattern, got, want)
		}
	}
}

func TestAlertKindToPattern_UnknownPatternReturnsEmpty(t *testing.T) {
	if got := AlertKindToPattern(OIPattern("bogus")); got != "" {
		t.Fatalf("expected empty AlertKind for an unknown pattern, got %q", got)
	}
}

func TestEnrichmentRecord_RecomputePending(t *testing.T) {
	var e EnrichmentRecord
	e.Recompute()
	if e.Status != StatusPending {
		t.Fatalf("expected StatusPending, got %v", e.Status)
	}
}

func TestEnrichmentRecord_RecomputePartial(t *testing.T) {
	v := 100.0
	e := EnrichmentRecord{PricePlus2m: &v}
	e.Recompute()
	if e.Status != StatusPartial {
		t.Fatalf("expected StatusPartial, got %v", e.Status)
	}
}

func TestEnrichmentRecord_RecomputeComplete(t *testing.T) {
	a, b, c := 1.0, 2.0, 3.0
	e := EnrichmentRecord{PricePlus2m: &a, PricePlus10m: &b, PriceEOD: &c}
	e.Recompute()
	if e.Status != StatusComplete {
		t.Fatalf("expected StatusComplete, got %v", e.Status)
	}
}

func TestQuote_HasOI(t *testing.T) {
	var oi int64 = 1000
	withOI := Quote{OpenInterest: &oi}
	withoutOI := Quote{}

	if !withOI.HasOI() {
		t.Error("expected HasOI to be true when OpenInterest is set")
	}
	if withoutOI.HasOI() {
		t.Error("expected HasOI to be false when OpenInterest is nil")
	}
}

func TestInstrument_Key(t *testing.T) {
	i := Instrument{Exchange: "NSE", Symbol: "NIFTY 50"}
	if got := i.Key(); got != "NSE:NIFTY 50" {
		t.Fatalf("Key() = %q, want %q", got, "NSE:NIFTY 50")
	}
}

func TestInstrument_IsDerivative(t *testing.T) {
	cases := []struct {
		kind InstrumentKind
		want bool
	}{
		{KindEquity, false},
		{KindIndex, false},
		{KindFuture, true},
		{KindOption, true},
	}
	for _, tc := range cases {
		i := Instrument{Kind: tc.kind}
		if got := i.IsDerivative(); got != tc.want {
			t.Errorf("IsDerivative() for kind %v = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestErrCacheLocked_ErrorMessage(t *testing.T) {
	e := &ErrCacheLocked{Key: "NIFTY 50", Attempts: 3}
	want := `cache locked on key "NIFTY 50" after 3 attempts`
	if e.Error() != want {
		t.Fatalf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestErrProviderUnavailable_Unwrap(t *testing.T) {
	inner := errors.New("dial timeout")
	e := &ErrProviderUnavailable{Op: "quote_batch", Err: inner}
	if !errors.Is(e, inner) {
		t.Fatal("expected errors.Is to unwrap to the inner error")
	}
}

func TestErrEnrichmentExhausted_ErrorMessage(t *testing.T) {
	e := &ErrEnrichmentExhausted{RowID: 42, Slot: string(SlotPlus2m)}
	want := `enrichment slot price_plus_2m abandoned for row 42: retries exhausted`
	if e.Error() != want {
		t.Fatalf("Error() = %q, want %q", e.Error(), want)
	}
}
