package stats

import "testing"

func TestSMA_NotReadyBeforeWindowFilled(t *testing.T) {
	s := NewSMA(3)
	s.Update(10)
	s.Update(20)
	if s.Ready() {
		t.Fatal("expected Ready=false before the window fills")
	}
	if got := s.Value(); got != 15 {
		t.Fatalf("Value before ready: got %v, want 15 (partial average)", got)
	}
}

func TestSMA_RollingWindow(t *testing.T) {
	s := NewSMA(3)
	for _, v := range []float64{10, 20, 30} {
		s.Update(v)
	}
	if !s.Ready() {
		t.Fatal("expected Ready=true once the window fills")
	}
	if got := s.Value(); got != 20 {
		t.Fatalf("Value: got %v, want 20", got)
	}

	s.Update(60) // evicts the 10
	if got := s.Value(); got != (20+30+60)/3.0 {
		t.Fatalf("Value after eviction: got %v, want %v", got, (20+30+60)/3.0)
	}
}

func TestEMA_SeedsWithSMA(t *testing.T) {
	e := NewEMA(3)
	e.Update(10)
	e.Update(20)
	if e.Ready() {
		t.Fatal("expected Ready=false before the seed window fills")
	}
	e.Update(30)
	if !e.Ready() {
		t.Fatal("expected Ready=true once the seed window fills")
	}
	if got := e.Value(); got != 20 {
		t.Fatalf("seeded EMA value: got %v, want 20", got)
	}
}

func TestEMA_UpdatesAfterSeed(t *testing.T) {
	e := NewEMA(3)
	e.Update(10)
	e.Update(20)
	e.Update(30) // seed -> 20
	e.Update(30)
	want := 30*e.multiplier + 20*(1-e.multiplier)
	if got := e.Value(); got != want {
		t.Fatalf("Value: got %v, want %v", got, want)
	}
}

func TestMean(t *testing.T) {
	if got := Mean(nil); got != 0 {
		t.Fatalf("Mean(nil): got %v, want 0", got)
	}
	if got := Mean([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Fatalf("Mean: got %v, want 2.5", got)
	}
}

func TestTrendPct(t *testing.T) {
	if got := TrendPct([]float64{100}); got != 0 {
		t.Fatalf("TrendPct single element: got %v, want 0", got)
	}
	if got := TrendPct([]float64{100, 110}); got != 10 {
		t.Fatalf("TrendPct: got %v, want 10", got)
	}
	if got := TrendPct([]float64{0, 110}); got != 0 {
		t.Fatalf("TrendPct with zero base: got %v, want 0", got)
	}
}

func TestPercentile(t *testing.T) {
	xs := []float64{10, 20, 30, 40, 50}
	if got := Percentile(xs, 30); got != 60 {
		t.Fatalf("Percentile(30): got %v, want 60", got)
	}
	if got := Percentile(xs, 5); got != 0 {
		t.Fatalf("Percentile(5): got %v, want 0", got)
	}
	if got := Percentile(xs, 50); got != 100 {
		t.Fatalf("Percentile(50): got %v, want 100", got)
	}
	if got := Percentile(nil, 1); got != 0 {
		t.Fatalf("Percentile(nil): got %v, want 0", got)
	}
}
