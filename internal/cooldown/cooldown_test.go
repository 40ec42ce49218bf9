package cooldown

import (
	"context"
	"testing"
	"time"

	"nsewatch/internal/model"
)

type fakeCooldownStore struct {
	data map[model.CooldownKey]time.Time
}

func newFakeCooldownStore() *fakeCooldownStore {
	return &fakeCooldownStore{data: make(map[model.CooldownKey]time.Time)}
}

func (s *fakeCooldownStore) Load(ctx context.Context) (map[model.CooldownKey]time.Time, error) {
	out := make(map[model.CooldownKey]time.Time, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}

func (s *fakeCooldownStore) Save(ctx context.Context, key model.CooldownKey, ts time.Time) error {
	s.data[key] = ts
	return nil
}

func TestGate_ShouldEmitFirstTimeAllowed(t *testing.T) {
	g := New(newFakeCooldownStore(), DefaultWindows(), nil)
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)

	allow, err := g.ShouldEmit(context.Background(), "NIFTY 50", model.Alert1mDrop, now)
	if err != nil {
		t.Fatalf("ShouldEmit: %v", err)
	}
	if !allow {
		t.Fatal("expected first emission to be allowed")
	}
}

func TestGate_ShouldEmitSuppressedWithinWindow(t *testing.T) {
	g := New(newFakeCooldownStore(), DefaultWindows(), nil)
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)

	if _, err := g.ShouldEmit(context.Background(), "NIFTY 50", model.Alert1mDrop, now); err != nil {
		t.Fatalf("ShouldEmit: %v", err)
	}

	allow, err := g.ShouldEmit(context.Background(), "NIFTY 50", model.Alert1mDrop, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("ShouldEmit: %v", err)
	}
	if allow {
		t.Fatal("expected second emission within the 10-minute window to be suppressed")
	}
}

func TestGate_ShouldEmitAllowedAfterWindowElapses(t *testing.T) {
	g := New(newFakeCooldownStore(), DefaultWindows(), nil)
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)

	if _, err := g.ShouldEmit(context.Background(), "NIFTY 50", model.Alert1mDrop, now); err != nil {
		t.Fatalf("ShouldEmit: %v", err)
	}

	allow, err := g.ShouldEmit(context.Background(), "NIFTY 50", model.Alert1mDrop, now.Add(11*time.Minute))
	if err != nil {
		t.Fatalf("ShouldEmit: %v", err)
	}
	if !allow {
		t.Fatal("expected emission to be allowed once the cooldown window has elapsed")
	}
}

func TestGate_ShouldEmitUngatedKindAlwaysAllowed(t *testing.T) {
	g := New(newFakeCooldownStore(), DefaultWindows(), nil)
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		allow, err := g.ShouldEmit(context.Background(), "NIFTY 50", model.Alert10mDrop, now)
		if err != nil {
			t.Fatalf("ShouldEmit: %v", err)
		}
		if !allow {
			t.Fatal("10m horizon carries no cooldown and must always be allowed")
		}
	}
}

func TestGate_ActiveMatchesShouldEmitState(t *testing.T) {
	g := New(newFakeCooldownStore(), DefaultWindows(), nil)
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)

	if g.Active("NIFTY 50", model.Alert1mDrop, now) {
		t.Fatal("expected Active=false before any emission")
	}

	if _, err := g.ShouldEmit(context.Background(), "NIFTY 50", model.Alert1mDrop, now); err != nil {
		t.Fatalf("ShouldEmit: %v", err)
	}

	if !g.Active("NIFTY 50", model.Alert1mDrop, now.Add(time.Minute)) {
		t.Fatal("expected Active=true within the cooldown window")
	}
	if g.Active("NIFTY 50", model.Alert1mDrop, now.Add(11*time.Minute)) {
		t.Fatal("expected Active=false once the cooldown window has elapsed")
	}
}

func TestGate_LoadAndResetDiscardsPriorDayEntries(t *testing.T) {
	store := newFakeCooldownStore()
	yesterdayKey := model.CooldownKey{Symbol: "NIFTY 50", Kind: model.Alert1mDrop}
	todayKey := model.CooldownKey{Symbol: "BANKNIFTY", Kind: model.Alert5mRise}
	yesterday := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	today := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	store.data[yesterdayKey] = yesterday
	store.data[todayKey] = today

	g := New(store, DefaultWindows(), nil)
	tradeDate := func(ts time.Time) string { return ts.Format("2006-01-02") }

	if err := g.LoadAndReset(context.Background(), tradeDate, today); err != nil {
		t.Fatalf("LoadAndReset: %v", err)
	}

	if g.Active("NIFTY 50", model.Alert1mDrop, today) {
		t.Fatal("expected yesterday's cooldown entry to be discarded")
	}
	if !g.Active("BANKNIFTY", model.Alert5mRise, today) {
		t.Fatal("expected today's cooldown entry to be retained")
	}
}
