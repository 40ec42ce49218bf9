// Package cooldown implements C9: the dedup/cooldown gate that decides
// whether a just-detected candidate alert is actually allowed to fire, and
// if so records that fact durably so a restart doesn't forget it.
//
// Grounded on the same mutex-guarded in-memory mirror plus
// write-through-on-every-update discipline as internal/cache/quotecache,
// since both are "small keyed map, durable underneath, read far more often
// than written" components.
package cooldown

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nsewatch/internal/model"
)

// Windows maps an alert kind to its cooldown duration (spec §4.8). Kinds
// absent from this map have no cooldown (P3's 10m horizon, by spec).
type Windows map[model.AlertKind]time.Duration

// DefaultWindows matches spec §6's per-kind cooldown minutes:
// cooldown_1m=10, cooldown_5m=10, cooldown_volume_spike=15,
// cooldown_30m=30. The 10m horizon carries no cooldown of its own (spec
// §4.6 P3) — it fires on every tick that crosses its threshold, gated
// only by the detector's own horizon math.
func DefaultWindows() Windows {
	return Windows{
		model.Alert1mDrop:          10 * time.Minute,
		model.Alert1mRise:          10 * time.Minute,
		model.Alert5mDrop:          10 * time.Minute,
		model.Alert5mRise:          10 * time.Minute,
		model.Alert30mDrop:         30 * time.Minute,
		model.Alert30mRise:         30 * time.Minute,
		model.AlertVolumeSpikeDrop: 15 * time.Minute,
		model.AlertVolumeSpikeRise: 15 * time.Minute,
	}
}

// Gate is C9: a durable (symbol, kind) -> last-emitted-at map with
// per-key windows.
type Gate struct {
	mu      sync.Mutex
	windows Windows
	last    map[model.CooldownKey]time.Time
	store   model.CooldownStore
	log     *slog.Logger
}

// New builds a Gate backed by store. Call LoadAndReset once at startup
// before serving traffic.
func New(store model.CooldownStore, windows Windows, log *slog.Logger) *Gate {
	return &Gate{
		windows: windows,
		last:    make(map[model.CooldownKey]time.Time),
		store:   store,
		log:     log,
	}
}

// LoadAndReset loads the persisted cooldown map and drops entries from
// before today's trade date (spec §4.8's startup reset policy) so a
// restart mid-session doesn't silently carry yesterday's suppressions
// forever, while still honoring an in-flight cooldown window from earlier
// today.
func (g *Gate) LoadAndReset(ctx context.Context, tradeDate func(time.Time) string, now time.Time) error {
	loaded, err := g.store.Load(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	today := tradeDate(now)
	for key, ts := range loaded {
		if tradeDate(ts) != today {
			continue
		}
		g.last[key] = ts
	}
	if g.log != nil {
		g.log.Info("cooldown state restored", slog.Int("entries", len(g.last)), slog.Int("discarded", len(loaded)-len(g.last)))
	}
	return nil
}

// ShouldEmit reports whether an alert of kind for symbol is allowed to
// fire at now, and if so marks it emitted (atomically, under the gate's
// lock) and persists the update before returning. A kind with no
// registered window always returns true (no cooldown applies).
func (g *Gate) ShouldEmit(ctx context.Context, symbol string, kind model.AlertKind, now time.Time) (bool, error) {
	window, gated := g.windows[kind]
	key := model.CooldownKey{Symbol: symbol, Kind: kind}

	g.mu.Lock()
	if gated {
		if last, ok := g.last[key]; ok && now.Sub(last) < window {
			g.mu.Unlock()
			return false, nil
		}
	}
	g.last[key] = now
	g.mu.Unlock()

	if err := g.store.Save(ctx, key, now); err != nil {
		if g.log != nil {
			g.log.Error("cooldown write-through failed", slog.String("symbol", symbol), slog.String("kind", string(kind)), slog.Any("err", err))
		}
		return true, err
	}
	return true, nil
}

// Active reports whether kind is currently suppressed for symbol, without
// mutating state. Used by the 1-minute detector variant's own cooldown
// filter (spec §4.6 filter 5), which needs a read-only point-in-time
// snapshot to stay a pure function.
func (g *Gate) Active(symbol string, kind model.AlertKind, now time.Time) bool {
	window, gated := g.windows[kind]
	if !gated {
		return false
	}
	key := model.CooldownKey{Symbol: symbol, Kind: kind}

	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.last[key]
	if !ok {
		return false
	}
	return now.Sub(last) < window
}
