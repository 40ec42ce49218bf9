package quotecache

import (
	"context"
	"log/slog"
	"time"
)

// Evictor is the offline job that removes rows older than max_age and,
// on a configurable weekday, performs a compaction pass (spec §4.2).
// The scheduler runs it as a ticker-driven C12 monitor every 24 hours,
// eligible in every session phase (SPEC_FULL §3 "Eviction weekday
// compaction").
type Evictor struct {
	cache          *Cache
	maxAge         time.Duration
	compactWeekday time.Weekday
	log            *slog.Logger
}

// NewEvictor builds an Evictor for cache.
func NewEvictor(cache *Cache, maxAge time.Duration, compactWeekday time.Weekday, log *slog.Logger) *Evictor {
	return &Evictor{cache: cache, maxAge: maxAge, compactWeekday: compactWeekday, log: log}
}

// Run performs one eviction pass at time now.
func (e *Evictor) Run(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-e.maxAge).Unix()

	res, err := e.cache.db.ExecContext(ctx, `DELETE FROM quote_cache WHERE cached_at < ?`, cutoff)
	if err != nil {
		return err
	}
	deleted, _ := res.RowsAffected()

	e.cache.mu.Lock()
	for symbol, cq := range e.cache.mirror {
		if cq.CachedAt.Unix() < cutoff {
			delete(e.cache.mirror, symbol)
		}
	}
	e.cache.mu.Unlock()

	if e.log != nil && deleted > 0 {
		e.log.Info("quote cache eviction pass complete", slog.Int64("rows_deleted", deleted))
	}

	if now.Weekday() == e.compactWeekday {
		if _, err := e.cache.db.ExecContext(ctx, `VACUUM`); err != nil {
			return err
		}
		if e.log != nil {
			e.log.Info("quote cache weekday compaction complete", slog.String("weekday", now.Weekday().String()))
		}
	}
	return nil
}
