// Package collector implements C5, the central collector: the single
// logical writer that polls the quote provider on a tick and writes the
// result into C3 (and, on its own cadence, C4). Grounded on the teacher's
// parallel-batch-with-rate-limit idiom in pkg/smartconnect (batched REST
// calls gated by a shared limiter) generalized from tick-by-tick streaming
// into "call provider in parallel batches, retry failed batches
// individually, commit once per tick" (spec §4.4).
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"nsewatch/internal/clock"
	"nsewatch/internal/model"
)

// Config holds C5's tuning (spec §4.4/§6).
type Config struct {
	BatchSize     int           // default 50
	MaxReqPerSec  float64       // default 3 (provider-wide aggregate)
	MaxRetries    int           // default 3
	RetryBase     time.Duration // default 1s, factor 2 (shared shape with the cache retry wrapper)
}

// DefaultConfig matches spec §6.
func DefaultConfig() Config {
	return Config{BatchSize: 50, MaxReqPerSec: 3, MaxRetries: 3, RetryBase: time.Second}
}

// HistoryRefresh names one historical series to keep warm in C4, and the
// cadence at which it is refreshed (spec §4.4 step 5's "on a separate
// cadence, configurable per series").
type HistoryRefresh struct {
	Symbol   string
	Interval model.IntervalKind
	Lookback time.Duration
	Cadence  time.Duration

	lastRun time.Time
}

// StatusSink receives the per-tick metadata row (spec §4.4 step 6); the
// composition root wires this to metrics.HealthStatus.SetCollectionStatus.
type StatusSink interface {
	SetCollectionStatus(ts time.Time, status string)
}

// Collector is C5.
type Collector struct {
	provider model.QuoteProvider
	cache    model.QuoteCache
	history  model.HistoryCache
	clk      *clock.Clock
	cfg      Config
	limiter  *rate.Limiter
	status   StatusSink
	log      *slog.Logger

	universe []string
	refreshes []*HistoryRefresh
}

// New builds a Collector. universe is the static symbol list to poll every
// tick (spec §4.4 step 1); refreshes are the C4 warm-up series.
func New(provider model.QuoteProvider, cache model.QuoteCache, history model.HistoryCache, clk *clock.Clock, cfg Config, universe []string, refreshes []*HistoryRefresh, status StatusSink, log *slog.Logger) *Collector {
	return &Collector{
		provider: provider, cache: cache, history: history, clk: clk, cfg: cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxReqPerSec), 1),
		status: status, universe: universe, refreshes: refreshes, log: log,
	}
}

// Tick runs one collection cycle: batches the universe, fetches in
// parallel under the rate limiter, commits to C3 in one call, and (for any
// due HistoryRefresh) warms C4. Failure of an individual batch doesn't
// fail the tick; a whole-tick failure is recorded via StatusSink.
func (c *Collector) Tick(ctx context.Context, now time.Time) error {
	tickMinute := c.clk.TruncateToMinute(now)
	batches := chunk(c.universe, c.cfg.BatchSize)

	merged := make(map[string]model.Quote)
	var mu sync.Mutex
	var wg sync.WaitGroup
	batchErrs := make([]error, len(batches))

	for i, batch := range batches {
		i, batch := i, batch
		wg.Add(1)
		go func() {
			defer wg.Done()
			quotes, err := c.fetchBatchWithRetry(ctx, batch)
			if err != nil {
				batchErrs[i] = err
				return
			}
			mu.Lock()
			for sym, q := range quotes {
				merged[sym] = q
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range batchErrs {
		if err != nil {
			failed++
			if c.log != nil {
				c.log.Warn("collector: batch fetch failed", slog.Any("err", err))
			}
		}
	}

	if len(merged) == 0 && failed > 0 {
		status := fmt.Sprintf("error: all %d batches failed", failed)
		c.recordStatus(tickMinute, status)
		return fmt.Errorf("collector: tick failed, all batches errored")
	}

	if err := c.cache.PutBatch(ctx, merged, tickMinute); err != nil {
		status := fmt.Sprintf("error: %v", err)
		c.recordStatus(tickMinute, status)
		return fmt.Errorf("collector: put_batch: %w", err)
	}

	c.refreshHistory(ctx, now)

	status := "ok"
	if failed > 0 {
		status = fmt.Sprintf("ok: %d/%d batches failed", failed, len(batches))
	}
	c.recordStatus(tickMinute, status)
	return nil
}

func (c *Collector) recordStatus(ts time.Time, status string) {
	if c.status != nil {
		c.status.SetCollectionStatus(ts, status)
	}
}

// fetchBatchWithRetry calls the provider for one batch, retrying up to
// MaxRetries with exponential backoff (spec §4.4 step 2).
func (c *Collector) fetchBatchWithRetry(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	var lastErr error
	backoff := c.cfg.RetryBase

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		quotes, err := c.provider.QuoteBatch(ctx, symbols)
		if err == nil {
			return quotes, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("collector: batch failed after %d retries: %w", c.cfg.MaxRetries, lastErr)
}

// refreshHistory warms any due HistoryRefresh series into C4 (spec §4.4
// step 5). Best-effort: a failed refresh is logged, not fatal to the tick.
func (c *Collector) refreshHistory(ctx context.Context, now time.Time) {
	for _, r := range c.refreshes {
		if !r.lastRun.IsZero() && now.Sub(r.lastRun) < r.Cadence {
			continue
		}
		from := now.Add(-r.Lookback)
		candles, err := c.provider.Historical(ctx, r.Symbol, r.Interval, from, now)
		if err != nil {
			if c.log != nil {
				c.log.Warn("collector: history refresh failed", slog.String("symbol", r.Symbol), slog.Any("err", err))
			}
			continue
		}

		key := model.HistoryKey{
			InstrumentToken: r.Symbol, Interval: r.Interval,
			FromDate: c.clk.TradeDate(from), ToDate: c.clk.TradeDate(now),
		}
		if err := c.history.Put(ctx, key, candles, r.Cadence*4); err != nil {
			if c.log != nil {
				c.log.Warn("collector: history cache put failed", slog.String("symbol", r.Symbol), slog.Any("err", err))
			}
			continue
		}
		r.lastRun = now
	}
}

func chunk(symbols []string, size int) [][]string {
	if size <= 0 {
		size = len(symbols)
	}
	var out [][]string
	for i := 0; i < len(symbols); i += size {
		end := i + size
		if end > len(symbols) {
			end = len(symbols)
		}
		out = append(out, symbols[i:end])
	}
	return out
}
