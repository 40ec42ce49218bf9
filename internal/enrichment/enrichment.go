// Package enrichment implements C11, the price-enrichment worker: for
// every alert row, backfill the price at T+2m, T+10m, and end-of-day by
// looking up the exact-timestamp historical candle — never the live last
// price, which would answer a different question ("what is the price
// now" instead of "what was the price at that instant"). Idempotent per
// slot: a slot already populated is never refetched.
package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nsewatch/internal/model"
)

// Config holds C11's tuning (spec §6).
type Config struct {
	MaxSlotRetries int // default 5
	EODHour        int // IST hour the end-of-day slot becomes fetchable, default 15
	EODMinute      int // default 30
}

// DefaultConfig matches spec §6.
func DefaultConfig() Config {
	return Config{MaxSlotRetries: 5, EODHour: 15, EODMinute: 30}
}

// Worker is C11.
type Worker struct {
	store    model.EnrichmentStore
	alertLog model.AlertLog
	provider model.QuoteProvider
	cfg      Config
	log      *slog.Logger
}

// New builds a Worker.
func New(store model.EnrichmentStore, alertLog model.AlertLog, provider model.QuoteProvider, cfg Config, log *slog.Logger) *Worker {
	return &Worker{store: store, alertLog: alertLog, provider: provider, cfg: cfg, log: log}
}

// HandleJob processes one freshly-dequeued enrichment job: creates its
// record if one doesn't exist yet, attempts whichever slots are already
// due, and persists the result. It always ACKs (returns nil) once the
// record is durably saved — a job is only "lost" if the initial Append
// that produced it never reached the log, which sink.Fanout already
// guards against. Slots not yet due (T+10m and EOD are rarely fetchable
// the instant an alert fires) are left for the periodic Sweep to pick up
// via PendingSince, since the queue's redelivery is a crash-recovery
// mechanism, not a multi-minute scheduler.
func (w *Worker) HandleJob(ctx context.Context, job model.EnrichmentJob) error {
	rec, err := w.loadOrCreate(ctx, job)
	if err != nil {
		return err
	}
	before := rec.Status
	w.fillDueSlots(ctx, rec, time.Now())
	rec.Recompute()
	if err := w.store.Save(ctx, *rec); err != nil {
		return fmt.Errorf("enrichment: save record: %w", err)
	}
	if rec.Status != before {
		w.pushStatus(ctx, rec)
	}
	return nil
}

// Sweep re-attempts every non-complete record whose alert fired before
// cutoff (spec §4.10's periodic catch-up for slots that matured after
// the original job was ACKed). Intended to be driven by C12 on a short
// cadence (e.g. every minute).
func (w *Worker) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	pending, err := w.store.PendingSince(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("enrichment: sweep load: %w", err)
	}

	now := time.Now()
	filled := 0
	for i := range pending {
		rec := &pending[i]
		before := rec.Status
		w.fillDueSlots(ctx, rec, now)
		rec.Recompute()
		if err := w.store.Save(ctx, *rec); err != nil {
			if w.log != nil {
				w.log.Error("enrichment: sweep save failed", slog.Int64("row_id", rec.RowID), slog.Any("err", err))
			}
			continue
		}
		if rec.Status != before {
			w.pushStatus(ctx, rec)
			filled++
		}
	}
	return filled, nil
}

// pushStatus mirrors a record's freshly recomputed status onto the alert
// log's status column (spec §6's alerts sheet carries its own status
// cell, separate from the enrichment store).
func (w *Worker) pushStatus(ctx context.Context, rec *model.EnrichmentRecord) {
	if err := w.alertLog.SetStatus(ctx, rec.RowID, rec.Status); err != nil && w.log != nil {
		w.log.Error("enrichment: log status update failed", slog.Int64("row_id", rec.RowID), slog.Any("err", err))
	}
}

func (w *Worker) loadOrCreate(ctx context.Context, job model.EnrichmentJob) (*model.EnrichmentRecord, error) {
	rec, err := w.store.Load(ctx, job.RowID)
	if err != nil {
		return nil, fmt.Errorf("enrichment: load record: %w", err)
	}
	if rec == nil {
		rec = &model.EnrichmentRecord{RowID: job.RowID, Symbol: job.Symbol, AlertTS: job.AlertTS, Status: model.StatusPending}
	}
	return rec, nil
}

func (w *Worker) fillDueSlots(ctx context.Context, rec *model.EnrichmentRecord, now time.Time) {
	w.attemptSlot(ctx, rec, model.SlotPlus2m, rec.AlertTS.Add(2*time.Minute), now, &rec.PricePlus2m, &rec.RetryCount2m)
	w.attemptSlot(ctx, rec, model.SlotPlus10m, rec.AlertTS.Add(10*time.Minute), now, &rec.PricePlus10m, &rec.RetryCount10m)
	w.attemptSlot(ctx, rec, model.SlotEOD, w.eodTime(rec.AlertTS), now, &rec.PriceEOD, &rec.RetryCountEOD)
}

func (w *Worker) attemptSlot(ctx context.Context, rec *model.EnrichmentRecord, slot model.EnrichmentSlot, target, now time.Time, dest **float64, retries *int) {
	if *dest != nil {
		return // idempotent: already populated
	}
	if now.Before(target) {
		return // not due yet
	}
	if *retries >= w.cfg.MaxSlotRetries {
		return // exhausted; leave pending for operator visibility
	}

	lookup := w.lookupPriceAt
	if slot == model.SlotEOD {
		lookup = w.lookupEODPrice
	}
	price, ok, err := lookup(ctx, rec.Symbol, target)
	if err != nil || !ok {
		*retries++
		if w.log != nil {
			w.log.Warn("enrichment: slot fetch failed", slog.Int64("row_id", rec.RowID), slog.String("slot", string(slot)), slog.Int("retry", *retries), slog.Any("err", err))
		}
		return
	}

	*dest = &price
	if err := w.alertLog.UpdateSlot(ctx, rec.RowID, slot, price); err != nil && w.log != nil {
		w.log.Error("enrichment: log slot update failed", slog.Int64("row_id", rec.RowID), slog.String("slot", string(slot)), slog.Any("err", err))
	}
}

// lookupPriceAt fetches the 1-minute candle covering target and returns
// its close as the price "at" that instant.
func (w *Worker) lookupPriceAt(ctx context.Context, symbol string, target time.Time) (float64, bool, error) {
	from := target.Add(-time.Minute)
	candles, err := w.provider.Historical(ctx, symbol, model.Interval1m, from, target.Add(time.Minute))
	if err != nil {
		return 0, false, err
	}
	for _, c := range candles {
		if !c.BucketStart.After(target) && c.BucketStart.Add(time.Minute).After(target) {
			return c.Close, true, nil
		}
	}
	return 0, false, nil
}

// lookupEODPrice fetches the daily candle covering target's trade date and
// returns its close. Unlike the +2m/+10m slots, which ask "what was the
// price at this exact minute," the EOD slot asks "what did the instrument
// close at that day" — a materially different lookup, not a 1-minute bar
// sampled at 15:30.
func (w *Worker) lookupEODPrice(ctx context.Context, symbol string, target time.Time) (float64, bool, error) {
	dayStart := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, target.Location())
	candles, err := w.provider.Historical(ctx, symbol, model.Interval1d, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return 0, false, err
	}
	if len(candles) == 0 {
		return 0, false, nil
	}
	return candles[len(candles)-1].Close, true, nil
}

func (w *Worker) eodTime(alertTS time.Time) time.Time {
	y, m, d := alertTS.Date()
	return time.Date(y, m, d, w.cfg.EODHour, w.cfg.EODMinute, 0, 0, alertTS.Location())
}
