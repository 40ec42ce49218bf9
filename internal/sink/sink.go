// Package sink implements C10, the alert fanout: persist to the
// spreadsheet log, hand the row off to the enrichment queue, and notify —
// in that order, with the ordering itself as the invariant (spec §4.9):
// if the log append fails the alert is dropped entirely (nothing to
// enrich, nothing worth notifying about without a durable row); queue and
// notify failures are logged but never roll back the log append.
package sink

import (
	"context"
	"fmt"
	"log/slog"

	"nsewatch/internal/model"
)

// Fanout is C10.
type Fanout struct {
	log      model.AlertLog
	queue    model.EnrichmentQueue
	notifier model.Notifier
	logger   *slog.Logger
}

// New builds a Fanout from its three collaborators.
func New(alertLog model.AlertLog, queue model.EnrichmentQueue, notifier model.Notifier, logger *slog.Logger) *Fanout {
	return &Fanout{log: alertLog, queue: queue, notifier: notifier, logger: logger}
}

// Emit appends alert to the log, enqueues its enrichment job, and
// notifies — best-effort past the log append. Returns an error only when
// the log append itself fails, since that is the one step whose failure
// means the alert never existed (spec §4.9, §7).
func (f *Fanout) Emit(ctx context.Context, alert model.Alert) error {
	rowID, err := f.log.Append(ctx, alert)
	if err != nil {
		return fmt.Errorf("sink: log append failed, dropping alert: %w", err)
	}
	alert.RowID = rowID

	if err := f.queue.Enqueue(ctx, model.EnrichmentJob{RowID: rowID, Symbol: alert.Symbol, AlertTS: alert.Timestamp}); err != nil {
		f.logger.Error("sink: enrichment enqueue failed", slog.Int64("row_id", rowID), slog.String("symbol", alert.Symbol), slog.Any("err", err))
	}

	payload := formatPayload(alert)
	tags := map[string]string{"kind": string(alert.Kind), "symbol": alert.Symbol}
	if err := f.notifier.Send(ctx, payload, tags); err != nil {
		f.logger.Warn("sink: notify failed", slog.Int64("row_id", rowID), slog.String("symbol", alert.Symbol), slog.Any("err", err))
	}

	return nil
}

// formatPayload renders a human-readable notification body (spec §4.9,
// §6's telegram message shape).
func formatPayload(a model.Alert) string {
	base := fmt.Sprintf("%s %s %s %.2f%% (%.2f -> %.2f)", a.Symbol, a.Kind, a.Direction, a.MagnitudePct, a.ReferencePrice, a.CurrentPrice)
	if a.VolumeMultiple > 0 {
		base += fmt.Sprintf(" vol x%.1f", a.VolumeMultiple)
	}
	if a.OISnapshot != nil {
		base += fmt.Sprintf(" | OI %s %.1f%% (%s/%s)", a.OISnapshot.Pattern, a.OISnapshot.OIChangePct, a.OISnapshot.Strength, a.OISnapshot.Priority)
	}
	return base
}
