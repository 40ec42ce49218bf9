// Package persistence implements the durable stores behind C9's cooldown
// table, C7's day-start OI baselines, and C11's enrichment records — three
// small SQLite tables sharing one connection discipline. Grounded on the
// teacher's internal/store/sqlite.Writer: same WAL-mode open, single
// connection, INSERT-OR-REPLACE upsert idiom, generalized from a
// batched-channel candle writer to three synchronous keyed tables (these
// are low-frequency, per-alert/per-day writes, not a tick firehose).
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"nsewatch/internal/cache/retry"
	"nsewatch/internal/model"
)

// Store bundles the three tables behind one SQLite connection, mirroring
// quotecache/historycache's single-file-per-concern layout but collapsed
// into one file since all three tables are small and low-write-volume.
type Store struct {
	db       *sql.DB
	retryCfg retry.Config
	log      *slog.Logger
}

// Open opens (creating if absent) a WAL-mode database at path with the
// cooldown/oi_baseline/enrichment schemas.
func Open(path string, retryCfg retry.Config, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("persistence: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cooldowns (
			symbol TEXT NOT NULL,
			kind   TEXT NOT NULL,
			last_emitted_ts INTEGER NOT NULL,
			PRIMARY KEY (symbol, kind)
		);

		CREATE TABLE IF NOT EXISTS oi_baselines (
			symbol     TEXT PRIMARY KEY,
			trade_date TEXT NOT NULL,
			oi         INTEGER NOT NULL,
			price      REAL NOT NULL,
			set_at     INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS enrichment_records (
			row_id   INTEGER PRIMARY KEY,
			data     TEXT NOT NULL,
			alert_ts INTEGER NOT NULL,
			status   TEXT NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("persistence: schema: %w", err)
	}

	return &Store{db: db, retryCfg: retryCfg, log: log}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ── CooldownStore (C9) ──

// Load returns every persisted (symbol, kind) -> last_emitted_ts entry.
func (s *Store) Load(ctx context.Context) (map[model.CooldownKey]time.Time, error) {
	out := make(map[model.CooldownKey]time.Time)
	err := retry.Do(ctx, s.log, s.retryCfg, "cooldowns.load", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT symbol, kind, last_emitted_ts FROM cooldowns`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var sym, kind string
			var ts int64
			if err := rows.Scan(&sym, &kind, &ts); err != nil {
				return err
			}
			out[model.CooldownKey{Symbol: sym, Kind: model.AlertKind(kind)}] = time.Unix(ts, 0).UTC()
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: cooldowns load: %w", err)
	}
	return out, nil
}

// Save upserts one cooldown entry.
func (s *Store) Save(ctx context.Context, key model.CooldownKey, ts time.Time) error {
	err := retry.Do(ctx, s.log, s.retryCfg, "cooldowns.save", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO cooldowns (symbol, kind, last_emitted_ts) VALUES (?, ?, ?)
		`, key.Symbol, string(key.Kind), ts.Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("persistence: cooldowns save: %w", err)
	}
	return nil
}

// ── OIBaselineStore (C7) ──

// LoadBaseline returns symbol's persisted day-start baseline, or nil if
// none is set.
func (s *Store) LoadBaseline(ctx context.Context, symbol string) (*model.DayStartBaseline, error) {
	var b model.DayStartBaseline
	var setAt int64
	err := retry.Do(ctx, s.log, s.retryCfg, "oi_baselines.load", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			SELECT symbol, trade_date, oi, price, set_at FROM oi_baselines WHERE symbol = ?
		`, symbol)
		return row.Scan(&b.Symbol, &b.TradeDate, &b.OI, &b.Price, &setAt)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: oi_baselines load: %w", err)
	}
	b.SetAt = time.Unix(setAt, 0).UTC()
	return &b, nil
}

// SaveBaseline upserts symbol's day-start baseline.
func (s *Store) SaveBaseline(ctx context.Context, b model.DayStartBaseline) error {
	err := retry.Do(ctx, s.log, s.retryCfg, "oi_baselines.save", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO oi_baselines (symbol, trade_date, oi, price, set_at) VALUES (?, ?, ?, ?, ?)
		`, b.Symbol, b.TradeDate, b.OI, b.Price, b.SetAt.Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("persistence: oi_baselines save: %w", err)
	}
	return nil
}

// ── EnrichmentStore (C11) ──

// LoadRecord returns the persisted enrichment record for rowID, or nil if
// none exists yet.
func (s *Store) LoadRecord(ctx context.Context, rowID int64) (*model.EnrichmentRecord, error) {
	var data string
	err := retry.Do(ctx, s.log, s.retryCfg, "enrichment.load", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT data FROM enrichment_records WHERE row_id = ?`, rowID)
		return row.Scan(&data)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: enrichment load: %w", err)
	}
	var rec model.EnrichmentRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("persistence: enrichment unmarshal: %w", err)
	}
	return &rec, nil
}

// SaveRecord upserts rec.
func (s *Store) SaveRecord(ctx context.Context, rec model.EnrichmentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("persistence: enrichment marshal: %w", err)
	}
	err = retry.Do(ctx, s.log, s.retryCfg, "enrichment.save", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO enrichment_records (row_id, data, alert_ts, status) VALUES (?, ?, ?, ?)
		`, rec.RowID, string(data), rec.AlertTS.Unix(), string(rec.Status))
		return err
	})
	if err != nil {
		return fmt.Errorf("persistence: enrichment save: %w", err)
	}
	return nil
}

// ── model.*Store adapters ──
//
// The three ports above all name their methods Load/Save with different
// signatures, which a single Go type cannot expose at once. Each adapter
// is a zero-size wrapper around the shared Store selecting the right pair.

// CooldownAdapter satisfies model.CooldownStore.
type CooldownAdapter struct{ S *Store }

func (a CooldownAdapter) Load(ctx context.Context) (map[model.CooldownKey]time.Time, error) {
	return a.S.Load(ctx)
}
func (a CooldownAdapter) Save(ctx context.Context, key model.CooldownKey, ts time.Time) error {
	return a.S.Save(ctx, key, ts)
}

// OIBaselineAdapter satisfies model.OIBaselineStore.
type OIBaselineAdapter struct{ S *Store }

func (a OIBaselineAdapter) Load(ctx context.Context, symbol string) (*model.DayStartBaseline, error) {
	return a.S.LoadBaseline(ctx, symbol)
}
func (a OIBaselineAdapter) Save(ctx context.Context, b model.DayStartBaseline) error {
	return a.S.SaveBaseline(ctx, b)
}

// EnrichmentAdapter satisfies model.EnrichmentStore.
type EnrichmentAdapter struct{ S *Store }

func (a EnrichmentAdapter) Load(ctx context.Context, rowID int64) (*model.EnrichmentRecord, error) {
	return a.S.LoadRecord(ctx, rowID)
}
func (a EnrichmentAdapter) Save(ctx context.Context, rec model.EnrichmentRecord) error {
	return a.S.SaveRecord(ctx, rec)
}
func (a EnrichmentAdapter) PendingSince(ctx context.Context, before time.Time) ([]model.EnrichmentRecord, error) {
	return a.S.PendingSince(ctx, before)
}

// PendingSince returns every enrichment record whose alert fired before
// cutoff and whose status is not yet complete (C11's Sweep catch-up).
func (s *Store) PendingSince(ctx context.Context, cutoff time.Time) ([]model.EnrichmentRecord, error) {
	var out []model.EnrichmentRecord
	err := retry.Do(ctx, s.log, s.retryCfg, "enrichment.pending_since", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT data FROM enrichment_records WHERE alert_ts < ? AND status != ?
		`, cutoff.Unix(), string(model.StatusComplete))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var data string
			if err := rows.Scan(&data); err != nil {
				return err
			}
			var rec model.EnrichmentRecord
			if err := json.Unmarshal([]byte(data), &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: enrichment pending_since: %w", err)
	}
	return out, nil
}
