// Package historycache implements C4: a durable store of OHLCV candle
// series keyed by (instrument_token, interval, from_date, to_date), with
// configurable per-key TTL and LRU eviction when the row-count cap is
// exceeded. Same storage and retry discipline as C3 (spec §4.3).
package historycache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"nsewatch/internal/cache/retry"
	"nsewatch/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Cache is C4's concrete implementation of model.HistoryCache.
type Cache struct {
	db       *sql.DB
	retryCfg retry.Config
	log      *slog.Logger
	rowCap   int
}

// Open opens (creating if absent) a WAL-mode history_cache database.
// rowCap bounds the table size; once exceeded, the least-recently-used
// key is evicted on the next Put.
func Open(path string, retryCfg retry.Config, rowCap int, log *slog.Logger) (*Cache, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("historycache: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS history_cache (
			instrument_token TEXT    NOT NULL,
			interval         TEXT    NOT NULL,
			from_date        TEXT    NOT NULL,
			to_date          TEXT    NOT NULL,
			candles          TEXT    NOT NULL,
			expires_at       INTEGER NOT NULL,
			last_accessed_at INTEGER NOT NULL,
			PRIMARY KEY (instrument_token, interval, from_date, to_date)
		);
	`); err != nil {
		return nil, fmt.Errorf("historycache: schema: %w", err)
	}

	if rowCap <= 0 {
		rowCap = 50000
	}
	return &Cache{db: db, retryCfg: retryCfg, log: log, rowCap: rowCap}, nil
}

// Get returns the cached candle series for key if present and unexpired.
// On hit it touches last_accessed_at for the LRU policy. On miss the
// caller is responsible for invoking the provider and calling Put (spec
// §4.3's "hit miss policy").
func (c *Cache) Get(ctx context.Context, key model.HistoryKey) ([]model.Candle, bool, error) {
	var data string
	var expiresAt int64
	err := c.db.QueryRowContext(ctx, `
		SELECT candles, expires_at FROM history_cache
		WHERE instrument_token = ? AND interval = ? AND from_date = ? AND to_date = ?
	`, key.InstrumentToken, string(key.Interval), key.FromDate, key.ToDate).Scan(&data, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if time.Now().Unix() >= expiresAt {
		return nil, false, nil
	}

	var candles []model.Candle
	if err := json.Unmarshal([]byte(data), &candles); err != nil {
		return nil, false, err
	}

	_, _ = c.db.ExecContext(ctx, `
		UPDATE history_cache SET last_accessed_at = ?
		WHERE instrument_token = ? AND interval = ? AND from_date = ? AND to_date = ?
	`, time.Now().Unix(), key.InstrumentToken, string(key.Interval), key.FromDate, key.ToDate)

	return candles, true, nil
}

// Put upserts the candle series for key with the given TTL, evicting the
// least-recently-used row first if the table is at its row cap.
func (c *Cache) Put(ctx context.Context, key model.HistoryKey, candles []model.Candle, ttl time.Duration) error {
	return retry.Do(ctx, c.log, c.retryCfg, "history_cache.put", func(ctx context.Context) error {
		data, err := json.Marshal(candles)
		if err != nil {
			return err
		}

		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_cache`).Scan(&count); err != nil {
			tx.Rollback()
			return err
		}
		if count >= c.rowCap {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM history_cache WHERE rowid IN (
					SELECT rowid FROM history_cache ORDER BY last_accessed_at ASC LIMIT 1
				)
			`); err != nil {
				tx.Rollback()
				return err
			}
			if c.log != nil {
				c.log.Info("history cache evicted LRU row at capacity", slog.Int("row_cap", c.rowCap))
			}
		}

		now := time.Now()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO history_cache (instrument_token, interval, from_date, to_date, candles, expires_at, last_accessed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(instrument_token, interval, from_date, to_date) DO UPDATE SET
				candles = excluded.candles, expires_at = excluded.expires_at, last_accessed_at = excluded.last_accessed_at
		`, key.InstrumentToken, string(key.Interval), key.FromDate, key.ToDate, string(data), now.Add(ttl).Unix(), now.Unix())
		if err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Close releases the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// DefaultTTL and VIXHistoryTTL are the spec §4.3 defaults.
const (
	DefaultTTL    = 24 * time.Hour
	VIXHistoryTTL = 7 * 24 * time.Hour
)
