// Package quotecache implements C3: a durable, process-safe key->row
// store of the latest quote per instrument, with write-retry and
// eviction, backed by a WAL-mode SQLite database plus an in-memory
// mirror (Design Note §9's "two-tier model... in-memory tier MUST
// reflect the durable tier after a successful write").
//
// Adapted from the teacher's internal/store/sqlite.{Writer,Reader}: same
// WAL pragmas and INSERT-OR-REPLACE discipline, but PutBatch here is
// synchronous (one bounded lock acquisition per call, per spec §4.2)
// rather than the teacher's async channel-batched writer — the teacher's
// shape fits a high-frequency tick stream; C3's batches arrive once a
// minute and must complete within a single call.
package quotecache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nsewatch/internal/cache/retry"
	"nsewatch/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Cache is C3's concrete implementation of model.QuoteCache.
type Cache struct {
	db         *sql.DB
	retryCfg   retry.Config
	log        *slog.Logger

	mu     sync.RWMutex
	mirror map[string]model.CachedQuote
}

// Open opens (creating if absent) a WAL-mode quote_cache database at path.
func Open(path string, retryCfg retry.Config, log *slog.Logger) (*Cache, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("quotecache: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS quote_cache (
			symbol     TEXT PRIMARY KEY,
			quote_data TEXT NOT NULL,
			cached_at  INTEGER NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("quotecache: schema: %w", err)
	}

	c := &Cache{db: db, retryCfg: retryCfg, log: log, mirror: make(map[string]model.CachedQuote)}
	if err := c.warmMirror(); err != nil {
		return nil, fmt.Errorf("quotecache: warm mirror: %w", err)
	}
	return c, nil
}

func (c *Cache) warmMirror() error {
	rows, err := c.db.Query(`SELECT symbol, quote_data, cached_at FROM quote_cache`)
	if err != nil {
		return err
	}
	defer rows.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	for rows.Next() {
		var symbol, data string
		var cachedAtUnix int64
		if err := rows.Scan(&symbol, &data, &cachedAtUnix); err != nil {
			return err
		}
		var q model.Quote
		if err := json.Unmarshal([]byte(data), &q); err != nil {
			continue
		}
		c.mirror[symbol] = model.CachedQuote{Symbol: symbol, Quote: q, CachedAt: time.Unix(cachedAtUnix, 0).UTC()}
	}
	return rows.Err()
}

// PutBatch atomically upserts every quote by primary key (symbol) in a
// single bounded transaction — no full-table delete (spec §4.2's
// "upsert performance rule").
func (c *Cache) PutBatch(ctx context.Context, quotes map[string]model.Quote, cachedAt time.Time) error {
	if len(quotes) == 0 {
		return nil
	}

	return retry.Do(ctx, c.log, c.retryCfg, "quote_cache.put_batch", func(ctx context.Context) error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO quote_cache (symbol, quote_data, cached_at) VALUES (?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET quote_data = excluded.quote_data, cached_at = excluded.cached_at
		`)
		if err != nil {
			tx.Rollback()
			return err
		}
		defer stmt.Close()

		for symbol, q := range quotes {
			data, err := json.Marshal(q)
			if err != nil {
				tx.Rollback()
				return err
			}
			if _, err := stmt.ExecContext(ctx, symbol, string(data), cachedAt.Unix()); err != nil {
				tx.Rollback()
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			return err
		}

		// Reflect the durable write in the mirror only after it commits.
		c.mu.Lock()
		for symbol, q := range quotes {
			c.mirror[symbol] = model.CachedQuote{Symbol: symbol, Quote: q, CachedAt: cachedAt}
		}
		c.mu.Unlock()
		return nil
	})
}

// GetBatch returns the current cached row per symbol from the in-memory
// mirror; missing keys are simply absent from the result.
func (c *Cache) GetBatch(ctx context.Context, symbols []string) (map[string]model.CachedQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]model.CachedQuote, len(symbols))
	for _, s := range symbols {
		if cq, ok := c.mirror[s]; ok {
			out[s] = cq
		}
	}
	return out, nil
}

// Age returns how long ago symbol's row was cached, or ok=false if absent.
func (c *Cache) Age(symbol string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cq, ok := c.mirror[symbol]
	if !ok {
		return 0, false
	}
	return time.Since(cq.CachedAt), true
}

// Close releases the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
