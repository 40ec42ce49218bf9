// Package retry implements the lock-timeout retry wrapper shared by C3
// and C4 (spec §4.2): on a "database is locked" SQLite error, retry with
// exponential backoff (base 1s, factor 2, default 3 attempts), warning
// when a single wait exceeds 5s, erroring on exhaustion.
//
// Adapted from the teacher's internal/store/redis.CircuitBreaker state-
// machine idiom (explicit states, OnStateChange-style hooks), but the
// spec's contract here is "retry N times with backoff", not "trip and
// reject" — so this is a bounded retry loop, not a breaker.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"log/slog"
	"strings"
	"time"

	"nsewatch/internal/model"
)

// Config tunes the retry wrapper (spec §6 sqlite_* options).
type Config struct {
	Attempts   int
	BaseDelay  time.Duration
	WarnAfter  time.Duration
	PerAttempt time.Duration
}

// DefaultConfig matches the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Attempts:   3,
		BaseDelay:  time.Second,
		WarnAfter:  5 * time.Second,
		PerAttempt: 30 * time.Second,
	}
}

// Do runs fn, retrying on a "database is locked" condition with
// exponential backoff. key is used only for logging/error context.
func Do(ctx context.Context, log *slog.Logger, cfg Config, key string, fn func(context.Context) error) error {
	delay := cfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.PerAttempt)
		start := time.Now()
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if !isLocked(err) {
			return err
		}

		lastErr = err
		waited := time.Since(start)
		if waited > cfg.WarnAfter && log != nil {
			log.Warn("cache lock wait exceeded threshold",
				slog.String("key", key), slog.Duration("waited", waited), slog.Int("attempt", attempt))
		}

		if attempt == cfg.Attempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}

	if log != nil {
		log.Error("cache operation failed after retries exhausted",
			slog.String("key", key), slog.Int("attempts", cfg.Attempts), slog.Any("err", lastErr))
	}
	return &model.ErrCacheLocked{Key: key, Attempts: cfg.Attempts}
}

// isLocked inspects the error for SQLite's locked/busy condition. This is
// the one sanctioned place in the system that inspects an error by text
// (per Design Note §9 — the driver does not expose a typed sentinel for
// SQLITE_BUSY/SQLITE_LOCKED through database/sql).
func isLocked(err error) bool {
	var sqliteErr interface{ Error() string }
	if errors.As(err, &sqliteErr) {
		msg := strings.ToLower(sqliteErr.Error())
		if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
			return true
		}
	}
	return errors.Is(err, driver.ErrBadConn)
}
