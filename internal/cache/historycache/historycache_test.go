package historycache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"nsewatch/internal/cache/retry"
	"nsewatch/internal/model"
)

func openTestCache(t *testing.T, rowCap int) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	c, err := Open(path, retry.DefaultConfig(), rowCap, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleKey(token string) model.HistoryKey {
	return model.HistoryKey{InstrumentToken: token, Interval: model.Interval1d, FromDate: "2026-07-01", ToDate: "2026-07-31"}
}

func TestCache_GetMissOnEmptyCache(t *testing.T) {
	c := openTestCache(t, 0)
	_, ok, err := c.Get(context.Background(), sampleKey("NSE:NIFTY 50"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected a miss on an empty cache")
	}
}

func TestCache_PutThenGetHit(t *testing.T) {
	c := openTestCache(t, 0)
	ctx := context.Background()
	key := sampleKey("NSE:NIFTY 50")
	candles := []model.Candle{{Close: 24500, BucketStart: time.Now()}}

	if err := c.Put(ctx, key, candles, DefaultTTL); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected a hit after Put")
	}
	if len(got) != 1 || got[0].Close != 24500 {
		t.Fatalf("unexpected candles: %+v", got)
	}
}

func TestCache_GetMissOnExpiredTTL(t *testing.T) {
	c := openTestCache(t, 0)
	ctx := context.Background()
	key := sampleKey("NSE:NIFTY 50")

	if err := c.Put(ctx, key, []model.Candle{{Close: 1}}, -time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected a miss once the TTL has expired")
	}
}

func TestCache_PutUpsertsExistingKey(t *testing.T) {
	c := openTestCache(t, 0)
	ctx := context.Background()
	key := sampleKey("NSE:NIFTY 50")

	c.Put(ctx, key, []model.Candle{{Close: 1}}, DefaultTTL)
	c.Put(ctx, key, []model.Candle{{Close: 2}}, DefaultTTL)

	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0].Close != 2 {
		t.Fatalf("expected the second Put to overwrite the first, got %+v", got)
	}
}

func TestCache_EvictsLRUAtRowCap(t *testing.T) {
	c := openTestCache(t, 1)
	ctx := context.Background()

	keyA := sampleKey("NSE:A")
	keyB := sampleKey("NSE:B")

	if err := c.Put(ctx, keyA, []model.Candle{{Close: 1}}, DefaultTTL); err != nil {
		t.Fatalf("Put A: %v", err)
	}
	if err := c.Put(ctx, keyB, []model.Candle{{Close: 2}}, DefaultTTL); err != nil {
		t.Fatalf("Put B: %v", err)
	}

	if _, ok, _ := c.Get(ctx, keyA); ok {
		t.Fatal("expected key A to be evicted once the 1-row cap was exceeded")
	}
	if _, ok, _ := c.Get(ctx, keyB); !ok {
		t.Fatal("expected key B to still be present")
	}
}
