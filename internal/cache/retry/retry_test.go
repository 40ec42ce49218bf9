package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"nsewatch/internal/model"
)

type lockedErr struct{}

func (lockedErr) Error() string { return "database is locked" }

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, DefaultConfig(), "k", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_NonLockedErrorIsNotRetried(t *testing.T) {
	calls := 0
	wantErr := errors.New("permission denied")
	err := Do(context.Background(), nil, DefaultConfig(), "k", func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected the original error to pass through unwrapped, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retry for a non-lock error, got %d calls", calls)
	}
}

func TestDo_RetriesLockedThenSucceeds(t *testing.T) {
	cfg := Config{Attempts: 3, BaseDelay: time.Millisecond, WarnAfter: time.Hour, PerAttempt: time.Second}
	calls := 0
	err := Do(context.Background(), nil, cfg, "k", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return lockedErr{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetriesAndReturnsErrCacheLocked(t *testing.T) {
	cfg := Config{Attempts: 2, BaseDelay: time.Millisecond, WarnAfter: time.Hour, PerAttempt: time.Second}
	calls := 0
	err := Do(context.Background(), nil, cfg, "mykey", func(ctx context.Context) error {
		calls++
		return lockedErr{}
	})
	if calls != cfg.Attempts {
		t.Fatalf("expected %d attempts, got %d", cfg.Attempts, calls)
	}
	var locked *model.ErrCacheLocked
	if !errors.As(err, &locked) {
		t.Fatalf("expected *model.ErrCacheLocked, got %v (%T)", err, err)
	}
	if locked.Key != "mykey" || locked.Attempts != cfg.Attempts {
		t.Fatalf("unexpected ErrCacheLocked: %+v", locked)
	}
}

func TestDo_ContextCancelledDuringBackoffWait(t *testing.T) {
	cfg := Config{Attempts: 3, BaseDelay: time.Hour, WarnAfter: time.Hour, PerAttempt: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, nil, cfg, "k", func(ctx context.Context) error {
		calls++
		return lockedErr{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt before the backoff wait was cancelled, got %d", calls)
	}
}
