package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"nsewatch/internal/clock"
)

type fakeNotifier struct {
	calls   int
	payload []string
	err     error
}

func (f *fakeNotifier) Send(ctx context.Context, payload string, tags map[string]string) error {
	f.calls++
	f.payload = append(f.payload, payload)
	return f.err
}

func TestLogNotifier_SendNeverErrors(t *testing.T) {
	n := NewLogNotifier(nil)
	if err := n.Send(context.Background(), "hello", nil); err != nil {
		t.Fatalf("LogNotifier.Send: %v", err)
	}
}

func TestFanout_SendsToEveryNotifier(t *testing.T) {
	f := NewFanout(nil)
	a := &fakeNotifier{}
	b := &fakeNotifier{}
	f.Add("a", a)
	f.Add("b", b)

	if err := f.Send(context.Background(), "payload", nil); err != nil {
		t.Fatalf("Fanout.Send: %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("expected both notifiers to receive the send, got a=%d b=%d", a.calls, b.calls)
	}
}

func TestFanout_ContinuesPastOneFailure(t *testing.T) {
	f := NewFanout(nil)
	failing := &fakeNotifier{err: errors.New("boom")}
	ok := &fakeNotifier{}
	f.Add("failing", failing)
	f.Add("ok", ok)

	err := f.Send(context.Background(), "payload", nil)
	if err == nil {
		t.Fatal("expected the first error to be returned")
	}
	if ok.calls != 1 {
		t.Fatal("expected the second notifier to still be attempted after the first failed")
	}
}

func TestHealthPinger_DedupsWithinSameTradeDate(t *testing.T) {
	clk := clock.New(clock.IST, clock.NewHolidaySet(), false, nil)
	inner := &fakeNotifier{}
	p := NewHealthPinger(inner, clk)

	now := time.Date(2026, 7, 31, 10, 0, 0, 0, clock.IST)
	if err := p.PingError(context.Background(), "redis_down", "redis is down", now); err != nil {
		t.Fatalf("PingError: %v", err)
	}
	if err := p.PingError(context.Background(), "redis_down", "redis is down again", now.Add(time.Hour)); err != nil {
		t.Fatalf("PingError: %v", err)
	}

	if inner.calls != 1 {
		t.Fatalf("expected only 1 send for the same error kind on the same trade date, got %d", inner.calls)
	}
}

func TestHealthPinger_SendsAgainOnNewTradeDate(t *testing.T) {
	clk := clock.New(clock.IST, clock.NewHolidaySet(), false, nil)
	inner := &fakeNotifier{}
	p := NewHealthPinger(inner, clk)

	day1 := time.Date(2026, 7, 31, 10, 0, 0, 0, clock.IST)
	day2 := time.Date(2026, 8, 3, 10, 0, 0, 0, clock.IST)

	p.PingError(context.Background(), "redis_down", "m1", day1)
	p.PingError(context.Background(), "redis_down", "m2", day2)

	if inner.calls != 2 {
		t.Fatalf("expected a fresh send on a new trade date, got %d calls", inner.calls)
	}
}

func TestHealthPinger_DistinctKindsNotDeduped(t *testing.T) {
	clk := clock.New(clock.IST, clock.NewHolidaySet(), false, nil)
	inner := &fakeNotifier{}
	p := NewHealthPinger(inner, clk)

	now := time.Date(2026, 7, 31, 10, 0, 0, 0, clock.IST)
	p.PingError(context.Background(), "redis_down", "m1", now)
	p.PingError(context.Background(), "provider_timeout", "m2", now)

	if inner.calls != 2 {
		t.Fatalf("expected distinct error kinds to each send once, got %d calls", inner.calls)
	}
}
