package queue

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_ClosedAllowsCalls(t *testing.T) {
	cb := NewCircuitBreaker("enrichment_queue", 3, time.Minute, nil)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Fatalf("expected StateClosed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_TripsAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("enrichment_queue", 2, time.Minute, nil)
	failing := errors.New("boom")

	cb.Execute(func() error { return failing })
	if cb.CurrentState() != StateClosed {
		t.Fatalf("expected still closed after 1 failure, got %v", cb.CurrentState())
	}
	if got := cb.Failures(); got != 1 {
		t.Fatalf("expected Failures()=1, got %d", got)
	}

	cb.Execute(func() error { return failing })
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected StateOpen after 2 failures, got %v", cb.CurrentState())
	}

	err := cb.Execute(func() error { t.Fatal("fn must not run while open"); return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected an error matching ErrCircuitOpen, got %v", err)
	}
	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) || openErr.Name != "enrichment_queue" {
		t.Fatalf("expected a *CircuitOpenError naming enrichment_queue, got %+v", err)
	}
}

func TestCircuitBreaker_HalfOpenProbeAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker("enrichment_queue", 1, time.Millisecond, nil)
	failing := errors.New("boom")

	cb.Execute(func() error { return failing })
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open, got %v", cb.CurrentState())
	}

	time.Sleep(5 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected the half-open probe to succeed, got %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Fatalf("expected StateClosed after a successful probe, got %v", cb.CurrentState())
	}
	if got := cb.Failures(); got != 0 {
		t.Fatalf("expected failures reset to 0 after closing, got %d", got)
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker("enrichment_queue", 1, time.Millisecond, nil)
	failing := errors.New("boom")

	cb.Execute(func() error { return failing })
	time.Sleep(5 * time.Millisecond)

	cb.Execute(func() error { return failing })
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected a failed probe to reopen the breaker, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OnStateChangeFires(t *testing.T) {
	cb := NewCircuitBreaker("enrichment_queue", 1, time.Minute, nil)
	var got []State
	cb.OnStateChange = func(from, to State) { got = append(got, to) }

	cb.Execute(func() error { return errors.New("boom") })

	if len(got) != 1 || got[0] != StateOpen {
		t.Fatalf("expected a single transition to StateOpen, got %v", got)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(99): "unknown"}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
