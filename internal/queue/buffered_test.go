package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"nsewatch/internal/model"
)

// openCircuit trips cb open without ever invoking the wrapped Queue, so
// BufferedQueue tests can run against a nil *Queue.
func openCircuit(cb *CircuitBreaker) {
	cb.Execute(func() error { return errors.New("boom") })
}

func TestBufferedQueue_BuffersWhileCircuitOpen(t *testing.T) {
	cb := NewCircuitBreaker("enrichment_queue", 1, time.Hour, nil)
	openCircuit(cb)

	bq := NewBufferedQueue(nil, cb, 10, nil)

	if err := bq.Enqueue(context.Background(), model.EnrichmentJob{RowID: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := bq.PendingCount(); got != 1 {
		t.Fatalf("PendingCount: got %d, want 1", got)
	}
}

func TestBufferedQueue_DropsOldestPastCapacity(t *testing.T) {
	cb := NewCircuitBreaker("enrichment_queue", 1, time.Hour, nil)
	openCircuit(cb)

	bq := NewBufferedQueue(nil, cb, 2, nil)

	bq.Enqueue(context.Background(), model.EnrichmentJob{RowID: 1})
	bq.Enqueue(context.Background(), model.EnrichmentJob{RowID: 2})
	bq.Enqueue(context.Background(), model.EnrichmentJob{RowID: 3})

	if got := bq.PendingCount(); got != 2 {
		t.Fatalf("PendingCount: got %d, want 2", got)
	}
	bq.mu.Lock()
	first := bq.buffer[0].RowID
	bq.mu.Unlock()
	if first != 2 {
		t.Fatalf("expected the oldest buffered job to be dropped, front is RowID=%d", first)
	}
}

func TestBufferedQueue_OnBufferCallback(t *testing.T) {
	cb := NewCircuitBreaker("enrichment_queue", 1, time.Hour, nil)
	openCircuit(cb)

	bq := NewBufferedQueue(nil, cb, 10, nil)
	calls := 0
	bq.OnBuffer = func() { calls++ }

	bq.Enqueue(context.Background(), model.EnrichmentJob{RowID: 1})
	bq.Enqueue(context.Background(), model.EnrichmentJob{RowID: 2})

	if calls != 2 {
		t.Fatalf("expected OnBuffer to fire once per buffered job, got %d calls", calls)
	}
}
