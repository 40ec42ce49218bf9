package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"nsewatch/internal/model"
)

// BufferedQueue wraps a Queue with a circuit breaker: while Redis is
// unreachable, Enqueue buffers jobs locally instead of blocking the sink
// fanout (C10), and flushes them once the breaker closes again. Adapted
// from the teacher's redis.BufferedWriter, generalized from "candle/TF
// candle payload" to model.EnrichmentJob.
type BufferedQueue struct {
	q  *Queue
	cb *CircuitBreaker

	mu     sync.Mutex
	buffer []model.EnrichmentJob
	maxBuf int

	log *slog.Logger

	OnBuffer func()
	OnFlush  func(count int)
}

// NewBufferedQueue wraps q with a circuit breaker that flushes the local
// buffer on every close transition.
func NewBufferedQueue(q *Queue, cb *CircuitBreaker, maxBuf int, log *slog.Logger) *BufferedQueue {
	if maxBuf <= 0 {
		maxBuf = 10000
	}
	bq := &BufferedQueue{q: q, cb: cb, buffer: make([]model.EnrichmentJob, 0, 256), maxBuf: maxBuf, log: log}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bq.flush(context.Background())
		}
	}
	return bq
}

// Enqueue publishes job through the circuit breaker, buffering locally on
// an open circuit rather than returning an error to the caller — a
// buffered alert is still destined to be enriched; only a dropped one is
// lost.
func (bq *BufferedQueue) Enqueue(ctx context.Context, job model.EnrichmentJob) error {
	err := bq.cb.Execute(func() error {
		return bq.q.Enqueue(ctx, job)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bq.bufferJob(job)
		return nil
	}
	return err
}

func (bq *BufferedQueue) bufferJob(job model.EnrichmentJob) {
	bq.mu.Lock()
	defer bq.mu.Unlock()
	if len(bq.buffer) >= bq.maxBuf {
		bq.buffer = bq.buffer[1:]
	}
	bq.buffer = append(bq.buffer, job)
	if bq.OnBuffer != nil {
		bq.OnBuffer()
	}
}

func (bq *BufferedQueue) flush(ctx context.Context) {
	bq.mu.Lock()
	if len(bq.buffer) == 0 {
		bq.mu.Unlock()
		return
	}
	toFlush := bq.buffer
	bq.buffer = make([]model.EnrichmentJob, 0, 256)
	bq.mu.Unlock()

	flushed := 0
	for _, job := range toFlush {
		if err := bq.q.Enqueue(ctx, job); err != nil {
			if bq.log != nil {
				bq.log.Error("buffered queue: flush enqueue failed", slog.Int64("row_id", job.RowID), slog.Any("err", err))
			}
			continue
		}
		flushed++
	}
	if bq.log != nil {
		bq.log.Info("buffered queue: flushed buffered jobs", slog.Int("count", flushed))
	}
	if bq.OnFlush != nil {
		bq.OnFlush(flushed)
	}
}

// PendingCount returns the number of jobs buffered locally.
func (bq *BufferedQueue) PendingCount() int {
	bq.mu.Lock()
	defer bq.mu.Unlock()
	return len(bq.buffer)
}

// Consume delegates straight to the wrapped Queue; consumption doesn't go
// through the circuit breaker since a stalled consumer isn't a publish
// failure.
func (bq *BufferedQueue) Consume(ctx context.Context, handler func(context.Context, model.EnrichmentJob) error) error {
	return bq.q.Consume(ctx, handler)
}

// Close closes the wrapped Queue. Any still-buffered jobs are dropped;
// they were already lost to an open circuit, not to this call.
func (bq *BufferedQueue) Close() error {
	return bq.q.Close()
}
