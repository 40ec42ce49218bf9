// Package queue implements the at-least-once handoff from the alert sink
// fanout (C10) to the price-enrichment worker (C11): a single Redis
// Stream with one consumer group, guarded by a circuit breaker so a Redis
// outage degrades to local buffering instead of dropping jobs.
//
// Adapted from the teacher's internal/store/redis reader/writer pair
// (XAdd producer, XReadGroup/XAck/XClaim/XPendingExt consumer with a PEL
// reclaimer loop), retyped from candle/TF-candle payloads to
// model.EnrichmentJob and collapsed from many streams to the one
// "enrichment:jobs" stream this system needs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"nsewatch/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const streamKey = "enrichment:jobs"

// Config configures the Redis connection and consumer identity.
type Config struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // default "enrichment"
	ConsumerName  string // default "worker-1"
	MaxLen        int64  // stream trim target, default 200000 (a trading day's worth of alerts, generously)
}

// Queue is C11's concrete model.EnrichmentQueue.
type Queue struct {
	client *goredis.Client
	group  string
	name   string
	maxLen int64
	log    *slog.Logger
}

// Open connects to Redis and ensures the consumer group exists.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Queue, error) {
	client := goredis.NewClient(&goredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("queue: redis ping: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "enrichment"
	}
	name := cfg.ConsumerName
	if name == "" {
		name = "worker-1"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 200000
	}

	if err := client.XGroupCreateMkStream(ctx, streamKey, group, "$").Err(); err != nil {
		if err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return nil, fmt.Errorf("queue: xgroup create: %w", err)
		}
	}

	return &Queue{client: client, group: group, name: name, maxLen: maxLen, log: log}, nil
}

// Enqueue publishes job onto the stream.
func (q *Queue) Enqueue(ctx context.Context, job model.EnrichmentJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	return q.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
}

// Consume runs handler over every job delivered to this consumer, blocking
// until ctx is cancelled. It recovers this consumer's own pending entries
// first, then reads new messages, ACKing only after handler succeeds so a
// crash mid-handling redelivers the job (at-least-once, per spec §4.11).
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, model.EnrichmentJob) error) error {
	if err := q.recoverPending(ctx, handler); err != nil && q.log != nil {
		q.log.Warn("enrichment queue: pending recovery error", slog.Any("err", err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := q.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.name,
			Streams:  []string{streamKey, ">"},
			Count:    50,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			if q.log != nil {
				q.log.Warn("enrichment queue: xreadgroup error", slog.Any("err", err))
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *Queue) handleMessage(ctx context.Context, msg goredis.XMessage, handler func(context.Context, model.EnrichmentJob) error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		q.client.XAck(ctx, streamKey, q.group, msg.ID)
		return
	}

	var job model.EnrichmentJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		if q.log != nil {
			q.log.Error("enrichment queue: unmarshal job failed, acking to avoid poison pill", slog.Any("err", err))
		}
		q.client.XAck(ctx, streamKey, q.group, msg.ID)
		return
	}

	if err := handler(ctx, job); err != nil {
		if q.log != nil {
			q.log.Warn("enrichment queue: handler failed, leaving unacked for redelivery", slog.Int64("row_id", job.RowID), slog.Any("err", err))
		}
		return
	}
	q.client.XAck(ctx, streamKey, q.group, msg.ID)
}

// recoverPending drains this consumer's own pending-entry list (PEL) left
// over from a prior crash.
func (q *Queue) recoverPending(ctx context.Context, handler func(context.Context, model.EnrichmentJob) error) error {
	for {
		pending, err := q.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
			Stream: streamKey, Group: q.group, Start: "-", End: "+", Count: 100, Consumer: q.name,
		}).Result()
		if err != nil || len(pending) == 0 {
			return err
		}

		ids := make([]string, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
		}
		claimed, err := q.client.XClaim(ctx, &goredis.XClaimArgs{
			Stream: streamKey, Group: q.group, Consumer: q.name, MinIdle: 0, Messages: ids,
		}).Result()
		if err != nil {
			return err
		}
		for _, msg := range claimed {
			q.handleMessage(ctx, msg, handler)
		}
		if len(claimed) < len(ids) {
			return nil
		}
	}
}

// ReclaimStale steals PEL entries idle longer than minIdle from dead
// consumers in the group and hands them to handler. Intended to run on a
// periodic ticker alongside Consume.
func (q *Queue) ReclaimStale(ctx context.Context, minIdle time.Duration, handler func(context.Context, model.EnrichmentJob) error) (int, error) {
	pending, err := q.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: streamKey, Group: q.group, Start: "-", End: "+", Count: 100, Idle: minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0, err
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != q.name {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return 0, nil
	}

	claimed, err := q.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream: streamKey, Group: q.group, Consumer: q.name, MinIdle: minIdle, Messages: staleIDs,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: xclaim: %w", err)
	}
	for _, msg := range claimed {
		q.handleMessage(ctx, msg, handler)
	}
	return len(claimed), nil
}

// StartPELReclaimer runs ReclaimStale on a periodic ticker until ctx is
// cancelled.
func (q *Queue) StartPELReclaimer(ctx context.Context, interval, minIdle time.Duration, handler func(context.Context, model.EnrichmentJob) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.ReclaimStale(ctx, minIdle, handler)
			if err != nil && q.log != nil {
				q.log.Warn("enrichment queue: PEL reclaim error", slog.Any("err", err))
			}
			if n > 0 && q.log != nil {
				q.log.Info("enrichment queue: reclaimed stale PEL entries", slog.Int("count", n))
			}
		}
	}
}

// Close closes the underlying Redis client.
func (q *Queue) Close() error {
	return q.client.Close()
}
