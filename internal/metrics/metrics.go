// Package metrics exposes Prometheus counters/histograms for every
// component and a /healthz liveness endpoint. Re-themed from the
// teacher's candle-pipeline metrics (same registration/HTTP-server
// shape) onto the monitoring substrate's own signals.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector this process registers.
type Metrics struct {
	CollectorTickDur    prometheus.Histogram
	CollectorBatchFails prometheus.Counter
	CollectorTickErrors prometheus.Counter

	CacheLockWaitDur *prometheus.HistogramVec // labels: cache (quote|history|cooldown)
	CacheRetryTotal  *prometheus.CounterVec   // labels: cache, outcome (succeeded|exhausted)

	AlertsEmittedTotal     *prometheus.CounterVec // labels: kind
	AlertsSuppressedTotal  *prometheus.CounterVec // labels: kind
	OIPatternTotal         *prometheus.CounterVec // labels: pattern

	EnrichmentSlotFilled   *prometheus.CounterVec // labels: slot
	EnrichmentSlotExhausted *prometheus.CounterVec // labels: slot

	SchedulerOverrunTotal *prometheus.CounterVec // labels: monitor
	SchedulerTickDur      *prometheus.HistogramVec

	QueueCircuitBreakerState prometheus.Gauge
	QueueBufferedJobs        prometheus.Counter

	OptionEvalVetoTotal  *prometheus.CounterVec // labels: reason
	OptionEvalSignalTotal *prometheus.CounterVec // labels: signal
}

// NewMetrics registers and returns every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		CollectorTickDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "nsewatch_collector_tick_duration_seconds", Help: "Wall time for one collector tick", Buckets: prometheus.DefBuckets,
		}),
		CollectorBatchFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nsewatch_collector_batch_failures_total", Help: "Provider batch calls that failed after retries",
		}),
		CollectorTickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nsewatch_collector_tick_errors_total", Help: "Whole-tick failures recorded in the metadata row",
		}),
		CacheLockWaitDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "nsewatch_cache_lock_wait_seconds", Help: "Time spent waiting on a cache lock-timeout retry", Buckets: prometheus.DefBuckets,
		}, []string{"cache"}),
		CacheRetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsewatch_cache_retry_total", Help: "Cache operations that hit the lock-timeout retry wrapper",
		}, []string{"cache", "outcome"}),
		AlertsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsewatch_alerts_emitted_total", Help: "Alerts that passed cooldown and were emitted",
		}, []string{"kind"}),
		AlertsSuppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsewatch_alerts_suppressed_total", Help: "Candidate alerts suppressed by cooldown",
		}, []string{"kind"}),
		OIPatternTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsewatch_oi_pattern_total", Help: "OI context classifications by pattern",
		}, []string{"pattern"}),
		EnrichmentSlotFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsewatch_enrichment_slot_filled_total", Help: "Enrichment slots successfully filled",
		}, []string{"slot"}),
		EnrichmentSlotExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsewatch_enrichment_slot_exhausted_total", Help: "Enrichment slots abandoned after max_slot_retries",
		}, []string{"slot"}),
		SchedulerOverrunTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsewatch_scheduler_overrun_total", Help: "Monitor ticks skipped because the prior run was still in flight",
		}, []string{"monitor"}),
		SchedulerTickDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "nsewatch_scheduler_tick_duration_seconds", Help: "Wall time for one monitor tick", Buckets: prometheus.DefBuckets,
		}, []string{"monitor"}),
		QueueCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nsewatch_queue_circuit_breaker_state", Help: "Enrichment queue circuit breaker state (0=closed,1=open,2=half-open)",
		}),
		QueueBufferedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nsewatch_queue_buffered_jobs_total", Help: "Enrichment jobs buffered locally during a Redis outage",
		}),
		OptionEvalVetoTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsewatch_option_eval_veto_total", Help: "Option evaluator hard-veto triggers by reason",
		}, []string{"reason"}),
		OptionEvalSignalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsewatch_option_eval_signal_total", Help: "Option evaluator signals emitted",
		}, []string{"signal"}),
	}

	prometheus.MustRegister(
		m.CollectorTickDur, m.CollectorBatchFails, m.CollectorTickErrors,
		m.CacheLockWaitDur, m.CacheRetryTotal,
		m.AlertsEmittedTotal, m.AlertsSuppressedTotal, m.OIPatternTotal,
		m.EnrichmentSlotFilled, m.EnrichmentSlotExhausted,
		m.SchedulerOverrunTotal, m.SchedulerTickDur,
		m.QueueCircuitBreakerState, m.QueueBufferedJobs,
		m.OptionEvalVetoTotal, m.OptionEvalSignalTotal,
	)

	return m
}

// HealthStatus is the process's liveness snapshot, served at /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected    bool      `json:"redis_connected"`
	QuoteCacheOK      bool      `json:"quote_cache_ok"`
	LastCollectionTS  time.Time `json:"last_collection_ts"`
	CollectorStatus   string    `json:"collector_status"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a fresh HealthStatus stamped with the current time.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

// SetCollectionStatus records C5's latest metadata row (spec §4.4 step 6 /
// SPEC_FULL §3's "metadata staleness row" supplement).
func (h *HealthStatus) SetCollectionStatus(ts time.Time, status string) {
	h.mu.Lock()
	h.LastCollectionTS = ts
	h.CollectorStatus = status
	h.mu.Unlock()
}

// SetQuoteCacheOK records whether the last quote cache write succeeded.
func (h *HealthStatus) SetQuoteCacheOK(v bool) {
	h.mu.Lock()
	h.QuoteCacheOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency/connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial ping and records latency.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
	_ = err
}

// StartLivenessChecker runs periodic dependency checks in the background.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles GET /healthz: degraded if the quote cache's latest
// collection tick is stale (spec §7 StaleCache: older than 2 collector
// ticks), unhealthy if Redis is also down.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK

	stale := !h.LastCollectionTS.IsZero() && time.Since(h.LastCollectionTS) > 2*time.Minute
	if stale || !h.QuoteCacheOK {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}
	if stale && !h.RedisConnected {
		overall = "unhealthy"
	}

	status := struct {
		Status           string `json:"status"`
		Uptime           string `json:"uptime"`
		RedisConnected   bool   `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		QuoteCacheOK     bool   `json:"quote_cache_ok"`
		SQLiteLatencyMs  float64 `json:"sqlite_latency_ms"`
		LastCollectionTS string `json:"last_collection_ts"`
		CollectorStatus  string `json:"collector_status"`
		LastCheckAt      string `json:"last_check_at"`
	}{
		Status: overall, Uptime: time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected: h.RedisConnected, RedisLatencyMs: h.RedisLatencyMs,
		QuoteCacheOK: h.QuoteCacheOK, SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCollectionTS: h.LastCollectionTS.Format(time.RFC3339), CollectorStatus: h.CollectorStatus,
		LastCheckAt: h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs the /metrics and /healthz HTTP endpoints.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer builds a metrics/health server bound to addr.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{health: health, addr: addr, srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start launches the server in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
