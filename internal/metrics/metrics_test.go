package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthStatus_HealthyByDefault(t *testing.T) {
	h := NewHealthStatus()
	h.SetQuoteCacheOK(true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected status=healthy, got %v", body["status"])
	}
}

func TestHealthStatus_DegradedOnQuoteCacheFailure(t *testing.T) {
	h := NewHealthStatus()
	h.SetQuoteCacheOK(false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthStatus_DegradedOnStaleCollection(t *testing.T) {
	h := NewHealthStatus()
	h.SetQuoteCacheOK(true)
	h.SetCollectionStatus(time.Now().Add(-5*time.Minute), "ok")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for a stale collection tick, got %d", rec.Code)
	}
}

func TestHealthStatus_UnhealthyWhenStaleAndRedisDown(t *testing.T) {
	h := NewHealthStatus()
	h.SetQuoteCacheOK(true)
	h.SetCollectionStatus(time.Now().Add(-5*time.Minute), "ok")
	// RedisConnected defaults to false.

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "unhealthy" {
		t.Fatalf("expected status=unhealthy, got %v", body["status"])
	}
}

func TestNewMetrics_RegistersEveryCollector(t *testing.T) {
	m := NewMetrics()
	if m.AlertsEmittedTotal == nil || m.SchedulerTickDur == nil || m.OptionEvalVetoTotal == nil {
		t.Fatal("expected every collector to be non-nil after NewMetrics")
	}
}
