package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NSEWATCH_BROKER_API_KEY", "key")
	t.Setenv("NSEWATCH_BROKER_CLIENT_CODE", "code")
	t.Setenv("NSEWATCH_BROKER_PASSWORD", "pw")
	t.Setenv("NSEWATCH_BROKER_TOTP_SECRET", "secret")
}

func TestLoad_AppliesDefaults(t *testing.T) {
	setRequiredEnv(t)
	cfg := Load()

	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr default: got %q", cfg.RedisAddr)
	}
	if cfg.Th1m != 1.25 {
		t.Errorf("Th1m default: got %v", cfg.Th1m)
	}
	if cfg.Monitor1mTick != time.Minute {
		t.Errorf("Monitor1mTick default: got %v", cfg.Monitor1mTick)
	}
	if cfg.EvictionWeekday != time.Sunday {
		t.Errorf("EvictionWeekday default: got %v", cfg.EvictionWeekday)
	}
	if cfg.MaxLayers != 3 {
		t.Errorf("MaxLayers default: got %v", cfg.MaxLayers)
	}
}

func TestLoad_RequiredFieldsPassThrough(t *testing.T) {
	setRequiredEnv(t)
	cfg := Load()
	if cfg.BrokerAPIKey != "key" || cfg.BrokerClientCode != "code" {
		t.Fatalf("unexpected broker credentials: %+v", cfg)
	}
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("NSEWATCH_TH_1M", "2.5")
	t.Setenv("NSEWATCH_MONITOR_1M_TICK", "30s")

	cfg := Load()
	if cfg.Th1m != 2.5 {
		t.Errorf("expected Th1m override to apply, got %v", cfg.Th1m)
	}
	if cfg.Monitor1mTick != 30*time.Second {
		t.Errorf("expected Monitor1mTick override to apply, got %v", cfg.Monitor1mTick)
	}
}

func TestGetFloat_FallbackWhenUnset(t *testing.T) {
	if got := getFloat("NSEWATCH_TEST_UNSET_FLOAT", 9.5); got != 9.5 {
		t.Fatalf("getFloat fallback: got %v", got)
	}
}

func TestGetInt_ParsesSetValue(t *testing.T) {
	t.Setenv("NSEWATCH_TEST_INT", "42")
	if got := getInt("NSEWATCH_TEST_INT", 0); got != 42 {
		t.Fatalf("getInt: got %v, want 42", got)
	}
}

func TestGetBool_ParsesSetValue(t *testing.T) {
	t.Setenv("NSEWATCH_TEST_BOOL", "true")
	if got := getBool("NSEWATCH_TEST_BOOL", false); got != true {
		t.Fatalf("getBool: got %v, want true", got)
	}
}

func TestGetDuration_ParsesSetValue(t *testing.T) {
	t.Setenv("NSEWATCH_TEST_DURATION", "45s")
	if got := getDuration("NSEWATCH_TEST_DURATION", time.Minute); got != 45*time.Second {
		t.Fatalf("getDuration: got %v, want 45s", got)
	}
}
