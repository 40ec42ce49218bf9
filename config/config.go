// Package config loads nsewatch's configuration from environment
// variables into a closed, validated struct. Every recognized key is
// listed in recognizedKeys; any NSEWATCH_-prefixed variable not in that
// set fails startup immediately rather than being silently ignored.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every option enumerated in spec §6, plus the ambient
// infrastructure settings (brokerage credentials, Redis, SQLite,
// metrics) the teacher's equivalent config carried.
type Config struct {
	// Brokerage credentials (pkg/broker's TOTP login flow).
	BrokerAPIKey     string
	BrokerClientCode string
	BrokerPassword   string
	BrokerTOTPSecret string

	// Infrastructure.
	RedisAddr      string
	RedisPassword  string
	QuoteCachePath string
	HistoryCachePath string
	CooldownDBPath string
	AlertLogPath   string
	MetricsAddr    string
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string

	// Detector thresholds (spec §6).
	Th1m                float64
	Th5m                float64
	Th10m               float64
	Th30m               float64
	SpikePriceThreshold float64
	SpikeVolMultiple    float64
	VolMult1m           float64
	MinPrice            float64
	MinADV              float64
	AccelFactor         float64

	// Cadences.
	CollectorTick      time.Duration
	Monitor1mTick      time.Duration
	Monitor5mTick      time.Duration
	VolatilityScanTick time.Duration
	EnrichmentTick     time.Duration

	// Cooldowns, minutes.
	Cooldown1m          time.Duration
	Cooldown5m          time.Duration
	CooldownVolumeSpike time.Duration
	Cooldown30m         time.Duration

	// Cache tuning.
	SQLiteTimeout     time.Duration
	SQLiteMaxRetries  int
	SQLiteRetryBase   time.Duration
	QuoteMaxAge       time.Duration
	HistoryDefaultTTL time.Duration
	HistoryVIXTTL     time.Duration
	HistoryRowCap     int
	EvictionWeekday   time.Weekday

	// Provider.
	MaxReqPerSec float64
	BatchSize    int
	HTTPTimeout  time.Duration
	MaxRetries   int

	// Market hours.
	MarketOpen      string // HH:MM
	MarketClose     string // HH:MM
	Timezone        string
	HolidayFailClosed bool

	// OI strength bands, percent.
	OIMinimal     float64
	OISignificant float64
	OIStrong      float64

	// Option evaluator.
	IVRankFloor     float64
	RVIVCap         float64
	RangeCap        float64
	MaxLayers       int
	AddMinInterval  time.Duration
	AddMinScoreGain float64
	EntryWindow     string // HH:MM, default 10:00
	MonitorCadence  time.Duration

	// Enrichment.
	MaxSlotRetries int
}

// recognizedKeys is the closed set of NSEWATCH_-prefixed environment
// variables this process understands. Anything else with that prefix is
// a typo or a stale deploy config and must fail fast (Design Note §9:
// "unknown keys rejected at startup").
var recognizedKeys = map[string]bool{
	"NSEWATCH_BROKER_API_KEY": true, "NSEWATCH_BROKER_CLIENT_CODE": true,
	"NSEWATCH_BROKER_PASSWORD": true, "NSEWATCH_BROKER_TOTP_SECRET": true,
	"NSEWATCH_REDIS_ADDR": true, "NSEWATCH_REDIS_PASSWORD": true,
	"NSEWATCH_QUOTE_CACHE_PATH": true, "NSEWATCH_HISTORY_CACHE_PATH": true,
	"NSEWATCH_COOLDOWN_DB_PATH": true, "NSEWATCH_ALERT_LOG_PATH": true,
	"NSEWATCH_METRICS_ADDR": true, "NSEWATCH_TELEGRAM_TOKEN": true,
	"NSEWATCH_TELEGRAM_CHAT_ID": true, "NSEWATCH_WEBHOOK_URL": true,
	"NSEWATCH_TH_1M": true, "NSEWATCH_TH_5M": true, "NSEWATCH_TH_10M": true, "NSEWATCH_TH_30M": true,
	"NSEWATCH_SPIKE_PRICE_THRESHOLD": true, "NSEWATCH_SPIKE_VOL_MULTIPLE": true,
	"NSEWATCH_VOL_MULT_1M": true, "NSEWATCH_MIN_PRICE": true, "NSEWATCH_MIN_ADV": true,
	"NSEWATCH_ACCEL_FACTOR": true,
	"NSEWATCH_COLLECTOR_TICK": true, "NSEWATCH_MONITOR_1M_TICK": true, "NSEWATCH_MONITOR_5M_TICK": true,
	"NSEWATCH_VOLATILITY_SCAN_TICK": true, "NSEWATCH_ENRICHMENT_TICK": true,
	"NSEWATCH_COOLDOWN_1M": true, "NSEWATCH_COOLDOWN_5M": true,
	"NSEWATCH_COOLDOWN_VOLUME_SPIKE": true, "NSEWATCH_COOLDOWN_30M": true,
	"NSEWATCH_SQLITE_TIMEOUT": true, "NSEWATCH_SQLITE_MAX_RETRIES": true, "NSEWATCH_SQLITE_RETRY_BASE": true,
	"NSEWATCH_QUOTE_MAX_AGE": true, "NSEWATCH_HISTORY_DEFAULT_TTL": true, "NSEWATCH_HISTORY_VIX_TTL": true,
	"NSEWATCH_HISTORY_ROW_CAP": true, "NSEWATCH_EVICTION_WEEKDAY": true,
	"NSEWATCH_MAX_REQ_PER_SEC": true, "NSEWATCH_BATCH_SIZE": true, "NSEWATCH_HTTP_TIMEOUT": true,
	"NSEWATCH_MAX_RETRIES": true,
	"NSEWATCH_MARKET_OPEN": true, "NSEWATCH_MARKET_CLOSE": true, "NSEWATCH_TIMEZONE": true,
	"NSEWATCH_HOLIDAY_FAIL_CLOSED": true,
	"NSEWATCH_OI_MINIMAL": true, "NSEWATCH_OI_SIGNIFICANT": true, "NSEWATCH_OI_STRONG": true,
	"NSEWATCH_IV_RANK_FLOOR": true, "NSEWATCH_RV_IV_CAP": true, "NSEWATCH_RANGE_CAP": true,
	"NSEWATCH_MAX_LAYERS": true, "NSEWATCH_ADD_MIN_INTERVAL": true, "NSEWATCH_ADD_MIN_SCORE_GAIN": true,
	"NSEWATCH_ENTRY_WINDOW": true, "NSEWATCH_MONITOR_CADENCE": true,
	"NSEWATCH_MAX_SLOT_RETRIES": true,
}

// Load reads configuration from the environment, rejecting any
// NSEWATCH_-prefixed key outside recognizedKeys, then applying defaults
// for everything unset.
func Load() *Config {
	validateEnviron()

	return &Config{
		BrokerAPIKey:     mustEnv("NSEWATCH_BROKER_API_KEY"),
		BrokerClientCode: mustEnv("NSEWATCH_BROKER_CLIENT_CODE"),
		BrokerPassword:   mustEnv("NSEWATCH_BROKER_PASSWORD"),
		BrokerTOTPSecret: mustEnv("NSEWATCH_BROKER_TOTP_SECRET"),

		RedisAddr:        getEnv("NSEWATCH_REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("NSEWATCH_REDIS_PASSWORD", ""),
		QuoteCachePath:   getEnv("NSEWATCH_QUOTE_CACHE_PATH", "data/quote_cache.db"),
		HistoryCachePath: getEnv("NSEWATCH_HISTORY_CACHE_PATH", "data/history_cache.db"),
		CooldownDBPath:   getEnv("NSEWATCH_COOLDOWN_DB_PATH", "data/cooldown.db"),
		AlertLogPath:     getEnv("NSEWATCH_ALERT_LOG_PATH", "data/alerts.xlsx"),
		MetricsAddr:      getEnv("NSEWATCH_METRICS_ADDR", ":9090"),
		TelegramToken:    getEnv("NSEWATCH_TELEGRAM_TOKEN", ""),
		TelegramChatID:   getEnv("NSEWATCH_TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("NSEWATCH_WEBHOOK_URL", ""),

		Th1m:                getFloat("NSEWATCH_TH_1M", 1.25),
		Th5m:                getFloat("NSEWATCH_TH_5M", 1.25),
		Th10m:               getFloat("NSEWATCH_TH_10M", 2.0),
		Th30m:               getFloat("NSEWATCH_TH_30M", 3.0),
		SpikePriceThreshold: getFloat("NSEWATCH_SPIKE_PRICE_THRESHOLD", 1.2),
		SpikeVolMultiple:    getFloat("NSEWATCH_SPIKE_VOL_MULTIPLE", 2.5),
		VolMult1m:           getFloat("NSEWATCH_VOL_MULT_1M", 5.0),
		MinPrice:            getFloat("NSEWATCH_MIN_PRICE", 0),
		MinADV:              getFloat("NSEWATCH_MIN_ADV", 0),
		AccelFactor:         getFloat("NSEWATCH_ACCEL_FACTOR", 1.2),

		CollectorTick:      getDuration("NSEWATCH_COLLECTOR_TICK", time.Minute),
		Monitor1mTick:      getDuration("NSEWATCH_MONITOR_1M_TICK", time.Minute),
		Monitor5mTick:      getDuration("NSEWATCH_MONITOR_5M_TICK", 5*time.Minute),
		VolatilityScanTick: getDuration("NSEWATCH_VOLATILITY_SCAN_TICK", 15*time.Minute),
		EnrichmentTick:     getDuration("NSEWATCH_ENRICHMENT_TICK", time.Minute),

		Cooldown1m:          getDuration("NSEWATCH_COOLDOWN_1M", 10*time.Minute),
		Cooldown5m:          getDuration("NSEWATCH_COOLDOWN_5M", 10*time.Minute),
		CooldownVolumeSpike: getDuration("NSEWATCH_COOLDOWN_VOLUME_SPIKE", 15*time.Minute),
		Cooldown30m:         getDuration("NSEWATCH_COOLDOWN_30M", 30*time.Minute),

		SQLiteTimeout:     getDuration("NSEWATCH_SQLITE_TIMEOUT", 30*time.Second),
		SQLiteMaxRetries:  getInt("NSEWATCH_SQLITE_MAX_RETRIES", 3),
		SQLiteRetryBase:   getDuration("NSEWATCH_SQLITE_RETRY_BASE", time.Second),
		QuoteMaxAge:       getDuration("NSEWATCH_QUOTE_MAX_AGE", 24*time.Hour),
		HistoryDefaultTTL: getDuration("NSEWATCH_HISTORY_DEFAULT_TTL", 24*time.Hour),
		HistoryVIXTTL:     getDuration("NSEWATCH_HISTORY_VIX_TTL", 7*24*time.Hour),
		HistoryRowCap:     getInt("NSEWATCH_HISTORY_ROW_CAP", 50000),
		EvictionWeekday:   time.Weekday(getInt("NSEWATCH_EVICTION_WEEKDAY", int(time.Sunday))),

		MaxReqPerSec: getFloat("NSEWATCH_MAX_REQ_PER_SEC", 3),
		BatchSize:    getInt("NSEWATCH_BATCH_SIZE", 50),
		HTTPTimeout:  getDuration("NSEWATCH_HTTP_TIMEOUT", 10*time.Second),
		MaxRetries:   getInt("NSEWATCH_MAX_RETRIES", 3),

		MarketOpen:        getEnv("NSEWATCH_MARKET_OPEN", "09:15"),
		MarketClose:        getEnv("NSEWATCH_MARKET_CLOSE", "15:30"),
		Timezone:           getEnv("NSEWATCH_TIMEZONE", "IST"),
		HolidayFailClosed:  getBool("NSEWATCH_HOLIDAY_FAIL_CLOSED", false),

		OIMinimal:     getFloat("NSEWATCH_OI_MINIMAL", 1),
		OISignificant: getFloat("NSEWATCH_OI_SIGNIFICANT", 5),
		OIStrong:      getFloat("NSEWATCH_OI_STRONG", 10),

		IVRankFloor:     getFloat("NSEWATCH_IV_RANK_FLOOR", 15),
		RVIVCap:         getFloat("NSEWATCH_RV_IV_CAP", 1.2),
		RangeCap:        getFloat("NSEWATCH_RANGE_CAP", 1.5),
		MaxLayers:       getInt("NSEWATCH_MAX_LAYERS", 3),
		AddMinInterval:  getDuration("NSEWATCH_ADD_MIN_INTERVAL", 30*time.Minute),
		AddMinScoreGain: getFloat("NSEWATCH_ADD_MIN_SCORE_GAIN", 10),
		EntryWindow:     getEnv("NSEWATCH_ENTRY_WINDOW", "10:00"),
		MonitorCadence:  getDuration("NSEWATCH_MONITOR_CADENCE", 15*time.Minute),

		MaxSlotRetries: getInt("NSEWATCH_MAX_SLOT_RETRIES", 5),
	}
}

// validateEnviron fails fast on any NSEWATCH_-prefixed variable this
// binary does not recognize.
func validateEnviron() {
	for _, kv := range os.Environ() {
		key := strings.SplitN(kv, "=", 2)[0]
		if !strings.HasPrefix(key, "NSEWATCH_") {
			continue
		}
		if !recognizedKeys[key] {
			log.Fatalf("[config] unrecognized environment variable %s", key)
		}
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Fatalf("[config] %s: invalid float %q", key, v)
	}
	return f
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("[config] %s: invalid int %q", key, v)
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("[config] %s: invalid bool %q", key, v)
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("[config] %s: invalid duration %q", key, v)
	}
	return d
}
