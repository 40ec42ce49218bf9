// Command collector runs C5 standalone: every CollectorTick it polls the
// quote provider for the configured universe and commits the result into
// the quote cache, warming the history cache on its own per-series
// cadence. Grounded on the teacher's cmd/mdengine/main.go composition
// root: explicit construction of every collaborator here, nothing wired
// through a package-level singleton.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nsewatch/config"
	"nsewatch/internal/cache/historycache"
	"nsewatch/internal/cache/quotecache"
	"nsewatch/internal/cache/retry"
	"nsewatch/internal/clock"
	"nsewatch/internal/collector"
	"nsewatch/internal/logger"
	"nsewatch/internal/metrics"
	"nsewatch/internal/model"
	"nsewatch/pkg/broker"
)

func main() {
	log := logger.Init("collector", slog.LevelInfo)
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	retryCfg := retry.Config{
		Attempts:   cfg.SQLiteMaxRetries,
		BaseDelay:  cfg.SQLiteRetryBase,
		WarnAfter:  5 * time.Second,
		PerAttempt: cfg.SQLiteTimeout,
	}

	qc, err := quotecache.Open(cfg.QuoteCachePath, retryCfg, log)
	if err != nil {
		log.Error("collector: open quote cache", slog.Any("err", err))
		os.Exit(1)
	}
	defer qc.Close()

	hc, err := historycache.Open(cfg.HistoryCachePath, retryCfg, cfg.HistoryRowCap, log)
	if err != nil {
		log.Error("collector: open history cache", slog.Any("err", err))
		os.Exit(1)
	}
	defer hc.Close()

	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+30*60)
	}
	holidays := clock.NSEHolidays2026()
	clk := clock.New(loc, holidays, cfg.HolidayFailClosed, log)

	brokerCfg := broker.Config{
		APIKey:     cfg.BrokerAPIKey,
		ClientCode: cfg.BrokerClientCode,
		Password:   cfg.BrokerPassword,
		TOTPSecret: cfg.BrokerTOTPSecret,
		Timeout:    cfg.HTTPTimeout,
		Universe:   universe(),
	}
	provider := broker.New(brokerCfg, log)
	if err := provider.Login(ctx); err != nil {
		log.Error("collector: broker login failed", slog.Any("err", err))
		os.Exit(1)
	}
	if _, err := provider.InstrumentMetadata(ctx); err != nil {
		log.Warn("collector: instrument metadata resolution had failures", slog.Any("err", err))
	}

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.StartLivenessChecker(ctx, nil, nil, 30*time.Second)
	srv := metrics.NewServer(cfg.MetricsAddr, health)
	srv.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Stop(shutdownCtx)
	}()

	collCfg := collector.Config{
		BatchSize:    cfg.BatchSize,
		MaxReqPerSec: cfg.MaxReqPerSec,
		MaxRetries:   cfg.MaxRetries,
		RetryBase:    time.Second,
	}
	refreshes := []*collector.HistoryRefresh{
		{Symbol: "NSE:NIFTY 50", Interval: model.Interval1d, Lookback: 365 * 24 * time.Hour, Cadence: 24 * time.Hour},
		{Symbol: "NSE:INDIA VIX", Interval: model.Interval1d, Lookback: 365 * 24 * time.Hour, Cadence: 24 * time.Hour},
	}
	coll := collector.New(provider, qc, hc, clk, collCfg, universe(), refreshes, health, log)

	ticker := time.NewTicker(cfg.CollectorTick)
	defer ticker.Stop()

	log.Info("collector: started", slog.Duration("tick", cfg.CollectorTick), slog.Int("universe", len(universe())))
	for {
		select {
		case <-ctx.Done():
			log.Info("collector: shutting down")
			return
		case now := <-ticker.C:
			if err := coll.Tick(ctx, now); err != nil && m != nil {
				m.CollectorTickErrors.Inc()
				log.Error("collector: tick failed", slog.Any("err", err))
			}
		}
	}
}

// universe is the static symbol watchlist this deployment collects for.
// A real deployment sources this from a config file or the instrument
// master; kept as a fixed slice here since spec.md leaves universe
// selection to the operator.
func universe() []string {
	return []string{
		"NIFTY 50", "NIFTY BANK", "INDIA VIX",
		"RELIANCE-EQ", "HDFCBANK-EQ", "ICICIBANK-EQ", "INFY-EQ", "TCS-EQ",
	}
}
