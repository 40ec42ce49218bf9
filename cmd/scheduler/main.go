// Command scheduler is C12's composition root: it runs every price-alert
// monitor, the price-enrichment worker (C11), and the option-selling
// evaluator (C13) cadences inside one process, sharing the quote cache,
// cooldown gate, and alert sink across all of them. Grounded on the
// teacher's cmd/mdengine/main.go composition root for the explicit,
// no-singleton wiring style (Design Note §9).
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"nsewatch/config"
	"nsewatch/internal/alertlog"
	"nsewatch/internal/cache/historycache"
	"nsewatch/internal/cache/quotecache"
	"nsewatch/internal/cache/retry"
	"nsewatch/internal/clock"
	"nsewatch/internal/cooldown"
	"nsewatch/internal/detector"
	"nsewatch/internal/enrichment"
	"nsewatch/internal/logger"
	"nsewatch/internal/metrics"
	"nsewatch/internal/model"
	"nsewatch/internal/notifier"
	"nsewatch/internal/oi"
	"nsewatch/internal/optioneval"
	"nsewatch/internal/persistence"
	"nsewatch/internal/queue"
	"nsewatch/internal/scheduler"
	"nsewatch/internal/sink"
	"nsewatch/internal/snapshotring"
	"nsewatch/internal/stats"
	"nsewatch/pkg/broker"
)

// nseSessionMinutes is the NSE equity session length (09:15-15:30 IST),
// used to derive per-bucket volume baselines from a trailing average
// daily volume.
const nseSessionMinutes = 375.0

// volBaseline caches one symbol's computed detector.Inputs for the trade
// date it was computed on, since the backing history-cache query only
// needs to run once per symbol per day, not once per tick.
type volBaseline struct {
	tradeDate string
	inputs    detector.Inputs
}

func main() {
	log := logger.Init("scheduler", slog.LevelInfo)
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
		log.Error("scheduler: open quote cache", slog.Any("err", err))
		os.Exit(1)
	}
	defer qc.Close()

	hc, err := historycache.Open(cfg.HistoryCachePath, retryCfg, cfg.HistoryRowCap, log)
	if err != nil {
		log.Error("scheduler: open history cache", slog.Any("err", err))
		os.Exit(1)
	}
	defer hc.Close()

	store, err := persistence.Open(cfg.CooldownDBPath, retryCfg, log)
	if err != nil {
		log.Error("scheduler: open persistence store", slog.Any("err", err))
		os.Exit(1)
	}
	defer store.Close()

	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+30*60)
	}
	holidays := clock.NSEHolidays2026()
	clk := clock.New(loc, holidays, cfg.HolidayFailClosed, log)
	cooldownGate := cooldown.New(persistence.CooldownAdapter{S: store}, defaultCooldownWindows(cfg), log)
	if err := cooldownGate.LoadAndReset(ctx, clk.TradeDate, time.Now()); err != nil {
		log.Warn("scheduler: cooldown load failed, starting empty", slog.Any("err", err))
	}

	oiEngine := oi.NewEngine(persistence.OIBaselineAdapter{S: store}, oi.Bands{
		Minimal: cfg.OIMinimal, Significant: cfg.OISignificant, Strong: cfg.OIStrong,
	}, func() string { return clk.TradeDate(time.Now()) })

	alog, err := alertlog.Open(cfg.AlertLogPath)
	if err != nil {
		log.Error("scheduler: open alert log", slog.Any("err", err))
		os.Exit(1)
	}
	defer alog.Close()

	q, err := queue.Open(ctx, queue.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}, log)
	if err != nil {
		log.Error("scheduler: open enrichment queue", slog.Any("err", err))
		os.Exit(1)
	}
	defer q.Close()
	breaker := queue.NewCircuitBreaker("enrichment_queue", 5, 30*time.Second, log)
	bufferedQueue := queue.NewBufferedQueue(q, breaker, 10000, log)

	fanout := notifier.NewFanout(log)
	fanout.Add("log", notifier.NewLogNotifier(log))
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		if tg, err := notifier.NewTelegramNotifier(cfg.TelegramToken, parseChatID(cfg.TelegramChatID)); err == nil {
			fanout.Add("telegram", tg)
		} else {
			log.Warn("scheduler: telegram notifier init failed", slog.Any("err", err))
		}
	}
	if cfg.WebhookURL != "" {
		fanout.Add("webhook", notifier.NewWebhookNotifier(cfg.WebhookURL))
	}
	healthPinger := notifier.NewHealthPinger(fanout, clk)

	alertSink := sink.New(alog, bufferedQueue, fanout, log)

	brokerCfg := broker.Config{
		APIKey: cfg.BrokerAPIKey, ClientCode: cfg.BrokerClientCode,
		Password: cfg.BrokerPassword, TOTPSecret: cfg.BrokerTOTPSecret,
		Timeout: cfg.HTTPTimeout, Universe: universe(),
	}
	provider := broker.New(brokerCfg, log)
	if err := provider.Login(ctx); err != nil {
		log.Error("scheduler: broker login failed", slog.Any("err", err))
		os.Exit(1)
	}

	enrichCfg := enrichment.DefaultConfig()
	enrichWorker := enrichment.New(persistence.EnrichmentAdapter{S: store}, alog, provider, enrichCfg, log)

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.StartLivenessChecker(ctx, nil, nil, 30*time.Second)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsSrv.Stop(shutdownCtx)
	}()

	var ringsMu sync.Mutex
	rings := make(map[string]*snapshotring.Ring)
	ringFor := func(symbol string) *snapshotring.Ring {
		ringsMu.Lock()
		defer ringsMu.Unlock()
		r, ok := rings[symbol]
		if !ok {
			r = snapshotring.New()
			rings[symbol] = r
		}
		return r
	}

	detCfg := detector.Config{
		Th1m: cfg.Th1m, Th5m: cfg.Th5m, Th10m: cfg.Th10m, Th30m: cfg.Th30m,
		SpikePriceThresh: cfg.SpikePriceThreshold, SpikeVolMultiple: cfg.SpikeVolMultiple,
		VolMult1m: cfg.VolMult1m, MinPrice: cfg.MinPrice, MinADV: cfg.MinADV, AccelFactor: cfg.AccelFactor,
	}

	var volMu sync.Mutex
	volBaselines := make(map[string]volBaseline)
	volumeInputsFor := func(ctx context.Context, symbol string, now time.Time) detector.Inputs {
		tradeDate := clk.TradeDate(now)
		volMu.Lock()
		if b, ok := volBaselines[symbol]; ok && b.tradeDate == tradeDate {
			volMu.Unlock()
			return b.inputs
		}
		volMu.Unlock()

		in := computeVolumeBaselines(ctx, hc, clk, symbol, now)
		volMu.Lock()
		volBaselines[symbol] = volBaseline{tradeDate: tradeDate, inputs: in}
		volMu.Unlock()
		return in
	}

	sched := scheduler.New(clk, m, log)

	sched.Register(scheduler.Monitor{
		Name:     "price_alerts",
		Cadence:  cfg.Monitor1mTick,
		Phases:   []clock.Phase{clock.PhaseOpen},
		Run: func(ctx context.Context) error {
			return runPriceAlerts(ctx, qc, ringFor, detCfg, volumeInputsFor, oiEngine, cooldownGate, alertSink, log, time.Now())
		},
	})

	sched.Register(scheduler.Monitor{
		Name:    "enrichment_sweep",
		Cadence: cfg.EnrichmentTick,
		Phases:  []clock.Phase{clock.PhasePre, clock.PhaseOpen, clock.PhasePost},
		Run: func(ctx context.Context) error {
			n, err := enrichWorker.Sweep(ctx, time.Now())
			if err == nil {
				log.Info("scheduler: enrichment sweep", slog.Int("records", n))
			}
			return err
		},
	})

	go q.StartPELReclaimer(ctx, 2*time.Minute, time.Minute, enrichWorker.HandleJob)

	evictor := quotecache.NewEvictor(qc, cfg.QuoteMaxAge, cfg.EvictionWeekday, log)
	sched.Register(scheduler.Monitor{
		Name:    "quote_cache_eviction",
		Cadence: 24 * time.Hour,
		Phases:  []clock.Phase{clock.PhaseClosed, clock.PhasePre, clock.PhaseOpen, clock.PhasePost},
		Run: func(ctx context.Context) error {
			return evictor.Run(ctx, time.Now())
		},
	})

	go func() {
		if err := q.Consume(ctx, enrichWorker.HandleJob); err != nil && ctx.Err() == nil {
			log.Error("scheduler: enrichment consume loop exited", slog.Any("err", err))
			healthPinger.PingError(ctx, "enrichment_queue_down", "enrichment consumer exited: "+err.Error(), time.Now())
		}
	}()

	optionEvaluator := optioneval.New(optioneval.DefaultVetoThresholds(), optioneval.DefaultScore)
	if err := sched.RegisterCron("option_eval_entry", "0 10 * * *", func(ctx context.Context) error {
		return runOptionEval(ctx, "NIFTY 50", qc, hc, clk, optionEvaluator, log)
	}); err != nil {
		log.Warn("scheduler: option eval cron not registered", slog.Any("err", err))
	}
	if err := sched.RegisterCron("option_eval_monitor", "*/15 9-15 * * 1-5", func(ctx context.Context) error {
		return runOptionEval(ctx, "NIFTY 50", qc, hc, clk, optionEvaluator, log)
	}); err != nil {
		log.Warn("scheduler: option monitor cron not registered", slog.Any("err", err))
	}

	sched.Start(ctx)
	log.Info("scheduler: started")

	<-ctx.Done()
	log.Info("scheduler: shutting down")
	sched.StopCron()
	sched.Wait()
}

// runPriceAlerts runs C8's detection (both the 5m+ horizon table and the
// 1-minute momentum variant) for every symbol with a fresh quote, gates
// each candidate through C9, attaches a C7 OI context when available, and
// emits survivors through C10.
func runPriceAlerts(
	ctx context.Context,
	qc *quotecache.Cache,
	ringFor func(string) *snapshotring.Ring,
	detCfg detector.Config,
	volumeInputsFor func(context.Context, string, time.Time) detector.Inputs,
	oiEngine *oi.Engine,
	cooldownGate *cooldown.Gate,
	alertSink *sink.Fanout,
	log *slog.Logger,
	now time.Time,
) error {
	quotes, err := qc.GetBatch(ctx, universe())
	if err != nil {
		return err
	}

	for symbol, cq := range quotes {
		ring := ringFor(symbol)
		ring.Append(cq.Quote.Timestamp, cq.Quote.LastPrice, cq.Quote.VolumeToday, cq.Quote.OpenInterest)

		in := volumeInputsFor(ctx, symbol, now)

		candidates := detector.Detect(ring, detCfg, in)
		if c, ok := detector.Detect1mVariant(ring, detCfg, in, func(k model.AlertKind) bool {
			return cooldownGate.Active(symbol, k, now)
		}); ok {
			candidates = append(candidates, c)
		}

		for _, c := range candidates {
			allow, err := cooldownGate.ShouldEmit(ctx, symbol, c.Kind, now)
			if err != nil {
				log.Warn("scheduler: cooldown write-through failed", slog.String("symbol", symbol), slog.Any("err", err))
			}
			if !allow {
				continue
			}

			alert := model.Alert{
				Symbol: symbol, Kind: c.Kind, Direction: c.Direction,
				MagnitudePct: c.MagnitudePct, Horizon: c.Horizon,
				ReferencePrice: c.ReferencePrice, CurrentPrice: c.CurrentPrice,
				VolumeMultiple: c.VolumeMultiple, Timestamp: now,
			}

			if cq.Quote.HasOI() {
				if oiCtx, ok, err := oiEngine.Classify(ctx, symbol, *cq.Quote.OpenInterest, cq.Quote.LastPrice); err == nil && ok {
					alert.OISnapshot = &oiCtx
				}
				if _, err := oiEngine.Observe(ctx, symbol, *cq.Quote.OpenInterest, cq.Quote.LastPrice); err != nil {
					log.Warn("scheduler: oi baseline observe failed", slog.String("symbol", symbol), slog.Any("err", err))
				}
			}

			if err := alertSink.Emit(ctx, alert); err != nil {
				log.Error("scheduler: alert emit failed", slog.String("symbol", symbol), slog.Any("err", err))
			}
		}
	}
	return nil
}

// computeVolumeBaselines derives P1's rolling volume baselines from the
// trailing ~30 calendar days of daily candles read from the history cache
// under the "NSE:<symbol>" 1d key — the snapshot ring only retains about
// half an hour of intraday state, nowhere near enough for a multi-day
// average. It does not fetch from the provider on a cache miss, and the
// collector's refresh list warms only the 365-day NIFTY 50 and INDIA VIX
// series, so this key is populated only when some other writer stores it. A trailing average daily volume is split across the session's
// 375 one-minute buckets to approximate the per-bucket average the
// detector's volume-spike filters compare against; it returns a
// zero-valued detector.Inputs (which detectVolumeSpike and
// Detect1mVariant already treat as "no baseline available, skip this
// filter") when no history is cached yet for the symbol.
func computeVolumeBaselines(ctx context.Context, hc *historycache.Cache, clk *clock.Clock, symbol string, now time.Time) detector.Inputs {
	from := now.Add(-30 * 24 * time.Hour)
	key := model.HistoryKey{InstrumentToken: "NSE:" + symbol, Interval: model.Interval1d, FromDate: clk.TradeDate(from), ToDate: clk.TradeDate(now)}
	candles, ok, err := hc.Get(ctx, key)
	if err != nil || !ok || len(candles) == 0 {
		return detector.Inputs{}
	}

	volumes := make([]float64, len(candles))
	for i, c := range candles {
		volumes[i] = float64(c.Volume)
	}
	avgDaily := stats.Mean(volumes)

	return detector.Inputs{
		AvgDailyVolume: avgDaily,
		AvgVolumePer5m: avgDaily / (nseSessionMinutes / 5),
		AvgVolumePer1m: avgDaily / nseSessionMinutes,
	}
}

// runOptionEval drives C13's veto gate off the daily NIFTY/VIX history
// already warmed by the collector: VIX level and trend and the realized/
// implied range stack come straight out of history-cache candles, so the
// hard vetoes (IV rank floor, RV/IV cap, range cap) run against real
// numbers. The composite score's ATMGreeks/OTMGreeks inputs are left zero
// since no option-chain/greeks feed exists in this deployment yet — a
// future QuoteProvider extension would populate them.
func runOptionEval(ctx context.Context, underlying string, qc *quotecache.Cache, hc *historycache.Cache, clk *clock.Clock, ev *optioneval.Evaluator, log *slog.Logger) error {
	in, ok := buildOptionInputs(ctx, underlying, qc, hc, clk)
	if !ok {
		return nil
	}
	result := ev.Evaluate(in)
	log.Info("scheduler: option eval",
		slog.String("underlying", underlying),
		slog.String("signal", string(result.Signal)),
		slog.Float64("score", result.Score),
		slog.String("veto", string(result.Veto)))
	return nil
}

func buildOptionInputs(ctx context.Context, underlying string, qc *quotecache.Cache, hc *historycache.Cache, clk *clock.Clock) (optioneval.Inputs, bool) {
	now := time.Now()
	vixQuotes, err := qc.GetBatch(ctx, []string{"INDIA VIX"})
	if err != nil {
		return optioneval.Inputs{}, false
	}
	vixQuote, ok := vixQuotes["INDIA VIX"]
	if !ok {
		return optioneval.Inputs{}, false
	}

	from := now.Add(-365 * 24 * time.Hour)
	vixKey := model.HistoryKey{InstrumentToken: "NSE:INDIA VIX", Interval: model.Interval1d, FromDate: clk.TradeDate(from), ToDate: clk.TradeDate(now)}
	vixCandles, ok, err := hc.Get(ctx, vixKey)
	if err != nil || !ok || len(vixCandles) == 0 {
		return optioneval.Inputs{}, false
	}

	underlyingKey := model.HistoryKey{InstrumentToken: "NSE:" + underlying, Interval: model.Interval1d, FromDate: clk.TradeDate(from), ToDate: clk.TradeDate(now)}
	underlyingCandles, ok, err := hc.Get(ctx, underlyingKey)
	if err != nil || !ok || len(underlyingCandles) == 0 {
		return optioneval.Inputs{}, false
	}

	trend3d := pctChange(vixCandles, 3)
	ivRank := percentileRank(vixCandles, vixQuote.Quote.LastPrice)
	avgRange5d := avgDailyRangePct(underlyingCandles, 5)
	avgRange3d := avgDailyRangePct(underlyingCandles, 3)
	realizedImpliedRatio := 0.0
	if vixQuote.Quote.LastPrice > 0 {
		realizedImpliedRatio = avgRange5d / (vixQuote.Quote.LastPrice / 100)
	}

	regime := optioneval.Regime("normal")
	switch {
	case vixQuote.Quote.LastPrice >= 20:
		regime = optioneval.Regime("high")
	case vixQuote.Quote.LastPrice < 12:
		regime = optioneval.Regime("low")
	}

	return optioneval.Inputs{
		VIXLevel:               vixQuote.Quote.LastPrice,
		VIXTrend3d:              trend3d,
		VIXPercentile1y:         ivRank,
		RealizedImpliedRatio5d:  realizedImpliedRatio,
		AvgDailyRange5d:         avgRange5d,
		AvgIntradayRange3d:      avgRange3d,
		Regime:                  regime,
	}, true
}

// pctChange returns the signed % change between the latest candle's close
// and the close n trading days back, via stats.TrendPct over that window.
func pctChange(candles []model.Candle, n int) float64 {
	if len(candles) <= n {
		return 0
	}
	window := candles[len(candles)-1-n:]
	closes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
	}
	return stats.TrendPct(closes)
}

// percentileRank returns what fraction (0-100) of the trailing candle
// closes are at or below value — the IV-rank convention spec §4.12 expects.
func percentileRank(candles []model.Candle, value float64) float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return stats.Percentile(closes, value)
}

// avgDailyRangePct averages (High-Low)/Close over the trailing n candles,
// expressed as a percentage, via stats.Mean.
func avgDailyRangePct(candles []model.Candle, n int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if n > len(candles) {
		n = len(candles)
	}
	window := candles[len(candles)-n:]
	ranges := make([]float64, 0, len(window))
	for _, c := range window {
		if c.Close == 0 {
			continue
		}
		ranges = append(ranges, (c.High-c.Low)/c.Close*100)
	}
	return stats.Mean(ranges)
}

func defaultCooldownWindows(cfg *config.Config) cooldown.Windows {
	w := cooldown.DefaultWindows()
	w[model.Alert1mDrop] = cfg.Cooldown1m
	w[model.Alert1mRise] = cfg.Cooldown1m
	w[model.Alert5mDrop] = cfg.Cooldown5m
	w[model.Alert5mRise] = cfg.Cooldown5m
	w[model.Alert30mDrop] = cfg.Cooldown30m
	w[model.Alert30mRise] = cfg.Cooldown30m
	w[model.AlertVolumeSpikeDrop] = cfg.CooldownVolumeSpike
	w[model.AlertVolumeSpikeRise] = cfg.CooldownVolumeSpike
	return w
}

func parseChatID(s string) int64 {
	var id int64
	for _, r := range s {
		if r < '0' || r > '9' {
			continue
		}
		id = id*10 + int64(r-'0')
	}
	return id
}

func universe() []string {
	return []string{
		"NIFTY 50", "NIFTY BANK", "INDIA VIX",
		"RELIANCE-EQ", "HDFCBANK-EQ", "ICICIBANK-EQ", "INFY-EQ", "TCS-EQ",
	}
}
