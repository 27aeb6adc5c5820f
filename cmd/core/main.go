// Package main wires every component of the trading core into a single
// long-running process: a cron-driven Heartbeat Scheduler (C10, which also
// runs the Operational Watchdog C12 every tick) plus a five-minute GEX
// Regime sync (C4), fronted by an ops-only HTTP surface for health checks
// and Prometheus scraping. Modeled on the teacher's cmd/server/main.go
// wiring shape (flag parsing, zap setup, signal-driven graceful shutdown),
// replacing its direct autonomous-agent construction with the scheduler
// pipeline this domain calls for and its ad hoc job loops with
// robfig/cron, the scheduling library already used elsewhere in the pack.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/internal/config"
	"github.com/atlas-desktop/trading-core/internal/consensus"
	"github.com/atlas-desktop/trading-core/internal/heartbeat"
	"github.com/atlas-desktop/trading-core/internal/httpserver"
	"github.com/atlas-desktop/trading-core/internal/identity"
	"github.com/atlas-desktop/trading-core/internal/llm"
	"github.com/atlas-desktop/trading-core/internal/maestro"
	"github.com/atlas-desktop/trading-core/internal/metrics"
	"github.com/atlas-desktop/trading-core/internal/optionsfeed"
	"github.com/atlas-desktop/trading-core/internal/performance"
	"github.com/atlas-desktop/trading-core/internal/regime"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/shadow"
	"github.com/atlas-desktop/trading-core/internal/store"
	"github.com/atlas-desktop/trading-core/internal/strategy"
	"github.com/atlas-desktop/trading-core/internal/watchdog"
	"github.com/atlas-desktop/trading-core/internal/whale"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	envFile := flag.String("env-file", "", "optional .env file to load before reading environment variables")
	httpAddr := flag.String("http-addr", ":8080", "ops HTTP server bind address")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err) // fatal: no logger yet to report through
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting trading core",
		zap.String("datastoreProject", cfg.Datastore.ProjectID),
		zap.Int("tickSeconds", cfg.Scheduler.TickSeconds),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fsClient, err := firestore.NewClient(ctx, cfg.Datastore.ProjectID)
	if err != nil {
		logger.Fatal("failed to construct firestore client", zap.Error(err))
	}
	defer fsClient.Close()

	dataStore := store.New(fsClient, logger.Named("store"))

	brokerClient, err := broker.NewPaperClient(cfg.Broker.PaperBaseURL, cfg.Broker.KeyID, cfg.Broker.SecretKey, logger.Named("broker"))
	if err != nil {
		// BROKER_PAPER_BASE_URL not pointing at a paper host is a fatal
		// safety-config violation: this process never starts against a
		// live trading endpoint.
		logger.Fatal("refusing to start: broker safety check failed", zap.Error(err))
	}

	var llmClient llm.Client
	if cfg.LLM.APIKey != "" {
		llmClient = llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.Model, logger.Named("llm"))
	}

	optionsClient := optionsfeed.NewRESTClient(cfg.Broker.PaperBaseURL, logger.Named("optionsfeed"))

	vault := identity.New(logger.Named("identity"), dataStore)
	registry := strategy.NewRegistry()

	sharpeTrackers := newSharpeRegistry(cfg.Sharpe.MinSampleDays)

	maestroOrch := maestro.New(maestro.Config{Tiers: cfg.Sharpe, Systemic: cfg.Systemic}, vault, llmClient, logger.Named("maestro"))
	consensusCfg := consensus.Config{ExecuteThreshold: cfg.Consensus.ExecuteThreshold}
	riskCfg := risk.Config(cfg.Risk)

	shadowExecutor := shadow.New(logger.Named("shadow"), dataStore, dataStore, brokerClient, vault, sharpeTrackers)
	materializer := shadow.NewMaterializer(logger.Named("shadow"), dataStore, brokerClient)
	watchdogScanner := watchdog.New(logger.Named("watchdog"), dataStore, llmClient, cfg.Watchdog)
	whaleScorer := whale.New(dataStore, whale.Config{SentimentTieBreak: cfg.Whale.SentimentTieBreak})
	_ = whaleScorer // constructed and ready; ingestion is driven by an external options-flow feed, out of scope for this core (no ingestion API/UI).

	regimeEngine := regime.New(logger.Named("regime"), dataStore, optionsClient, brokerClient, regime.DefaultConfig())

	scheduler := heartbeat.New(
		logger.Named("heartbeat"),
		dataStore,
		brokerClient,
		registry,
		maestroOrch,
		consensusCfg,
		riskCfg,
		shadowExecutor,
		materializer,
		watchdogScanner,
		sharpeTrackers.lookup,
		vault,
		heartbeat.Config{SchedulerConfig: cfg.Scheduler, Symbol: "SPX"},
	)

	reg := prometheus.DefaultRegisterer
	m := metrics.New(reg)

	lastTick := newTickHealth()

	opsServer := httpserver.New(logger.Named("http"), *httpAddr, prometheus.DefaultGatherer, lastTick.healthFunc)

	c := cron.New()
	if _, err := c.AddFunc("* * * * *", func() {
		tickCtx, tickCancel := context.WithTimeout(ctx, time.Duration(cfg.Scheduler.PerTickDeadlineMS)*time.Millisecond)
		defer tickCancel()

		start := time.Now()
		summary := scheduler.Tick(tickCtx)
		m.TickDuration.Observe(time.Since(start).Seconds())
		m.TickUnitsTotal.WithLabelValues("success").Add(float64(summary.Success))
		m.TickUnitsTotal.WithLabelValues("errors").Add(float64(summary.Errors))
		m.TickUnitsTotal.WithLabelValues("skipped").Add(float64(summary.Skipped))
		lastTick.record(summary)

		logger.Info("tick complete",
			zap.Int("success", summary.Success),
			zap.Int("errors", summary.Errors),
			zap.Int("skipped", summary.Skipped),
			zap.Duration("duration", summary.Duration),
		)
	}); err != nil {
		logger.Fatal("failed to register heartbeat cron job", zap.Error(err))
	}

	if _, err := c.AddFunc("*/5 * * * *", func() {
		syncCtx, syncCancel := context.WithTimeout(ctx, 30*time.Second)
		defer syncCancel()
		regimeEngine.Sync(syncCtx)
	}); err != nil {
		logger.Fatal("failed to register regime sync cron job", zap.Error(err))
	}
	c.Start()

	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops http server error", zap.Error(err))
		}
	}()

	logger.Info("trading core started", zap.String("httpAddr", *httpAddr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	cronShutdownCtx := c.Stop()
	<-cronShutdownCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during ops http server shutdown", zap.Error(err))
	}

	logger.Info("trading core stopped")
}

// sharpeRegistry lazily owns one Tracker per agent, guarded by a mutex
// since ticks run per-{tenant,user} concurrently. The Shadow Executor feeds
// it via IngestRealizedLot whenever a FIFO close realizes a lot; lookup
// returns nil (unknown Sharpe) until an agent has at least one tracker,
// which Maestro already treats as ACTIVE/full-allocation per its default
// rule.
type sharpeRegistry struct {
	minDays int
	mu      sync.Mutex
	byAgent map[string]*performance.Tracker
}

func newSharpeRegistry(minDays int) *sharpeRegistry {
	return &sharpeRegistry{minDays: minDays, byAgent: make(map[string]*performance.Tracker)}
}

func (r *sharpeRegistry) lookup(agentID string) *float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byAgent[agentID]
	if !ok {
		return nil
	}
	return t.Sharpe()
}

// IngestRealizedLot implements shadow.PerformanceSink, feeding a FIFO-closed
// trade's realized P&L into the agent's rolling Sharpe tracker, creating it
// on first use.
func (r *sharpeRegistry) IngestRealizedLot(agentID string, lot performance.Lot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byAgent[agentID]
	if !ok {
		t = performance.New(r.minDays)
		r.byAgent[agentID] = t
	}
	t.Ingest(lot)
}

// tickHealth reports liveness as "a tick completed within the last three
// minutes", surfaced at /healthz.
type tickHealth struct {
	mu   sync.Mutex
	last time.Time
}

func newTickHealth() *tickHealth { return &tickHealth{} }

func (h *tickHealth) record(summary heartbeat.TickSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = time.Now()
}

func (h *tickHealth) healthFunc() (bool, string) {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	if last.IsZero() {
		return false, "no tick has completed yet"
	}
	if time.Since(last) > 3*time.Minute {
		return false, "no tick has completed in the last 3 minutes"
	}
	return true, "last tick at " + last.Format(time.RFC3339)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
