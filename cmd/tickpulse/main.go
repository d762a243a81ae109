// Command tickpulse streams ticks from the upstream feed, evaluates a
// directional signal once per minute per instrument, and serves the latest
// snapshot over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"tickpulse/config"
	"tickpulse/internal/bus"
	"tickpulse/internal/feed"
	"tickpulse/internal/ingest"
	"tickpulse/internal/logger"
	"tickpulse/internal/metrics"
	"tickpulse/internal/model"
	"tickpulse/internal/query"
	"tickpulse/internal/signal"
	redissink "tickpulse/internal/sink/redis"
	sqlitesink "tickpulse/internal/sink/sqlite"
	"tickpulse/internal/store"
	"tickpulse/pkg/tracing"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	eventQueueSize   = 256
	sinkBufferSize   = 256
	livenessInterval = 10 * time.Second
	shutdownTimeout  = 5 * time.Second
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	initTracerFunc         = tracing.InitTracer
	newPromRegistryFunc    = newPromRegistry
	newRouterFunc          = gin.New
	runFeedFunc            = func(ctx context.Context, m *feed.Manager) error { return m.Run(ctx) }
	setupSignalNotify      = ossignal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

func main() {
	if err := run(); err != nil {
		slog.Error("tickpulse exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real environment variables take precedence.
	_ = loadEnvFunc()

	cfg, err := loadConfigFunc()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	level, levelErr := logger.ParseLevel(cfg.LogLevel)
	log := logger.Init("tickpulse", level)
	if levelErr != nil {
		log.Warn("falling back to info logging", slog.Any("error", levelErr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.Warn("tracer provider shutdown", slog.Any("error", err))
		}
	}()

	reg, err := model.NewRegistry(cfg.Instruments, cfg.DefaultPair)
	if err != nil {
		return err
	}

	// ---- Metrics & health ----
	promReg := newPromRegistryFunc()
	m := metrics.NewMetrics(promReg)
	health := metrics.NewHealthStatus()
	health.SetInstruments(reg.Len())
	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, promReg)
		metricsSrv.Start()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			metricsSrv.Stop(sctx)
		}()
	}

	// ---- State store & engine ----
	st := store.New(reg, store.Options{
		WindowSize:      cfg.WindowSize,
		EvalSecond:      cfg.EvalSecond,
		DedupSameSecond: cfg.DedupSameSecond,
	})
	engine := signal.NewEngine(cfg.Signal)

	// ---- Optional sinks behind the fan-out ----
	fanout := bus.New(sinkBufferSize)
	fanout.OnDrop = func(subscriber string) {
		m.FanoutDropsTotal.WithLabelValues(subscriber).Inc()
	}

	var (
		sinks   sync.WaitGroup
		rdb     *goredis.Client
		journal *sqlitesink.Journal
	)

	if cfg.RedisAddr != "" {
		pub, err := redissink.New(ctx, redissink.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.RedisSignalTTL,
		}, m, log)
		if err != nil {
			log.Warn("redis sink disabled", slog.Any("error", err))
		} else {
			defer pub.Close()
			rdb = pub.Client()
			health.EnableRedis()
			ch := fanout.Subscribe("redis")
			sinks.Add(1)
			go func() {
				defer sinks.Done()
				pub.Run(ctx, ch)
			}()
			log.Info("redis sink ready", slog.String("addr", cfg.RedisAddr))
		}
	}

	if cfg.SQLitePath != "" {
		journal, err = sqlitesink.Open(cfg.SQLitePath, m, log)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer journal.Close()
		health.EnableJournal()
		ch := fanout.Subscribe("journal")
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			journal.Run(ctx, ch)
		}()
		log.Info("signal journal ready", slog.String("path", cfg.SQLitePath))
	}

	if rdb != nil || journal != nil {
		var sqlDB *sql.DB
		if journal != nil {
			sqlDB = journal.DB()
		}
		health.StartLivenessChecker(ctx, rdb, sqlDB, livenessInterval)
	}

	var events chan model.SignalEvent
	if fanout.Len() > 0 {
		events = make(chan model.SignalEvent, eventQueueSize)
		go fanout.Run(ctx, events)
		go watchSinkQueues(ctx, fanout, m, livenessInterval)
	}

	// ---- Ingestion & feed ----
	proc, err := ingest.New(ingest.Config{
		Store:   st,
		Engine:  engine,
		Metrics: m,
		Health:  health,
		Events:  events,
		Log:     log,
	})
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	mgr, err := feed.NewManager(feed.Config{
		URL:                cfg.FeedURL,
		AppID:              cfg.AppID,
		Token:              cfg.APIToken,
		Symbols:            reg.Symbols(),
		Backfill:           cfg.Backfill,
		HistoryCount:       cfg.HistoryCount,
		HistoryGranularity: cfg.HistoryGranularity,
		HistoryStyle:       cfg.HistoryStyle,
		ReconnectDelay:     cfg.ReconnectDelay,
		MaxReconnectDelay:  cfg.MaxReconnectDelay,
		AuthRetryDelay:     cfg.AuthRetryDelay,
		ReadTimeout:        cfg.ReadTimeout,
		PingInterval:       cfg.PingInterval,
	}, proc, proc.FeedHooks(), log)
	if err != nil {
		return fmt.Errorf("feed: %w", err)
	}

	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		if err := runFeedFunc(ctx, mgr); err != nil {
			log.Error("feed manager stopped", slog.Any("error", err))
		}
	}()

	// ---- HTTP query surface ----
	var j query.Journal
	if journal != nil {
		j = journal
	}
	h := query.NewHandler(tracer, query.NewService(reg, st, m), j, health)

	r := newRouterFunc()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(tracing.ServiceName))
	r.Use(query.CORS(cfg.CORSOrigins))
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("query server listening", slog.String("addr", srv.Addr))
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("query server error", slog.Any("error", err))
			cancel()
		}
	}()

	log.Info("tickpulse started",
		slog.Int("instruments", reg.Len()),
		slog.String("default", cfg.DefaultPair),
		slog.Int("sinks", fanout.Len()),
	)

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Warn("query server forced to shutdown", slog.Any("error", err))
	}

	<-feedDone
	sinks.Wait()
	log.Info("tickpulse exiting")
	return nil
}

// watchSinkQueues samples the fan-out subscriber backlog until ctx ends.
func watchSinkQueues(ctx context.Context, fanout *bus.FanOut, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		recordSinkQueues(fanout, m)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func recordSinkQueues(fanout *bus.FanOut, m *metrics.Metrics) {
	for _, st := range fanout.ChannelStats() {
		m.SinkQueueDepth.WithLabelValues(st.Name).Set(float64(st.Len))
	}
}

func newPromRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
