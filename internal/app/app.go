// Package app wires the service together: configuration, logging, storage,
// cache, cloud pricing, the workflow engine with its monitor and dashboard,
// the quality services, and the continuous improvement loops. Everything is
// constructor-injected; nothing in the core reaches for globals.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inframind/platform/internal/cache"
	"github.com/inframind/platform/internal/cloud"
	"github.com/inframind/platform/internal/config"
	"github.com/inframind/platform/internal/dashboard"
	"github.com/inframind/platform/internal/events"
	"github.com/inframind/platform/internal/metrics"
	"github.com/inframind/platform/internal/monitor"
	"github.com/inframind/platform/internal/quality"
	"github.com/inframind/platform/internal/quality/abtesting"
	"github.com/inframind/platform/internal/quality/feedback"
	"github.com/inframind/platform/internal/quality/improvement"
	"github.com/inframind/platform/internal/store"
	"github.com/inframind/platform/internal/tracing"
	"github.com/inframind/platform/internal/workflow"
)

// Context holds every constructed component of the service.
type Context struct {
	Config *config.Config
	Logger *zap.Logger

	Store store.Store
	Cache cache.Cache
	Cloud cloud.Client

	Collector *metrics.Collector
	Bus       *events.Manager

	Engine    *workflow.Engine
	Monitor   *monitor.Monitor
	Dashboard *dashboard.Dashboard

	Validator   *quality.Validator
	FactChecker *quality.FactChecker
	Feedback    *feedback.Collector
	Scores      *feedback.ScoreManager
	Experiments *abtesting.Framework
	Improvement *improvement.System

	watcher        *config.ThresholdWatcher
	tracerShutdown tracing.ShutdownFunc
	httpServer     *http.Server
	redisCache     *cache.Redis
	mongoStore     *store.MongoStore
	stopJanitor    chan struct{}
	janitorWG      sync.WaitGroup
}

// Options overrides external collaborators during construction; tests inject
// fakes here.
type Options struct {
	CatalogPath string
}

// New builds the full application context from configuration. Components are
// constructed in dependency order; a failure tears down nothing because no
// background work has started yet.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Context, error) {
	logger, err := buildLogger(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &Context{
		Config:      cfg,
		Logger:      logger,
		stopJanitor: make(chan struct{}),
	}

	tracer, tracerShutdown, err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Observability.Tracing.Enabled,
		ServiceName:  cfg.Observability.Tracing.ServiceName,
		OTLPEndpoint: cfg.Observability.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	// storage: Mongo when configured, in-memory otherwise
	if cfg.Mongo.URI != "" {
		ms, err := store.NewMongoStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		a.mongoStore = ms
		a.Store = ms
	} else {
		logger.Info("No Mongo URI configured, using in-memory store")
		a.Store = store.NewMemStore()
	}

	// cache: Redis when configured, no-op otherwise
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redisCache = rc
		a.Cache = rc
	} else {
		logger.Info("No Redis address configured, caching disabled")
		a.Cache = cache.Null{}
	}

	catalogPath := opts.CatalogPath
	if catalogPath == "" {
		catalogPath = "./config/pricing.yaml"
	}
	catalog, err := cloud.LoadCatalog(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("load pricing catalog: %w", err)
	}
	a.Cloud = cloud.NewCachingClient(catalog, a.Cache, cloud.ClientOptions{
		PricingTTL:      cfg.Quality.PricingCacheTTL,
		AvailabilityTTL: cfg.Quality.AvailabilityCacheTTL,
	}, logger)

	a.Collector = metrics.NewCollector(logger)
	a.Bus = events.NewManager(logger)

	a.Engine = workflow.NewEngine(cfg.Engine, a.Bus, logger)
	a.Monitor = monitor.New(cfg.Monitor, a.Collector, tracer, logger)
	a.Monitor.Register(a.Bus)
	a.Dashboard = dashboard.New(a.Monitor, cfg.Dashboard.PollInterval, logger)

	a.Validator = quality.NewValidator(a.Cloud, cfg.Quality, logger)
	a.FactChecker = quality.NewFactChecker(a.Cloud, a.Cache, cfg.Quality.FactCheckCacheTTL, logger)
	a.Feedback = feedback.NewCollector(a.Store, logger)
	a.Scores = feedback.NewScoreManager(a.Store, a.Cache, cfg.Quality.ScoreCacheTTL, logger)
	a.Experiments = abtesting.New(a.Store, cfg.Experiments.MaxConcurrentPerUser, logger)
	a.Improvement = improvement.New(a.Store, a.Collector, cfg.Improvement, logger)

	if cfg.Improvement.ThresholdsFile != "" {
		w, err := config.NewThresholdWatcher(cfg.Improvement.ThresholdsFile, cfg.Improvement.Thresholds, logger)
		if err != nil {
			return nil, fmt.Errorf("threshold watcher: %w", err)
		}
		w.OnChange(a.Improvement.SetThresholds)
		a.Improvement.SetThresholds(w.Current())
		a.watcher = w
	}

	return a, nil
}

// Start launches background loops and the ops HTTP listener.
func (a *Context) Start() {
	a.Monitor.Start()
	a.Dashboard.Start()
	a.Feedback.Start()
	a.Improvement.Start()
	if a.watcher != nil {
		a.watcher.Start()
	}

	a.janitorWG.Add(1)
	go a.workflowJanitor()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Observability.MetricsPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		a.Logger.Info("Ops HTTP server listening", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Ops HTTP server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the service down in reverse dependency order.
func (a *Context) Stop(ctx context.Context) {
	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Engine.ShutdownTimeout)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("Ops HTTP shutdown", zap.Error(err))
		}
	}

	close(a.stopJanitor)
	a.janitorWG.Wait()

	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.Improvement.Stop()
	a.Feedback.Stop()
	a.Dashboard.Stop()
	a.Monitor.Stop()

	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			a.Logger.Warn("Redis close", zap.Error(err))
		}
	}
	if a.mongoStore != nil {
		if err := a.mongoStore.Close(ctx); err != nil {
			a.Logger.Warn("Mongo close", zap.Error(err))
		}
	}
	if err := a.tracerShutdown(ctx); err != nil {
		a.Logger.Warn("Tracer shutdown", zap.Error(err))
	}
	_ = a.Logger.Sync()
}

// workflowJanitor evicts terminal workflow runs past the retention age.
func (a *Context) workflowJanitor() {
	defer a.janitorWG.Done()
	retention := time.Duration(a.Config.Engine.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := a.Engine.CleanupCompletedWorkflows(retention); n > 0 {
				a.Logger.Info("Evicted terminal workflows", zap.Int("count", n))
			}
		case <-a.stopJanitor:
			return
		}
	}
}

func (a *Context) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := a.Collector.GetSystemHealth()
	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}

func (a *Context) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok", "cache": "ok"}
	status := http.StatusOK
	if err := a.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := a.Cache.Ping(ctx); err != nil {
		checks["cache"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(checks)
}

func buildLogger(obs config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(obs.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if obs.Logging.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
