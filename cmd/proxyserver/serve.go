package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/llm-key-proxy/internal/config"
	"github.com/vitaliisemenov/llm-key-proxy/internal/httpapi"
	"github.com/vitaliisemenov/llm-key-proxy/internal/keymanager"
	"github.com/vitaliisemenov/llm-key-proxy/internal/persistence"
	"github.com/vitaliisemenov/llm-key-proxy/internal/persistence/postgres"
	"github.com/vitaliisemenov/llm-key-proxy/internal/persistence/sqlite"
	"github.com/vitaliisemenov/llm-key-proxy/internal/pipeline"
	"github.com/vitaliisemenov/llm-key-proxy/internal/policyengine"
	"github.com/vitaliisemenov/llm-key-proxy/internal/replay"
	"github.com/vitaliisemenov/llm-key-proxy/internal/router"
	"github.com/vitaliisemenov/llm-key-proxy/internal/routingconfig"
	"github.com/vitaliisemenov/llm-key-proxy/internal/stats"
	"github.com/vitaliisemenov/llm-key-proxy/internal/tracer"
	"github.com/vitaliisemenov/llm-key-proxy/internal/upstream"
	"github.com/vitaliisemenov/llm-key-proxy/internal/webhook"
	"github.com/vitaliisemenov/llm-key-proxy/pkg/logger"
	"github.com/vitaliisemenov/llm-key-proxy/pkg/metrics"
)

// driftCheckInterval bounds how often the Key Manager compares its own
// view of key availability against what the Router last observed
// (spec.md §4.3).
const driftCheckInterval = 30 * time.Second

// snapshotInterval bounds how often the Standard profile's persistence
// backend receives a fresh stats snapshot and a sweep of recently
// completed traces (spec.md §9).
const snapshotInterval = time.Minute

// traceArchiveBatch caps how many recent traces one snapshot tick
// archives, so a burst of completed requests doesn't block the ticker.
const traceArchiveBatch = 200

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url must be set to run the engine")
	}

	log := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	log.Info("starting proxy engine", "profile", cfg.Profile, "app", cfg.App.Name)

	catalog, err := config.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	keys := keymanager.NewManager()
	for _, k := range catalog.Keys {
		keys.AddKey(k.ID, keyConfigFrom(k, cfg.KeyPool))
	}

	models := make(map[string]router.ModelInfo, len(catalog.Models))
	modelKeys := make(map[string][]string, len(catalog.Models))
	var allKeyIDs []string
	for _, m := range catalog.Models {
		models[m.ID] = router.ModelInfo{
			ID:                m.ID,
			HomeTier:          m.HomeTier,
			CostInputPerM:     m.CostInputPerM,
			CostOutputPerM:    m.CostOutputPerM,
			MaxConcurrency:    m.MaxConcurrency,
			SupportsVision:    m.SupportsVision,
			SupportsStreaming: m.SupportsStreaming,
			ContextLength:     m.ContextLength,
		}
		modelKeys[m.ID] = m.KeyIDs
		allKeyIDs = append(allKeyIDs, m.KeyIDs...)
	}

	routingCfg, err := loadRoutingConfig(cfg.ModelRouting.ConfigPath)
	if err != nil {
		return fmt.Errorf("load model routing config: %w", err)
	}
	routingStore := routingconfig.NewStore(cfg.ModelRouting.ConfigPath)
	if persisted, warning, err := routingStore.Persist(routingCfg, time.Now()); err != nil {
		log.Warn("model routing config persist failed at startup", "error", err)
	} else if persisted {
		log.Info("model routing config migrated and persisted at startup", "warning", warning)
	}

	avail := pipeline.NewModelAvailability(keys, modelKeys)
	rt := router.NewRouter(routingCfg, models, avail, cfg.ModelRouting.GLM5ModelID, log)
	rt.SetDowngradeBudget(router.DowngradeBudget{
		Budget: cfg.ModelRouting.DowngradeBudget,
		Window: time.Duration(cfg.ModelRouting.DowngradeWindowSecs) * time.Second,
	})

	policies := policyengine.NewManager(cfg.PolicyEngine.PolicyPath, log)
	if report, err := policies.Load(); err != nil {
		log.Warn("policy load failed, continuing with no policies", "error", err)
	} else {
		log.Info("policies loaded", "count", report.PoliciesLoaded)
	}
	if err := policies.Watch(func(report policyengine.ReloadReport) {
		log.Info("policies reloaded", "count", report.PoliciesLoaded, "success", report.Success)
	}); err != nil {
		log.Warn("policy hot reload disabled", "error", err)
	}

	tracerStore := tracer.NewStore(cfg.Tracer.Capacity)
	statsAgg := stats.NewAggregator(log)

	dedupStore, redisClient := buildDedupStore(cfg)
	emitter := webhook.NewEmitter(cfg.Webhook.TargetURL, cfg.Webhook.Secret, dedupStore, cfg.Webhook.DedupWindow,
		webhook.NewHTTPDeliverer(cfg.Webhook.RequestTimeout), log)
	spikeDetector := webhook.NewErrorSpikeDetector(webhook.SpikeConfig{
		Threshold: cfg.Webhook.SpikeThreshold,
		Window:    cfg.Webhook.SpikeWindow,
	})
	spikeDetector.StartWindowMonitor(cfg.Webhook.SpikeWindow, func(count int) {
		emitter.Emit(context.Background(), webhook.Event{
			ID:        uuid.NewString(),
			Type:      "error_spike",
			Timestamp: time.Now(),
			DedupeKey: "error-spike",
			Payload:   map[string]interface{}{"count": count, "window": cfg.Webhook.SpikeWindow.String()},
		})
	})

	metricsReg := metrics.DefaultRegistry()

	store, err := buildPersistenceStore(cfg)
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}

	upstreamClient := upstream.New(upstream.Config{BaseURL: cfg.Upstream.BaseURL, Timeout: cfg.Upstream.Timeout})

	var pipe *pipeline.Pipeline
	replayQueue, err := replay.NewQueue(cfg.Replay.Capacity, cfg.Replay.MaxRetries, cfg.Replay.RetentionPeriod,
		func(ctx context.Context, e replay.Entry) error {
			if pipe == nil {
				return fmt.Errorf("pipeline not ready")
			}
			path, _ := e.Request["path"].(string)
			method, _ := e.Request["method"].(string)
			model, _ := e.Request["model"].(string)
			body, _ := e.Request["body"].(string)
			result := pipe.Process(ctx, pipeline.Request{
				RequestID: uuid.NewString(),
				TraceID:   e.TraceID,
				Path:      path,
				Method:    method,
				Model:     model,
				Body:      []byte(body),
				Headers:   e.Headers,
			})
			if !result.Success {
				return fmt.Errorf("replay failed: %s", result.ErrorMessage)
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("build replay queue: %w", err)
	}

	pipe = pipeline.New(pipeline.Config{
		Policies:      policies,
		Router:        rt,
		Keys:          keys,
		ModelKeys:     modelKeys,
		TracerStore:   tracerStore,
		ReplayQueue:   replayQueue,
		Stats:         statsAgg,
		Webhooks:      emitter,
		Metrics:       metricsReg,
		Upstream:      upstreamClient,
		Pricing:       modelPricing{models: models},
		SpikeDetector: spikeDetector,
		Logger:        log,
	})

	startDriftTicker(keys, allKeyIDs, metricsReg)
	snapshotStop := startSnapshotTicker(store, statsAgg, tracerStore, log)

	apiRouter := httpapi.NewRouter(httpapi.Config{
		Pipeline:     pipe,
		Router:       rt,
		RoutingStore: routingStore,
		TracerStore:  tracerStore,
		ReplayQueue:  replayQueue,
		Stats:        statsAgg,
		Metrics:      metricsReg,
		AdminHeader:  cfg.Admin.Header,
		AdminTokens:  cfg.Admin.Tokens,
		Logger:       log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("http server failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	close(snapshotStop)
	policies.Unwatch()
	keys.StopDriftTicker()
	spikeDetector.Stop()
	statsAgg.Destroy()
	if redisClient != nil {
		redisClient.Close()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn("persistence store close failed", "error", err)
		}
	}

	log.Info("proxy engine stopped")
	return nil
}

// keyConfigFrom maps a catalog key entry onto keymanager.Config, falling
// back to the pool-wide defaults for any zero-valued override.
func keyConfigFrom(entry config.KeyCatalogEntry, pool config.KeyPoolConfig) keymanager.Config {
	cfg := keymanager.DefaultConfig()
	cfg.MaxConcurrency = pool.DefaultMaxConcurrency
	cfg.FailureThreshold = pool.FailureThreshold
	cfg.CooldownDuration = pool.CooldownBase
	cfg.HalfOpenProbes = pool.HalfOpenProbes
	if entry.MaxConcurrency > 0 {
		cfg.MaxConcurrency = entry.MaxConcurrency
	}
	if entry.FailureThreshold > 0 {
		cfg.FailureThreshold = entry.FailureThreshold
	}
	if entry.HalfOpenProbes > 0 {
		cfg.HalfOpenProbes = entry.HalfOpenProbes
	}
	return cfg
}

// loadRoutingConfig reads configPath directly, since routingconfig.Store
// only persists and hashes a config - it has no counterpart that reads
// one back. A missing file normalizes the same as an empty document.
func loadRoutingConfig(configPath string) (routingconfig.Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return routingconfig.Config{}, err
		}
		data = nil
	}
	result := routingconfig.Normalize(data, routingconfig.ModeFull)
	return result.Config, nil
}

// buildDedupStore prefers Redis when configured, so the dedup window
// survives a restart; it falls back to the in-memory store otherwise.
// The returned *redis.Client is nil when unused, so callers can close it
// unconditionally on shutdown.
func buildDedupStore(cfg *config.Config) (webhook.DedupStore, *redis.Client) {
	if cfg.Redis.Addr == "" {
		return webhook.NewMemDedupStore(1024), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	return webhook.NewRedisDedupStore(client), client
}

func buildPersistenceStore(cfg *config.Config) (persistence.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.Username, cfg.Database.Password, cfg.Database.Host,
			cfg.Database.Port, cfg.Database.Database, cfg.Database.SSLMode)
		return postgres.Open(ctx, dsn)
	default:
		return sqlite.Open(ctx, cfg.Storage.SQLitePath)
	}
}

// startDriftTicker runs DetectDrift on an interval and feeds the deltas
// into the drift_total counter, since DetectDrift's own return value is
// a running cumulative total rather than a per-tick count.
func startDriftTicker(keys *keymanager.Manager, allKeyIDs []string, reg *metrics.Registry) {
	var prev keymanager.DriftCounters
	keys.StartDriftTicker(driftCheckInterval, func() keymanager.RouterView {
		candidates := keys.Candidates(allKeyIDs, time.Now())
		candidateSet := make(map[string]struct{}, len(candidates))
		for _, id := range candidates {
			candidateSet[id] = struct{}{}
		}
		var excluded []string
		for _, id := range allKeyIDs {
			if _, ok := candidateSet[id]; !ok {
				excluded = append(excluded, id)
			}
		}
		return keymanager.RouterView{ExcludedKeyIDs: excluded}
	}, func(counters keymanager.DriftCounters) {
		addDrift(reg, "router_available_km_excluded", counters.RouterAvailableKMExcluded-prev.RouterAvailableKMExcluded)
		addDrift(reg, "km_available_router_cooled", counters.KMAvailableRouterCooled-prev.KMAvailableRouterCooled)
		addDrift(reg, "concurrency_mismatch", counters.ConcurrencyMismatch-prev.ConcurrencyMismatch)
		addDrift(reg, "cooldown_mismatch", counters.CooldownMismatch-prev.CooldownMismatch)
		prev = counters
	})
}

func addDrift(reg *metrics.Registry, reason string, delta int64) {
	if delta <= 0 {
		return
	}
	reg.System().DriftTotal.WithLabelValues("all", reason).Add(float64(delta))
}

// startSnapshotTicker periodically durably records the latest stats
// snapshot and recently completed traces, so the Standard profile's
// history survives a restart (spec.md §9).
func startSnapshotTicker(store persistence.Store, statsAgg *stats.Aggregator, tracerStore *tracer.Store, log *slog.Logger) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(snapshotInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if _, err := store.SaveStatsSnapshot(ctx, statsAgg.Snapshot()); err != nil {
					log.Warn("stats snapshot save failed", "error", err)
				}
				if err := store.ArchiveTraces(ctx, tracerStore.Recent(traceArchiveBatch)); err != nil {
					log.Warn("trace archive failed", "error", err)
				}
				cancel()
			}
		}
	}()
	return stop
}

// modelPricing adapts the catalog-derived model table into
// pipeline.PricingTable.
type modelPricing struct {
	models map[string]router.ModelInfo
}

func (p modelPricing) CostPerM(model string) (inputPerM, outputPerM float64) {
	info, ok := p.models[model]
	if !ok {
		return 0, 0
	}
	return info.CostInputPerM, info.CostOutputPerM
}
