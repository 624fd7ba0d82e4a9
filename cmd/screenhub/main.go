package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devrev/screenhub/internal/backup"
	"github.com/devrev/screenhub/internal/config"
	serrors "github.com/devrev/screenhub/internal/errors"
	"github.com/devrev/screenhub/internal/health"
	"github.com/devrev/screenhub/internal/metrics"
	"github.com/devrev/screenhub/internal/notify"
	"github.com/devrev/screenhub/internal/publish"
	"github.com/devrev/screenhub/internal/resolver"
	"github.com/devrev/screenhub/internal/seed"
	"github.com/devrev/screenhub/internal/server"
	"github.com/devrev/screenhub/internal/service"
	"github.com/devrev/screenhub/internal/store"
	"github.com/devrev/screenhub/internal/telemetry"
	"github.com/devrev/screenhub/internal/util/workerpool"
	"github.com/devrev/screenhub/internal/version"
)

// Version is set at build time
var Version = "dev"

func main() {
	// A missing .env file is fine
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting screenhub",
		zap.String("version", Version),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.String("publish_backend", cfg.Publish.Backend),
		zap.String("environment", cfg.Resolver.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, Version, cfg.Telemetry.Insecure)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}

	agg := metrics.NewAggregator(cfg.Metrics.Namespace)

	// Authoritative store
	kv, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	logger.Info("Store initialized", zap.String("backend", cfg.Store.Backend))

	// Cache tiers
	l1 := store.NewInMemoryKV(cfg.Cache.L1MaxSize, cfg.Cache.CleanupInterval, logger)
	tiers := []store.Tier{{Name: "l1", Store: l1, TTL: cfg.Cache.L1TTL}}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		l2, err := store.NewRedisKV(store.RedisOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize redis cache", zap.Error(err))
		}
		redisClient = l2.Client()
		tiers = append(tiers, store.Tier{Name: "l2", Store: l2, TTL: cfg.Cache.L2TTL})
	}
	cache := store.NewTieredCache(service.CacheKeyPrefix, tiers, agg, logger)

	versions := version.NewStore(version.Config{MaxVersions: cfg.Versions.MaxVersions}, kv, agg, logger)
	res := resolver.New(resolver.Options{Environment: cfg.Resolver.Environment, Recorder: agg}, logger)

	publisher, err := newPublisher(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("Failed to initialize publisher", zap.Error(err))
	}
	codec, err := publish.NewCodec(publish.Format(cfg.Publish.Format))
	if err != nil {
		logger.Fatal("Failed to initialize codec", zap.Error(err))
	}

	pool := workerpool.New(workerpool.Config{
		Name:        "publish",
		Workers:     cfg.Publish.Workers,
		QueueSize:   cfg.Publish.QueueSize,
		TaskTimeout: cfg.Publish.Timeout,
	}, logger)

	docs := service.NewDistributionService(
		service.DistributionConfig{
			MaxDepth:           cfg.Versions.MaxDepth,
			TopicPrefix:        cfg.Publish.TopicPrefix,
			RefreshInterval:    cfg.Cache.RefreshInterval,
			RefreshConcurrency: cfg.Cache.RefreshConcurrency,
		},
		kv,
		cache,
		versions,
		res,
		publisher,
		codec,
		pool,
		agg,
		logger,
	)

	backups := backup.NewService(
		backup.Config{
			Interval:    cfg.Backup.Interval,
			MaxBackups:  cfg.Backup.MaxBackups,
			ItemTimeout: cfg.Backup.ItemTimeout,
		},
		kv,
		docs,
		docs,
		agg,
		logger,
	)

	engine := health.NewEngine(
		health.Config{
			Interval:         cfg.Health.Interval,
			CheckTimeout:     cfg.Health.CheckTimeout,
			HistoryRetention: cfg.Health.HistoryRetention,
		},
		kv,
		newNotifier(cfg.Notify, logger),
		agg,
		logger,
	)
	if err := registerChecks(engine, cfg.Health, kv, agg); err != nil {
		logger.Fatal("Failed to register health checks", zap.Error(err))
	}

	api := service.NewAPI(docs, backups, engine, agg, logger)

	if cfg.Seed.Directory != "" {
		seedDocs, err := seed.LoadDirectory(cfg.Seed.Directory)
		if err != nil {
			logger.Fatal("Failed to load seed documents", zap.Error(err))
		}
		_, err = seed.Seed(ctx, api, seedDocs, logger)
		switch {
		case err == nil:
		case serrors.GetCode(err) == serrors.ErrCodePartialFailure:
			logger.Warn("Some seed documents were not written", zap.Error(err))
		default:
			logger.Fatal("Failed to seed documents", zap.Error(err))
		}
	}

	// Background loops
	docs.StartCacheRefresh(ctx)
	if cfg.Backup.Enabled {
		backups.Start(ctx)
	}
	engine.Start(ctx)

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry(agg)
	}
	opsServer := server.New(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		MetricsPath:  cfg.Metrics.Path,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, engine, agg, reg, logger)
	if err := opsServer.Start(); err != nil {
		logger.Fatal("Failed to start ops server", zap.Error(err))
	}

	logger.Info("Screenhub started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	logger.Info("Shutting down gracefully")
	engine.SetReadiness(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ops server shutdown failed", zap.Error(err))
	}

	engine.Stop()
	backups.Stop()
	docs.Stop()
	cancel()

	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Warn("Publish queue not drained", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		logger.Warn("Failed to close publisher", zap.Error(err))
	}
	for _, t := range tiers {
		if err := t.Store.Close(); err != nil {
			logger.Warn("Failed to close cache tier", zap.String("tier", t.Name), zap.Error(err))
		}
	}
	if err := kv.Close(); err != nil {
		logger.Warn("Failed to close store", zap.Error(err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("Failed to flush telemetry", zap.Error(err))
	}

	logger.Info("Screenhub stopped")
}

func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	hostname, _ := os.Hostname()
	return zcfg.Build(zap.Fields(
		zap.String("service_name", "screenhub"),
		zap.String("hostname", hostname),
	))
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.KVStore, error) {
	switch cfg.Store.Backend {
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return store.NewPostgresKV(connectCtx, store.PostgresOptions{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			MaxConns: cfg.Database.MaxConnections,
			MinConns: cfg.Database.MinConnections,
		}, logger)
	case "sqlite":
		return store.NewSQLiteKV(ctx, cfg.SQLite.Path, logger)
	default:
		return store.NewInMemoryKV(0, time.Minute, logger), nil
	}
}

func newPublisher(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (publish.Publisher, error) {
	switch cfg.Publish.Backend {
	case "mqtt":
		return publish.NewMQTTPublisher(publish.MQTTConfig{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			QoS:            byte(cfg.MQTT.QoS),
			Retained:       cfg.MQTT.Retained,
			PublishTimeout: cfg.Publish.Timeout,
		}, logger)
	case "redis":
		return publish.NewRedisPublisher(redisClient, logger), nil
	default:
		return publish.NewLogPublisher(logger), nil
	}
}

func newNotifier(cfg config.NotifyConfig, logger *zap.Logger) notify.Notifier {
	var n notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.WebhookURL != "" {
		n = notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:        cfg.WebhookURL,
			Timeout:    cfg.Timeout,
			RetryCount: cfg.RetryCount,
		}, logger)
	}
	if cfg.RatePerSec > 0 {
		n = notify.NewRateLimited(n, cfg.RatePerSec, cfg.Burst, logger)
	}
	return n
}

func registerChecks(engine *health.Engine, cfg config.HealthConfig, kv store.KVStore, agg *metrics.Aggregator) error {
	checks := []struct {
		name     string
		fn       health.CheckFunc
		critical bool
	}{
		{"store_latency", health.StoreLatencyCheck(kv), true},
		{"cache_hit_rate", health.CacheHitRateCheck(agg, store.CounterCacheHits, store.CounterCacheMisses, cfg.MinCacheSamples), false},
		{"goroutines", health.GoroutineCheck(), false},
		{"heap_mb", health.HeapCheck(), false},
		{"disk_usage", health.DiskUsageCheck(cfg.DataDir), true},
	}

	for _, c := range checks {
		threshold, ok := cfg.Thresholds[c.name]
		if !ok {
			continue
		}
		var opts []health.CheckOption
		if c.critical {
			opts = append(opts, health.Critical())
		}
		if err := engine.RegisterCheck(c.name, c.fn, threshold, opts...); err != nil {
			return err
		}
	}
	return nil
}
