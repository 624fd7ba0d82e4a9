package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/devrev/screenhub/internal/model"
)

// Config represents the screenhub service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Versions  VersionsConfig  `mapstructure:"versions"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Health    HealthConfig    `mapstructure:"health"`
	Publish   PublishConfig   `mapstructure:"publish"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Seed      SeedConfig      `mapstructure:"seed"`
}

// ServerConfig represents the ops HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the authoritative store backend
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig represents PostgreSQL store configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// SQLiteConfig represents the embedded store configuration
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig represents the shared cache tier configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// CacheConfig represents tiered cache configuration
type CacheConfig struct {
	L1MaxSize          int           `mapstructure:"l1_max_size"`
	L1TTL              time.Duration `mapstructure:"l1_ttl"`
	L2TTL              time.Duration `mapstructure:"l2_ttl"`
	RefreshInterval    time.Duration `mapstructure:"refresh_interval"`
	RefreshConcurrency int           `mapstructure:"refresh_concurrency"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
}

// VersionsConfig represents version history configuration
type VersionsConfig struct {
	MaxVersions int `mapstructure:"max_versions"`
	MaxDepth    int `mapstructure:"max_depth"`
}

// BackupConfig represents backup scheduling and retention
type BackupConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	MaxBackups  int           `mapstructure:"max_backups"`
	ItemTimeout time.Duration `mapstructure:"item_timeout"`
}

// HealthConfig represents health engine configuration
type HealthConfig struct {
	Interval         time.Duration              `mapstructure:"interval"`
	CheckTimeout     time.Duration              `mapstructure:"check_timeout"`
	HistoryRetention time.Duration              `mapstructure:"history_retention"`
	DataDir          string                     `mapstructure:"data_dir"`
	MinCacheSamples  uint64                     `mapstructure:"min_cache_samples"`
	Thresholds       map[string]model.Threshold `mapstructure:"thresholds"`
}

// PublishConfig represents update publication configuration
type PublishConfig struct {
	Backend     string        `mapstructure:"backend"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	Format      string        `mapstructure:"format"`
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// MQTTConfig represents MQTT broker configuration
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	QoS      int    `mapstructure:"qos"`
	Retained bool   `mapstructure:"retained"`
}

// NotifyConfig represents alert notification configuration
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Burst      int           `mapstructure:"burst"`
}

// ResolverConfig represents variable resolver configuration
type ResolverConfig struct {
	Environment string `mapstructure:"environment"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// TelemetryConfig represents OpenTelemetry tracing configuration
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SeedConfig points at documents loaded at boot
type SeedConfig struct {
	Directory string `mapstructure:"directory"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	default:
		return fmt.Errorf("store.backend must be one of: memory, postgres, sqlite (got %q)", c.Store.Backend)
	}

	if c.Redis.Enabled && c.Redis.Host == "" {
		return errors.New("redis.host is required when redis is enabled")
	}
	if c.Versions.MaxVersions <= 0 {
		return errors.New("versions.max_versions must be positive")
	}
	if c.Backup.MaxBackups <= 0 {
		return errors.New("backup.max_backups must be positive")
	}
	if c.Health.Interval <= 0 {
		return errors.New("health.interval must be positive")
	}

	switch c.Publish.Backend {
	case "log":
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("publish.backend redis requires redis.enabled")
		}
	case "mqtt":
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.broker is required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return errors.New("mqtt.qos must be 0, 1 or 2")
		}
	default:
		return fmt.Errorf("publish.backend must be one of: log, redis, mqtt (got %q)", c.Publish.Backend)
	}
	if c.Publish.Format == "" {
		c.Publish.Format = "json"
	}
	if c.Publish.Format != "json" && c.Publish.Format != "protobuf" {
		return errors.New("publish.format must be json or protobuf")
	}

	for name, t := range c.Health.Thresholds {
		if t.Inverse && t.Critical > t.Warning {
			return fmt.Errorf("health.thresholds.%s: inverse critical must not exceed warning", name)
		}
		if !t.Inverse && t.Critical < t.Warning {
			return fmt.Errorf("health.thresholds.%s: critical must not be below warning", name)
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "screenhub",
			User:           "screenhub",
			MaxConnections: 20,
			MinConnections: 2,
		},
		SQLite: SQLiteConfig{
			Path: "data/screenhub.db",
		},
		Redis: RedisConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     6379,
			PoolSize: 50,
		},
		Cache: CacheConfig{
			L1MaxSize:          10000,
			L1TTL:              time.Minute,
			L2TTL:              10 * time.Minute,
			RefreshInterval:    5 * time.Minute,
			RefreshConcurrency: 8,
			CleanupInterval:    time.Minute,
		},
		Versions: VersionsConfig{
			MaxVersions: 10,
			MaxDepth:    64,
		},
		Backup: BackupConfig{
			Enabled:     true,
			Interval:    time.Hour,
			MaxBackups:  24,
			ItemTimeout: 5 * time.Second,
		},
		Health: HealthConfig{
			Interval:         30 * time.Second,
			CheckTimeout:     5 * time.Second,
			HistoryRetention: 30 * 24 * time.Hour,
			DataDir:          ".",
			MinCacheSamples:  100,
			Thresholds: map[string]model.Threshold{
				"store_latency":  {Warning: 100, Critical: 500},
				"cache_hit_rate": {Warning: 80, Critical: 50, Inverse: true},
				"goroutines":     {Warning: 5000, Critical: 20000},
				"heap_mb":        {Warning: 512, Critical: 1024},
				"disk_usage":     {Warning: 90, Critical: 95},
			},
		},
		Publish: PublishConfig{
			Backend:     "log",
			TopicPrefix: "screens/",
			Format:      "json",
			Workers:     4,
			QueueSize:   1024,
			Timeout:     5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "screenhub",
			QoS:      1,
		},
		Notify: NotifyConfig{
			Timeout:    5 * time.Second,
			RetryCount: 2,
			RatePerSec: 0.2,
			Burst:      5,
		},
		Resolver: ResolverConfig{
			Environment: "development",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "screenhub",
			Path:      "/metrics",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "screenhub",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
