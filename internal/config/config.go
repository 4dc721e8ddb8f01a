// Package config loads and validates the proxy engine's configuration,
// mirroring the teacher's viper-based layered config (file + env
// overrides, typed mapstructure target, deployment profile split).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the proxy engine.
type Config struct {
	Profile DeploymentProfile `mapstructure:"profile"`
	Storage StorageConfig     `mapstructure:"storage"`

	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	App      AppConfig      `mapstructure:"app"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`

	KeyPool       KeyPoolConfig       `mapstructure:"key_pool"`
	ModelRouting  ModelRoutingConfig  `mapstructure:"model_routing"`
	PolicyEngine  PolicyEngineConfig  `mapstructure:"policy_engine"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	Upstream      UpstreamConfig      `mapstructure:"upstream"`
	Tracer        TracerConfig        `mapstructure:"tracer"`
	Replay        ReplayConfig        `mapstructure:"replay"`
}

// TracerConfig bounds the Request Tracer's in-memory ring buffer
// (spec.md §4.6).
type TracerConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// ReplayConfig bounds the Replay Queue (spec.md §4.7).
type ReplayConfig struct {
	Capacity        int           `mapstructure:"capacity"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetentionPeriod time.Duration `mapstructure:"retention_period"`
}

// CatalogConfig points at the model/key catalog file: the static
// inventory of which models exist, which tier each belongs to, and
// which keys back each model (spec.md §5's key-to-model binding is an
// input this engine consumes, not something it derives).
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// UpstreamConfig configures the single reverse-proxy target every
// routed request is forwarded to. Re-implementing the upstream
// provider's own wire protocol is out of scope (spec.md §1 Non-goals);
// the client here only forwards bytes and extracts token usage when the
// provider's response includes it.
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AdminConfig configures the opaque admin-token check (spec.md §6
// "admin actions accept an opaque token via header") guarding mutating
// model-routing endpoints and payload capture. Empty Tokens disables
// the check entirely — every caller is treated as authenticated, which
// AuthStatus reports via tokensRequired=false.
type AdminConfig struct {
	Tokens []string `mapstructure:"tokens"`
	Header string   `mapstructure:"header"`
}

// DeploymentProfile selects the persistence backend for trace/stats
// snapshots, mirroring the teacher's Lite/Standard split.
type DeploymentProfile string

const (
	ProfileLite     DeploymentProfile = "lite"
	ProfileStandard DeploymentProfile = "standard"
)

// StorageBackend names the concrete snapshot store implementation.
type StorageBackend string

const (
	StorageBackendSQLite   StorageBackend = "sqlite"
	StorageBackendPostgres StorageBackend = "postgres"
)

// StorageConfig configures the optional Trace/Stats snapshot backend.
type StorageConfig struct {
	Backend        StorageBackend `mapstructure:"backend"`
	SQLitePath     string         `mapstructure:"sqlite_path"`
}

// ServerConfig configures the HTTP surface (internal/httpapi).
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// DatabaseConfig configures the Standard-profile Postgres backend.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// RedisConfig configures the optional webhook dedup-window cache.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig holds process identity metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// WebhookConfig configures the Webhook Emitter (spec.md §6).
type WebhookConfig struct {
	TargetURL       string        `mapstructure:"target_url"`
	Secret          string        `mapstructure:"secret"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	DedupWindow     time.Duration `mapstructure:"dedup_window"`
	MaxRetries      int           `mapstructure:"max_retries"`
	SpikeThreshold  int           `mapstructure:"spike_threshold"`
	SpikeWindow     time.Duration `mapstructure:"spike_window"`
}

// KeyPoolConfig configures the Key Manager's default per-key behavior.
type KeyPoolConfig struct {
	DefaultMaxConcurrency int           `mapstructure:"default_max_concurrency"`
	FailureThreshold      int           `mapstructure:"failure_threshold"`
	CooldownBase          time.Duration `mapstructure:"cooldown_base"`
	CooldownMax           time.Duration `mapstructure:"cooldown_max"`
	HalfOpenProbes        int           `mapstructure:"half_open_probes"`
}

// ModelRoutingConfig configures the Model Router and Config Normalizer.
type ModelRoutingConfig struct {
	ConfigPath          string `mapstructure:"config_path"`
	DowngradeBudget     int    `mapstructure:"downgrade_budget"`
	DowngradeWindowSecs int    `mapstructure:"downgrade_window_seconds"`
	// GLM5ModelID names the catalog model eligible for the GLM-5 shadow
	// split (spec.md §4.4). Empty disables shadow routing entirely,
	// independent of model-routing.json's glm5.preferencePercent.
	GLM5ModelID string `mapstructure:"glm5_model_id"`
}

// PolicyEngineConfig configures the Route Policy Manager's hot reload.
type PolicyEngineConfig struct {
	PolicyPath      string        `mapstructure:"policy_path"`
	DebounceWindow  time.Duration `mapstructure:"debounce_window"`
}

// PipelineConfig configures the Request Pipeline's admission gate.
type PipelineConfig struct {
	AdmissionRatePerSec float64       `mapstructure:"admission_rate_per_sec"`
	AdmissionBurst      int           `mapstructure:"admission_burst"`
	AdmissionTimeout    time.Duration `mapstructure:"admission_timeout"`
}

// Load reads configuration from configPath (if non-empty) layered with
// environment variable overrides, exactly as the teacher's LoadConfig
// does: defaults first, then file, then env, then validate.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("profile", "lite")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.sqlite_path", "/data/llm-key-proxy.db")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_shutdown_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "llm_key_proxy")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.min_connections", 2)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.query_timeout", "15s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("app.name", "llm-key-proxy")
	v.SetDefault("app.environment", "development")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("webhook.request_timeout", "10s")
	v.SetDefault("webhook.dedup_window", "5m")
	v.SetDefault("webhook.max_retries", 3)
	v.SetDefault("webhook.spike_threshold", 10)
	v.SetDefault("webhook.spike_window", "1m")

	v.SetDefault("catalog.path", "/data/model-catalog.json")

	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.timeout", "30s")

	v.SetDefault("key_pool.default_max_concurrency", 4)
	v.SetDefault("key_pool.failure_threshold", 5)
	v.SetDefault("key_pool.cooldown_base", "1s")
	v.SetDefault("key_pool.cooldown_max", "60s")
	v.SetDefault("key_pool.half_open_probes", 1)

	v.SetDefault("model_routing.config_path", "/data/model-routing.json")
	v.SetDefault("model_routing.downgrade_budget", 3)
	v.SetDefault("model_routing.downgrade_window_seconds", 60)
	v.SetDefault("model_routing.glm5_model_id", "")

	v.SetDefault("policy_engine.policy_path", "/data/policies.yaml")
	v.SetDefault("policy_engine.debounce_window", "300ms")

	v.SetDefault("pipeline.admission_rate_per_sec", 50.0)
	v.SetDefault("pipeline.admission_burst", 100)
	v.SetDefault("pipeline.admission_timeout", "2s")

	v.SetDefault("admin.tokens", []string{})
	v.SetDefault("admin.header", "X-Admin-Token")

	v.SetDefault("tracer.capacity", 1000)

	v.SetDefault("replay.capacity", 1000)
	v.SetDefault("replay.max_retries", 5)
	v.SetDefault("replay.retention_period", "24h")
}

// Validate checks invariants the rest of the engine assumes hold,
// mirroring the teacher's Config.Validate profile-aware checks.
func (c *Config) Validate() error {
	if c.Profile != ProfileLite && c.Profile != ProfileStandard {
		return fmt.Errorf("invalid deployment profile: %q (must be %q or %q)", c.Profile, ProfileLite, ProfileStandard)
	}
	if c.Storage.Backend != StorageBackendSQLite && c.Storage.Backend != StorageBackendPostgres {
		return fmt.Errorf("invalid storage backend: %q", c.Storage.Backend)
	}
	if c.Profile == ProfileStandard && c.Storage.Backend != StorageBackendPostgres {
		return fmt.Errorf("standard profile requires the postgres storage backend, got %q", c.Storage.Backend)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.Profile == ProfileStandard {
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("database host and name are required for the standard profile")
		}
	}

	if c.ModelRouting.ConfigPath == "" {
		return fmt.Errorf("model_routing.config_path cannot be empty")
	}
	if c.ModelRouting.DowngradeBudget < 0 {
		return fmt.Errorf("model_routing.downgrade_budget cannot be negative")
	}
	if c.PolicyEngine.PolicyPath == "" {
		return fmt.Errorf("policy_engine.policy_path cannot be empty")
	}
	if c.KeyPool.DefaultMaxConcurrency <= 0 {
		return fmt.Errorf("key_pool.default_max_concurrency must be positive")
	}
	if c.Pipeline.AdmissionRatePerSec <= 0 {
		return fmt.Errorf("pipeline.admission_rate_per_sec must be positive")
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path cannot be empty")
	}
	if c.Tracer.Capacity <= 0 {
		return fmt.Errorf("tracer.capacity must be positive")
	}
	if c.Replay.Capacity <= 0 {
		return fmt.Errorf("replay.capacity must be positive")
	}

	return nil
}
