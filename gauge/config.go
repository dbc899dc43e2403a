package gauge

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a gauge Engine.
type Config struct {
	// AppName is reported by the health endpoint.
	AppName string `yaml:"app_name"`

	// Prefix is the URL prefix for every route (default: "/gauge").
	Prefix string `yaml:"prefix"`

	// ListenAddr is used by the standalone server (default: ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// DevMode enables verbose logging and more frequent aggregation.
	DevMode bool `yaml:"dev_mode"`

	Store       StoreConfig       `yaml:"store"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Redis       RedisConfig       `yaml:"redis"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Batch       BatchConfig       `yaml:"batch"`
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Alerts      AlertConfig       `yaml:"alerts"`
	Requests    RequestConfig     `yaml:"requests"`
}

// StoreConfig configures the in-memory time series store.
type StoreConfig struct {
	// RetentionDays is how long samples survive pruning (default: 30).
	RetentionDays int `yaml:"retention_days"`
	// MaxSamplesPerMetric bounds each series (default: 100000).
	MaxSamplesPerMetric int `yaml:"max_samples_per_metric"`
	// PruneInterval is how often the janitor prunes (default: 1h).
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// DashboardConfig holds API authentication settings.
type DashboardConfig struct {
	// Username for login (default: "admin").
	Username string `yaml:"username"`
	// Password for login (default: "gauge").
	Password string `yaml:"password"`
	// PasswordHash is a bcrypt hash that takes precedence over Password.
	PasswordHash string `yaml:"password_hash"`
	// SecretKey is the JWT signing key. Auto-generated if empty.
	SecretKey string `yaml:"secret_key"`
	// TokenTTL is the lifetime of issued tokens (default: 24h).
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// PersistenceConfig configures SQLite snapshots.
type PersistenceConfig struct {
	Enabled bool `yaml:"enabled"`
	// Driver is "sqlite" (default) or "badger".
	Driver string `yaml:"driver"`
	// DSN is the SQLite database file or the Badger directory
	// (default: "gauge.db" or "gauge-data").
	DSN string `yaml:"dsn"`
	// FlushInterval is how often the store is written out (default: 1m).
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RedisConfig configures publishing of aggregated stats.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Prefix namespaces every key (default: "gauge").
	Prefix string `yaml:"prefix"`
	// TTL is applied to every published key (default: 5m).
	TTL time.Duration `yaml:"ttl"`
}

// IngestConfig configures per-client rate limiting of writes.
type IngestConfig struct {
	// RateLimit is the sustained writes per second per client; 0 disables.
	RateLimit float64 `yaml:"rate_limit"`
	// Burst is the bucket size (default: 2x RateLimit, at least 1).
	Burst int `yaml:"burst"`
}

// RuntimeConfig configures self-monitoring of the Go runtime.
type RuntimeConfig struct {
	// Enabled toggles runtime sampling (default: true).
	Enabled *bool `yaml:"enabled"`
	// SampleInterval is the interval between samples (default: 15s).
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// BatchConfig configures file ingestion.
type BatchConfig struct {
	// Workers bounds concurrently processed files (default: 4).
	Workers int `yaml:"workers"`
	// FileTimeout bounds the processing of one file (default: 30s).
	FileTimeout time.Duration `yaml:"file_timeout"`
}

// PrometheusConfig configures the optional Prometheus endpoint.
type PrometheusConfig struct {
	// Enabled toggles the endpoint (default: false).
	Enabled bool `yaml:"enabled"`
	// Path is the endpoint path (default: "/gauge/prometheus").
	Path string `yaml:"path"`
}

// AggregationConfig configures the background overview computation.
type AggregationConfig struct {
	// Interval between passes (default: 10s, 5s in DevMode).
	Interval time.Duration `yaml:"interval"`
	// Window each pass aggregates over (default: 1h).
	Window time.Duration `yaml:"window"`
}

// AlertConfig configures threshold alerts on metric stats.
type AlertConfig struct {
	// Enabled toggles rule evaluation (default: false).
	Enabled bool `yaml:"enabled"`
	// Interval between evaluations (default: 30s, 10s in DevMode).
	Interval time.Duration `yaml:"interval"`
	// Cooldown prevents re-firing the same rule within this duration (default: 15m).
	Cooldown time.Duration `yaml:"cooldown"`
	// History bounds the number of kept alert records (default: 500).
	History int `yaml:"history"`
	// Webhooks receive a JSON POST for every fired or resolved alert.
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Rules    []AlertRule     `yaml:"rules"`
}

// WebhookConfig holds generic webhook notification settings.
type WebhookConfig struct {
	URL string `yaml:"url"`
	// Secret signs the body with HMAC-SHA256 in X-Gauge-Signature.
	Secret  string            `yaml:"secret"`
	Headers map[string]string `yaml:"headers"`
}

// AlertRule fires when a window statistic of a metric crosses a threshold
// for at least For.
type AlertRule struct {
	Name   string `yaml:"name" json:"name"`
	Metric string `yaml:"metric" json:"metric"`
	// Stat is one of count, sum, min, max, mean, median, std_dev, p95, p99,
	// latest (default: mean).
	Stat      string  `yaml:"stat" json:"stat"`
	Operator  string  `yaml:"operator" json:"operator"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// Window the stat is computed over (default: aggregation window).
	Window time.Duration `yaml:"window" json:"window"`
	// For is how long the condition must hold before firing (0 fires at once).
	For      time.Duration `yaml:"for" json:"for"`
	Severity string        `yaml:"severity" json:"severity"`
}

// RequestConfig configures the request latency middleware.
type RequestConfig struct {
	// Metric receives one sample per request in milliseconds
	// (default: "http_request_duration_ms").
	Metric string `yaml:"metric"`
	// ExcludePaths are glob patterns that are not recorded. The gauge
	// prefix is always excluded.
	ExcludePaths []string `yaml:"exclude_paths"`
}

// DefaultConfig returns a Config with sensible defaults applied.
func DefaultConfig() Config {
	return Config{
		AppName:    "Gauge",
		Prefix:     "/gauge",
		ListenAddr: ":8080",
		Store: StoreConfig{
			RetentionDays:       30,
			MaxSamplesPerMetric: defaultMaxSamples,
			PruneInterval:       time.Hour,
		},
		Dashboard: DashboardConfig{
			Username:  "admin",
			Password:  "gauge",
			SecretKey: generateSecretKey(),
			TokenTTL:  24 * time.Hour,
		},
		Persistence: PersistenceConfig{
			Driver:        DriverSQLite,
			DSN:           "gauge.db",
			FlushInterval: time.Minute,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "gauge",
			TTL:    5 * time.Minute,
		},
		Runtime: RuntimeConfig{
			Enabled:        boolPtr(true),
			SampleInterval: 15 * time.Second,
		},
		Batch: BatchConfig{
			Workers:     4,
			FileTimeout: 30 * time.Second,
		},
		Prometheus: PrometheusConfig{
			Path: "/gauge/prometheus",
		},
		Aggregation: AggregationConfig{
			Interval: 10 * time.Second,
			Window:   time.Hour,
		},
		Alerts: AlertConfig{
			Interval: 30 * time.Second,
			Cooldown: 15 * time.Minute,
			History:  500,
		},
		Requests: RequestConfig{
			Metric: MetricRequestDuration,
		},
	}
}

// LoadConfig reads a YAML file, applies GAUGE_* environment overrides and
// fills defaults. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg = applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ListenAddr = getEnv("GAUGE_LISTEN_ADDR", cfg.ListenAddr)
	cfg.Prefix = getEnv("GAUGE_PREFIX", cfg.Prefix)
	cfg.DevMode = getEnvBool("GAUGE_DEV_MODE", cfg.DevMode)
	cfg.Store.RetentionDays = getEnvInt("GAUGE_RETENTION_DAYS", cfg.Store.RetentionDays)
	cfg.Dashboard.Username = getEnv("GAUGE_USERNAME", cfg.Dashboard.Username)
	cfg.Dashboard.Password = getEnv("GAUGE_PASSWORD", cfg.Dashboard.Password)
	cfg.Dashboard.PasswordHash = getEnv("GAUGE_PASSWORD_HASH", cfg.Dashboard.PasswordHash)
	cfg.Dashboard.SecretKey = getEnv("GAUGE_SECRET_KEY", cfg.Dashboard.SecretKey)
	cfg.Persistence.Enabled = getEnvBool("GAUGE_PERSISTENCE", cfg.Persistence.Enabled)
	cfg.Persistence.Driver = getEnv("GAUGE_PERSISTENCE_DRIVER", cfg.Persistence.Driver)
	cfg.Persistence.DSN = getEnv("GAUGE_DSN", cfg.Persistence.DSN)
	cfg.Redis.Enabled = getEnvBool("GAUGE_REDIS", cfg.Redis.Enabled)
	cfg.Redis.Addr = getEnv("GAUGE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("GAUGE_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Ingest.RateLimit = getEnvFloat("GAUGE_RATE_LIMIT", cfg.Ingest.RateLimit)
}

// applyDefaults merges user config with defaults, filling in zero values.
func applyDefaults(cfg Config) Config {
	defaults := DefaultConfig()

	if cfg.AppName == "" {
		cfg.AppName = defaults.AppName
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaults.Prefix
	}
	cfg.Prefix = "/" + strings.Trim(cfg.Prefix, "/")
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}

	// Store
	if cfg.Store.RetentionDays == 0 {
		cfg.Store.RetentionDays = defaults.Store.RetentionDays
	}
	if cfg.Store.MaxSamplesPerMetric == 0 {
		cfg.Store.MaxSamplesPerMetric = defaults.Store.MaxSamplesPerMetric
	}
	if cfg.Store.PruneInterval == 0 {
		cfg.Store.PruneInterval = defaults.Store.PruneInterval
	}

	// Dashboard
	if cfg.Dashboard.Username == "" {
		cfg.Dashboard.Username = defaults.Dashboard.Username
	}
	if cfg.Dashboard.Password == "" {
		cfg.Dashboard.Password = defaults.Dashboard.Password
	}
	if cfg.Dashboard.SecretKey == "" {
		cfg.Dashboard.SecretKey = defaults.Dashboard.SecretKey
	}
	if cfg.Dashboard.TokenTTL == 0 {
		cfg.Dashboard.TokenTTL = defaults.Dashboard.TokenTTL
	}

	// Persistence
	if cfg.Persistence.Driver == "" {
		cfg.Persistence.Driver = defaults.Persistence.Driver
	}
	if cfg.Persistence.DSN == "" {
		cfg.Persistence.DSN = defaults.Persistence.DSN
		if cfg.Persistence.Driver == DriverBadger {
			cfg.Persistence.DSN = "gauge-data"
		}
	}
	if cfg.Persistence.FlushInterval == 0 {
		cfg.Persistence.FlushInterval = defaults.Persistence.FlushInterval
	}

	// Redis
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = defaults.Redis.Prefix
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = defaults.Redis.TTL
	}

	// Ingest
	if cfg.Ingest.RateLimit > 0 && cfg.Ingest.Burst == 0 {
		cfg.Ingest.Burst = int(cfg.Ingest.RateLimit * 2)
		if cfg.Ingest.Burst < 1 {
			cfg.Ingest.Burst = 1
		}
	}

	// Runtime
	if cfg.Runtime.Enabled == nil {
		cfg.Runtime.Enabled = defaults.Runtime.Enabled
	}
	if cfg.Runtime.SampleInterval == 0 {
		cfg.Runtime.SampleInterval = defaults.Runtime.SampleInterval
	}

	// Batch
	if cfg.Batch.Workers == 0 {
		cfg.Batch.Workers = defaults.Batch.Workers
	}
	if cfg.Batch.FileTimeout == 0 {
		cfg.Batch.FileTimeout = defaults.Batch.FileTimeout
	}

	// Prometheus
	if cfg.Prometheus.Path == "" {
		cfg.Prometheus.Path = cfg.Prefix + "/prometheus"
	}

	// Aggregation
	if cfg.Aggregation.Interval == 0 {
		cfg.Aggregation.Interval = defaults.Aggregation.Interval
		if cfg.DevMode {
			cfg.Aggregation.Interval = 5 * time.Second
		}
	}
	if cfg.Aggregation.Window == 0 {
		cfg.Aggregation.Window = defaults.Aggregation.Window
	}

	// Alerts
	if cfg.Alerts.Interval == 0 {
		cfg.Alerts.Interval = defaults.Alerts.Interval
		if cfg.DevMode {
			cfg.Alerts.Interval = 10 * time.Second
		}
	}
	if cfg.Alerts.Cooldown == 0 {
		cfg.Alerts.Cooldown = defaults.Alerts.Cooldown
	}
	if cfg.Alerts.History == 0 {
		cfg.Alerts.History = defaults.Alerts.History
	}
	rules := make([]AlertRule, len(cfg.Alerts.Rules))
	for i, r := range cfg.Alerts.Rules {
		if r.Stat == "" {
			r.Stat = "mean"
		}
		if r.Window == 0 {
			r.Window = cfg.Aggregation.Window
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		rules[i] = r
	}
	cfg.Alerts.Rules = rules

	// Requests
	if cfg.Requests.Metric == "" {
		cfg.Requests.Metric = defaults.Requests.Metric
	}

	return cfg
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Store.RetentionDays < 1 {
		errs = append(errs, errors.New("store.retention_days must be at least 1"))
	} else if c.Store.RetentionDays > MaxRetentionDays {
		errs = append(errs, fmt.Errorf("store.retention_days must be at most %d", MaxRetentionDays))
	}
	if c.Store.MaxSamplesPerMetric < 1 {
		errs = append(errs, errors.New("store.max_samples_per_metric must be positive"))
	}
	if c.Store.PruneInterval < 0 || c.Persistence.FlushInterval < 0 || c.Aggregation.Interval < 0 {
		errs = append(errs, errors.New("intervals must not be negative"))
	}
	if c.Ingest.RateLimit < 0 {
		errs = append(errs, errors.New("ingest.rate_limit must not be negative"))
	}
	if c.Batch.Workers < 1 {
		errs = append(errs, errors.New("batch.workers must be at least 1"))
	}
	if c.Persistence.Enabled && c.Persistence.DSN == "" {
		errs = append(errs, errors.New("persistence.dsn is required when persistence is enabled"))
	}
	if d := c.Persistence.Driver; d != DriverSQLite && d != DriverBadger {
		errs = append(errs, fmt.Errorf("persistence.driver %q is not one of sqlite, badger", d))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	seen := make(map[string]bool, len(c.Alerts.Rules))
	for _, r := range c.Alerts.Rules {
		if err := r.validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("alert rule %q is defined twice", r.Name))
		}
		seen[r.Name] = true
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Retention returns the store retention as a duration.
func (c Config) Retention() time.Duration {
	if c.Store.RetentionDays > MaxRetentionDays {
		return MaxWindow
	}
	return time.Duration(c.Store.RetentionDays) * 24 * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func boolPtr(b bool) *bool {
	return &b
}

func boolValue(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}

func generateSecretKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "gauge-default-secret-key-change-me"
	}
	return hex.EncodeToString(b)
}
