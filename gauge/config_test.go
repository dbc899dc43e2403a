package gauge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gauge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(Config{})

	if cfg.AppName != "Gauge" {
		t.Errorf("expected AppName 'Gauge', got %q", cfg.AppName)
	}
	if cfg.Prefix != "/gauge" {
		t.Errorf("expected prefix '/gauge', got %q", cfg.Prefix)
	}
	if cfg.Store.RetentionDays != 30 {
		t.Errorf("expected 30 retention days, got %d", cfg.Store.RetentionDays)
	}
	if cfg.Retention() != 30*24*time.Hour {
		t.Errorf("unexpected retention %v", cfg.Retention())
	}
	if !boolValue(cfg.Runtime.Enabled) {
		t.Error("expected runtime sampling enabled by default")
	}
	if cfg.Dashboard.SecretKey == "" {
		t.Error("expected a generated secret key")
	}
	if cfg.Prometheus.Path != "/gauge/prometheus" {
		t.Errorf("unexpected prometheus path %q", cfg.Prometheus.Path)
	}
	if cfg.Aggregation.Interval != 10*time.Second {
		t.Errorf("expected 10s aggregation interval, got %v", cfg.Aggregation.Interval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_PreservesUserValues(t *testing.T) {
	cfg := applyDefaults(Config{
		Prefix:  "metrics/",
		DevMode: true,
		Store:   StoreConfig{RetentionDays: 7},
		Runtime: RuntimeConfig{Enabled: boolPtr(false)},
		Ingest:  IngestConfig{RateLimit: 5},
		Persistence: PersistenceConfig{
			Driver: DriverBadger,
		},
	})

	if cfg.Prefix != "/metrics" {
		t.Errorf("expected normalized prefix '/metrics', got %q", cfg.Prefix)
	}
	if cfg.Prometheus.Path != "/metrics/prometheus" {
		t.Errorf("prometheus path should follow prefix, got %q", cfg.Prometheus.Path)
	}
	if cfg.Store.RetentionDays != 7 {
		t.Errorf("expected 7 retention days, got %d", cfg.Store.RetentionDays)
	}
	if boolValue(cfg.Runtime.Enabled) {
		t.Error("explicit false must survive defaults")
	}
	if cfg.Ingest.Burst != 10 {
		t.Errorf("expected burst 2x rate, got %d", cfg.Ingest.Burst)
	}
	if cfg.Persistence.DSN != "gauge-data" {
		t.Errorf("expected badger default dir, got %q", cfg.Persistence.DSN)
	}
	if cfg.Aggregation.Interval != 5*time.Second {
		t.Errorf("expected 5s interval in dev mode, got %v", cfg.Aggregation.Interval)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfigFile(t, `
app_name: Billing
prefix: /billing
store:
  retention_days: 3
  prune_interval: 10m
dashboard:
  username: ops
  password: s3cret
persistence:
  enabled: true
  dsn: billing.db
  flush_interval: 30s
redis:
  enabled: true
  addr: cache:6379
runtime:
  enabled: false
aggregation:
  window: 2h
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.AppName != "Billing" || cfg.Prefix != "/billing" {
		t.Errorf("unexpected app settings: %q %q", cfg.AppName, cfg.Prefix)
	}
	if cfg.Store.RetentionDays != 3 || cfg.Store.PruneInterval != 10*time.Minute {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Dashboard.Username != "ops" || cfg.Dashboard.Password != "s3cret" {
		t.Errorf("unexpected dashboard config: %+v", cfg.Dashboard)
	}
	if !cfg.Persistence.Enabled || cfg.Persistence.FlushInterval != 30*time.Second {
		t.Errorf("unexpected persistence config: %+v", cfg.Persistence)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "cache:6379" {
		t.Errorf("unexpected redis config: %+v", cfg.Redis)
	}
	if boolValue(cfg.Runtime.Enabled) {
		t.Error("expected runtime disabled from file")
	}
	if cfg.Aggregation.Window != 2*time.Hour {
		t.Errorf("expected 2h window, got %v", cfg.Aggregation.Window)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "store:\n  retention_days: 3\n")
	t.Setenv("GAUGE_RETENTION_DAYS", "14")
	t.Setenv("GAUGE_LISTEN_ADDR", ":9090")
	t.Setenv("GAUGE_RATE_LIMIT", "2.5")
	t.Setenv("GAUGE_DEV_MODE", "true")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.RetentionDays != 14 {
		t.Errorf("expected env retention 14, got %d", cfg.Store.RetentionDays)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("expected env listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.Ingest.RateLimit != 2.5 || cfg.Ingest.Burst != 5 {
		t.Errorf("unexpected ingest config: %+v", cfg.Ingest)
	}
	if !cfg.DevMode {
		t.Error("expected dev mode from env")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr, got %q", cfg.ListenAddr)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadConfig(writeConfigFile(t, "store: [not, a, map]\n")); err == nil {
		t.Error("expected parse error")
	}
	if _, err := LoadConfig(writeConfigFile(t, "store:\n  retention_days: -1\n")); err == nil {
		t.Error("expected validation error for negative retention")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := applyDefaults(Config{})
	cfg.Store.RetentionDays = 0
	cfg.Batch.Workers = 0
	cfg.Persistence.Driver = "mongo"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"retention_days", "batch.workers", "mongo"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestValidate_RetentionUpperBound(t *testing.T) {
	cfg := applyDefaults(Config{})
	cfg.Store.RetentionDays = MaxRetentionDays + 1
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "retention_days must be at most") {
		t.Fatalf("expected retention upper bound error, got %v", err)
	}

	cfg.Store.RetentionDays = MaxRetentionDays
	if err := cfg.Validate(); err != nil {
		t.Errorf("max retention should validate: %v", err)
	}
}
