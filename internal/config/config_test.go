package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 500, cfg.Audit.MaxPagesPerSitemap)
	require.Equal(t, 5000, cfg.Audit.MaxRawEntries)
	require.Equal(t, 5, cfg.Audit.Concurrency)
	require.InDelta(t, 0.2, cfg.Audit.PartialThresholdRatio, 1e-9)
	require.Equal(t, 30*time.Second, cfg.Audit.PerPageTimeout())
	require.Equal(t, 10*time.Minute, cfg.Audit.OverallDeadline())
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, 5, cfg.HeadlessParallel())
	require.Equal(t, "always", cfg.Headless.Mode)
	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, "site-auditor", cfg.Tracing.ServiceName)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
audit:
  max_pages_per_sitemap: 50
  max_raw_entries: 100
  concurrency: 8
  per_page_timeout_ms: 5000
  overall_deadline_ms: 60000
  partial_threshold_ratio: 0.35
  retry_backoff_ms: 10
headless:
  enabled: false
  max_parallel: 3
storage:
  backend: local
  base_dir: /tmp/reports
contentgap:
  enabled: true
  api_key: sk-test
  model: gpt-test
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(configYAML)), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, 50, cfg.Audit.MaxPagesPerSitemap)
	require.Equal(t, 8, cfg.Audit.Concurrency)
	require.Equal(t, 5*time.Second, cfg.Audit.PerPageTimeout())
	require.Equal(t, 10*time.Millisecond, cfg.Audit.RetryBackoff())
	require.InDelta(t, 0.35, cfg.Audit.PartialThresholdRatio, 1e-9)
	require.False(t, cfg.Headless.Enabled)
	require.Equal(t, 3, cfg.HeadlessParallel())
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, "gpt-test", cfg.ContentGap.Model)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Server:  ServerConfig{Port: 8080},
			Audit:   AuditConfig{MaxPagesPerSitemap: 10, MaxRawEntries: 100, Concurrency: 2, PerPageTimeoutMs: 100, OverallDeadlineMs: 1000, PartialThresholdRatio: 0.2},
			Runner:  RunnerConfig{Workers: 1},
			HTTP:    HTTPConfig{TimeoutSeconds: 5},
			Storage: StorageConfig{Backend: "memory"},
		}
	}
	require.NoError(t, base().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"max pages", func(c *Config) { c.Audit.MaxPagesPerSitemap = 0 }, "max_pages_per_sitemap"},
		{"raw entries", func(c *Config) { c.Audit.MaxRawEntries = 5 }, "max_raw_entries"},
		{"concurrency", func(c *Config) { c.Audit.Concurrency = 0 }, "audit.concurrency"},
		{"page timeout", func(c *Config) { c.Audit.PerPageTimeoutMs = 0 }, "per_page_timeout_ms"},
		{"deadline", func(c *Config) { c.Audit.OverallDeadlineMs = 50 }, "overall_deadline_ms"},
		{"threshold", func(c *Config) { c.Audit.PartialThresholdRatio = 1.5 }, "partial_threshold_ratio"},
		{"workers", func(c *Config) { c.Runner.Workers = 0 }, "runner.workers"},
		{"http timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"auth", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"contentgap", func(c *Config) { c.ContentGap.Enabled = true }, "contentgap.api_key"},
		{"local dir", func(c *Config) { c.Storage.Backend = "local" }, "storage.base_dir"},
		{"gcs bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.gcs_bucket"},
		{"backend", func(c *Config) { c.Storage.Backend = "s3" }, "not supported"},
		{"headless mode", func(c *Config) { c.Headless.Enabled = true; c.Headless.Mode = "sometimes" }, "headless.mode"},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = -0.1 }, "tracing.sample_ratio"},
		{"pubsub", func(c *Config) { c.PubSub.TopicName = "audits" }, "pubsub.project_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
