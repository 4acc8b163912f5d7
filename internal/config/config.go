// Package config loads and validates auditor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	ContentGap ContentGapConfig `mapstructure:"contentgap"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AuditConfig is the pipeline configuration surface.
type AuditConfig struct {
	MaxPagesPerSitemap    int     `mapstructure:"max_pages_per_sitemap"`
	MaxRawEntries         int     `mapstructure:"max_raw_entries"`
	Concurrency           int     `mapstructure:"concurrency"`
	PerPageTimeoutMs      int     `mapstructure:"per_page_timeout_ms"`
	OverallDeadlineMs     int     `mapstructure:"overall_deadline_ms"`
	PartialThresholdRatio float64 `mapstructure:"partial_threshold_ratio"`
	RetryBackoffMs        int     `mapstructure:"retry_backoff_ms"`
}

// PerPageTimeout converts the millisecond setting.
func (a AuditConfig) PerPageTimeout() time.Duration {
	return time.Duration(a.PerPageTimeoutMs) * time.Millisecond
}

// OverallDeadline converts the millisecond setting.
func (a AuditConfig) OverallDeadline() time.Duration {
	return time.Duration(a.OverallDeadlineMs) * time.Millisecond
}

// RetryBackoff converts the millisecond setting.
func (a AuditConfig) RetryBackoff() time.Duration {
	return time.Duration(a.RetryBackoffMs) * time.Millisecond
}

// RunnerConfig sizes the background audit worker pool.
type RunnerConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// HTTPConfig configures the plain HTTP fetcher.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	MinTextBytes  int    `mapstructure:"min_text_bytes"`

	// Mode is "always" to render every page or "auto" to render only pages
	// whose plain markup looks client-rendered.
	Mode string `mapstructure:"mode"`
}

// AnalyzerConfig bounds the broken-link checks.
type AnalyzerConfig struct {
	MaxLinkChecks        int `mapstructure:"max_link_checks"`
	LinkCheckConcurrency int `mapstructure:"link_check_concurrency"`
	LinkCheckTimeoutMs   int `mapstructure:"link_check_timeout_ms"`
}

// CrawlerConfig holds politeness settings.
type CrawlerConfig struct {
	RespectRobots  bool    `mapstructure:"respect_robots"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// ContentGapConfig configures the AI content-gap collaborator.
type ContentGapConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig selects where report artifacts are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUDITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("audit.max_pages_per_sitemap", 500)
	v.SetDefault("audit.max_raw_entries", 5000)
	v.SetDefault("audit.concurrency", 5)
	v.SetDefault("audit.per_page_timeout_ms", 30000)
	v.SetDefault("audit.overall_deadline_ms", 600000)
	v.SetDefault("audit.partial_threshold_ratio", 0.2)
	v.SetDefault("audit.retry_backoff_ms", 250)
	v.SetDefault("runner.workers", 2)
	v.SetDefault("runner.queue_depth", 64)
	v.SetDefault("http.user_agent", "site-auditor/0.1")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 0)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.mode", "always")
	v.SetDefault("headless.min_text_bytes", 200)
	v.SetDefault("analyzer.max_link_checks", 25)
	v.SetDefault("analyzer.link_check_concurrency", 4)
	v.SetDefault("analyzer.link_check_timeout_ms", 5000)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.rate_limit_rps", 0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("contentgap.enabled", false)
	v.SetDefault("contentgap.model", "gpt-4o-mini")
	v.SetDefault("contentgap.timeout_seconds", 60)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "audits")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "site-auditor")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Audit.MaxPagesPerSitemap <= 0 {
		return fmt.Errorf("audit.max_pages_per_sitemap must be > 0")
	}
	if c.Audit.MaxRawEntries < c.Audit.MaxPagesPerSitemap {
		return fmt.Errorf("audit.max_raw_entries must be >= audit.max_pages_per_sitemap")
	}
	if c.Audit.Concurrency <= 0 {
		return fmt.Errorf("audit.concurrency must be > 0")
	}
	if c.Audit.PerPageTimeoutMs <= 0 {
		return fmt.Errorf("audit.per_page_timeout_ms must be > 0")
	}
	if c.Audit.OverallDeadlineMs < c.Audit.PerPageTimeoutMs {
		return fmt.Errorf("audit.overall_deadline_ms must be >= audit.per_page_timeout_ms")
	}
	if c.Audit.PartialThresholdRatio < 0 || c.Audit.PartialThresholdRatio > 1 {
		return fmt.Errorf("audit.partial_threshold_ratio must be within [0,1]")
	}
	if c.Runner.Workers <= 0 {
		return fmt.Errorf("runner.workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.MaxParallel < 0 {
		return fmt.Errorf("headless.max_parallel must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.Mode != "always" && c.Headless.Mode != "auto" {
		return fmt.Errorf("headless.mode must be \"always\" or \"auto\"")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.ContentGap.Enabled && c.ContentGap.APIKey == "" {
		return fmt.Errorf("contentgap.api_key must be set when contentgap is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1]")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// HeadlessParallel returns the rendering session cap, defaulting to the
// audit worker pool size so every worker can hold one session.
func (c Config) HeadlessParallel() int {
	if c.Headless.MaxParallel > 0 {
		return c.Headless.MaxParallel
	}
	return c.Audit.Concurrency
}
