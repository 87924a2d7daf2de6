package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Workflow.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Workflow.ReviewTimeout != 5*time.Minute {
		t.Errorf("expected review timeout 5m, got %v", cfg.Workflow.ReviewTimeout)
	}
	if cfg.Workflow.ReviewFallback != "approve" {
		t.Errorf("expected approve fallback, got %s", cfg.Workflow.ReviewFallback)
	}
	if cfg.Checkpoint.Backend != "postgres" {
		t.Errorf("expected postgres backend, got %s", cfg.Checkpoint.Backend)
	}
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
workflow:
  review_timeout: 90s
  review_fallback: hold
  max_concurrent_runs: 2
checkpoint:
  backend: sqlite
sqlite:
  path: /tmp/rf.db
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Workflow.ReviewTimeout != 90*time.Second {
		t.Errorf("expected review timeout 90s, got %v", cfg.Workflow.ReviewTimeout)
	}
	if cfg.Workflow.ReviewFallback != "hold" {
		t.Errorf("expected hold, got %s", cfg.Workflow.ReviewFallback)
	}
	if cfg.Workflow.MaxConcurrentRuns != 2 {
		t.Errorf("expected 2 concurrent runs, got %d", cfg.Workflow.MaxConcurrentRuns)
	}
	if cfg.Checkpoint.Backend != "sqlite" || cfg.SQLite.Path != "/tmp/rf.db" {
		t.Errorf("unexpected checkpoint config: %+v %+v", cfg.Checkpoint, cfg.SQLite)
	}
	// Unchanged fields keep defaults
	if cfg.Workflow.MaxRetries != 3 {
		t.Errorf("expected default max_retries, got %d", cfg.Workflow.MaxRetries)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("REELFORGE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("REELFORGE_PG_MAX_CONNS", "25")
	t.Setenv("REELFORGE_LOG_LEVEL", "warn")
	t.Setenv("REELFORGE_REVIEW_TIMEOUT", "1m")
	t.Setenv("REELFORGE_REVIEW_FALLBACK", "reject")
	t.Setenv("REELFORGE_MAX_COST_USD", "2.5")
	t.Setenv("REELFORGE_RESUME_ON_START", "false")
	t.Setenv("REELFORGE_CACHE_L1_SIZE_MB", "128")
	t.Setenv("REELFORGE_SLACK_WEBHOOK_URL", "https://hooks.slack.test/T1")
	t.Setenv("REELFORGE_NOTIFY_EVENTS", "review.requested,workflow.failed")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Workflow.ReviewTimeout != time.Minute {
		t.Errorf("expected review timeout 1m, got %v", cfg.Workflow.ReviewTimeout)
	}
	if cfg.Workflow.ReviewFallback != "reject" {
		t.Errorf("expected reject, got %s", cfg.Workflow.ReviewFallback)
	}
	if cfg.Workflow.MaxCostUSD != 2.5 {
		t.Errorf("expected max cost 2.5, got %v", cfg.Workflow.MaxCostUSD)
	}
	if cfg.Workflow.ResumeOnStart {
		t.Error("expected resume_on_start false")
	}
	if cfg.Cache.L1MaxSizeMB != 128 {
		t.Errorf("expected L1 128MB, got %d", cfg.Cache.L1MaxSizeMB)
	}
	if cfg.Notify.SlackWebhookURL != "https://hooks.slack.test/T1" {
		t.Errorf("expected slack webhook, got %q", cfg.Notify.SlackWebhookURL)
	}
	if len(cfg.Notify.Events) != 2 || cfg.Notify.Events[1] != "workflow.failed" {
		t.Errorf("expected two notify events, got %v", cfg.Notify.Events)
	}
}

func TestEnvOverride_InvalidValuesIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("REELFORGE_MAX_RETRIES", "lots")
	t.Setenv("REELFORGE_REVIEW_TIMEOUT", "soon")
	loadEnv(&cfg)

	if cfg.Workflow.MaxRetries != 3 {
		t.Errorf("expected default retries, got %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Workflow.ReviewTimeout != 5*time.Minute {
		t.Errorf("expected default timeout, got %v", cfg.Workflow.ReviewTimeout)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN with postgres backend",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "empty sqlite path",
			modify: func(c *Config) { c.Checkpoint.Backend = "sqlite"; c.SQLite.Path = "" },
			errMsg: "sqlite.path is required",
		},
		{
			name:   "unknown backend",
			modify: func(c *Config) { c.Checkpoint.Backend = "redis" },
			errMsg: "checkpoint.backend",
		},
		{
			name:   "nats executor without url",
			modify: func(c *Config) { c.Workflow.Executor = "nats"; c.NATS.URL = "" },
			errMsg: "nats.url is required",
		},
		{
			name:   "unknown executor",
			modify: func(c *Config) { c.Workflow.Executor = "grpc" },
			errMsg: "workflow.executor",
		},
		{
			name:   "unknown fallback",
			modify: func(c *Config) { c.Workflow.ReviewFallback = "skip" },
			errMsg: "workflow.review_fallback",
		},
		{
			name:   "negative retries",
			modify: func(c *Config) { c.Workflow.MaxRetries = -1 },
			errMsg: "workflow.max_retries",
		},
		{
			name:   "zero concurrency",
			modify: func(c *Config) { c.Workflow.MaxConcurrentRuns = 0 },
			errMsg: "workflow.max_concurrent_runs",
		},
		{
			name:   "zero review timeout",
			modify: func(c *Config) { c.Workflow.ReviewTimeout = 0 },
			errMsg: "workflow.review_timeout",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures",
		},
		{
			name:   "sample rate out of range",
			modify: func(c *Config) { c.OTEL.SampleRate = 2 },
			errMsg: "otel.sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidate_MemoryBackendNeedsNoDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Checkpoint.Backend = "memory"
	cfg.Postgres.DSN = ""
	if err := validate(&cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
