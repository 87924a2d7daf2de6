package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "reelforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("REELFORGE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "REELFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "REELFORGE_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "REELFORGE_SHUTDOWN_TIMEOUT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "REELFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "REELFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "REELFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "REELFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "REELFORGE_PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "REELFORGE_SQLITE_PATH")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "REELFORGE_NATS_STREAM")
	setDuration(&cfg.NATS.ExecuteTimeout, "REELFORGE_NATS_EXECUTE_TIMEOUT")

	setString(&cfg.Logging.Level, "REELFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "REELFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "REELFORGE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "REELFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "REELFORGE_BREAKER_TIMEOUT")

	// Workflow
	setString(&cfg.Workflow.DefaultPipeline, "REELFORGE_DEFAULT_PIPELINE")
	setString(&cfg.Workflow.PipelineDir, "REELFORGE_PIPELINE_DIR")
	setString(&cfg.Workflow.Executor, "REELFORGE_EXECUTOR")
	setInt(&cfg.Workflow.MaxRetries, "REELFORGE_MAX_RETRIES")
	setDuration(&cfg.Workflow.RetryInitialInterval, "REELFORGE_RETRY_INITIAL_INTERVAL")
	setDuration(&cfg.Workflow.RetryMaxInterval, "REELFORGE_RETRY_MAX_INTERVAL")
	setDuration(&cfg.Workflow.PhaseTimeout, "REELFORGE_PHASE_TIMEOUT")
	setDuration(&cfg.Workflow.ReviewTimeout, "REELFORGE_REVIEW_TIMEOUT")
	setString(&cfg.Workflow.ReviewFallback, "REELFORGE_REVIEW_FALLBACK")
	setInt(&cfg.Workflow.MaxConcurrentRuns, "REELFORGE_MAX_CONCURRENT_RUNS")
	setFloat64(&cfg.Workflow.MaxCostUSD, "REELFORGE_MAX_COST_USD")
	setDuration(&cfg.Workflow.Retention, "REELFORGE_RETENTION")
	setDuration(&cfg.Workflow.JanitorInterval, "REELFORGE_JANITOR_INTERVAL")
	setBool(&cfg.Workflow.ResumeOnStart, "REELFORGE_RESUME_ON_START")

	setString(&cfg.Checkpoint.Backend, "REELFORGE_CHECKPOINT_BACKEND")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "REELFORGE_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "REELFORGE_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "REELFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "REELFORGE_CACHE_L2_TTL")

	// MCP
	setBool(&cfg.MCP.Enabled, "REELFORGE_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "REELFORGE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "REELFORGE_MCP_API_KEY")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "REELFORGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "REELFORGE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "REELFORGE_OTEL_SAMPLE_RATE")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "REELFORGE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "REELFORGE_IDEMPOTENCY_TTL")

	// Notifications
	setString(&cfg.Notify.SlackWebhookURL, "REELFORGE_SLACK_WEBHOOK_URL")
	setString(&cfg.Notify.DiscordWebhookURL, "REELFORGE_DISCORD_WEBHOOK_URL")
	setString(&cfg.Notify.ReviewURL, "REELFORGE_REVIEW_URL")
	if v := os.Getenv("REELFORGE_NOTIFY_EVENTS"); v != "" {
		cfg.Notify.Events = strings.Split(v, ",")
	}
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Checkpoint.Backend {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	case "memory":
	default:
		return fmt.Errorf("checkpoint.backend %q must be postgres, sqlite or memory", cfg.Checkpoint.Backend)
	}
	switch cfg.Workflow.Executor {
	case "echo":
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is required for the nats executor")
		}
	default:
		return fmt.Errorf("workflow.executor %q must be echo or nats", cfg.Workflow.Executor)
	}
	switch cfg.Workflow.ReviewFallback {
	case "approve", "reject", "hold":
	default:
		return fmt.Errorf("workflow.review_fallback %q must be approve, reject or hold", cfg.Workflow.ReviewFallback)
	}
	if cfg.Workflow.MaxRetries < 0 {
		return errors.New("workflow.max_retries must be >= 0")
	}
	if cfg.Workflow.MaxConcurrentRuns < 1 {
		return errors.New("workflow.max_concurrent_runs must be >= 1")
	}
	if cfg.Workflow.ReviewTimeout <= 0 {
		return errors.New("workflow.review_timeout must be > 0")
	}
	if cfg.Workflow.MaxCostUSD < 0 {
		return errors.New("workflow.max_cost_usd must be >= 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be between 0 and 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
