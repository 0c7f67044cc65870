package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "proofworks.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
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
	setString(&cfg.Server.Port, "PROOFWORKS_PORT")
	setString(&cfg.Server.CORSOrigin, "PROOFWORKS_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PROOFWORKS_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PROOFWORKS_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PROOFWORKS_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PROOFWORKS_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "PROOFWORKS_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Platform.URL, "PROOFWORKS_PLATFORM_URL")
	setString(&cfg.Logging.Level, "PROOFWORKS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PROOFWORKS_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "PROOFWORKS_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PROOFWORKS_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "PROOFWORKS_CACHE_SIZE_MB")

	// Workflow
	setFloat64(&cfg.Workflow.ApprovalThreshold, "PROOFWORKS_APPROVAL_THRESHOLD")
	setBool(&cfg.Workflow.SinglePassEnabled, "PROOFWORKS_SINGLE_PASS")
	setBool(&cfg.Workflow.AutoValidateOnIdle, "PROOFWORKS_AUTO_VALIDATE_IDLE")
	setInt(&cfg.Workflow.MaxPerValidator, "PROOFWORKS_MAX_PER_VALIDATOR")
	setInt(&cfg.Workflow.MinDescriptionLen, "PROOFWORKS_MIN_DESCRIPTION_LEN")
	setString(&cfg.Workflow.CertRequiredLevel, "PROOFWORKS_CERT_REQUIRED_LEVEL")
	setDuration(&cfg.Workflow.EvidenceCacheTTL, "PROOFWORKS_EVIDENCE_CACHE_TTL")

	// Sweeper
	setDuration(&cfg.Sweeper.Interval, "PROOFWORKS_SWEEP_INTERVAL")
	setDuration(&cfg.Sweeper.ReminderWindow, "PROOFWORKS_REMINDER_WINDOW")
	setInt64(&cfg.Sweeper.MaxParallel, "PROOFWORKS_SWEEP_MAX_PARALLEL")
	setString(&cfg.Sweeper.OverdueAction, "PROOFWORKS_SWEEP_OVERDUE_ACTION")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Platform.URL == "" {
		return errors.New("platform.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Workflow.ApprovalThreshold <= 0 || cfg.Workflow.ApprovalThreshold > 1 {
		return errors.New("workflow.approval_threshold must be in (0, 1]")
	}
	if cfg.Sweeper.Interval <= 0 {
		return errors.New("sweeper.interval must be > 0")
	}
	if cfg.Sweeper.MaxParallel < 1 {
		return errors.New("sweeper.max_parallel must be >= 1")
	}
	switch cfg.Sweeper.OverdueAction {
	case OverdueEscalate, OverdueReassign, OverdueReview:
	default:
		return errors.New("sweeper.overdue_action must be escalate, reassign, or review")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
