// Package config loads the composition root's configuration with
// precedence defaults → YAML file → environment variable overrides,
// grounded on the teacher's internal/config/config.go load order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure. Read-only after Load
// returns, safe for concurrent reads.
type Config struct {
	Server   ServerConfig     `yaml:"server"`
	Database DatabaseConfig   `yaml:"database"`
	Remote   RemoteConfig     `yaml:"remote"`
	Worker   WorkerConfig     `yaml:"worker"`
	Log      LogConfig        `yaml:"log"`
	Dedup    DedupConfig      `yaml:"deduplication"`
	Backup   BackupConfig     `yaml:"backup"`
	Compact  CompactionConfig `yaml:"compaction"`
}

// ServerConfig governs the embedded reference remote API server
// (internal/server), used in "serve"/"daemon" modes.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig governs the local Durable Store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig governs the internal/remote client talking to the real
// (or reference) remote API.
type RemoteConfig struct {
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"-"` // env-only, never in YAML
	Timeout     Duration `yaml:"timeout"`
	MaxRetries  int      `yaml:"max_retries"`
	BackoffBase Duration `yaml:"backoff_base"`
}

// WorkerConfig governs the Sync Engine's background cycle and the
// retention sweep.
type WorkerConfig struct {
	SyncInterval    Duration `yaml:"sync_interval"`
	RetentionWindow Duration `yaml:"retention_window"`
	SweepAge        Duration `yaml:"sweep_age"`
	SyncWaitTimeout Duration `yaml:"sync_wait_timeout"`
}

// LogConfig governs log/slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DedupConfig governs the optional embedding-based near-duplicate memo
// check (internal/dedupe), off by default.
type DedupConfig struct {
	Enabled             bool    `yaml:"enabled"`
	APIKey              string  `yaml:"-"` // env-only, never in YAML
	Model               string  `yaml:"model"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// BackupConfig governs the periodic snapshot + optional upload
// (internal/backup).
type BackupConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Interval    Duration `yaml:"interval"`
	Dir         string   `yaml:"dir"`
	S3Bucket    string   `yaml:"s3_bucket"`
	S3Endpoint  string   `yaml:"s3_endpoint"`
	S3AccessKey string   `yaml:"-"` // env-only
	S3SecretKey string   `yaml:"-"` // env-only
}

// CompactionConfig governs the periodic export-then-delete of terminal
// outbox rows (internal/store's CompactOutbox).
type CompactionConfig struct {
	Interval  Duration `yaml:"interval"`
	Retention Duration `yaml:"retention"`
	AuditDir  string   `yaml:"audit_dir"`
}

// Duration wraps time.Duration for human-readable YAML strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env
// vars, reading the YAML path from JOURNALCTL_CONFIG_PATH (default
// config/journalctl.yaml). A missing file is not an error.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("JOURNALCTL_CONFIG_PATH", "config/journalctl.yaml")
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must
// exist. Used by tests and explicit --config flags.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDefaults returns a Config seeded with spec.md §6's environment
// knobs (10s timeout, 3 retries, 5s backoff base, 7-day retention, 30-day
// sweep age, 30s sync-wait default).
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/journalctl.db",
		},
		Remote: RemoteConfig{
			BaseURL:     "http://localhost:8080",
			Timeout:     Duration(10 * time.Second),
			MaxRetries:  3,
			BackoffBase: Duration(5 * time.Second),
		},
		Worker: WorkerConfig{
			SyncInterval:    Duration(10 * time.Second),
			RetentionWindow: Duration(7 * 24 * time.Hour),
			SweepAge:        Duration(30 * 24 * time.Hour),
			SyncWaitTimeout: Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Dedup: DedupConfig{
			Enabled:             false,
			Model:               "text-embedding-3-small",
			SimilarityThreshold: 0.92,
		},
		Backup: BackupConfig{
			Enabled:  false,
			Interval: Duration(1 * time.Hour),
			Dir:      "data/backups",
		},
		Compact: CompactionConfig{
			Interval:  Duration(6 * time.Hour),
			Retention: Duration(7 * 24 * time.Hour),
			AuditDir:  "data/audit",
		},
	}
}

func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Only
// non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("JOURNALCTL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("JOURNALCTL_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	if v := os.Getenv("JOURNALCTL_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("JOURNALCTL_REMOTE_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("JOURNALCTL_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv("JOURNALCTL_REMOTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remote.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("JOURNALCTL_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Remote.MaxRetries = n
		}
	}

	if v := os.Getenv("JOURNALCTL_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.SyncInterval = Duration(d)
		}
	}
	if v := os.Getenv("JOURNALCTL_SYNC_WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.SyncWaitTimeout = Duration(d)
		}
	}

	if v := os.Getenv("JOURNALCTL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("JOURNALCTL_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Dedup.APIKey = v
	}
	if v := os.Getenv("JOURNALCTL_DEDUP_ENABLED"); v != "" {
		cfg.Dedup.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("JOURNALCTL_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Dedup.SimilarityThreshold = f
		}
	}

	if v := os.Getenv("JOURNALCTL_BACKUP_ENABLED"); v != "" {
		cfg.Backup.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("JOURNALCTL_S3_BUCKET"); v != "" {
		cfg.Backup.S3Bucket = v
	}
	if v := os.Getenv("JOURNALCTL_S3_ENDPOINT"); v != "" {
		cfg.Backup.S3Endpoint = v
	}
	if v := os.Getenv("JOURNALCTL_S3_ACCESS_KEY"); v != "" {
		cfg.Backup.S3AccessKey = v
	}
	if v := os.Getenv("JOURNALCTL_S3_SECRET_KEY"); v != "" {
		cfg.Backup.S3SecretKey = v
	}
}

// validate checks required configuration. JOURNALCTL_DEV_MODE=true
// bypasses API key validation for local development against the bundled
// reference server.
func (c *Config) validate() error {
	if os.Getenv("JOURNALCTL_DEV_MODE") == "true" {
		return nil
	}
	if c.Remote.APIKey == "" {
		return errors.New("JOURNALCTL_API_KEY is required")
	}
	if c.Dedup.Enabled && c.Dedup.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required when deduplication is enabled")
	}
	if c.Backup.Enabled && c.Backup.S3Bucket != "" && (c.Backup.S3AccessKey == "" || c.Backup.S3SecretKey == "") {
		return errors.New("JOURNALCTL_S3_ACCESS_KEY and JOURNALCTL_S3_SECRET_KEY are required when an S3 backup bucket is configured")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
