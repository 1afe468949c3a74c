// Package config handles loading and validating Ultralight configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Ultralight.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.ultralight/data. Override: ULTRALIGHT_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Server        ServerConfig         `json:"server" yaml:"server"`
	Runtime       RuntimeConfig        `json:"runtime" yaml:"runtime"`
	AI            *AIConfig            `json:"ai,omitempty" yaml:"ai,omitempty"`                         // nil = ai capability unavailable
	Ledger        *LedgerConfig        `json:"ledger,omitempty" yaml:"ledger,omitempty"`                 // nil = charge capability unavailable
	Audit         *AuditConfig         `json:"audit,omitempty" yaml:"audit,omitempty"`                   // nil = audit log disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"`   // nil = observability disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`           // nil = scheduled invocations disabled
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: ULTRALIGHT_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ServerConfig configures the HTTP API gateway.
type ServerConfig struct {
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 10 MB.
	APIKeyUserMapping   map[string]string `json:"api_key_user_mapping" yaml:"api_key_user_mapping"`     // API key → user ID.
	InternalToken       string            `json:"internal_token,omitempty" yaml:"internal_token,omitempty"` // Token for function-to-function calls. Override: ULTRALIGHT_INTERNAL_TOKEN env var.
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (s *ServerConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request size limit with a default of 10 MB.
func (s *ServerConfig) MaxRequestSize() int64 {
	if s != nil && s.MaxRequestSizeBytes > 0 {
		return s.MaxRequestSizeBytes
	}
	return 10 << 20
}

// RateLimitConfig configures per-caller rate limiting for the gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// RuntimeConfig bounds the execution runtime as a whole.
type RuntimeConfig struct {
	MaxConcurrentExecutions int      `json:"max_concurrent_executions" yaml:"max_concurrent_executions"` // Default: 32.
	DefaultPermissions      []string `json:"default_permissions" yaml:"default_permissions"`             // Granted to apps that declare none.
}

// Concurrency returns the max concurrent executions with a default of 32.
func (r *RuntimeConfig) Concurrency() int {
	if r != nil && r.MaxConcurrentExecutions > 0 {
		return r.MaxConcurrentExecutions
	}
	return 32
}

// AIConfig configures the AI invocation backend.
type AIConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	DefaultModel   string `json:"default_model" yaml:"default_model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 60.
}

// Timeout returns the per-call timeout with a default of 60s.
func (a *AIConfig) Timeout() time.Duration {
	if a != nil && a.TimeoutSeconds > 0 {
		return time.Duration(a.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// LedgerConfig configures the payment ledger backend.
type LedgerConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	AuthToken      string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"` // Override: ULTRALIGHT_LEDGER_TOKEN env var.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`           // Default: 10.
}

// Timeout returns the per-call timeout with a default of 10s.
func (l *LedgerConfig) Timeout() time.Duration {
	if l != nil && l.TimeoutSeconds > 0 {
		return time.Duration(l.TimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// AuditConfig configures the append-only audit log.
type AuditConfig struct {
	LogPath string `json:"log_path,omitempty" yaml:"log_path,omitempty"` // Default: derived from data dir.
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "ultralight"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB     bool `json:"include_db" yaml:"include_db"`
	IncludeLedger bool `json:"include_ledger" yaml:"include_ledger"`
}

// AnomalyConfig configures threshold-based anomaly detection.
type AnomalyConfig struct {
	Enabled             bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold  float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"`       // e.g. 0.5 = 50% errors
	AISpendCentsCeiling float64 `json:"ai_spend_cents_ceiling" yaml:"ai_spend_cents_ceiling"`   // Windowed per-app spend before warning. 0 = off.
	WindowSeconds       int     `json:"window_seconds" yaml:"window_seconds"`                   // Sliding window. Default: 300
}

// SchedulerConfig configures cron-style scheduled invocations.
// When nil, no schedules are executed.
type SchedulerConfig struct {
	Enabled              bool `json:"enabled" yaml:"enabled"`
	PollIntervalSeconds  int  `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`     // Default: 30.
	MaxConcurrentRuns    int  `json:"max_concurrent_runs" yaml:"max_concurrent_runs"`         // Default: 5.
	MissedRunWindowSecs  int  `json:"missed_run_window_seconds" yaml:"missed_run_window_seconds"` // Default: 3600 (1 hour).
}

// PollInterval returns the poll interval with a default of 30s.
func (s *SchedulerConfig) PollInterval() time.Duration {
	if s != nil && s.PollIntervalSeconds > 0 {
		return time.Duration(s.PollIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

// MaxConcurrent returns the max concurrent runs with a default of 5.
func (s *SchedulerConfig) MaxConcurrent() int {
	if s != nil && s.MaxConcurrentRuns > 0 {
		return s.MaxConcurrentRuns
	}
	return 5
}

// MissedRunWindow returns the window for recovering missed runs.
// Runs missed more than this duration ago are skipped. Default: 1 hour.
func (s *SchedulerConfig) MissedRunWindow() time.Duration {
	if s != nil && s.MissedRunWindowSecs > 0 {
		return time.Duration(s.MissedRunWindowSecs) * time.Second
	}
	return 1 * time.Hour
}

// DefaultConfigPath returns the default config file path (~/.ultralight/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/ultralight.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".ultralight", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Tokens can be set in the config file or overridden by environment variables.
// Environment variables take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	// Resolve DataDir default.
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".ultralight", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
// Env vars take precedence over config file values.
func (c *Config) applyEnvOverrides() {
	if envDD := os.Getenv("ULTRALIGHT_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envAddr := os.Getenv("ULTRALIGHT_LISTEN_ADDR"); envAddr != "" {
		c.Server.ListenAddr = envAddr
	}
	if envToken := os.Getenv("ULTRALIGHT_INTERNAL_TOKEN"); envToken != "" {
		c.Server.InternalToken = envToken
	}
	if envDSN := os.Getenv("ULTRALIGHT_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
	if envToken := os.Getenv("ULTRALIGHT_LEDGER_TOKEN"); envToken != "" {
		if c.Ledger == nil {
			c.Ledger = &LedgerConfig{}
		}
		c.Ledger.AuthToken = envToken
	}
	if envURL := os.Getenv("ULTRALIGHT_AI_BASE_URL"); envURL != "" {
		if c.AI == nil {
			c.AI = &AIConfig{}
		}
		c.AI.BaseURL = envURL
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".ultralight", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "ultralight.db")
}

// AuditLogPath returns the audit log path, derived from the data directory
// when not set explicitly.
func (c *Config) AuditLogPath() string {
	if c.Audit != nil && c.Audit.LogPath != "" {
		return c.Audit.LogPath
	}
	return filepath.Join(c.ResolvedDataDir(), "audit.jsonl")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	// Storage driver validation.
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set ULTRALIGHT_DB_DSN env var)")
		}
	}
	if c.Runtime.MaxConcurrentExecutions < 0 {
		return fmt.Errorf("runtime.max_concurrent_executions must not be negative")
	}
	for _, p := range c.Runtime.DefaultPermissions {
		if !validPermission(p) {
			return fmt.Errorf("runtime.default_permissions: unknown permission %q", p)
		}
	}
	if c.AI != nil && c.AI.BaseURL == "" {
		return fmt.Errorf("ai.base_url is required when the ai section is present (set ULTRALIGHT_AI_BASE_URL env var)")
	}
	if c.Ledger != nil && c.Ledger.BaseURL == "" {
		return fmt.Errorf("ledger.base_url is required when the ledger section is present")
	}
	if c.Server.RateLimit.RequestsPerMinute < 0 || c.Server.RateLimit.BurstSize < 0 {
		return fmt.Errorf("server.rate_limit values must not be negative")
	}
	return nil
}

// validPermission reports whether a permission token is one the runtime
// understands.
func validPermission(p string) bool {
	switch p {
	case "storage:read", "storage:write", "memory:read", "memory:write", "ai:call", "app:call":
		return true
	}
	return false
}
