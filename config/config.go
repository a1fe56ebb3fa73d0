package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"careerxp/adapters/gormstore"
	"careerxp/adapters/redis"
	"careerxp/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"CAREERXP_ENV"`
	Profile     string      `json:"profile" env:"CAREERXP_PROFILE"`

	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Metrics and monitoring
	Metrics MetricsConfig `json:"metrics"`

	// Security configuration
	Security SecurityConfig `json:"security"`

	// XP engine behavior
	XP XPConfig `json:"xp"`

	// Outbound integrations
	Integrations IntegrationsConfig `json:"integrations"`
}

// XPConfig holds award engine settings.
type XPConfig struct {
	// DayBoundaryTimezone is the IANA zone whose midnight resets daily caps.
	DayBoundaryTimezone string `json:"day_boundary_timezone" env:"CAREERXP_XP_DAY_BOUNDARY_TZ"`
	// DispatchMode is "sync" or "async" event delivery.
	DispatchMode string `json:"dispatch_mode" env:"CAREERXP_XP_DISPATCH_MODE"`
	// LeaderboardEnabled keeps an in-process XP leaderboard.
	LeaderboardEnabled bool `json:"leaderboard_enabled" env:"CAREERXP_XP_LEADERBOARD_ENABLED"`
	// StatsRetentionDays bounds the in-memory daily summaries.
	StatsRetentionDays int `json:"stats_retention_days" env:"CAREERXP_XP_STATS_RETENTION_DAYS"`
}

// Location resolves DayBoundaryTimezone, defaulting to UTC.
func (x XPConfig) Location() (*time.Location, error) {
	if x.DayBoundaryTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(x.DayBoundaryTimezone)
}

// IntegrationsConfig groups outbound delivery settings.
type IntegrationsConfig struct {
	Webhooks WebhookConfig `json:"webhooks"`
}

// WebhookConfig lists endpoints that receive grant and level-up events.
type WebhookConfig struct {
	Endpoints []string      `json:"endpoints,omitempty" env:"CAREERXP_WEBHOOK_ENDPOINTS"`
	Secret    string        `json:"secret,omitempty" env:"CAREERXP_WEBHOOK_SECRET"`
	Timeout   time.Duration `json:"timeout" env:"CAREERXP_WEBHOOK_TIMEOUT"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"CAREERXP_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"CAREERXP_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"CAREERXP_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"CAREERXP_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"CAREERXP_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"CAREERXP_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"CAREERXP_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"CAREERXP_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string           `json:"adapter" env:"CAREERXP_STORAGE_ADAPTER"`
	Redis   redis.Config     `json:"redis,omitempty"`
	SQL     sqlx.Config      `json:"sql,omitempty"`
	Gorm    gormstore.Config `json:"gorm,omitempty"`
	File    FileConfig       `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"CAREERXP_STORAGE_FILE_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"CAREERXP_LOG_LEVEL"`
	Format     string            `json:"format" env:"CAREERXP_LOG_FORMAT"`
	Output     string            `json:"output" env:"CAREERXP_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" env:"CAREERXP_METRICS_ENABLED"`
	Address       string `json:"address" env:"CAREERXP_METRICS_ADDR"`
	Path          string `json:"path" env:"CAREERXP_METRICS_PATH"`
	CollectSystem bool   `json:"collect_system" env:"CAREERXP_METRICS_COLLECT_SYSTEM"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"CAREERXP_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"CAREERXP_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" env:"CAREERXP_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" env:"CAREERXP_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"CAREERXP_SECURITY_RATE_LIMIT_CLEANUP"`
}

// Validate validates security settings.
func (s SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Sources names the layers Resolve stacks on top of each other.
type Sources struct {
	// Profile selects the base defaults. Empty falls back to CAREERXP_PROFILE.
	Profile string
	// File is an optional JSON config file overlaid on the profile.
	File string
	// Secrets, when set, fills credentials after the env overlay.
	Secrets SecretStore
}

// Resolve builds the configuration in order: profile defaults, config file,
// environment variables, secrets. Validation runs last so credentials that
// only arrive through the secret store still satisfy adapter checks.
func Resolve(ctx context.Context, src Sources) (*Config, error) {
	name := src.Profile
	if name == "" {
		name = os.Getenv("CAREERXP_PROFILE")
	}
	cfg, err := LoadProfile(name)
	if err != nil {
		return nil, err
	}

	if src.File != "" {
		if err := overlayFile(cfg, src.File); err != nil {
			return nil, err
		}
	}

	// Environment variables override file values
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if src.Secrets != nil {
		if err := cfg.ApplySecrets(ctx, src.Secrets); err != nil {
			return nil, fmt.Errorf("failed to apply secrets: %w", err)
		}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return Resolve(context.Background(), Sources{})
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	return Resolve(context.Background(), Sources{File: path})
}

func overlayFile(cfg *Config, path string) error {
	// Validate the path for security
	if err := validateConfigPath(path); err != nil {
		return fmt.Errorf("invalid config file path: %w", err)
	}

	// Open the file safely after validation
	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			Gorm:    gormstore.DefaultConfig(),
			File: FileConfig{
				Path: "./data/careerxp.json",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			Address:       ":9090",
			Path:          "/metrics",
			CollectSystem: true,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
		XP: XPConfig{
			DayBoundaryTimezone: "UTC",
			DispatchMode:        "async",
			LeaderboardEnabled:  true,
			StatsRetentionDays:  30,
		},
		Integrations: IntegrationsConfig{
			Webhooks: WebhookConfig{Timeout: 2 * time.Second},
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	// Validate environment
	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	// Validate server config
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	// Validate storage config
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	// Validate logging config
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	// Validate metrics config
	if err := c.Metrics.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("metrics config: %v", err))
	}

	// Validate security config
	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.XP.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("xp config: %v", err))
	}

	if err := c.Integrations.Webhooks.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("webhook config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	// Create a copy for redaction
	cfg := *c

	// Redact sensitive information
	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Gorm.DSN != "" && cfg.Storage.Gorm.Dialect != gormstore.DialectSQLite {
		cfg.Storage.Gorm.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Integrations.Webhooks.Secret != "" {
		cfg.Integrations.Webhooks.Secret = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
