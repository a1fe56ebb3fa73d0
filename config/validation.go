package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"careerxp/adapters/gormstore"
	"careerxp/adapters/sqlx"
)

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}

	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}

	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}

	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}

	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}

	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	validAdapters := []string{"memory", "redis", "sql", "gorm", "file"}
	if !slices.Contains(validAdapters, s.Adapter) {
		errs = append(errs, fmt.Sprintf("adapter must be one of: %s", strings.Join(validAdapters, ", ")))
	}

	// Validate adapter-specific configs
	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case "sql":
		if s.SQL.Driver != sqlx.DriverPostgres && s.SQL.Driver != sqlx.DriverMySQL {
			errs = append(errs, fmt.Sprintf("sql config: driver must be one of: %s, %s", sqlx.DriverPostgres, sqlx.DriverMySQL))
		}
		if s.SQL.DSN == "" {
			errs = append(errs, "sql config: dsn cannot be empty")
		}
	case "gorm":
		if s.Gorm.Dialect != gormstore.DialectSQLite && s.Gorm.Dialect != gormstore.DialectPostgres {
			errs = append(errs, fmt.Sprintf("gorm config: dialect must be one of: %s, %s", gormstore.DialectSQLite, gormstore.DialectPostgres))
		}
		if s.Gorm.DSN == "" {
			errs = append(errs, "gorm config: dsn cannot be empty")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, l.Level) {
		errs = append(errs, fmt.Sprintf("level must be one of: %s", strings.Join(validLevels, ", ")))
	}

	validFormats := []string{"json", "text"}
	if !slices.Contains(validFormats, l.Format) {
		errs = append(errs, fmt.Sprintf("format must be one of: %s", strings.Join(validFormats, ", ")))
	}

	validOutputs := []string{"stdout", "stderr"}
	if !slices.Contains(validOutputs, l.Output) {
		errs = append(errs, fmt.Sprintf("output must be one of: %s", strings.Join(validOutputs, ", ")))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	var errs []string

	if m.Enabled {
		if m.Address == "" {
			errs = append(errs, "address cannot be empty when metrics are enabled")
		}

		if m.Path == "" {
			errs = append(errs, "path cannot be empty when metrics are enabled")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates XP engine configuration
func (x *XPConfig) Validate() error {
	var errs []string

	if _, err := x.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("day_boundary_timezone: %v", err))
	}

	switch x.DispatchMode {
	case "", "sync", "async":
	default:
		errs = append(errs, "dispatch_mode must be one of: sync, async")
	}

	if x.StatsRetentionDays < 0 {
		errs = append(errs, "stats_retention_days cannot be negative")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates webhook configuration
func (w *WebhookConfig) Validate() error {
	var errs []string

	for i, ep := range w.Endpoints {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("endpoints[%d] must be an absolute http(s) URL", i))
		}
	}

	if len(w.Endpoints) > 0 && w.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}

	if w.Timeout > time.Minute {
		errs = append(errs, "timeout cannot exceed 1m")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}
