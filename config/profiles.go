package config

import (
	"fmt"
	"time"
)

// LoadProfile returns the defaults for a named deployment profile. An empty
// name or "default" yields DefaultConfig. Environment variables are not
// applied; Resolve overlays them.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	if name == "" || name == cfg.Profile {
		return cfg, nil
	}
	cfg.Profile = name

	switch Environment(name) {
	case EnvDevelopment:
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
		cfg.XP.DispatchMode = "sync"

	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Server.Address = ":0"
		cfg.Logging.Level = "warn"
		cfg.Logging.Format = "text"
		cfg.Server.ShutdownTimeout = 2 * time.Second
		cfg.XP.DispatchMode = "sync"
		cfg.XP.StatsRetentionDays = 2

	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "redis"
		cfg.Metrics.Enabled = true
		cfg.Security.EnableRateLimit = true

	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Server.CORSOrigin = ""
		cfg.Storage.Adapter = "sql"
		cfg.Metrics.Enabled = true
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 120
		cfg.Security.RateLimit.BurstSize = 20
		cfg.Integrations.Webhooks.Timeout = 5 * time.Second

	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	return cfg, nil
}
