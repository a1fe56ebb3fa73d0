package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Test loading default config
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Verify defaults
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "UTC", cfg.XP.DayBoundaryTimezone)
	assert.Equal(t, "async", cfg.XP.DispatchMode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CAREERXP_STORAGE_ADAPTER", "gorm")
	t.Setenv("CAREERXP_STORAGE_GORM_DSN", "file:xp.db")
	t.Setenv("CAREERXP_XP_DAY_BOUNDARY_TZ", "Asia/Tokyo")
	t.Setenv("CAREERXP_WEBHOOK_ENDPOINTS", "https://a.example.com/hook, ,https://b.example.com/hook")
	t.Setenv("CAREERXP_WEBHOOK_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gorm", cfg.Storage.Adapter)
	assert.Equal(t, "file:xp.db", cfg.Storage.Gorm.DSN)
	assert.Equal(t, []string{"https://a.example.com/hook", "https://b.example.com/hook"}, cfg.Integrations.Webhooks.Endpoints)
	assert.Equal(t, 3*time.Second, cfg.Integrations.Webhooks.Timeout)

	loc, err := cfg.XP.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", loc.String())
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("CAREERXP_SERVER_READ_TIMEOUT", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAREERXP_SERVER_READ_TIMEOUT")
}

func TestApplyEnv_ReportsAppliedKeys(t *testing.T) {
	env := map[string]string{
		"CAREERXP_LOG_LEVEL":        "debug",
		"CAREERXP_STORAGE_REDIS_DB": "3",
		"CAREERXP_XP_DISPATCH_MODE": "",
		"CAREERXP_METRICS_ENABLED":  "true",
	}
	cfg := DefaultConfig()
	applied, err := applyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"CAREERXP_LOG_LEVEL", "CAREERXP_STORAGE_REDIS_DB", "CAREERXP_METRICS_ENABLED"}, applied)
	assert.Equal(t, 3, cfg.Storage.Redis.DB)
	assert.Equal(t, "async", cfg.XP.DispatchMode)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	// Create a temporary config file
	configContent := `{
		"environment": "testing",
		"server": {
			"address": ":9090"
		},
		"storage": {
			"adapter": "memory"
		}
	}`

	tmpFile, err := os.CreateTemp("", "config_test_*.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(configContent)
	require.NoError(t, err)
	tmpFile.Close()

	// Load config from file
	cfg, err := LoadFromFile(tmpFile.Name())
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Verify loaded values
	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
	}{
		{
			name: "valid config",
			config: &Config{
				Environment: EnvDevelopment,
				Server: ServerConfig{
					Address:           ":8080",
					ReadTimeout:       time.Second,
					WriteTimeout:      time.Second,
					IdleTimeout:       time.Second,
					ReadHeaderTimeout: time.Second,
					ShutdownTimeout:   time.Second,
				},
				Storage: StorageConfig{
					Adapter: "memory",
				},
				Logging: LoggingConfig{
					Level:  "info",
					Format: "json",
					Output: "stdout",
				},
			},
			expectError: false,
		},
		{
			name: "invalid environment",
			config: &Config{
				Environment: "",
				Server: ServerConfig{
					Address:           ":8080",
					ReadTimeout:       time.Second,
					WriteTimeout:      time.Second,
					IdleTimeout:       time.Second,
					ReadHeaderTimeout: time.Second,
					ShutdownTimeout:   time.Second,
				},
				Storage: StorageConfig{
					Adapter: "memory",
				},
				Logging: LoggingConfig{
					Level:  "info",
					Format: "json",
					Output: "stdout",
				},
			},
			expectError: true,
		},
		{
			name: "invalid server timeout",
			config: &Config{
				Environment: EnvDevelopment,
				Server: ServerConfig{
					Address:           ":8080",
					ReadTimeout:       0,
					WriteTimeout:      time.Second,
					IdleTimeout:       time.Second,
					ReadHeaderTimeout: time.Second,
					ShutdownTimeout:   time.Second,
				},
				Storage: StorageConfig{
					Adapter: "memory",
				},
				Logging: LoggingConfig{
					Level:  "info",
					Format: "json",
					Output: "stdout",
				},
			},
			expectError: true,
		},
		{
			name: "unknown timezone",
			config: func() *Config {
				c := DefaultConfig()
				c.XP.DayBoundaryTimezone = "Mars/Olympus"
				return c
			}(),
			expectError: true,
		},
		{
			name: "bad dispatch mode",
			config: func() *Config {
				c := DefaultConfig()
				c.XP.DispatchMode = "eventually"
				return c
			}(),
			expectError: true,
		},
		{
			name: "gorm without dsn",
			config: func() *Config {
				c := DefaultConfig()
				c.Storage.Adapter = "gorm"
				c.Storage.Gorm.DSN = ""
				return c
			}(),
			expectError: true,
		},
		{
			name: "relative webhook url",
			config: func() *Config {
				c := DefaultConfig()
				c.Integrations.Webhooks.Endpoints = []string{"/hooks/xp"}
				return c
			}(),
			expectError: true,
		},
		{
			name: "sql with mysql driver",
			config: func() *Config {
				c := DefaultConfig()
				c.Storage.Adapter = "sql"
				c.Storage.SQL.Driver = "mysql"
				c.Storage.SQL.DSN = "user:pass@tcp(localhost:3306)/careerxp"
				return c
			}(),
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProfiles(t *testing.T) {
	tests := []struct {
		name         string
		profileName  string
		expectConfig bool
		environment  Environment
	}{
		{"development", "development", true, EnvDevelopment},
		{"testing", "testing", true, EnvTesting},
		{"staging", "staging", true, EnvStaging},
		{"production", "production", true, EnvProduction},
		{"default", "default", true, EnvDevelopment},
		{"empty", "", true, EnvDevelopment},
		{"unknown", "unknown", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadProfile(tt.profileName)
			if tt.expectConfig {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				assert.Equal(t, tt.environment, cfg.Environment)
			} else {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			}
		})
	}
}

type mapSecrets map[string]string

func (m mapSecrets) Get(_ context.Context, key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", ErrSecretNotFound
}

func TestResolve_SecretsSatisfyValidation(t *testing.T) {
	t.Setenv("CAREERXP_STORAGE_ADAPTER", "sql")

	// the DSN only exists in the secret store
	_, err := Resolve(context.Background(), Sources{})
	require.Error(t, err)

	cfg, err := Resolve(context.Background(), Sources{
		Secrets: mapSecrets{SecretSQLDSN: "postgres://u:p@db/careerxp"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sql", cfg.Storage.Adapter)
	assert.Equal(t, "postgres://u:p@db/careerxp", cfg.Storage.SQL.DSN)
}

func TestResolve_Profiles(t *testing.T) {
	t.Run("from env", func(t *testing.T) {
		t.Setenv("CAREERXP_PROFILE", "testing")
		cfg, err := Resolve(context.Background(), Sources{})
		require.NoError(t, err)
		assert.Equal(t, EnvTesting, cfg.Environment)
		assert.Equal(t, "sync", cfg.XP.DispatchMode)
		assert.Equal(t, 2, cfg.XP.StatsRetentionDays)
	})

	t.Run("explicit wins over env", func(t *testing.T) {
		t.Setenv("CAREERXP_PROFILE", "testing")
		cfg, err := Resolve(context.Background(), Sources{Profile: "development"})
		require.NoError(t, err)
		assert.Equal(t, EnvDevelopment, cfg.Environment)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Resolve(context.Background(), Sources{Profile: "bogus"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown profile")
	})

	t.Run("production needs its dsn secret", func(t *testing.T) {
		_, err := Resolve(context.Background(), Sources{Profile: "production"})
		require.Error(t, err)

		cfg, err := Resolve(context.Background(), Sources{
			Profile: "production",
			Secrets: mapSecrets{SecretSQLDSN: "postgres://prod"},
		})
		require.NoError(t, err)
		assert.Equal(t, 120, cfg.Security.RateLimit.RequestsPerMinute)
		assert.Equal(t, "postgres://prod", cfg.Storage.SQL.DSN)
	})

	t.Run("file overlays profile and env overlays file", func(t *testing.T) {
		path := t.TempDir() + "/careerxp.json"
		require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"error"},"xp":{"stats_retention_days":9}}`), 0o600))
		t.Setenv("CAREERXP_XP_STATS_RETENTION_DAYS", "4")

		cfg, err := Resolve(context.Background(), Sources{Profile: "testing", File: path})
		require.NoError(t, err)
		assert.Equal(t, EnvTesting, cfg.Environment)
		assert.Equal(t, "error", cfg.Logging.Level)
		assert.Equal(t, 4, cfg.XP.StatsRetentionDays)
	})
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.SQL.DSN = "postgres://u:hunter2@db/careerxp"
	cfg.Storage.Redis.Password = "hunter3"
	cfg.Integrations.Webhooks.Secret = "hunter4"
	cfg.Security.APIKeys = []string{"k1", "k2"}

	out := cfg.String()
	for _, secret := range []string{"hunter2", "hunter3", "hunter4", "k1"} {
		assert.NotContains(t, out, secret)
	}
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "hunter3", cfg.Storage.Redis.Password, "String must not mutate the receiver")
	assert.Equal(t, []string{"k1", "k2"}, cfg.Security.APIKeys)
}

func TestApplySecrets(t *testing.T) {
	t.Setenv(SecretSQLDSN, "postgres://from-secret")
	t.Setenv(SecretWebhookKey, "whsec")

	cfg := DefaultConfig()
	cfg.Storage.Redis.Password = "keep"
	require.NoError(t, cfg.ApplySecrets(context.Background(), NewEnvironmentSecretStore()))
	assert.Equal(t, "postgres://from-secret", cfg.Storage.SQL.DSN)
	assert.Equal(t, "whsec", cfg.Integrations.Webhooks.Secret)
	assert.Equal(t, "keep", cfg.Storage.Redis.Password)
}

func TestSecrets(t *testing.T) {
	// Test environment secret store
	store := NewEnvironmentSecretStore()

	// Set test environment variable
	testKey := "TEST_SECRET_KEY"
	testValue := "test_secret_value"
	os.Setenv(testKey, testValue)
	defer os.Unsetenv(testKey)

	ctx := context.Background()

	// Test Get
	value, err := store.Get(ctx, testKey)
	assert.NoError(t, err)
	assert.Equal(t, testValue, value)

	// Test GetWithDefault
	defaultValue := "default"
	value = store.GetWithDefault(ctx, "NONEXISTENT_KEY", defaultValue)
	assert.Equal(t, defaultValue, value)

	value = store.GetWithDefault(ctx, testKey, defaultValue)
	assert.Equal(t, testValue, value)
}

func TestValidateConfigPath(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		expectError bool
		setup       func() string // returns path to cleanup
	}{
		{
			name:        "valid json file",
			path:        "config_test.json",
			expectError: false,
			setup: func() string {
				tmpFile, _ := os.CreateTemp("", "config_test_*.json")
				tmpFile.WriteString("{}")
				tmpFile.Close()
				return tmpFile.Name()
			},
		},
		{
			name:        "empty path",
			path:        "",
			expectError: true,
			setup:       func() string { return "" },
		},
		{
			name:        "path traversal",
			path:        "../../../etc/passwd",
			expectError: true,
			setup:       func() string { return "" },
		},
		{
			name:        "non-json file",
			path:        "config.txt",
			expectError: true,
			setup: func() string {
				tmpFile, _ := os.CreateTemp("", "config_test_*.txt")
				tmpFile.WriteString("{}")
				tmpFile.Close()
				return tmpFile.Name()
			},
		},
		{
			name:        "nonexistent file",
			path:        "nonexistent.json",
			expectError: true,
			setup:       func() string { return "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanupPath := tt.setup()
			if cleanupPath != "" {
				defer os.Remove(cleanupPath)
				if tt.path == "config_test.json" || tt.path == "config.txt" {
					tt.path = cleanupPath
				}
			}

			err := validateConfigPath(tt.path)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
