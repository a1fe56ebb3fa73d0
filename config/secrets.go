package config

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrSecretNotFound is returned when a secret key has no value.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves credentials by key.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
}

// EnvironmentSecretStore reads secrets from process environment variables.
type EnvironmentSecretStore struct {
	lookup lookupFunc
}

func NewEnvironmentSecretStore() *EnvironmentSecretStore {
	return &EnvironmentSecretStore{lookup: os.LookupEnv}
}

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	v, ok := s.lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return v, nil
}

// GetWithDefault returns def when key is unset or empty.
func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// secret keys consulted by ApplySecrets
const (
	SecretSQLDSN        = "CAREERXP_SECRET_SQL_DSN"
	SecretGormDSN       = "CAREERXP_SECRET_GORM_DSN"
	SecretRedisPassword = "CAREERXP_SECRET_REDIS_PASSWORD"
	SecretWebhookKey    = "CAREERXP_SECRET_WEBHOOK_KEY"
)

// ApplySecrets fills credential fields from store. Missing secrets leave the
// existing value untouched; any other store error is returned.
func (c *Config) ApplySecrets(ctx context.Context, store SecretStore) error {
	targets := []struct {
		key string
		dst *string
	}{
		{SecretSQLDSN, &c.Storage.SQL.DSN},
		{SecretGormDSN, &c.Storage.Gorm.DSN},
		{SecretRedisPassword, &c.Storage.Redis.Password},
		{SecretWebhookKey, &c.Integrations.Webhooks.Secret},
	}
	for _, t := range targets {
		v, err := store.Get(ctx, t.key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load secret %s: %w", t.key, err)
		}
		*t.dst = v
	}
	return nil
}
