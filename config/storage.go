package config

import (
	"fmt"

	"careerxp/adapters/gormstore"
	"careerxp/adapters/jsonfile"
	"careerxp/adapters/memory"
	"careerxp/adapters/redis"
	"careerxp/adapters/sqlx"
	"careerxp/engine"
)

// OpenStorage creates the adapter named by s.Adapter. Adapters holding
// connections implement io.Closer.
func OpenStorage(s StorageConfig) (engine.Storage, error) {
	switch s.Adapter {
	case "memory":
		return memory.New(), nil
	case "redis":
		return redis.New(s.Redis)
	case "sql":
		return sqlx.New(s.SQL)
	case "gorm":
		return gormstore.Open(s.Gorm)
	case "file":
		return jsonfile.New(s.File.Path)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", s.Adapter)
	}
}
