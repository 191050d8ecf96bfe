package cache

import (
	"context"
	"time"
)

// Cache is the read-cache interface used by the market pipeline.
// Values are JSON-serialized by the implementations.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// Config represents cache configuration
type Config struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewCache creates a Redis cache when enabled, otherwise an in-memory cache
func NewCache(cfg *Config) (Cache, error) {
	if cfg != nil && cfg.Enabled {
		return NewRedisCache(cfg)
	}
	return NewMemoryCache(0), nil
}
