package store

import (
	"context"
	"fmt"
	"time"
)

// Config selects and configures a backend.
type Config struct {
	Backend   string
	Namespace string
	TimeZone  *time.Location

	FilePath string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN string
}

// Open builds the configured backend wrapped with metrics.
func Open(ctx context.Context, cfg Config) (*Instrumented, error) {
	opts := Options{Namespace: cfg.Namespace, TimeZone: cfg.TimeZone}

	var s Store
	switch cfg.Backend {
	case "", BackendMemory:
		s = NewMemoryStore(opts)
	case BackendFile:
		fs, err := NewFileStore(cfg.FilePath, opts)
		if err != nil {
			return nil, err
		}
		s = fs
	case BackendMemcached:
		s = NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, opts)
	case BackendRedis:
		s = NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts)
	case BackendPostgres:
		ps, err := NewPostgresStore(ctx, cfg.PostgresDSN, opts)
		if err != nil {
			return nil, err
		}
		s = ps
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	return WithMetrics(s), nil
}
