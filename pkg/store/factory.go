package store

import (
	"fmt"
	"strings"
	"time"

	"appcatalog/pkg/storage"
)

// Backend identifiers accepted by Open.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMinio    = "minio"
)

// Backends lists the supported backend identifiers.
func Backends() []string {
	return []string{BackendMemory, BackendPostgres, BackendRedis, BackendMinio}
}

// Config selects and configures one backend.
type Config struct {
	Backend        string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisPrefix    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	Timeout        time.Duration
}

// Open creates the Store implementation named by cfg.Backend.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres backend requires databaseURL")
		}
		s, err := NewGormStore(cfg.DatabaseURL, WithGormTimeout(cfg.Timeout))
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := NewRedisStore(RedisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   cfg.RedisPrefix,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return nil, fmt.Errorf("minio backend requires endpoint and bucket")
		}
		bucket, err := storage.NewMinioBucket(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
		return NewDocumentStore(bucket, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown backend: %q", cfg.Backend)
	}
}
