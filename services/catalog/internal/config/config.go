package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"appcatalog/pkg/store"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.yaml"

// ConfigPath is the config file used by the binaries, overridable with CATALOG_CONFIG.
var ConfigPath = configPathFromEnv()

func configPathFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("CATALOG_CONFIG")); v != "" {
		return v
	}
	return defaultConfigFile
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string   `yaml:"port"`
	LogLevel           string   `yaml:"logLevel"`
	Backend            string   `yaml:"backend"`
	DatabaseURL        string   `yaml:"databaseURL"`
	RedisAddr          string   `yaml:"redisAddr"`
	RedisPassword      string   `yaml:"redisPassword"`
	RedisPrefix        string   `yaml:"redisPrefix"`
	MinioEndpoint      string   `yaml:"minioEndpoint"`
	MinioAccessKey     string   `yaml:"minioAccessKey"`
	MinioSecretKey     string   `yaml:"minioSecretKey"`
	MinioBucket        string   `yaml:"minioBucket"`
	MinioUseSSL        bool     `yaml:"minioUseSSL"`
	StoreTimeout       string   `yaml:"storeTimeout"`
	AdminToken         string   `yaml:"adminToken"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
	TrustedProxyCIDRs  []string `yaml:"trustedProxyCidrs"`
	AMQPURL            string   `yaml:"amqpURL"`
	AMQPExchange       string   `yaml:"amqpExchange"`
	EventStream        string   `yaml:"eventStream"`
	StaticDir          string   `yaml:"staticDir"`
	DegradeListErrors  bool     `yaml:"degradeListErrors"`
	MetricsEnabled     bool     `yaml:"metricsEnabled"`
}

func defaults() FileConfig {
	return FileConfig{
		Port:     "8080",
		LogLevel: "info",
		Backend:  store.BackendMemory,
	}
}

// Load reads a .env file if present, then the YAML file at path, then
// environment overrides. A missing file at the default path is not an error:
// the service starts on the in-memory backend.
func Load(path string) (FileConfig, error) {
	if err := loadDotEnv(); err != nil {
		return FileConfig{}, err
	}
	cfg := defaults()
	explicit := path != ""
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && (!explicit || path == defaultConfigFile):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("CATALOG_ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				*dst = v
				return
			}
		}
	}
	setBool := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	setString(&cfg.Port, "CATALOG_PORT", "PORT")
	setString(&cfg.LogLevel, "CATALOG_LOG_LEVEL")
	setString(&cfg.Backend, "CATALOG_BACKEND")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.RedisPrefix, "CATALOG_REDIS_PREFIX")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setBool(&cfg.MinioUseSSL, "MINIO_USE_SSL")
	setString(&cfg.StoreTimeout, "CATALOG_STORE_TIMEOUT")
	setString(&cfg.AdminToken, "CATALOG_ADMIN_TOKEN")
	if v := os.Getenv("CATALOG_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CATALOG_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	setString(&cfg.AMQPURL, "AMQP_URL")
	setString(&cfg.AMQPExchange, "CATALOG_AMQP_EXCHANGE")
	setString(&cfg.EventStream, "CATALOG_EVENT_STREAM")
	setString(&cfg.StaticDir, "CATALOG_STATIC_DIR")
	setBool(&cfg.DegradeListErrors, "CATALOG_DEGRADE_LIST_ERRORS")
	setBool(&cfg.MetricsEnabled, "CATALOG_METRICS_ENABLED")
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required (set in config.yaml or CATALOG_PORT)")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case store.BackendMemory:
	case store.BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres backend")
		}
	case store.BackendRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis backend")
		}
	case store.BackendMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("config: unknown backend %q (want one of %s)", cfg.Backend, strings.Join(store.Backends(), ", "))
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	if cfg.RateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	if strings.TrimSpace(cfg.EventStream) != "" && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for eventStream")
	}
	if _, err := ParseStoreTimeout(cfg.StoreTimeout); err != nil {
		return err
	}
	return nil
}

// ParseStoreTimeout parses the optional per-call store timeout.
func ParseStoreTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return store.DefaultTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid storeTimeout duration: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("config: storeTimeout must be positive")
	}
	return d, nil
}

// StoreConfig translates the file config into the store factory config.
func (c FileConfig) StoreConfig() store.Config {
	timeout, _ := ParseStoreTimeout(c.StoreTimeout)
	return store.Config{
		Backend:        c.Backend,
		DatabaseURL:    c.DatabaseURL,
		RedisAddr:      c.RedisAddr,
		RedisPassword:  c.RedisPassword,
		RedisPrefix:    c.RedisPrefix,
		MinioEndpoint:  c.MinioEndpoint,
		MinioAccessKey: c.MinioAccessKey,
		MinioSecretKey: c.MinioSecretKey,
		MinioBucket:    c.MinioBucket,
		MinioUseSSL:    c.MinioUseSSL,
		Timeout:        timeout,
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
