package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

var (
	ErrInvalidDriver  = errors.New("unknown storage driver")
	ErrInvalidTimeout = errors.New("api timeout must be positive")
	ErrBaseURLMissing = errors.New("api base url is required")
)

type Config struct {
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Sync    SyncConfig    `yaml:"sync"`
	Logging LoggingConfig `yaml:"logging"`
	Mock    MockConfig    `yaml:"mock"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the HTTP transport.
// Only transport failures count towards FailureThreshold.
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type StorageConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	Redis  RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SyncConfig struct {
	DetailConcurrency  int           `yaml:"detail_concurrency"`
	DetailRatePerSec   float64       `yaml:"detail_rate_per_sec"`
	DetailBurst        int           `yaml:"detail_burst"`
	DetailCacheEntries int           `yaml:"detail_cache_entries"`
	DetailCacheBytes   int64         `yaml:"detail_cache_bytes"`
	DetailCacheTTL     time.Duration `yaml:"detail_cache_ttl"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Pretty     bool   `yaml:"pretty"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MockConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Requests per minute per client IP; 0 disables limiting.
	RateLimit int `yaml:"rate_limit"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://127.0.0.1:6541/api/v1",
			Timeout: 10 * time.Second,
			Breaker: BreakerConfig{
				MaxRequests:      1,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "data/moviebox.db",
			Redis: RedisConfig{
				Addr: "127.0.0.1:6379",
			},
		},
		Sync: SyncConfig{
			DetailConcurrency:  4,
			DetailRatePerSec:   8,
			DetailBurst:        4,
			DetailCacheEntries: 256,
			DetailCacheBytes:   4 * 1024 * 1024, // 4 MB
			DetailCacheTTL:     10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Pretty:     true,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Mock: MockConfig{
			Host: "127.0.0.1",
			Port: 6541,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty or missing path yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, err
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("MOVIEBOX_API_BASE_URL"); ok && strings.TrimSpace(v) != "" {
		cfg.API.BaseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup("MOVIEBOX_API_TIMEOUT"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("MOVIEBOX_API_TIMEOUT: %w", err)
		}
		cfg.API.Timeout = d
	}
	if v, ok := lookup("MOVIEBOX_STORAGE_DRIVER"); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("MOVIEBOX_STORAGE_PATH"); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.Path = strings.TrimSpace(v)
	}
	if v, ok := lookup("MOVIEBOX_REDIS_ADDR"); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.Redis.Addr = strings.TrimSpace(v)
	}
	if v, ok := lookup("MOVIEBOX_REDIS_DB"); ok && strings.TrimSpace(v) != "" {
		db, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("MOVIEBOX_REDIS_DB: %w", err)
		}
		cfg.Storage.Redis.DB = db
	}
	if v, ok := lookup("MOVIEBOX_LOG_LEVEL"); ok && strings.TrimSpace(v) != "" {
		cfg.Logging.Level = strings.TrimSpace(v)
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return ErrBaseURLMissing
	}
	if c.API.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	switch c.Storage.Driver {
	case DriverSQLite, DriverBadger, DriverFile, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Storage.Driver)
	}

	if c.Sync.DetailConcurrency <= 0 {
		c.Sync.DetailConcurrency = 1
	}
	if c.Sync.DetailBurst <= 0 {
		c.Sync.DetailBurst = 1
	}

	return nil
}
