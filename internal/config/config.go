// Package config loads server and operator settings. Values come from the
// built-in defaults, then an optional YAML file, then a .env file, then
// OPINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/opine/internal/services"
	"github.com/soaringjerry/opine/internal/utils"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

type Config struct {
	HTTP       HTTPConfig               `yaml:"http"`
	Log        LogConfig                `yaml:"log"`
	Storage    StorageConfig            `yaml:"storage"`
	Auth       AuthConfig               `yaml:"auth"`
	Review     ReviewConfig             `yaml:"review"`
	AutoReject services.AutoRejectRules `yaml:"auto_reject"`
	Dedup      services.SweepPolicy     `yaml:"dedup"`
	Batch      services.BatchOptions    `yaml:"batch"`
	Schedule   ScheduleConfig           `yaml:"schedule"`
	// Locale is used for feedback written by background jobs.
	Locale string `yaml:"locale"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type ReviewConfig struct {
	ClaimTTL    time.Duration `yaml:"claim_ttl"`
	BatchWindow time.Duration `yaml:"batch_window"`
	// RedisAddr enables Redis-backed claim leases; empty keeps them in process.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// ScheduleConfig holds cron specs for the server's maintenance jobs. An
// empty spec disables the job.
type ScheduleConfig struct {
	DedupSweep string `yaml:"dedup_sweep"`
	Repair     string `yaml:"repair"`
	Reevaluate string `yaml:"reevaluate"`
}

func Default() Config {
	return Config{
		HTTP:       HTTPConfig{Addr: ":8080", RateLimit: 20, RateBurst: 40},
		Log:        LogConfig{Level: "info", Format: "json"},
		Storage:    StorageConfig{Driver: DriverSQLite, Path: "opine.db"},
		Review:     ReviewConfig{ClaimTTL: 30 * time.Minute, BatchWindow: 24 * time.Hour, RedisPrefix: "opine:"},
		AutoReject: services.DefaultAutoRejectRules(),
		Dedup:      services.DefaultSweepPolicy(),
		Batch:      services.BatchOptions{PageSize: 500, Concurrency: 4, RatePerSecond: 200},
		Schedule:   ScheduleConfig{DedupSweep: "@every 15m", Repair: "@hourly"},
		Locale:     "en",
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("OPINE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv reads file into the process environment without overriding
// variables that are already set. A missing file is fine.
func loadDotEnv(file string) error {
	if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTP.Addr = utils.SafeEnv("OPINE_ADDR", cfg.HTTP.Addr)
	cfg.Log.Level = utils.SafeEnv("OPINE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = utils.SafeEnv("OPINE_LOG_FORMAT", cfg.Log.Format)
	cfg.Storage.Driver = utils.SafeEnv("OPINE_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Path = utils.SafeEnv("OPINE_DB_PATH", cfg.Storage.Path)
	cfg.Storage.MigrationsDir = utils.SafeEnv("OPINE_MIGRATIONS_DIR", cfg.Storage.MigrationsDir)
	cfg.Auth.JWTSecret = utils.SafeEnv("OPINE_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Review.RedisAddr = utils.SafeEnv("OPINE_REDIS_ADDR", cfg.Review.RedisAddr)
	cfg.Review.RedisPassword = utils.SafeEnv("OPINE_REDIS_PASSWORD", cfg.Review.RedisPassword)
	cfg.Schedule.DedupSweep = utils.SafeEnv("OPINE_SCHEDULE_DEDUP_SWEEP", cfg.Schedule.DedupSweep)
	cfg.Schedule.Repair = utils.SafeEnv("OPINE_SCHEDULE_REPAIR", cfg.Schedule.Repair)
	cfg.Schedule.Reevaluate = utils.SafeEnv("OPINE_SCHEDULE_REEVALUATE", cfg.Schedule.Reevaluate)
	cfg.Locale = utils.SafeEnv("OPINE_LOCALE", cfg.Locale)

	var err error
	if cfg.Review.ClaimTTL, err = utils.EnvDuration("OPINE_CLAIM_TTL", cfg.Review.ClaimTTL); err != nil {
		return err
	}
	if cfg.HTTP.RateLimit, err = utils.EnvFloat("OPINE_RATE_LIMIT", cfg.HTTP.RateLimit); err != nil {
		return err
	}
	if cfg.Batch.Concurrency, err = utils.EnvInt("OPINE_BATCH_CONCURRENCY", cfg.Batch.Concurrency); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Review.ClaimTTL <= 0 {
		return errors.New("review.claim_ttl must be positive")
	}
	if c.Dedup.ConcurrentWindow < 0 || c.Dedup.ForceResolveAfter < 0 {
		return errors.New("dedup windows must not be negative")
	}
	if c.AutoReject.MinDeviceDurationSeconds < 0 {
		return errors.New("auto_reject.min_device_duration_seconds must not be negative")
	}
	return nil
}

const devJWTSecret = "opine-dev-secret"

// JWTSecret returns the configured signing secret, falling back to a
// development value.
func (c *Config) JWTSecret() []byte {
	if c.Auth.JWTSecret == "" {
		return []byte(devJWTSecret)
	}
	return []byte(c.Auth.JWTSecret)
}

// UsingDevSecret reports whether tokens would be signed with the built-in
// development secret while data is kept on disk.
func (c *Config) UsingDevSecret() bool {
	return c.Auth.JWTSecret == "" && c.Storage.Driver == DriverSQLite
}
