// Package config loads the rental engine settings.
//
// Sources, later wins:
//  1. env-default struct tags
//  2. optional YAML file (CONFIG_PATH or the --config flag)
//  3. environment variables, after an optional .env file is loaded
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Env      string `yaml:"env" env:"RENTAL_ENV" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"RENTAL_LOG_LEVEL" env-default:"info"`

	HTTPServer `yaml:"http_server"`
	Storage    `yaml:"storage"`
	Redis      `yaml:"redis"`
	Scheduler  `yaml:"scheduler"`
	Engine     `yaml:"engine"`
}

type HTTPServer struct {
	Address      string        `yaml:"address" env:"RENTAL_HTTP_ADDRESS" env-default:":8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"RENTAL_HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"RENTAL_HTTP_WRITE_TIMEOUT" env-default:"30s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"RENTAL_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	CORSOrigins  []string      `yaml:"cors_origins" env:"RENTAL_CORS_ORIGINS" env-separator:"," env-default:"*"`
}

// Storage selects persistence. An empty SQLitePath keeps everything in memory.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path" env:"RENTAL_SQLITE_PATH" env-default:"rental.db"`
}

// Redis configures the result cache. An empty Address uses an in-process cache.
type Redis struct {
	Address     string        `yaml:"address" env:"RENTAL_REDIS_ADDRESS"`
	Password    string        `yaml:"password" env:"RENTAL_REDIS_PASSWORD"`
	User        string        `yaml:"user" env:"RENTAL_REDIS_USER"`
	DB          int           `yaml:"db" env:"RENTAL_REDIS_DB" env-default:"0"`
	MaxRetries  int           `yaml:"max_retries" env:"RENTAL_REDIS_MAX_RETRIES" env-default:"3"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"RENTAL_REDIS_DIAL_TIMEOUT" env-default:"5s"`
	Timeout     time.Duration `yaml:"timeout" env:"RENTAL_REDIS_TIMEOUT" env-default:"3s"`
	KeyPrefix   string        `yaml:"key_prefix" env:"RENTAL_REDIS_KEY_PREFIX" env-default:"rental"`
}

type Scheduler struct {
	Enabled bool `yaml:"enabled" env:"RENTAL_SCHEDULER_ENABLED" env-default:"true"`
	// Standard 5-field cron expression. Default: 02:00 on the 1st of every month.
	RecalculationCron string        `yaml:"recalculation_cron" env:"RENTAL_RECALCULATION_CRON" env-default:"0 2 1 * *"`
	RetryDelay        time.Duration `yaml:"retry_delay" env:"RENTAL_RETRY_DELAY" env-default:"1h"`
}

type Engine struct {
	BatchConcurrency int           `yaml:"batch_concurrency" env:"RENTAL_BATCH_CONCURRENCY" env-default:"8"`
	AvailabilityTTL  time.Duration `yaml:"availability_ttl" env:"RENTAL_AVAILABILITY_TTL" env-default:"5m"`
	RevenueTTL       time.Duration `yaml:"revenue_ttl" env:"RENTAL_REVENUE_TTL" env-default:"15m"`
	TrialLength      time.Duration `yaml:"trial_length" env:"RENTAL_TRIAL_LENGTH" env-default:"720h"`
}

// Load reads configuration. path may be empty; CONFIG_PATH is consulted then.
// A missing .env file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values cleanenv cannot check through tags.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPServer.Address) == "" {
		errs = append(errs, errors.New("http_server.address is required"))
	}
	if c.Engine.BatchConcurrency < 1 {
		errs = append(errs, errors.New("engine.batch_concurrency must be at least 1"))
	}
	if c.Engine.TrialLength <= 0 {
		errs = append(errs, errors.New("engine.trial_length must be positive"))
	}
	if c.Scheduler.RetryDelay < 0 {
		errs = append(errs, errors.New("scheduler.retry_delay must not be negative"))
	}
	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.RecalculationCron); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.recalculation_cron: %w", err))
		}
	}
	return errors.Join(errs...)
}

// UsesRedis reports whether a Redis cache is configured.
func (c *Config) UsesRedis() bool { return c.Redis.Address != "" }
