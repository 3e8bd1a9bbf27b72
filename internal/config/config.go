// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

// Duration accepts human-readable yaml values like "30s" or "2m" in addition
// to plain nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BackendConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// CreditsConfig controls the free-credit ledger. When Enabled is false every
// ledger operation is a no-op that always succeeds.
type CreditsConfig struct {
	Enabled            bool  `yaml:"enabled"`
	CreditCost         int64 `yaml:"credit_cost"`           // debited per manual generation
	DailyFreeCredits   int64 `yaml:"daily_free_credits"`    // granted once per UTC day
	MaxFreeCreditLimit int64 `yaml:"max_free_credit_limit"` // balance cap after a grant
}

type QueueConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	// AssumedSecondsPerItem feeds the queue-position wait estimate. It is a
	// fixed constant, not measured throughput.
	AssumedSecondsPerItem int `yaml:"assumed_seconds_per_item"`
	// EnqueueRateLimit caps enqueues per user per window; 0 disables.
	EnqueueRateLimit  int      `yaml:"enqueue_rate_limit"`
	EnqueueRateWindow Duration `yaml:"enqueue_rate_window"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type AdminConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Backend  BackendConfig  `yaml:"backend"`
	Credits  CreditsConfig  `yaml:"credits"`
	Queue    QueueConfig    `yaml:"queue"`
	Web      WebConfig      `yaml:"web"`
	Admin    AdminConfig    `yaml:"admin"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = Duration(120 * time.Second)
	}
	if cfg.Queue.PollInterval <= 0 {
		cfg.Queue.PollInterval = Duration(time.Second)
	}
	if cfg.Queue.AssumedSecondsPerItem <= 0 {
		cfg.Queue.AssumedSecondsPerItem = 20
	}
	if cfg.Queue.EnqueueRateWindow <= 0 {
		cfg.Queue.EnqueueRateWindow = Duration(time.Minute)
	}
	if cfg.Credits.Enabled {
		if cfg.Credits.CreditCost <= 0 {
			cfg.Credits.CreditCost = 5
		}
		if cfg.Credits.DailyFreeCredits <= 0 {
			cfg.Credits.DailyFreeCredits = 10
		}
		if cfg.Credits.MaxFreeCreditLimit <= 0 {
			cfg.Credits.MaxFreeCreditLimit = 50
		}
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 9090
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Backend.BaseURL == "" {
		return nil, errors.New("backend.base_url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
