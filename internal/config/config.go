// Package config loads server configuration from an optional YAML file with
// environment variable overrides. Environment wins over file, file wins over
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	ListenAddr  string     `yaml:"listen_addr"`
	DatabaseURL string     `yaml:"database_url"`
	RedisURL    string     `yaml:"redis_url"`
	LogLevel    string     `yaml:"log_level"`
	Evaluation  Evaluation `yaml:"evaluation"`
}

// Evaluation tunes the batch orchestrator.
type Evaluation struct {
	Concurrency int           `yaml:"concurrency"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "INFO",
		Evaluation: Evaluation{
			Concurrency: 4,
			CacheTTL:    5 * time.Minute,
		},
	}
}

// Load reads the YAML file at path (if path is non-empty) over the defaults,
// then applies environment overrides. A missing file at an explicit path is
// an error; an empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("database URL is required (set database_url or DATABASE_URL)")
	}
	if cfg.Evaluation.Concurrency < 1 {
		cfg.Evaluation.Concurrency = 1
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EVAL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Evaluation.Concurrency = n
		}
	}
	if v := os.Getenv("EVAL_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Evaluation.CacheTTL = d
		}
	}
}
