// Package config loads the daemon configuration from YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Config is the daemon configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// Storage selects the persistence backend: memory, sqlite or redis.
	Storage string `yaml:"storage"`

	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`

	// ActivityWorkers sizes the activity worker pool.
	ActivityWorkers int `yaml:"activity_workers"`

	// ShutdownGrace bounds how long the daemon waits for in-flight HTTP
	// requests on shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	Log LogConfig `yaml:"log"`

	// Metrics enables the Prometheus /metrics endpoint.
	Metrics bool `yaml:"metrics"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:          ":8080",
		Storage:         StorageMemory,
		SQLite:          SQLiteConfig{Path: "durable.db"},
		Redis:           RedisConfig{Addr: "localhost:6379", Prefix: "durable:"},
		ActivityWorkers: 4,
		ShutdownGrace:   10 * time.Second,
		Log:             LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config file, layering it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for problems that are better caught at
// startup than at first use.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageSQLite, StorageRedis:
	default:
		return fmt.Errorf("unknown storage backend %q (want memory, sqlite or redis)", c.Storage)
	}
	if c.Storage == StorageSQLite && c.SQLite.Path == "" {
		return fmt.Errorf("sqlite storage requires sqlite.path")
	}
	if c.Storage == StorageRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis storage requires redis.addr")
	}
	if c.ActivityWorkers < 0 {
		return fmt.Errorf("activity_workers must not be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.Log.Format)
	}
	return nil
}

// SlogLevel maps the configured log level onto slog.
func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Log.Level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", c.Log.Level)
}

// NewLogger builds the daemon logger from the log config.
func (c Config) NewLogger() (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(c.Log.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), nil
}
