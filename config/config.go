/*
config.go - Process configuration

PURPOSE:
  Static settings the process needs before it can open the database:
  listen port, database path, evaluation time zone, webhook rate limit,
  batch schedule, notification tuning and log level. Admin-editable
  settings (Telegram credentials, webhook toggle) live in the settings
  package instead and are versioned in the database.

PRECEDENCE (lowest first):
  1. DefaultConfig()
  2. YAML file (missing file is not an error)
  3. .env file, loaded into the environment without overriding it
  4. Environment variables

ENVIRONMENT:
  WORKTRACK_PORT        server.port
  WORKTRACK_DB          database.path
  TIME_ZONE             time_zone (IANA name)
  WEBHOOK_RATE_LIMIT    webhook.rate_limit (requests per IP per minute)
  WORKTRACK_BATCH_CRON  batch.cron (5-field cron expression)
  WORKTRACK_LOG_LEVEL   log.level (debug, info, warn, error)
  TELEGRAM_API_URL      notify.telegram_url

SEE ALSO:
  - cmd/worktrack/main.go: Loads the config and builds components
  - settings/settings.go: Runtime, admin-editable settings
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // IANA zones on hosts without a zoneinfo database

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds all process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	TimeZone string         `yaml:"time_zone"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Batch    BatchConfig    `yaml:"batch"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port            int      `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // ":memory:" for an in-memory database
}

type WebhookConfig struct {
	RateLimit int `yaml:"rate_limit"`
}

type BatchConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Cron       string `yaml:"cron"`
	WindowDays int    `yaml:"window_days"`
}

type NotifyConfig struct {
	TelegramURL string `yaml:"telegram_url"`
	QueueSize   int    `yaml:"queue_size"`
	MaxRetries  int    `yaml:"max_retries"`
	Backoff     string `yaml:"backoff"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:8080"},
			ShutdownTimeout: "30s",
		},
		Database: DatabaseConfig{Path: "worktrack.db"},
		TimeZone: "Asia/Tashkent",
		Webhook:  WebhookConfig{RateLimit: 120},
		Batch: BatchConfig{
			Enabled:    true,
			Cron:       "0 20 * * *",
			WindowDays: 7,
		},
		Notify: NotifyConfig{
			TelegramURL: "https://api.telegram.org",
			QueueSize:   256,
			MaxRetries:  3,
			Backoff:     "60s",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path or a missing file yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env files into the process environment. Variables that
// are already set win. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("WORKTRACK_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORKTRACK_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("WORKTRACK_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("TIME_ZONE"); v != "" {
		c.TimeZone = v
	}
	if v := os.Getenv("WEBHOOK_RATE_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WEBHOOK_RATE_LIMIT: %w", err)
		}
		c.Webhook.RateLimit = limit
	}
	if v := os.Getenv("WORKTRACK_BATCH_CRON"); v != "" {
		c.Batch.Cron = v
	}
	if v := os.Getenv("WORKTRACK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("TELEGRAM_API_URL"); v != "" {
		c.Notify.TelegramURL = v
	}
	return nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Webhook.RateLimit <= 0 {
		return fmt.Errorf("webhook.rate_limit must be positive")
	}
	if c.Batch.WindowDays < 1 {
		return fmt.Errorf("batch.window_days must be at least 1")
	}
	if c.Batch.Enabled {
		if _, err := cron.ParseStandard(c.Batch.Cron); err != nil {
			return fmt.Errorf("batch.cron %q: %w", c.Batch.Cron, err)
		}
	}
	if _, err := c.BackoffDuration(); err != nil {
		return err
	}
	if _, err := c.ShutdownTimeout(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// Location resolves TimeZone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (c *Config) BackoffDuration() (time.Duration, error) {
	return parseDuration("notify.backoff", c.Notify.Backoff, 60*time.Second)
}

func (c *Config) ShutdownTimeout() (time.Duration, error) {
	return parseDuration("server.shutdown_timeout", c.Server.ShutdownTimeout, 30*time.Second)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

func parseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
