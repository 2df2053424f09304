// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Poll     PollConfig     `yaml:"poll"`
	Console  ConsoleConfig  `yaml:"console"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      LogConfig      `yaml:"log"`
}

// BackendConfig points at the evaluation API.
type BackendConfig struct {
	URL     string        `envconfig:"SEARCHEVAL_BACKEND_URL" yaml:"url"`
	Timeout time.Duration `envconfig:"SEARCHEVAL_BACKEND_TIMEOUT" yaml:"timeout"`
}

// PollConfig tunes job status polling.
type PollConfig struct {
	Interval time.Duration `envconfig:"SEARCHEVAL_POLL_INTERVAL" yaml:"interval"`
	Timeout  time.Duration `envconfig:"SEARCHEVAL_POLL_TIMEOUT" yaml:"timeout"`
}

type ConsoleConfig struct {
	Host string `envconfig:"SEARCHEVAL_HOST" yaml:"host"`
	Port int    `envconfig:"SEARCHEVAL_PORT" yaml:"port"`
	// SnapshotRetention is how long finished job snapshots stay visible.
	SnapshotRetention time.Duration `envconfig:"SEARCHEVAL_SNAPSHOT_RETENTION" yaml:"snapshot_retention"`
}

// RedisConfig enables the shared progress store when Addr is set.
type RedisConfig struct {
	Addr string `envconfig:"REDIS_ADDR" yaml:"addr"`
}

// PostgresConfig enables the report archive when DSN is set.
type PostgresConfig struct {
	DSN string `envconfig:"POSTGRES_DSN" yaml:"dsn"`
}

// NotifyConfig enables email notifications when an API key and recipients are set.
type NotifyConfig struct {
	SendGridAPIKey string   `envconfig:"EMAIL_API_KEY" yaml:"sendgrid_api_key"`
	FromName       string   `envconfig:"FROM_NAME" yaml:"from_name"`
	FromAddress    string   `envconfig:"FROM_ADDRESS" yaml:"from_address"`
	Recipients     []string `envconfig:"NOTIFY_RECIPIENTS" yaml:"recipients"`
	OnlyFailures   bool     `envconfig:"NOTIFY_ONLY_FAILURES" yaml:"only_failures"`
}

type LogConfig struct {
	Level  string `envconfig:"SEARCHEVAL_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"SEARCHEVAL_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from defaults, an optional YAML file and the environment,
// in increasing priority.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	setDefaults(cfg)

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Backend = BackendConfig{
		URL:     "http://localhost:8080",
		Timeout: 30 * time.Second,
	}

	cfg.Poll = PollConfig{
		Interval: 3 * time.Second,
		Timeout:  60 * time.Minute,
	}

	cfg.Console = ConsoleConfig{
		Host:              "0.0.0.0",
		Port:              8081,
		SnapshotRetention: 24 * time.Hour,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("invalid backend url: %q", c.Backend.URL))
	}

	if c.Backend.Timeout <= 0 {
		errs = append(errs, "backend timeout must be positive")
	}

	if c.Poll.Interval <= 0 {
		errs = append(errs, "poll interval must be positive")
	}

	if c.Poll.Timeout <= 0 {
		errs = append(errs, "poll timeout must be positive")
	} else if c.Poll.Timeout < c.Poll.Interval {
		errs = append(errs, "poll timeout must not be shorter than the poll interval")
	}

	if c.Console.Port < 1 || c.Console.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if c.Notify.Enabled() && c.Notify.FromAddress == "" {
		errs = append(errs, "from_address is required when email notifications are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the console listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Console.Host, c.Console.Port)
}

// Enabled reports whether email notifications are configured.
func (n NotifyConfig) Enabled() bool {
	return n.SendGridAPIKey != "" && len(n.Recipients) > 0
}
