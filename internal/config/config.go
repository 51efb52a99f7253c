package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	SES      SESConfig      `yaml:"ses"`
	Sending  SendingConfig  `yaml:"sending"`
	App      AppConfig      `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// CronSecret is the shared bearer secret for the cron trigger endpoint.
	// Empty means development mode: requests are allowed with a warning.
	CronSecret string `yaml:"cron_secret"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnLifetimeMin int    `yaml:"conn_lifetime_minutes"`
}

// ConnLifetime returns the maximum connection lifetime as a duration
func (c DatabaseConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnLifetimeMin) * time.Minute
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// SendingConfig holds batch sending and pacing configuration
type SendingConfig struct {
	// MaxPerSecond bounds the transport call rate; the dispatcher enforces
	// a minimum inter-send delay of 1s / MaxPerSecond.
	MaxPerSecond     int `yaml:"max_per_second"`
	BatchSize        int `yaml:"batch_size"`
	MaxBatchesPerRun int `yaml:"max_batches_per_run"`
	InterBatchMs     int `yaml:"inter_batch_ms"`
	// DefaultRetryAfterSec is the cooldown applied when the provider
	// throttles without telling us how long to back off.
	DefaultRetryAfterSec int `yaml:"default_retry_after_seconds"`
	MaxContactsPerList   int `yaml:"max_contacts_per_list"`
	MaxTotalRecipients   int `yaml:"max_total_recipients"`
	PageSize             int `yaml:"page_size"`
	// StaleReservationMin is how long a pending ledger row must sit before
	// a later run may re-claim it.
	StaleReservationMin int `yaml:"stale_reservation_minutes"`
}

// PacingFloor returns the minimum delay between transport calls
func (c SendingConfig) PacingFloor() time.Duration {
	if c.MaxPerSecond <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.MaxPerSecond)
}

// InterBatchDelay returns the delay applied between batches
func (c SendingConfig) InterBatchDelay() time.Duration {
	return time.Duration(c.InterBatchMs) * time.Millisecond
}

// DefaultRetryAfter returns the fallback rate-limit cooldown as a duration
func (c SendingConfig) DefaultRetryAfter() time.Duration {
	return time.Duration(c.DefaultRetryAfterSec) * time.Second
}

// StaleReservationAge returns the pending re-claim threshold as a duration
func (c SendingConfig) StaleReservationAge() time.Duration {
	return time.Duration(c.StaleReservationMin) * time.Minute
}

// AppConfig holds application-level settings
type AppConfig struct {
	// BaseURL is the public origin used for unsubscribe and
	// view-in-browser links.
	BaseURL string `yaml:"base_url"`
	Env     string `yaml:"env"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnLifetimeMin == 0 {
		cfg.Database.ConnLifetimeMin = 5
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Sending.MaxPerSecond == 0 {
		cfg.Sending.MaxPerSecond = 8
	}
	if cfg.Sending.BatchSize == 0 {
		cfg.Sending.BatchSize = 50
	}
	if cfg.Sending.MaxBatchesPerRun == 0 {
		cfg.Sending.MaxBatchesPerRun = 10
	}
	if cfg.Sending.InterBatchMs == 0 {
		cfg.Sending.InterBatchMs = 500
	}
	if cfg.Sending.DefaultRetryAfterSec == 0 {
		cfg.Sending.DefaultRetryAfterSec = 300
	}
	if cfg.Sending.MaxContactsPerList == 0 {
		cfg.Sending.MaxContactsPerList = 10000
	}
	if cfg.Sending.MaxTotalRecipients == 0 {
		cfg.Sending.MaxTotalRecipients = 50000
	}
	if cfg.Sending.PageSize == 0 {
		cfg.Sending.PageSize = 500
	}
	if cfg.Sending.StaleReservationMin == 0 {
		cfg.Sending.StaleReservationMin = 10
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars on the host. A missing config
// file is not an error; env vars alone can configure everything.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.Server.CronSecret = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("FROM_EMAIL"); v != "" {
		cfg.SES.FromEmail = v
	}
	if v := os.Getenv("FROM_NAME"); v != "" {
		cfg.SES.FromName = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.App.BaseURL = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("SEND_MAX_PER_SECOND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sending.MaxPerSecond = n
		}
	}
	if v := os.Getenv("SEND_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sending.BatchSize = n
		}
	}

	return cfg, nil
}
