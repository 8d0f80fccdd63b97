package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding the file
const EnvPrefix = "PACER"

// Config is the main configuration structure
type Config struct {
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`  // Prometheus metrics configuration
	Storage  StorageConfig  `yaml:"storage"`  // Run history archive
	Campaign CampaignConfig `yaml:"campaign"` // Default campaign definition
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to call /api/v1 (empty = all)
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`   // Max JSON request body size (default: 4MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to access metrics
}

// StorageConfig contains run archive settings. An empty path disables the
// archive.
type StorageConfig struct {
	Path    string `yaml:"path"`
	MaxRuns int    `yaml:"max_runs"` // Oldest runs are pruned beyond this (0 = keep all)
}

// CampaignConfig points at the default campaign definition used by
// "pacer run" and "pacer campaign start" when no file is given
type CampaignConfig struct {
	File           string `yaml:"file"`
	RecipientsFile string `yaml:"recipients_file"` // CSV or plain list, overrides recipients in File
	MaxRecipients  int    `yaml:"max_recipients"`
}

// envOverrides are read from PACER_* environment variables
type envOverrides struct {
	APIListenAddr     string `envconfig:"API_LISTEN_ADDR"`
	APIKey            string `envconfig:"API_KEY"`
	LogLevel          string `envconfig:"LOG_LEVEL"`
	LogFormat         string `envconfig:"LOG_FORMAT"`
	MetricsEnabled    *bool  `envconfig:"METRICS_ENABLED"`
	MetricsListenAddr string `envconfig:"METRICS_LISTEN_ADDR"`
	StoragePath       string `envconfig:"STORAGE_PATH"`
}

// Load loads configuration from a YAML file. An empty path yields the
// defaults. Environment overrides are applied on top of the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}

	if env.APIListenAddr != "" {
		c.API.ListenAddr = env.APIListenAddr
	}
	if env.APIKey != "" {
		c.API.APIKey = env.APIKey
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		c.Logging.Format = env.LogFormat
	}
	if env.MetricsEnabled != nil {
		c.Metrics.Enabled = *env.MetricsEnabled
	}
	if env.MetricsListenAddr != "" {
		c.Metrics.ListenAddr = env.MetricsListenAddr
	}
	if env.StoragePath != "" {
		c.Storage.Path = env.StoragePath
	}
	return nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 4 << 20
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Campaign.MaxRecipients == 0 {
		c.Campaign.MaxRecipients = 1000
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == c.API.ListenAddr {
		return fmt.Errorf("metrics.listen_addr must differ from api.listen_addr")
	}

	if c.Storage.MaxRuns < 0 {
		return fmt.Errorf("storage.max_runs must not be negative")
	}

	if c.Campaign.MaxRecipients < 0 {
		return fmt.Errorf("campaign.max_recipients must not be negative")
	}

	return nil
}
