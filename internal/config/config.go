package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Templates TemplatesConfig `yaml:"templates"`
	Relay     RelayConfig     `yaml:"relay"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// APIConfig contains HTTP server settings
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"` // Default: :8080
	APIKey     string `yaml:"api_key"`     // Admin API key; empty disables auth
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Path string `yaml:"path"` // BoltDB file path
}

// TemplatesConfig contains template engine settings
type TemplatesConfig struct {
	DefaultLanguage string `yaml:"default_language"` // Fallback language code, default ENG
}

// RelayConfig contains delivery worker settings
type RelayConfig struct {
	Workers         int           `yaml:"workers"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	ProcessInterval time.Duration `yaml:"process_interval"`

	// Retention for delivered and failed deliveries
	RetentionMaxAge time.Duration `yaml:"retention_max_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// WhatsAppConfig contains WhatsApp Cloud API credentials
type WhatsAppConfig struct {
	APIURL        string `yaml:"api_url"` // Default: Graph API base URL
	PhoneNumberID string `yaml:"phone_number_id"`
	AccessToken   string `yaml:"access_token"`
	VerifyToken   string `yaml:"verify_token"` // Webhook verification handshake token
}

// FleetConfig contains fleet platform webhook settings. Tokens are shared
// secrets checked on inbound webhooks, keyed by provider name
// (samsara, motive, geotab).
type FleetConfig struct {
	WebhookTokens map[string]string `yaml:"webhook_tokens"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // Default: :9090
	Path       string `yaml:"path"`        // Default: /metrics
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/fleetrelay.db"
	}
	if c.Templates.DefaultLanguage == "" {
		c.Templates.DefaultLanguage = "ENG"
	}
	if c.Relay.Workers <= 0 {
		c.Relay.Workers = 4
	}
	if c.Relay.MaxRetries <= 0 {
		c.Relay.MaxRetries = 5
	}
	if c.Relay.RetryInterval <= 0 {
		c.Relay.RetryInterval = 1 * time.Minute
	}
	if c.Relay.ProcessInterval <= 0 {
		c.Relay.ProcessInterval = 2 * time.Second
	}
	if c.Relay.RetentionMaxAge <= 0 {
		c.Relay.RetentionMaxAge = 72 * time.Hour
	}
	if c.Relay.CleanupInterval <= 0 {
		c.Relay.CleanupInterval = time.Hour
	}
	if c.WhatsApp.APIURL == "" {
		c.WhatsApp.APIURL = "https://graph.facebook.com/v21.0"
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
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		return fmt.Errorf("whatsapp.phone_number_id is required")
	}
	if c.WhatsApp.AccessToken == "" {
		return fmt.Errorf("whatsapp.access_token is required")
	}
	return nil
}
