// ABOUTME: Configuration loading and parsing for warelay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete warelay configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Relay    RelayConfig    `yaml:"relay"`
	Identity IdentityConfig `yaml:"identity"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the shared store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig holds the WhatsApp gateway connection settings
type GatewayConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// RelayConfig holds the outbound delivery loop tunables. The defaults are
// empirically tuned; the right values are deployment-dependent.
type RelayConfig struct {
	RetryAttempts int `yaml:"retry_attempts"`

	PollInterval    time.Duration `yaml:"-"`
	RetryBackoff    time.Duration `yaml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval"`
	RetryBackoffRaw string        `yaml:"retry_backoff"`
}

// IdentityConfig holds identity cache settings
type IdentityConfig struct {
	CacheTTL    time.Duration `yaml:"-"`
	CacheTTLRaw string        `yaml:"cache_ttl"`
}

// WebhookConfig holds inbound webhook settings
type WebhookConfig struct {
	// DedupeWindow bounds how long a provider message id suppresses
	// redeliveries of the same event.
	DedupeWindow    time.Duration `yaml:"-"`
	DedupeWindowRaw string        `yaml:"dedupe_window"`
}

// AdminConfig holds the provisioning API settings
type AdminConfig struct {
	// Token is the static bearer token protecting the admin endpoints.
	Token string `yaml:"token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults for tunables left unset in the file.
const (
	DefaultHTTPAddr     = "0.0.0.0:8080"
	DefaultPollInterval = 2 * time.Second
	DefaultRetryCount   = 3
	DefaultRetryBackoff = time.Second
	DefaultCacheTTL     = 60 * time.Second
	DefaultDedupeWindow = 5 * time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in unset tunables.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Relay.PollInterval <= 0 {
		c.Relay.PollInterval = DefaultPollInterval
	}
	if c.Relay.RetryAttempts <= 0 {
		c.Relay.RetryAttempts = DefaultRetryCount
	}
	if c.Relay.RetryBackoff <= 0 {
		c.Relay.RetryBackoff = DefaultRetryBackoff
	}
	if c.Identity.CacheTTL <= 0 {
		c.Identity.CacheTTL = DefaultCacheTTL
	}
	if c.Webhook.DedupeWindow <= 0 {
		c.Webhook.DedupeWindow = DefaultDedupeWindow
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Gateway.APIKey == "" {
		return fmt.Errorf("gateway.api_key is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Gateway.TimeoutRaw, "gateway.timeout", &cfg.Gateway.Timeout},
		{cfg.Relay.PollIntervalRaw, "relay.poll_interval", &cfg.Relay.PollInterval},
		{cfg.Relay.RetryBackoffRaw, "relay.retry_backoff", &cfg.Relay.RetryBackoff},
		{cfg.Identity.CacheTTLRaw, "identity.cache_ttl", &cfg.Identity.CacheTTL},
		{cfg.Webhook.DedupeWindowRaw, "webhook.dedupe_window", &cfg.Webhook.DedupeWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
