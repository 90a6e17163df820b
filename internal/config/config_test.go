// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9090"

database:
  path: "./relay.db"

gateway:
  base_url: "https://wa.example.com"
  api_key: "global-key"
  timeout: "45s"

relay:
  poll_interval: "5s"
  retry_attempts: 4
  retry_backoff: "2s"

identity:
  cache_ttl: "90s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "./relay.db", cfg.Database.Path)
	assert.Equal(t, "https://wa.example.com", cfg.Gateway.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Relay.PollInterval)
	assert.Equal(t, 4, cfg.Relay.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.Relay.RetryBackoff)
	assert.Equal(t, 90*time.Second, cfg.Identity.CacheTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "./relay.db"
gateway:
  base_url: "https://wa.example.com"
  api_key: "global-key"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, DefaultPollInterval, cfg.Relay.PollInterval)
	assert.Equal(t, DefaultRetryCount, cfg.Relay.RetryAttempts)
	assert.Equal(t, DefaultRetryBackoff, cfg.Relay.RetryBackoff)
	assert.Equal(t, DefaultCacheTTL, cfg.Identity.CacheTTL)
	assert.Equal(t, DefaultDedupeWindow, cfg.Webhook.DedupeWindow)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("WARELAY_TEST_KEY", "secret-from-env")

	path := writeConfig(t, `
database:
  path: "./relay.db"
gateway:
  base_url: "https://wa.example.com"
  api_key: "${WARELAY_TEST_KEY}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Gateway.APIKey)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "./relay.db"
gateway:
  base_url: "https://wa.example.com"
  api_key: "k"
relay:
  poll_interval: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay.poll_interval")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing gateway url", func(c *Config) { c.Gateway.BaseURL = "" }, "gateway.base_url"},
		{"missing gateway key", func(c *Config) { c.Gateway.APIKey = "" }, "gateway.api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Database: DatabaseConfig{Path: "./relay.db"},
				Gateway:  GatewayConfig{BaseURL: "https://wa.example.com", APIKey: "k"},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
