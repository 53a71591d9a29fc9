package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "ETH / USD", cfg.Feed.Description)
	require.Equal(t, uint8(8), cfg.Feed.Decimals)
	require.Equal(t, uint32(600), cfg.Feed.Timeout)
	require.False(t, cfg.Relay.Enabled)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
feed:
  description: "BTC / USD"
  decimals: 18
validator:
  enabled: true
  flagging_threshold: 50000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "BTC / USD", cfg.Feed.Description)
	require.Equal(t, uint8(18), cfg.Feed.Decimals)
	require.True(t, cfg.Validator.Enabled)
	require.Equal(t, uint32(50000), cfg.Validator.FlaggingThreshold)

	// Untouched sections keep their defaults.
	require.Equal(t, uint32(600), cfg.Feed.Timeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad payment amount", func(c *Config) { c.Feed.PaymentAmount = "one" }},
		{"relay without url", func(c *Config) { c.Relay.Enabled = true; c.Relay.URL = "" }},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestBigInt(t *testing.T) {
	require.Equal(t, int64(1000), BigInt("1000").Int64())
	require.Zero(t, BigInt("junk").Sign())
}
