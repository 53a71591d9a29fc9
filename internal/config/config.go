// Package config loads and validates server configuration from a file
// and FLUX_-prefixed environment variables.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Security  SecurityConfig  `mapstructure:"security"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Otel      OtelConfig      `mapstructure:"otel"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// FeedConfig fixes the feed parameters applied at startup.
type FeedConfig struct {
	Owner              string `mapstructure:"owner"`
	Address            string `mapstructure:"address"`
	PaymentAmount      string `mapstructure:"payment_amount"`
	Timeout            uint32 `mapstructure:"timeout"`
	MinSubmissionValue string `mapstructure:"min_submission_value"`
	MaxSubmissionValue string `mapstructure:"max_submission_value"`
	Decimals           uint8  `mapstructure:"decimals"`
	Description        string `mapstructure:"description"`
	InitialSupply      string `mapstructure:"initial_supply"`
}

// SecurityConfig controls submission signature checking.
type SecurityConfig struct {
	RequireSignatures bool `mapstructure:"require_signatures"`
}

// ValidatorConfig controls the deviation-flagging answer validator.
type ValidatorConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	FlaggingThreshold uint32 `mapstructure:"flagging_threshold"` // parts-per-million
}

// StorageConfig controls state persistence.
type StorageConfig struct {
	Path         string        `mapstructure:"path"`
	MaxEvents    int           `mapstructure:"max_events"`
	SaveInterval time.Duration `mapstructure:"save_interval"`
}

// RelayConfig controls the webhook event relay.
type RelayConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	APIKey        string        `mapstructure:"api_key"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// TelegramConfig controls operator alerting.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// OtelConfig controls trace export.
type OtelConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// Load reads configuration from the given file (optional) and the
// environment. Environment variables use the FLUX_ prefix with
// underscores for nesting, e.g. FLUX_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit", 100.0)
	v.SetDefault("server.rate_burst", 200)

	v.SetDefault("feed.owner", "0x0000000000000000000000000000000000000001")
	v.SetDefault("feed.address", "0x00000000000000000000000000000000000000fe")
	v.SetDefault("feed.payment_amount", "1000000000000000000")
	v.SetDefault("feed.timeout", uint32(600))
	v.SetDefault("feed.min_submission_value", "1")
	v.SetDefault("feed.max_submission_value", "1000000000000000000000000")
	v.SetDefault("feed.decimals", uint8(8))
	v.SetDefault("feed.description", "ETH / USD")
	v.SetDefault("feed.initial_supply", "1000000000000000000000000000")

	v.SetDefault("security.require_signatures", false)

	v.SetDefault("validator.enabled", false)
	v.SetDefault("validator.flagging_threshold", uint32(100000))

	v.SetDefault("storage.path", "")
	v.SetDefault("storage.max_events", 10000)
	v.SetDefault("storage.save_interval", time.Minute)

	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.batch_size", 100)
	v.SetDefault("relay.flush_interval", time.Minute)

	v.SetDefault("telegram.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.endpoint", "localhost:4318")
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	for _, field := range []struct {
		name, value string
	}{
		{"feed.payment_amount", c.Feed.PaymentAmount},
		{"feed.min_submission_value", c.Feed.MinSubmissionValue},
		{"feed.max_submission_value", c.Feed.MaxSubmissionValue},
		{"feed.initial_supply", c.Feed.InitialSupply},
	} {
		if _, ok := new(big.Int).SetString(field.value, 10); !ok {
			return fmt.Errorf("%s is not a valid integer: %q", field.name, field.value)
		}
	}
	if c.Relay.Enabled && c.Relay.URL == "" {
		return fmt.Errorf("relay enabled but no URL configured")
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram enabled but bot token or chat ID missing")
	}
	return nil
}

// BigInt parses a decimal string into a big integer. Callers pass
// values Validate has already accepted.
func BigInt(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	if v == nil {
		v = new(big.Int)
	}
	return v
}
