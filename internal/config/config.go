// Package config provides configuration management for the market data service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	apperrors "marketpulse/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Database      DatabaseConfig     `mapstructure:"database"`
	Providers     ProvidersConfig    `mapstructure:"providers"`
	Stream        StreamConfig       `mapstructure:"stream"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Alerts        AlertsConfig       `mapstructure:"alerts"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// DatabaseConfig holds persistence configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ProvidersConfig holds upstream provider configuration.
type ProvidersConfig struct {
	CoinGecko    CoinGeckoConfig    `mapstructure:"coingecko"`
	AlphaVantage AlphaVantageConfig `mapstructure:"alphavantage"`
	Binance      BinanceConfig      `mapstructure:"binance"`
}

// CoinGeckoConfig configures the crypto REST provider.
type CoinGeckoConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKeys []string      `mapstructure:"api_keys"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AlphaVantageConfig configures the equity REST provider.
type AlphaVantageConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BinanceConfig configures the secondary price source.
type BinanceConfig struct {
	RESTURL           string        `mapstructure:"rest_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// StreamConfig configures the streaming ticker connection.
type StreamConfig struct {
	URL                  string        `mapstructure:"url"`
	Symbols              []string      `mapstructure:"symbols"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

// CacheConfig holds freshness windows.
type CacheConfig struct {
	CryptoTTL   time.Duration `mapstructure:"crypto_ttl"`
	EquityTTL   time.Duration `mapstructure:"equity_ttl"`
	ResolverTTL time.Duration `mapstructure:"resolver_ttl"`
}

// AlertsConfig holds alert retention configuration.
type AlertsConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Terminal bool           `mapstructure:"terminal"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
// Alert owners are addressed by their chat id.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIURL   string `mapstructure:"api_url"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// DefaultStreamSymbols is the tracked set subscribed on the ticker stream.
var DefaultStreamSymbols = []string{"BTC", "ETH", "ADA", "DOT", "SOL", "DOGE", "MATIC", "AVAX", "LINK", "UNI"}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/marketpulse"
	}
	return filepath.Join(home, ".config", "marketpulse")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
		// Config file not found, create template and run on defaults
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("database.path", filepath.Join(configDir, "marketpulse.db"))

	v.SetDefault("providers.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("providers.coingecko.api_keys", []string{})
	v.SetDefault("providers.coingecko.timeout", 15*time.Second)

	v.SetDefault("providers.alphavantage.base_url", "https://www.alphavantage.co/query")
	v.SetDefault("providers.alphavantage.timeout", 15*time.Second)

	v.SetDefault("providers.binance.rest_url", "https://api.binance.com")
	v.SetDefault("providers.binance.timeout", 10*time.Second)
	v.SetDefault("providers.binance.requests_per_second", 10.0)
	v.SetDefault("providers.binance.burst", 5)

	v.SetDefault("stream.url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("stream.symbols", DefaultStreamSymbols)
	v.SetDefault("stream.reconnect_interval", 5*time.Second)
	v.SetDefault("stream.max_reconnect_attempts", 5)

	v.SetDefault("cache.crypto_ttl", 60*time.Second)
	v.SetDefault("cache.equity_ttl", 300*time.Second)
	v.SetDefault("cache.resolver_ttl", 24*time.Hour)

	v.SetDefault("alerts.retention", 7*24*time.Hour)
	v.SetDefault("alerts.sweep_interval", time.Hour)

	v.SetDefault("notifications.terminal", true)
	v.SetDefault("notifications.telegram.api_url", "https://api.telegram.org")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "marketpulse.log"))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COINGECKO_API_KEYS"); v != "" {
		cfg.Providers.CoinGecko.APIKeys = splitKeys(v)
	}
	if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		cfg.Providers.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("MARKETPULSE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
		cfg.Notifications.Telegram.Enabled = true
	}
	if v := os.Getenv("MARKETPULSE_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
		cfg.Notifications.Webhook.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// splitKeys splits a comma-separated key list, dropping blanks.
func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Validate validates the configuration. Failures wrap ErrConfigInvalid.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must be set")
	}
	if c.Stream.URL == "" {
		return fmt.Errorf("stream.url must be set")
	}
	if c.Stream.MaxReconnectAttempts < 1 {
		return fmt.Errorf("stream.max_reconnect_attempts must be at least 1")
	}
	if c.Stream.ReconnectInterval <= 0 {
		return fmt.Errorf("stream.reconnect_interval must be positive")
	}
	if c.Cache.CryptoTTL <= 0 || c.Cache.EquityTTL <= 0 || c.Cache.ResolverTTL <= 0 {
		return fmt.Errorf("cache ttls must be positive")
	}
	if c.Alerts.Retention <= 0 || c.Alerts.SweepInterval <= 0 {
		return fmt.Errorf("alerts.retention and alerts.sweep_interval must be positive")
	}
	if c.Providers.Binance.RequestsPerSecond <= 0 {
		return fmt.Errorf("providers.binance.requests_per_second must be positive")
	}
	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		return fmt.Errorf("notifications.webhook.url is required when the webhook is enabled")
	}
	return nil
}

// SaveStreamSymbols persists the tracked symbol set to config.toml in
// configDir, creating the file from the template when missing.
func SaveStreamSymbols(configDir string, symbols []string) error {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	if err := createTemplateConfig(configDir); err != nil {
		return fmt.Errorf("creating config template: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(configDir, "config.toml"))
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config.toml: %w", err)
	}
	v.Set("stream.symbols", symbols)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("writing config.toml: %w", err)
	}
	return nil
}
