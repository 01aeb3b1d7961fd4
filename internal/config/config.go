package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PolymarketConfig holds Gamma API configuration
type PolymarketConfig struct {
	GammaAPIURL    string        `mapstructure:"gamma_api_url"`
	PageSize       int           `mapstructure:"page_size"`
	RequestDelay   time.Duration `mapstructure:"request_delay"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MonitorConfig holds polling, detection and alerting configuration
type MonitorConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	Cron             string        `mapstructure:"cron"` // optional, overrides poll_interval ticks
	ThresholdPercent float64       `mapstructure:"threshold_percent"`
	MinVolumeUSD     float64       `mapstructure:"min_volume_usd"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	DispatchTimeout  time.Duration `mapstructure:"dispatch_timeout"`
	DispatchWorkers  int           `mapstructure:"dispatch_workers"`
	PricePrecision   int32         `mapstructure:"price_precision"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	Timeout        time.Duration `mapstructure:"timeout"` // per Bot API request
}

// DiscordConfig holds Discord webhook configuration
type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Enabled    bool   `mapstructure:"enabled"`
}

// StorageConfig selects and configures the durable state backend
type StorageConfig struct {
	Backend          string        `mapstructure:"backend"` // memory, sqlite, redis, postgres
	DBPath           string        `mapstructure:"db_path"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisPassword    string        `mapstructure:"redis_password"`
	RedisDB          int           `mapstructure:"redis_db"`
	RedisKey         string        `mapstructure:"redis_key"`
	PostgresDSN      string        `mapstructure:"postgres_dsn"`
	Retention        time.Duration `mapstructure:"retention"` // 0 = keep forever
	FallbackToMemory bool          `mapstructure:"fallback_to_memory"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"` // empty = disabled
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first if present.
// A missing config file is not an error; defaults and environment apply.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("POLYWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Plain names used by existing deployments
	_ = v.BindEnv("telegram.bot_token", "POLYWATCH_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.chat_id", "POLYWATCH_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")
	_ = v.BindEnv("discord.webhook_url", "POLYWATCH_DISCORD_WEBHOOK_URL", "DISCORD_WEBHOOK_URL")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Polymarket defaults
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.page_size", 100)
	v.SetDefault("polymarket.request_delay", "100ms")
	v.SetDefault("polymarket.timeout", "30s")
	v.SetDefault("polymarket.max_retries", 3)
	v.SetDefault("polymarket.retry_delay_base", "1s")

	// Monitor defaults
	v.SetDefault("monitor.poll_interval", "5m")
	v.SetDefault("monitor.cron", "")
	v.SetDefault("monitor.threshold_percent", 3.0)
	v.SetDefault("monitor.min_volume_usd", 0.0)
	v.SetDefault("monitor.fetch_timeout", "2m")
	v.SetDefault("monitor.dispatch_timeout", "30s")
	v.SetDefault("monitor.dispatch_workers", 4)
	v.SetDefault("monitor.price_precision", 4)

	// Telegram defaults
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.timeout", "30s")

	// Discord defaults
	v.SetDefault("discord.enabled", false)

	// Storage defaults
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.db_path", "./data/polywatch.db")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_key", "polywatch:state")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.retention", "0s")
	v.SetDefault("storage.fallback_to_memory", false)

	// Metrics defaults
	v.SetDefault("metrics.listen_addr", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Polymarket config
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.Polymarket.PageSize < 1 || c.Polymarket.PageSize > 1000 {
		return fmt.Errorf("polymarket.page_size must be between 1 and 1000")
	}
	if c.Polymarket.RequestDelay < 0 {
		return fmt.Errorf("polymarket.request_delay must not be negative")
	}
	if c.Polymarket.Timeout <= 0 {
		return fmt.Errorf("polymarket.timeout must be positive")
	}
	if c.Polymarket.MaxRetries < 1 {
		return fmt.Errorf("polymarket.max_retries must be at least 1")
	}

	// Validate Monitor config
	if c.Monitor.PollInterval < 10*time.Second {
		return fmt.Errorf("monitor.poll_interval must be at least 10 seconds")
	}
	if c.Monitor.ThresholdPercent <= 0 {
		return fmt.Errorf("monitor.threshold_percent must be positive")
	}
	if c.Monitor.MinVolumeUSD < 0 {
		return fmt.Errorf("monitor.min_volume_usd must not be negative")
	}
	if c.Monitor.FetchTimeout <= 0 {
		return fmt.Errorf("monitor.fetch_timeout must be positive")
	}
	if c.Monitor.DispatchTimeout <= 0 {
		return fmt.Errorf("monitor.dispatch_timeout must be positive")
	}
	if c.Monitor.DispatchWorkers < 1 {
		return fmt.Errorf("monitor.dispatch_workers must be at least 1")
	}
	if c.Monitor.PricePrecision < 1 || c.Monitor.PricePrecision > 8 {
		return fmt.Errorf("monitor.price_precision must be between 1 and 8")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.Timeout <= 0 {
			return fmt.Errorf("telegram.timeout must be positive")
		}
	}

	// Validate Discord config
	if c.Discord.Enabled && c.Discord.WebhookURL == "" {
		return fmt.Errorf("discord.webhook_url is required when discord is enabled")
	}

	// Validate Storage config
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required for the sqlite backend")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis backend")
		}
		if c.Storage.RedisKey == "" {
			return fmt.Errorf("storage.redis_key is required for the redis backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of: memory, sqlite, redis, postgres")
	}
	if c.Storage.Retention < 0 {
		return fmt.Errorf("storage.retention must not be negative")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Summary returns the non-secret settings for display.
func (c *Config) Summary() map[string]interface{} {
	return map[string]interface{}{
		"poll_interval":     c.Monitor.PollInterval.String(),
		"cron":              c.Monitor.Cron,
		"threshold_percent": c.Monitor.ThresholdPercent,
		"min_volume_usd":    c.Monitor.MinVolumeUSD,
		"page_size":         c.Polymarket.PageSize,
		"telegram_enabled":  c.Telegram.Enabled,
		"discord_enabled":   c.Discord.Enabled,
		"storage_backend":   c.Storage.Backend,
		"metrics_addr":      c.Metrics.ListenAddr,
	}
}
