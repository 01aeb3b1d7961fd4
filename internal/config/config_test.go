package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	// Create temp config file
	content := `
polymarket:
  page_size: 50
  request_delay: 250ms

monitor:
  poll_interval: 2m
  threshold_percent: 5.0
  min_volume_usd: 50000
  dispatch_workers: 2

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

storage:
  backend: sqlite
  db_path: "./data/test.db"
  retention: 168h

logging:
  level: "debug"
  format: "text"
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Remove(tmpfile.Name()) }()

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	// Test Load
	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Verify values
	if cfg.Monitor.PollInterval != 2*time.Minute {
		t.Errorf("Unexpected poll interval: %v", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.ThresholdPercent != 5.0 {
		t.Errorf("Unexpected threshold: %f", cfg.Monitor.ThresholdPercent)
	}
	if cfg.Monitor.MinVolumeUSD != 50000 {
		t.Errorf("Unexpected min volume: %f", cfg.Monitor.MinVolumeUSD)
	}
	if cfg.Polymarket.PageSize != 50 {
		t.Errorf("Unexpected page size: %d", cfg.Polymarket.PageSize)
	}
	if cfg.Polymarket.RequestDelay != 250*time.Millisecond {
		t.Errorf("Unexpected request delay: %v", cfg.Polymarket.RequestDelay)
	}
	if cfg.Storage.Retention != 168*time.Hour {
		t.Errorf("Unexpected retention: %v", cfg.Storage.Retention)
	}

	// Defaults survive a partial file
	if cfg.Polymarket.GammaAPIURL != "https://gamma-api.polymarket.com" {
		t.Errorf("Unexpected gamma url default: %s", cfg.Polymarket.GammaAPIURL)
	}
	if cfg.Monitor.FetchTimeout != 2*time.Minute {
		t.Errorf("Unexpected fetch timeout default: %v", cfg.Monitor.FetchTimeout)
	}
	if cfg.Monitor.PricePrecision != 4 {
		t.Errorf("Unexpected price precision default: %d", cfg.Monitor.PricePrecision)
	}
	if cfg.Telegram.Timeout != 30*time.Second {
		t.Errorf("Unexpected telegram timeout default: %v", cfg.Telegram.Timeout)
	}

	// Test Validate
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Monitor.PollInterval != 5*time.Minute {
		t.Errorf("Unexpected poll interval default: %v", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.ThresholdPercent != 3.0 {
		t.Errorf("Unexpected threshold default: %f", cfg.Monitor.ThresholdPercent)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Unexpected backend default: %s", cfg.Storage.Backend)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("POLYWATCH_MONITOR_THRESHOLD_PERCENT", "7.5")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.BotToken != "env-token" {
		t.Errorf("Unexpected bot token: %q", cfg.Telegram.BotToken)
	}
	if cfg.Monitor.ThresholdPercent != 7.5 {
		t.Errorf("Unexpected threshold: %f", cfg.Monitor.ThresholdPercent)
	}
}

func validConfig() *Config {
	return &Config{
		Polymarket: PolymarketConfig{
			GammaAPIURL: "https://example.com",
			PageSize:    100,
			Timeout:     30 * time.Second,
			MaxRetries:  3,
		},
		Monitor: MonitorConfig{
			PollInterval:     5 * time.Minute,
			ThresholdPercent: 3.0,
			MinVolumeUSD:     0,
			FetchTimeout:     time.Minute,
			DispatchTimeout:  10 * time.Second,
			DispatchWorkers:  4,
			PricePrecision:   4,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "missing telegram token when enabled",
			mutate: func(c *Config) {
				c.Telegram = TelegramConfig{Enabled: true, ChatID: "1"}
			},
			wantErr: true,
		},
		{
			name: "telegram without request timeout",
			mutate: func(c *Config) {
				c.Telegram = TelegramConfig{Enabled: true, BotToken: "t", ChatID: "1"}
			},
			wantErr: true,
		},
		{
			name: "telegram with request timeout",
			mutate: func(c *Config) {
				c.Telegram = TelegramConfig{Enabled: true, BotToken: "t", ChatID: "1", Timeout: 30 * time.Second}
			},
			wantErr: false,
		},
		{
			name: "missing discord webhook when enabled",
			mutate: func(c *Config) {
				c.Discord = DiscordConfig{Enabled: true}
			},
			wantErr: true,
		},
		{
			name:    "zero threshold",
			mutate:  func(c *Config) { c.Monitor.ThresholdPercent = 0 },
			wantErr: true,
		},
		{
			name:    "negative min volume",
			mutate:  func(c *Config) { c.Monitor.MinVolumeUSD = -1 },
			wantErr: true,
		},
		{
			name:    "zero page size",
			mutate:  func(c *Config) { c.Polymarket.PageSize = 0 },
			wantErr: true,
		},
		{
			name:    "poll interval too short",
			mutate:  func(c *Config) { c.Monitor.PollInterval = time.Second },
			wantErr: true,
		},
		{
			name:    "no dispatch workers",
			mutate:  func(c *Config) { c.Monitor.DispatchWorkers = 0 },
			wantErr: true,
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.Backend = "etcd" },
			wantErr: true,
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Storage.Backend = "sqlite" },
			wantErr: true,
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Storage.Backend = "postgres" },
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
