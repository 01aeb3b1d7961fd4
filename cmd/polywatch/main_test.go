package main

import (
	"testing"
	"time"

	"github.com/rewired-gh/polywatch/internal/config"
)

func TestApplyOverrides(t *testing.T) {
	base := func() *config.Config {
		cfg := &config.Config{}
		cfg.Monitor.ThresholdPercent = 3
		cfg.Monitor.MinVolumeUSD = 1000
		cfg.Monitor.PollInterval = 5 * time.Minute
		cfg.Telegram.Enabled = true
		cfg.Discord.Enabled = true
		return cfg
	}

	tests := []struct {
		name         string
		cmd          string
		opts         options
		wantTelegram bool
		wantDiscord  bool
		wantVolume   float64
	}{
		{"start keeps sinks", "start", options{volume: -1}, true, true, 1000},
		{"start without telegram", "start", options{volume: -1, noTelegram: true}, false, true, 1000},
		{"zero volume override", "start", options{volume: 0}, true, true, 0},
		{"test-telegram forces telegram", "test-telegram", options{volume: -1, noTelegram: true}, true, true, 1000},
		{"read-only commands notify nothing", "top-movers", options{volume: -1}, false, false, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			applyOverrides(cfg, tt.opts, tt.cmd)
			if cfg.Telegram.Enabled != tt.wantTelegram {
				t.Errorf("telegram enabled = %v, want %v", cfg.Telegram.Enabled, tt.wantTelegram)
			}
			if cfg.Discord.Enabled != tt.wantDiscord {
				t.Errorf("discord enabled = %v, want %v", cfg.Discord.Enabled, tt.wantDiscord)
			}
			if cfg.Monitor.MinVolumeUSD != tt.wantVolume {
				t.Errorf("min volume = %v, want %v", cfg.Monitor.MinVolumeUSD, tt.wantVolume)
			}
		})
	}
}

func TestApplyOverrides_ThresholdAndInterval(t *testing.T) {
	cfg := &config.Config{}
	cfg.Monitor.ThresholdPercent = 3
	cfg.Monitor.PollInterval = 5 * time.Minute

	applyOverrides(cfg, options{threshold: 7.5, interval: time.Minute, volume: -1}, "start")
	if cfg.Monitor.ThresholdPercent != 7.5 {
		t.Errorf("threshold = %v", cfg.Monitor.ThresholdPercent)
	}
	if cfg.Monitor.PollInterval != time.Minute {
		t.Errorf("interval = %v", cfg.Monitor.PollInterval)
	}
}
