package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rewired-gh/polywatch/internal/config"
	"github.com/rewired-gh/polywatch/internal/logger"
	"github.com/rewired-gh/polywatch/internal/metrics"
	"github.com/rewired-gh/polywatch/internal/models"
	"github.com/rewired-gh/polywatch/internal/monitor"
	"github.com/rewired-gh/polywatch/internal/notify"
	"github.com/rewired-gh/polywatch/internal/polymarket"
	"github.com/rewired-gh/polywatch/internal/scheduler"
	"github.com/rewired-gh/polywatch/internal/storage"
	"github.com/rewired-gh/polywatch/internal/telegram"
)

const usage = `Usage: polywatch [command] [flags]

Commands:
  start          Poll markets and send alerts (default)
  test-telegram  Send a test message to the configured chat
  top-movers     Print the largest current price moves
  show-config    Print the effective configuration
  count-markets  Count markets passing the volume filter

Flags:
`

type options struct {
	configPath string
	threshold  float64
	volume     float64
	interval   time.Duration
	noTelegram bool
	limit      int
	wait       time.Duration
}

func main() {
	cmd, args := "start", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var opts options
	fs := flag.NewFlagSet("polywatch", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", "configs/config.yaml", "Path to configuration file")
	fs.Float64Var(&opts.threshold, "threshold", 0, "Override alert threshold in percent")
	fs.Float64Var(&opts.volume, "volume", -1, "Override minimum market volume in USD")
	fs.DurationVar(&opts.interval, "interval", 0, "Override poll interval")
	fs.BoolVar(&opts.noTelegram, "no-telegram", false, "Disable Telegram and print alerts to stdout")
	fs.IntVar(&opts.limit, "limit", 10, "Number of movers shown by top-movers")
	fs.DurationVar(&opts.wait, "wait", time.Minute, "Sampling gap used by top-movers when no state is stored")
	_ = fs.Parse(args)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyOverrides(cfg, opts, cmd)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Debug("Configuration loaded from %s", opts.configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	switch cmd {
	case "start":
		err = runStart(ctx, cfg)
	case "test-telegram":
		err = runTestTelegram(ctx, cfg)
	case "top-movers":
		err = runTopMovers(ctx, cfg, opts.limit, opts.wait)
	case "show-config":
		runShowConfig(cfg, opts.configPath)
	case "count-markets":
		err = runCountMarkets(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		os.Exit(2)
	}

	if err != nil {
		var storeErr *models.StateStoreError
		if errors.As(err, &storeErr) {
			logger.Error("State can no longer be persisted, stopping: %v", err)
		} else {
			logger.Error("%s failed: %v", cmd, err)
		}
		logger.Sync()
		os.Exit(1)
	}
}

func applyOverrides(cfg *config.Config, opts options, cmd string) {
	if opts.threshold > 0 {
		cfg.Monitor.ThresholdPercent = opts.threshold
	}
	if opts.volume >= 0 {
		cfg.Monitor.MinVolumeUSD = opts.volume
	}
	if opts.interval > 0 {
		cfg.Monitor.PollInterval = opts.interval
	}
	switch cmd {
	case "start":
		if opts.noTelegram {
			cfg.Telegram.Enabled = false
		}
	case "test-telegram":
		cfg.Telegram.Enabled = true
	default:
		// Other commands never notify.
		cfg.Telegram.Enabled = false
		cfg.Discord.Enabled = false
	}
}

func newPolymarketClient(cfg *config.Config) *polymarket.Client {
	return polymarket.NewClient(cfg.Polymarket.GammaAPIURL, polymarket.ClientConfig{
		PageSize:       cfg.Polymarket.PageSize,
		RequestDelay:   cfg.Polymarket.RequestDelay,
		Timeout:        cfg.Polymarket.Timeout,
		MaxRetries:     cfg.Polymarket.MaxRetries,
		RetryDelayBase: cfg.Polymarket.RetryDelayBase,
		MinVolumeUSD:   cfg.Monitor.MinVolumeUSD,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (*storage.Store, error) {
	backend, err := storage.Open(ctx, storage.Options{
		Backend:       cfg.Storage.Backend,
		DBPath:        cfg.Storage.DBPath,
		RedisAddr:     cfg.Storage.RedisAddr,
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		RedisKey:      cfg.Storage.RedisKey,
		PostgresDSN:   cfg.Storage.PostgresDSN,
	})
	if err != nil {
		if !cfg.Storage.FallbackToMemory {
			return nil, &models.StateStoreError{Op: "open", Err: err}
		}
		logger.Error("Failed to open %s backend, continuing in memory only: %v", cfg.Storage.Backend, err)
		backend = storage.NewMemory()
	}
	return storage.New(ctx, backend, cfg.Storage.FallbackToMemory)
}

func newTelegramClient(cfg *config.Config) (*telegram.Client, error) {
	client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase, cfg.Telegram.Timeout)
	if err != nil {
		return nil, err
	}
	logger.Info("Telegram client initialized as @%s", client.Username())
	return client, nil
}

// buildSink assembles the alert sinks. Alerts go to stdout when no remote
// sink is enabled.
func buildSink(cfg *config.Config, tg *telegram.Client) (notify.Sink, error) {
	var sinks notify.Multi
	if tg != nil {
		sinks = append(sinks, tg)
	}
	if cfg.Discord.Enabled {
		d, err := notify.NewDiscord(cfg.Discord.WebhookURL, cfg.Monitor.DispatchTimeout)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
		logger.Info("Discord webhook sink enabled")
	}
	if len(sinks) == 0 {
		logger.Info("No remote notification sink enabled, printing alerts to stdout")
		return notify.NewConsole(os.Stdout), nil
	}
	return sinks, nil
}

func runStart(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()
	if !store.Durable() {
		logger.Warn("State backend %q is not durable: alert deduplication will not survive a restart", store.Backend())
	}
	logger.Info("Loaded %d contract outcomes from %s backend", store.Len(), store.Backend())

	var tg *telegram.Client
	if cfg.Telegram.Enabled {
		if tg, err = newTelegramClient(cfg); err != nil {
			return err
		}
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	sink, err := buildSink(cfg, tg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr, reg); err != nil {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
	}

	var ticks scheduler.TickSource
	if cfg.Monitor.Cron != "" {
		if ticks, err = scheduler.NewCronTicker(cfg.Monitor.Cron); err != nil {
			return err
		}
	} else {
		ticks = scheduler.NewIntervalTicker(cfg.Monitor.PollInterval)
	}

	opts := scheduler.Options{
		Ticks:   ticks,
		Fetcher: newPolymarketClient(cfg),
		Store:   store,
		Policy: monitor.Policy{
			ThresholdPercent: cfg.Monitor.ThresholdPercent,
			MinVolumeUSD:     cfg.Monitor.MinVolumeUSD,
			PricePrecision:   cfg.Monitor.PricePrecision,
		},
		Dispatcher:   notify.NewDispatcher(sink, cfg.Monitor.DispatchWorkers, cfg.Monitor.DispatchTimeout),
		Metrics:      m,
		FetchTimeout: cfg.Monitor.FetchTimeout,
		Retention:    cfg.Storage.Retention,
	}
	if tg != nil {
		opts.Notifier = tg
		opts.AfterFirstCycle = func(ctx context.Context, stats models.Stats) {
			if err := tg.SendStartup(ctx, stats.TrackedContracts, cfg.Monitor.ThresholdPercent, cfg.Monitor.MinVolumeUSD); err != nil {
				logger.Warn("Failed to send startup message: %v", err)
			}
		}
	}
	sched := scheduler.New(opts)

	if tg != nil {
		tg.SetStatusFunc(sched.Stats)
		tg.ListenForCommands(ctx)
	}

	schedule := cfg.Monitor.PollInterval.String()
	if cfg.Monitor.Cron != "" {
		schedule = "cron " + cfg.Monitor.Cron
	}
	logger.Info("Starting monitoring service (schedule: %s, threshold: %.2f%%, min volume: $%.0f, backend: %s)",
		schedule, cfg.Monitor.ThresholdPercent, cfg.Monitor.MinVolumeUSD, store.Backend())

	runErr := sched.Run(ctx)

	stats := sched.Stats()
	logger.Info("Service stopped after %v: %d cycles, %d alerts sent",
		stats.Uptime(time.Now()).Round(time.Second), stats.CyclesRun, stats.AlertsSent)
	if tg != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tg.SendStatus(shutdownCtx, stats); err != nil {
			logger.Warn("Failed to send shutdown status: %v", err)
		}
	}
	return runErr
}

func runTestTelegram(ctx context.Context, cfg *config.Config) error {
	tg, err := newTelegramClient(cfg)
	if err != nil {
		return err
	}
	if err := tg.TestConnection(ctx); err != nil {
		return fmt.Errorf("failed to send test message: %w", err)
	}
	fmt.Println("Test message sent successfully")
	return nil
}

// runTopMovers compares a fresh snapshot against stored state without
// persisting anything. With no stored state it samples twice, wait apart.
func runTopMovers(ctx context.Context, cfg *config.Config, limit int, wait time.Duration) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client := newPolymarketClient(cfg)
	cycle := store.Begin()
	defer cycle.Discard()

	hadState := store.Len() > 0
	snapshot, err := client.Fetch(ctx)
	if err != nil {
		return err
	}
	candidates := monitor.Detect(snapshot, cycle)

	if !hadState {
		logger.Info("No stored state, sampling again in %v", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if snapshot, err = client.Fetch(ctx); err != nil {
			return err
		}
		candidates = monitor.Detect(snapshot, cycle)
	}

	movers := monitor.TopMovers(candidates, limit)
	if len(movers) == 0 {
		fmt.Println("No price movements found")
		return nil
	}

	fmt.Printf("\n%s\nTOP %d PRICE MOVERS\n%s\n\n", strings.Repeat("=", 60), len(movers), strings.Repeat("=", 60))
	for i, c := range movers {
		fmt.Printf("%d. %s\n", i+1, c.MarketTitle)
		fmt.Printf("   %s: %s → %s (%s)\n", c.Contract.OutcomeLabel,
			notify.FormatPrice(c.PreviousPrice), notify.FormatPrice(c.CurrentPrice), notify.FormatPercent(c.PercentDelta))
		fmt.Printf("   Volume: %s\n", notify.FormatUSD(c.VolumeUSD))
		if c.MarketURL != "" {
			fmt.Printf("   %s\n", c.MarketURL)
		}
		fmt.Println()
	}
	return nil
}

func runShowConfig(cfg *config.Config, path string) {
	summary := cfg.Summary()
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("\n%s\nCONFIGURATION\n%s\n\n", strings.Repeat("=", 40), strings.Repeat("=", 40))
	for _, k := range keys {
		fmt.Printf("%s: %v\n", k, summary[k])
	}
	fmt.Printf("\nConfig file: %s\n", path)
	fmt.Printf("Telegram configured: %s\n", yesNo(cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != ""))
	fmt.Printf("Discord configured: %s\n", yesNo(cfg.Discord.WebhookURL != ""))
}

func runCountMarkets(ctx context.Context, cfg *config.Config) error {
	logger.Info("Counting markets with volume >= $%.0f...", cfg.Monitor.MinVolumeUSD)
	stats, err := newPolymarketClient(cfg).CountMarkets(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nTotal markets: %d\n", stats.Markets)
	fmt.Printf("Tracked outcomes: %d\n", stats.Outcomes)
	if stats.Markets > 0 {
		fmt.Printf("Combined volume: %s\n", notify.FormatUSD(stats.TotalVolumeUSD))
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
