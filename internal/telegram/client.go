// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/polywatch/internal/logger"
	"github.com/rewired-gh/polywatch/internal/models"
)

// maxMessageLength is the Telegram limit for a single text message.
const maxMessageLength = 4096

// defaultTimeout bounds every Bot API request, including update long polls.
const defaultTimeout = 30 * time.Second

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	timeout        time.Duration

	mu     sync.RWMutex
	status func() models.Stats
}

// NewClient creates a new Telegram client. timeout bounds each Bot API
// request; zero means 30 seconds.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase, timeout time.Duration) (*Client, error) {
	return newClient(botToken, chatID, tgbotapi.APIEndpoint, maxRetries, retryDelayBase, timeout)
}

func newClient(botToken, chatID, apiEndpoint string, maxRetries int, retryDelayBase, timeout time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, apiEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		timeout:        timeout,
	}, nil
}

// Username returns the bot's username as reported by getMe.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// SetStatusFunc installs the source of the /status command reply.
func (c *Client) SetStatusFunc(fn func() models.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = fn
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	// The long poll must finish inside the HTTP client timeout.
	u.Timeout = int(c.timeout.Seconds()) / 2
	if u.Timeout < 1 {
		u.Timeout = 1
	}
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "status":
		// Status is only shared with the configured chat.
		if msg.Chat == nil || msg.Chat.ID != c.chatID {
			return
		}
		c.mu.RLock()
		fn := c.status
		c.mu.RUnlock()
		if fn == nil {
			text = "Status unavailable"
		} else {
			text = FormatStatus(fn(), time.Now())
		}
	default:
		return
	}
	if _, err := c.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, text)); err != nil {
		logger.Warn("Failed to reply to /%s: %v", msg.Command(), err)
	}
}

// Send delivers a plain-text message to the configured chat with
// linear-backoff retry.
func (c *Client) Send(ctx context.Context, text string) error {
	return c.send(ctx, tgbotapi.NewMessage(c.chatID, truncate(text, maxMessageLength)))
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	return c.send(ctx, msg)
}

func (c *Client) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.sendOnce(ctx, msg)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// sendOnce returns when the request completes or ctx is done, whichever is
// first. An abandoned request still ends at the HTTP client timeout.
func (c *Client) sendOnce(ctx context.Context, msg tgbotapi.MessageConfig) error {
	errc := make(chan error, 1)
	go func() {
		_, err := c.bot.Send(msg)
		errc <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(ctx context.Context, cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(ctx, text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(ctx context.Context, failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(ctx, text)
}

// SendStartup announces that monitoring has begun.
func (c *Client) SendStartup(ctx context.Context, marketCount int, thresholdPercent, minVolumeUSD float64) error {
	return c.Send(ctx, FormatStartup(marketCount, thresholdPercent, minVolumeUSD))
}

// SendStatus sends a status summary, used on shutdown.
func (c *Client) SendStatus(ctx context.Context, stats models.Stats) error {
	return c.Send(ctx, FormatStatus(stats, time.Now()))
}

// TestConnection sends a test message to the configured chat.
func (c *Client) TestConnection(ctx context.Context) error {
	return c.Send(ctx, fmt.Sprintf("✅ Polywatch connected as @%s", c.Username()))
}

// FormatStartup renders the startup announcement.
func FormatStartup(marketCount int, thresholdPercent, minVolumeUSD float64) string {
	return fmt.Sprintf("🚀 Polymarket Price Monitor Started\n\n"+
		"📊 Monitoring: %s contracts\n"+
		"📈 Alert threshold: %s%%\n"+
		"💰 Min volume: $%s\n\n"+
		"You'll receive alerts when any market moves significantly.",
		humanize.Comma(int64(marketCount)),
		strconv.FormatFloat(thresholdPercent, 'f', -1, 64),
		humanize.Comma(int64(minVolumeUSD)))
}

// FormatStatus renders a status summary.
func FormatStatus(stats models.Stats, now time.Time) string {
	var b strings.Builder
	b.WriteString("📊 Polymarket Monitor Status\n\n")
	fmt.Fprintf(&b, "🕐 Uptime: %.1f hours\n", stats.Uptime(now).Hours())
	fmt.Fprintf(&b, "📈 Contracts tracked: %s\n", humanize.Comma(int64(stats.TrackedContracts)))
	fmt.Fprintf(&b, "🔁 Cycles: %s (%s failed, %s skipped ticks)\n",
		humanize.Comma(int64(stats.CyclesRun)), humanize.Comma(int64(stats.FailedCycles)), humanize.Comma(int64(stats.SkippedTicks)))
	fmt.Fprintf(&b, "🔔 Alerts sent: %s\n", humanize.Comma(int64(stats.AlertsSent)))
	if !stats.LastCycleAt.IsZero() {
		fmt.Fprintf(&b, "⏱ Last cycle: %s\n", humanize.RelTime(stats.LastCycleAt, now, "ago", "from now"))
	}
	if stats.LastCycleErr != "" {
		fmt.Fprintf(&b, "⚠️ Last error: %s\n", stats.LastCycleErr)
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// truncate cuts text to at most n runes.
func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n-1]) + "…"
}
