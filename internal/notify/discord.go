package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// discordMessageLimit is the maximum content length of a webhook message,
// counted in characters.
const discordMessageLimit = 2000

// defaultDiscordTimeout bounds each webhook request when none is given.
const defaultDiscordTimeout = 30 * time.Second

type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts messages to a Discord channel webhook.
type Discord struct {
	session webhookExecutor
	id      string
	token   string
}

// NewDiscord creates a sink for a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}. timeout bounds each
// webhook request; zero means 30 seconds.
func NewDiscord(webhookURL string, timeout time.Duration) (*Discord, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultDiscordTimeout
	}
	session.Client = &http.Client{Timeout: timeout}
	return &Discord{session: session, id: id, token: token}, nil
}

// Send posts text, cut to the webhook limit. It returns when ctx is done
// even if the request is still in flight.
func (d *Discord) Send(ctx context.Context, text string) error {
	params := &discordgo.WebhookParams{Content: truncateRunes(text, discordMessageLimit)}
	errc := make(chan error, 1)
	go func() {
		_, err := d.session.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx))
		errc <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("discord webhook: %w", err)
		}
		return nil
	}
}

func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid discord webhook URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("invalid discord webhook URL: expected .../webhooks/{id}/{token}")
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
