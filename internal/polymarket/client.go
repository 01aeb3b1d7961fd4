// Package polymarket fetches market snapshots from the Polymarket Gamma API.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/polywatch/internal/logger"
	"github.com/rewired-gh/polywatch/internal/models"
)

// MarketURLBase prefixes a market slug to build its public page URL.
const MarketURLBase = "https://polymarket.com/event/"

// ClientConfig tunes paging, retries and the minimum-volume filter.
type ClientConfig struct {
	PageSize       int
	RequestDelay   time.Duration // pause between pages
	Timeout        time.Duration // per HTTP request
	MaxRetries     int
	RetryDelayBase time.Duration
	MinVolumeUSD   float64
}

// Client provides access to the Polymarket Gamma API
type Client struct {
	gammaAPIURL string
	httpClient  *http.Client
	cfg         ClientConfig
	now         func() time.Time
}

// Market represents a market record from the Gamma /markets endpoint.
type Market struct {
	ID            string      `json:"id"`
	Question      string      `json:"question"`
	Slug          string      `json:"slug"`
	Active        bool        `json:"active"`
	Closed        bool        `json:"closed"`
	Outcomes      stringList  `json:"outcomes"`      // JSON string: "[\"Yes\", \"No\"]"
	OutcomePrices stringList  `json:"outcomePrices"` // JSON string: "[\"0.75\", \"0.25\"]"
	VolumeNum     numberValue `json:"volumeNum"`
	Volume        numberValue `json:"volume"`
	Volume24hr    numberValue `json:"volume24hr"`
}

// MarketStats summarises one full fetch.
type MarketStats struct {
	Markets        int
	Outcomes       int
	TotalVolumeUSD float64
}

// NewClient creates a new Polymarket client
func NewClient(gammaAPIURL string, cfg ClientConfig) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Client{
		gammaAPIURL: strings.TrimRight(gammaAPIURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg: cfg,
		now: time.Now,
	}
}

// Fetch retrieves every active market above the minimum volume and flattens
// it into one PriceSample per outcome. Any page failure fails the whole fetch
// with a FetchError; no partial snapshot is ever returned.
func (c *Client) Fetch(ctx context.Context) ([]models.PriceSample, error) {
	markets, err := c.fetchAll(ctx)
	if err != nil {
		return nil, &models.FetchError{Op: "fetch markets", Err: err}
	}

	observedAt := c.now()
	index := make(map[models.ContractOutcome]int)
	samples := make([]models.PriceSample, 0, len(markets)*2)
	for _, m := range markets {
		for _, s := range c.samples(m, observedAt) {
			// Duplicate keys within one snapshot: last wins.
			if i, ok := index[s.Contract]; ok {
				samples[i] = s
				continue
			}
			index[s.Contract] = len(samples)
			samples = append(samples, s)
		}
	}

	logger.Debug("Fetched %d markets, %d price samples", len(markets), len(samples))
	return samples, nil
}

// CountMarkets fetches all markets and reports how many pass the filters.
func (c *Client) CountMarkets(ctx context.Context) (MarketStats, error) {
	markets, err := c.fetchAll(ctx)
	if err != nil {
		return MarketStats{}, &models.FetchError{Op: "count markets", Err: err}
	}
	var stats MarketStats
	observedAt := c.now()
	for _, m := range markets {
		samples := c.samples(m, observedAt)
		if len(samples) == 0 {
			continue
		}
		stats.Markets++
		stats.Outcomes += len(samples)
		stats.TotalVolumeUSD += samples[0].VolumeUSD
	}
	return stats, nil
}

// samples converts one market record into price samples, applying the
// activity, volume and price filters. It returns nil for skipped markets.
func (c *Client) samples(m Market, observedAt time.Time) []models.PriceSample {
	if m.ID == "" || !m.Active || m.Closed {
		return nil
	}
	volume := m.volumeUSD()
	if volume < c.cfg.MinVolumeUSD {
		return nil
	}

	outcomes := []string(m.Outcomes)
	if len(outcomes) == 0 {
		outcomes = []string{"Yes", "No"}
	}
	prices := parsePrices(m.OutcomePrices, len(outcomes))

	allZero := true
	for _, p := range prices {
		if p != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil
	}

	marketURL := ""
	if m.Slug != "" {
		marketURL = MarketURLBase + m.Slug
	}

	out := make([]models.PriceSample, 0, len(outcomes))
	for i, label := range outcomes {
		s := models.PriceSample{
			Contract:    models.ContractOutcome{MarketID: m.ID, OutcomeLabel: label},
			MarketTitle: m.Question,
			MarketURL:   marketURL,
			Price:       prices[i],
			VolumeUSD:   volume,
			ObservedAt:  observedAt,
		}
		if err := s.Validate(); err != nil {
			logger.Debug("Skipping outcome %s: %v", s.Contract, err)
			continue
		}
		out = append(out, s)
	}
	return out
}

// volumeUSD prefers volumeNum, then volume, then volume24hr.
func (m Market) volumeUSD() float64 {
	for _, v := range []numberValue{m.VolumeNum, m.Volume, m.Volume24hr} {
		if v.set {
			return v.value
		}
	}
	return 0
}

// parsePrices returns n prices; missing or unparsable entries become 0.
func parsePrices(raw []string, n int) []float64 {
	prices := make([]float64, n)
	for i := 0; i < n && i < len(raw); i++ {
		p, err := parseFinite(raw[i])
		if err != nil {
			continue
		}
		prices[i] = p
	}
	return prices
}

// parseFinite parses a float, rejecting NaN and infinities.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return v, nil
}

func (c *Client) fetchAll(ctx context.Context) ([]Market, error) {
	var all []Market
	for offset := 0; ; offset += c.cfg.PageSize {
		page, err := c.fetchPage(ctx, offset)
		if err != nil {
			return nil, fmt.Errorf("page at offset %d: %w", offset, err)
		}
		all = append(all, page...)
		if len(page) < c.cfg.PageSize {
			return all, nil
		}
		if err := sleep(ctx, c.cfg.RequestDelay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, offset int) ([]Market, error) {
	u, err := url.Parse(c.gammaAPIURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Response is array directly, not wrapped
	var markets []Market
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("failed to decode markets: %w", err)
	}
	return markets, nil
}

// doRequest performs HTTP request with retry logic. Transport errors, 5xx and
// 429 are retried with linear backoff; other non-200 statuses fail at once.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.cfg.MaxRetries; i++ {
		if i > 0 {
			if err := sleep(ctx, c.cfg.RetryDelayBase*time.Duration(i)); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			logger.Warn("Gamma request failed (attempt %d/%d): %v", i+1, c.cfg.MaxRetries, err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			logger.Warn("Gamma request failed (attempt %d/%d): %v", i+1, c.cfg.MaxRetries, lastErr)
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// stringList decodes either a JSON array of strings or a JSON string holding
// one, which is how Gamma encodes outcomes and outcomePrices.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		if strings.TrimSpace(encoded) == "" {
			*l = nil
			return nil
		}
		data = []byte(encoded)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		// Malformed lists fall back to defaults instead of failing the page.
		*l = nil
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			// Numeric prices are kept in their textual form.
			s = string(item)
		}
		out = append(out, s)
	}
	*l = out
	return nil
}

// numberValue decodes a number or a numeric string and remembers whether a
// usable value was present.
type numberValue struct {
	value float64
	set   bool
}

func (n *numberValue) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := parseFinite(s)
	if err != nil {
		return nil
	}
	n.value, n.set = v, true
	return nil
}
