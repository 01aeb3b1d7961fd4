package notify

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/polywatch/internal/models"
)

// FormatAlert renders an alert as a plain-text message.
func FormatAlert(a models.Alert) string {
	var b strings.Builder
	b.WriteString("🚨 PRICE ALERT\n\n")
	fmt.Fprintf(&b, "📊 %s\n", a.MarketTitle)
	fmt.Fprintf(&b, "%s Outcome: %s\n", directionEmoji(a.Direction()), a.OutcomeLabel)
	fmt.Fprintf(&b, "💰 Price: %s → %s (%s)\n", FormatPrice(a.PreviousPrice), FormatPrice(a.CurrentPrice), FormatPercent(a.PercentDelta))
	fmt.Fprintf(&b, "📊 Volume: %s", FormatUSD(a.VolumeUSD))
	if a.MarketURL != "" {
		fmt.Fprintf(&b, "\n\n🔗 %s", a.MarketURL)
	}
	return b.String()
}

// FormatPrice prints a price with at most four decimals.
func FormatPrice(p float64) string {
	return decimal.NewFromFloat(p).Round(4).String()
}

// FormatPercent prints a signed percent with two decimals, e.g. "+15.56%".
func FormatPercent(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	if d.IsPositive() {
		sign = "+"
	}
	return sign + d.StringFixed(2) + "%"
}

// FormatUSD prints whole dollars with thousands separators, e.g. "$1,234,567".
func FormatUSD(v float64) string {
	return "$" + humanize.Comma(int64(math.Round(v)))
}

func directionEmoji(direction string) string {
	switch direction {
	case "up":
		return "📈"
	case "down":
		return "📉"
	default:
		return "➖"
	}
}
