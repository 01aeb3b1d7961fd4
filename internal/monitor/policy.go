package monitor

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/polywatch/internal/models"
)

// DefaultPricePrecision is the number of decimal places two prices must agree
// on to count as the same price level.
const DefaultPricePrecision int32 = 4

// Policy decides which change candidates become alerts.
type Policy struct {
	ThresholdPercent float64
	MinVolumeUSD     float64
	PricePrecision   int32
}

// Filter applies, in order, the minimum volume, the percent threshold and
// same-level deduplication against the last alerted price. It has no side
// effects; recording alerts is left to the caller after dispatch.
func (p Policy) Filter(candidates []models.ChangeCandidate, store StateReader) []models.Alert {
	var alerts []models.Alert
	for _, c := range candidates {
		if c.VolumeUSD < p.MinVolumeUSD {
			continue
		}
		if math.Abs(c.PercentDelta) < p.ThresholdPercent {
			continue
		}
		if st, ok := store.Get(c.Contract); ok && st.LastAlertedPrice != nil &&
			SamePriceLevel(*st.LastAlertedPrice, c.CurrentPrice, p.precision()) {
			continue
		}
		alerts = append(alerts, models.Alert{
			Contract:      c.Contract,
			MarketTitle:   c.MarketTitle,
			OutcomeLabel:  c.Contract.OutcomeLabel,
			PreviousPrice: c.PreviousPrice,
			CurrentPrice:  c.CurrentPrice,
			PercentDelta:  c.PercentDelta,
			VolumeUSD:     c.VolumeUSD,
			MarketURL:     c.MarketURL,
			Timestamp:     c.ObservedAt,
		})
	}
	return alerts
}

func (p Policy) precision() int32 {
	if p.PricePrecision <= 0 {
		return DefaultPricePrecision
	}
	return p.PricePrecision
}

// SamePriceLevel reports whether a and b are equal once rounded to places
// decimal places.
func SamePriceLevel(a, b float64, places int32) bool {
	return decimal.NewFromFloat(a).Round(places).Equal(decimal.NewFromFloat(b).Round(places))
}

// RoundPercent rounds a percent delta to two decimal places for display.
func RoundPercent(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
