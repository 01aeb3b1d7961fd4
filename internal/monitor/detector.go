// Package monitor turns price snapshots into change candidates and filters
// them into alerts.
package monitor

import (
	"time"

	"github.com/rewired-gh/polywatch/internal/logger"
	"github.com/rewired-gh/polywatch/internal/models"
)

// StateReader looks up retained state by contract outcome.
type StateReader interface {
	Get(key models.ContractOutcome) (models.RetainedState, bool)
}

// ObservationRecorder is the part of the state store the detector writes to.
type ObservationRecorder interface {
	StateReader
	RecordObservation(key models.ContractOutcome, price, volumeUSD float64, at time.Time)
}

// Detect compares snapshot against retained state and returns one candidate
// per contract outcome whose price moved since its last observation.
//
// Every sample is recorded as the new baseline, so the next comparison is
// against the immediately previous price and never the last alerted one.
// First observations and zero previous prices only set the baseline.
// Samples that fail validation are skipped and leave state untouched.
func Detect(snapshot []models.PriceSample, store ObservationRecorder) []models.ChangeCandidate {
	var candidates []models.ChangeCandidate
	for _, s := range snapshot {
		if err := s.Validate(); err != nil {
			logger.Warn("Skipping sample %s: %v", s.Contract, err)
			continue
		}
		prev, seen := store.Get(s.Contract)
		store.RecordObservation(s.Contract, s.Price, s.VolumeUSD, s.ObservedAt)

		if !seen || prev.LastPrice == 0 || s.Price == prev.LastPrice {
			continue
		}
		candidates = append(candidates, models.ChangeCandidate{
			Contract:      s.Contract,
			MarketTitle:   s.MarketTitle,
			MarketURL:     s.MarketURL,
			PreviousPrice: prev.LastPrice,
			CurrentPrice:  s.Price,
			PercentDelta:  PercentDelta(prev.LastPrice, s.Price),
			VolumeUSD:     s.VolumeUSD,
			ObservedAt:    s.ObservedAt,
		})
	}
	return candidates
}

// PercentDelta returns the signed relative change from previous to current
// in percent. previous must be non-zero.
func PercentDelta(previous, current float64) float64 {
	return (current - previous) / previous * 100
}
