package models

import (
	"time"
)

// RetainedState is the cross-cycle memory kept for a single contract outcome.
type RetainedState struct {
	LastPrice        float64
	LastVolumeUSD    float64
	LastObservedAt   time.Time
	LastAlertedPrice *float64
	LastAlertedAt    *time.Time
}

// HasAlerted reports whether an alert was ever recorded for this entry.
func (r RetainedState) HasAlerted() bool {
	return r.LastAlertedPrice != nil
}

// Clone returns a deep copy so callers never share the optional pointers.
func (r RetainedState) Clone() RetainedState {
	out := r
	if r.LastAlertedPrice != nil {
		p := *r.LastAlertedPrice
		out.LastAlertedPrice = &p
	}
	if r.LastAlertedAt != nil {
		t := *r.LastAlertedAt
		out.LastAlertedAt = &t
	}
	return out
}

// ChangeCandidate is a detected price change that has not yet been filtered.
// PercentDelta is signed.
type ChangeCandidate struct {
	Contract      ContractOutcome
	MarketTitle   string
	MarketURL     string
	PreviousPrice float64
	CurrentPrice  float64
	PercentDelta  float64
	VolumeUSD     float64
	ObservedAt    time.Time
}

// Alert is an approved change ready for delivery.
type Alert struct {
	Contract      ContractOutcome
	MarketTitle   string
	OutcomeLabel  string
	PreviousPrice float64
	CurrentPrice  float64
	PercentDelta  float64
	VolumeUSD     float64
	MarketURL     string
	Timestamp     time.Time
}

// Direction returns "up", "down" or "unchanged".
func (a Alert) Direction() string {
	switch {
	case a.PercentDelta > 0:
		return "up"
	case a.PercentDelta < 0:
		return "down"
	default:
		return "unchanged"
	}
}
