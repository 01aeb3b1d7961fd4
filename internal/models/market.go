// Package models defines the core domain entities: contract outcomes, price samples,
// retained state, change candidates and alerts.
package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// ContractOutcome identifies one outcome of one market.
// It is comparable and used as a map key throughout the engine.
type ContractOutcome struct {
	MarketID     string `json:"market_id"`
	OutcomeLabel string `json:"outcome_label"`
}

// String returns the composite key "MarketID:OutcomeLabel".
func (c ContractOutcome) String() string {
	return c.MarketID + ":" + c.OutcomeLabel
}

// ParseContractOutcome is the inverse of String. The market ID never contains
// a colon, so the first colon separates the two parts.
func ParseContractOutcome(key string) (ContractOutcome, error) {
	i := strings.IndexByte(key, ':')
	if i <= 0 || i == len(key)-1 {
		return ContractOutcome{}, errors.New("contract outcome key must be \"market:outcome\"")
	}
	return ContractOutcome{MarketID: key[:i], OutcomeLabel: key[i+1:]}, nil
}

// PriceSample is one observation of one contract outcome in a poll cycle.
// Samples are produced fresh each cycle and never mutated.
type PriceSample struct {
	Contract    ContractOutcome `json:"contract"`
	MarketTitle string          `json:"market_title"`
	MarketURL   string          `json:"market_url"`
	Price       float64         `json:"price"`
	VolumeUSD   float64         `json:"volume_usd"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// Validate checks sample field constraints.
func (s *PriceSample) Validate() error {
	if s.Contract.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	if s.Contract.OutcomeLabel == "" {
		return errors.New("outcome label must not be empty")
	}
	if math.IsNaN(s.Price) || s.Price < 0.0 || s.Price > 1.0 {
		return errors.New("price must be between 0.0 and 1.0")
	}
	if math.IsNaN(s.VolumeUSD) || math.IsInf(s.VolumeUSD, 0) {
		return errors.New("volume must be finite")
	}
	if s.VolumeUSD < 0 {
		return errors.New("volume must not be negative")
	}
	if s.ObservedAt.IsZero() {
		return errors.New("observed at must be set")
	}
	return nil
}
