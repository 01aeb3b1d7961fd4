package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/polywatch/internal/models"
)

// Backend persists RetainedState entries. Save must be atomic: either every
// entry in the batch is written or none is.
type Backend interface {
	Name() string
	LoadAll(ctx context.Context) (map[models.ContractOutcome]models.RetainedState, error)
	Save(ctx context.Context, entries map[models.ContractOutcome]models.RetainedState) error
	Delete(ctx context.Context, keys []models.ContractOutcome) error
	Close() error
}

const memoryName = "memory"

// Memory is a Backend that persists nothing. State lives only in the Store,
// so alert dedup is lost on restart.
type Memory struct{}

func NewMemory() *Memory { return &Memory{} }

func (*Memory) Name() string { return memoryName }

func (*Memory) LoadAll(context.Context) (map[models.ContractOutcome]models.RetainedState, error) {
	return map[models.ContractOutcome]models.RetainedState{}, nil
}

func (*Memory) Save(context.Context, map[models.ContractOutcome]models.RetainedState) error {
	return nil
}

func (*Memory) Delete(context.Context, []models.ContractOutcome) error { return nil }

func (*Memory) Close() error { return nil }

// record is the serialized form shared by the key-value backends.
type record struct {
	MarketID       string   `json:"market_id"`
	Outcome        string   `json:"outcome"`
	LastPrice      float64  `json:"last_price"`
	LastVolumeUSD  float64  `json:"last_volume_usd"`
	LastObservedAt int64    `json:"last_observed_at"`
	AlertedPrice   *float64 `json:"alerted_price,omitempty"`
	AlertedAt      *int64   `json:"alerted_at,omitempty"`
}

func toRecord(key models.ContractOutcome, st models.RetainedState) record {
	r := record{
		MarketID:       key.MarketID,
		Outcome:        key.OutcomeLabel,
		LastPrice:      st.LastPrice,
		LastVolumeUSD:  st.LastVolumeUSD,
		LastObservedAt: st.LastObservedAt.UnixNano(),
	}
	if st.LastAlertedPrice != nil {
		p := *st.LastAlertedPrice
		r.AlertedPrice = &p
	}
	if st.LastAlertedAt != nil {
		n := st.LastAlertedAt.UnixNano()
		r.AlertedAt = &n
	}
	return r
}

func (r record) state() (models.ContractOutcome, models.RetainedState) {
	st := models.RetainedState{
		LastPrice:      r.LastPrice,
		LastVolumeUSD:  r.LastVolumeUSD,
		LastObservedAt: time.Unix(0, r.LastObservedAt),
	}
	if r.AlertedPrice != nil {
		p := *r.AlertedPrice
		st.LastAlertedPrice = &p
	}
	if r.AlertedAt != nil {
		t := time.Unix(0, *r.AlertedAt)
		st.LastAlertedAt = &t
	}
	return models.ContractOutcome{MarketID: r.MarketID, OutcomeLabel: r.Outcome}, st
}

// Options selects and configures a Backend.
type Options struct {
	Backend       string // memory, sqlite, redis, postgres
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
	PostgresDSN   string
}

// Open constructs the Backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Backend {
	case "", memoryName:
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(opts.DBPath)
	case "redis":
		return NewRedis(ctx, RedisConfig{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Key:      opts.RedisKey,
		})
	case "postgres":
		return NewPostgres(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
