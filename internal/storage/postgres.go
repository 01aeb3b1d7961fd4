package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rewired-gh/polywatch/internal/models"
)

// Postgres persists contract state in a PostgreSQL table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects with a pool, pings, and creates the table if needed.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS contract_state (
			market_id        TEXT NOT NULL,
			outcome          TEXT NOT NULL,
			last_price       DOUBLE PRECISION NOT NULL,
			last_volume      DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_observed_at TIMESTAMPTZ NOT NULL,
			alerted_price    DOUBLE PRECISION,
			alerted_at       TIMESTAMPTZ,
			PRIMARY KEY (market_id, outcome)
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) LoadAll(ctx context.Context) (map[models.ContractOutcome]models.RetainedState, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT market_id, outcome, last_price, last_volume, last_observed_at, alerted_price, alerted_at
		FROM contract_state`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query state: %w", err)
	}
	defer rows.Close()

	states := make(map[models.ContractOutcome]models.RetainedState)
	for rows.Next() {
		var key models.ContractOutcome
		var st models.RetainedState
		var alertedPrice *float64
		var alertedAt *time.Time
		if err := rows.Scan(
			&key.MarketID, &key.OutcomeLabel, &st.LastPrice, &st.LastVolumeUSD,
			&st.LastObservedAt, &alertedPrice, &alertedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan state: %w", err)
		}
		st.LastAlertedPrice = alertedPrice
		st.LastAlertedAt = alertedAt
		states[key] = st
	}
	return states, rows.Err()
}

// Save upserts all entries inside one transaction.
func (p *Postgres) Save(ctx context.Context, entries map[models.ContractOutcome]models.RetainedState) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for key, st := range entries {
			batch.Queue(`
				INSERT INTO contract_state
					(market_id, outcome, last_price, last_volume, last_observed_at, alerted_price, alerted_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
				ON CONFLICT (market_id, outcome) DO UPDATE SET
					last_price = EXCLUDED.last_price,
					last_volume = EXCLUDED.last_volume,
					last_observed_at = EXCLUDED.last_observed_at,
					alerted_price = EXCLUDED.alerted_price,
					alerted_at = EXCLUDED.alerted_at`,
				key.MarketID, key.OutcomeLabel, st.LastPrice, st.LastVolumeUSD,
				st.LastObservedAt, st.LastAlertedPrice, st.LastAlertedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: save state: %w", err)
		}
		return nil
	})
}

func (p *Postgres) Delete(ctx context.Context, keys []models.ContractOutcome) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, key := range keys {
			batch.Queue(`DELETE FROM contract_state WHERE market_id = $1 AND outcome = $2`,
				key.MarketID, key.OutcomeLabel)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: delete state: %w", err)
		}
		return nil
	})
}
