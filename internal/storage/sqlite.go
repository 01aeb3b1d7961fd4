package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/polywatch/internal/models"
	_ "modernc.org/sqlite"
)

// SQLite persists contract state in a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/polywatch/state.db.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "polywatch", "state.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLite) Name() string { return "sqlite" }

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contract_state (
			market_id        TEXT NOT NULL,
			outcome          TEXT NOT NULL,
			last_price       REAL NOT NULL,
			last_volume      REAL NOT NULL DEFAULT 0,
			last_observed_at INTEGER NOT NULL,
			alerted_price    REAL,
			alerted_at       INTEGER,
			PRIMARY KEY (market_id, outcome)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contract_state_observed ON contract_state(last_observed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) LoadAll(ctx context.Context) (map[models.ContractOutcome]models.RetainedState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, outcome, last_price, last_volume, last_observed_at, alerted_price, alerted_at
		FROM contract_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query state: %w", err)
	}
	defer rows.Close()

	states := make(map[models.ContractOutcome]models.RetainedState)
	for rows.Next() {
		var key models.ContractOutcome
		var st models.RetainedState
		var observedNano int64
		var alertedPrice sql.NullFloat64
		var alertedAt sql.NullInt64

		if err := rows.Scan(
			&key.MarketID, &key.OutcomeLabel, &st.LastPrice, &st.LastVolumeUSD,
			&observedNano, &alertedPrice, &alertedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}

		st.LastObservedAt = time.Unix(0, observedNano)
		if alertedPrice.Valid {
			p := alertedPrice.Float64
			st.LastAlertedPrice = &p
		}
		if alertedAt.Valid {
			t := time.Unix(0, alertedAt.Int64)
			st.LastAlertedAt = &t
		}
		states[key] = st
	}
	return states, rows.Err()
}

func (s *SQLite) Save(ctx context.Context, entries map[models.ContractOutcome]models.RetainedState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO contract_state
			(market_id, outcome, last_price, last_volume, last_observed_at, alerted_price, alerted_at)
		VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for key, st := range entries {
		var alertedPrice sql.NullFloat64
		var alertedAt sql.NullInt64
		if st.LastAlertedPrice != nil {
			alertedPrice = sql.NullFloat64{Float64: *st.LastAlertedPrice, Valid: true}
		}
		if st.LastAlertedAt != nil {
			alertedAt = sql.NullInt64{Int64: st.LastAlertedAt.UnixNano(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			key.MarketID, key.OutcomeLabel, st.LastPrice, st.LastVolumeUSD,
			st.LastObservedAt.UnixNano(), alertedPrice, alertedAt,
		); err != nil {
			return fmt.Errorf("failed to save state %s: %w", key, err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) Delete(ctx context.Context, keys []models.ContractOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM contract_state WHERE market_id = ? AND outcome = ?`,
			key.MarketID, key.OutcomeLabel,
		); err != nil {
			return fmt.Errorf("failed to delete state %s: %w", key, err)
		}
	}
	return tx.Commit()
}
