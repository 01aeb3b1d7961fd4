package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/polywatch/internal/models"
)

// testBackendRoundTrip exercises the Backend contract against a live backend.
func testBackendRoundTrip(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	observed := time.Unix(1700000000, 123456789)
	alertedAt := observed.Add(-time.Hour)
	alerted := 0.41

	entries := map[models.ContractOutcome]models.RetainedState{
		{MarketID: "m1", OutcomeLabel: "Yes"}: {
			LastPrice: 0.45, LastVolumeUSD: 125000, LastObservedAt: observed,
			LastAlertedPrice: &alerted, LastAlertedAt: &alertedAt,
		},
		{MarketID: "m1", OutcomeLabel: "No"}: {
			LastPrice: 0.55, LastVolumeUSD: 125000, LastObservedAt: observed,
		},
		{MarketID: "m2", OutcomeLabel: "Trump: Yes"}: {
			LastPrice: 0.02, LastVolumeUSD: 10, LastObservedAt: observed,
		},
	}
	if err := b.Save(ctx, entries); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := b.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("LoadAll returned %d entries, want %d", len(got), len(entries))
	}
	for k, want := range entries {
		st, ok := got[k]
		if !ok {
			t.Errorf("missing entry %s", k)
			continue
		}
		if st.LastPrice != want.LastPrice || st.LastVolumeUSD != want.LastVolumeUSD {
			t.Errorf("%s: got price=%f volume=%f, want %f %f", k, st.LastPrice, st.LastVolumeUSD, want.LastPrice, want.LastVolumeUSD)
		}
		if !st.LastObservedAt.Equal(want.LastObservedAt) {
			t.Errorf("%s: LastObservedAt = %v, want %v", k, st.LastObservedAt, want.LastObservedAt)
		}
		if st.HasAlerted() != want.HasAlerted() {
			t.Errorf("%s: HasAlerted = %v, want %v", k, st.HasAlerted(), want.HasAlerted())
		}
	}

	m1 := models.ContractOutcome{MarketID: "m1", OutcomeLabel: "Yes"}
	if st := got[m1]; st.LastAlertedPrice == nil || *st.LastAlertedPrice != alerted || !st.LastAlertedAt.Equal(alertedAt) {
		t.Errorf("alert metadata not preserved: %+v", st)
	}

	// Overwrite one entry and delete another.
	update := entries[m1]
	update.LastPrice = 0.60
	if err := b.Save(ctx, map[models.ContractOutcome]models.RetainedState{m1: update}); err != nil {
		t.Fatalf("Save update: %v", err)
	}
	m2 := models.ContractOutcome{MarketID: "m2", OutcomeLabel: "Trump: Yes"}
	if err := b.Delete(ctx, []models.ContractOutcome{m2}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err = b.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("after delete got %d entries, want 2", len(got))
	}
	if got[m1].LastPrice != 0.60 {
		t.Errorf("updated price = %f, want 0.60", got[m1].LastPrice)
	}
	if _, ok := got[m2]; ok {
		t.Error("deleted entry still present")
	}
}

func TestSQLiteBackend(t *testing.T) {
	db, err := NewSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer db.Close()
	testBackendRoundTrip(t, db)
}

func TestSQLiteBackend_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	k := models.ContractOutcome{MarketID: "m1", OutcomeLabel: "Yes"}
	if err := db.Save(context.Background(), map[models.ContractOutcome]models.RetainedState{
		k: {LastPrice: 0.3, LastObservedAt: time.Now()},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = db.Close()

	db, err = NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	got, err := db.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if got[k].LastPrice != 0.3 {
		t.Errorf("LastPrice after reopen = %f, want 0.3", got[k].LastPrice)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	k := models.ContractOutcome{MarketID: "m1", OutcomeLabel: "Yes"}
	at := time.Unix(0, 1700000000123456789)
	st := models.RetainedState{LastPrice: 0.5, LastObservedAt: at}

	gotKey, gotState := toRecord(k, st).state()
	if gotKey != k {
		t.Errorf("key = %v, want %v", gotKey, k)
	}
	if !gotState.LastObservedAt.Equal(at) || gotState.HasAlerted() {
		t.Errorf("state = %+v", gotState)
	}
}
