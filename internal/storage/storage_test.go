package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rewired-gh/polywatch/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), NewMemory(), false)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func key(id string) models.ContractOutcome {
	return models.ContractOutcome{MarketID: id, OutcomeLabel: "Yes"}
}

// failingBackend fails every write.
type failingBackend struct {
	Memory
	saves int
}

func (f *failingBackend) Name() string { return "failing" }

func (f *failingBackend) Save(context.Context, map[models.ContractOutcome]models.RetainedState) error {
	f.saves++
	return errors.New("disk full")
}

func (f *failingBackend) Delete(context.Context, []models.ContractOutcome) error {
	return errors.New("disk full")
}

func TestStore_GetUnseen(t *testing.T) {
	s := newTestStore(t)
	if _, ok := s.Get(key("1")); ok {
		t.Error("expected unseen entry")
	}
	if s.Durable() {
		t.Error("memory store must not report durable")
	}
}

func TestCycle_CommitPublishes(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	c := s.Begin()
	c.RecordObservation(key("1"), 0.45, 1000, now)

	// Staged writes are visible through the cycle only.
	if _, ok := s.Get(key("1")); ok {
		t.Fatal("staged entry leaked into committed state")
	}
	got, ok := c.Get(key("1"))
	if !ok || got.LastPrice != 0.45 {
		t.Fatalf("cycle Get = %+v, %v", got, ok)
	}

	if err := c.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, ok = s.Get(key("1"))
	if !ok || got.LastPrice != 0.45 || got.LastVolumeUSD != 1000 || !got.LastObservedAt.Equal(now) {
		t.Errorf("committed entry = %+v, %v", got, ok)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}

	if err := c.Commit(context.Background()); err == nil {
		t.Error("expected error committing twice")
	}
}

func TestCycle_DiscardLeavesStateUntouched(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	c := s.Begin()
	c.RecordObservation(key("1"), 0.45, 1000, now)
	if err := c.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	before := s.Snapshot()

	c = s.Begin()
	c.RecordObservation(key("1"), 0.60, 2000, now.Add(time.Minute))
	c.RecordObservation(key("2"), 0.10, 2000, now.Add(time.Minute))
	c.RecordAlert(key("1"), 0.60, now.Add(time.Minute))
	c.Discard()

	if after := s.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Errorf("discarded cycle changed state:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestCycle_RecordObservationKeepsAlertMetadata(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	c := s.Begin()
	c.RecordObservation(key("1"), 0.45, 1000, now)
	c.RecordAlert(key("1"), 0.45, now)
	c.RecordObservation(key("1"), 0.50, 1100, now.Add(time.Minute))
	if err := c.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, _ := s.Get(key("1"))
	if got.LastPrice != 0.50 {
		t.Errorf("LastPrice = %f, want 0.50", got.LastPrice)
	}
	if got.LastAlertedPrice == nil || *got.LastAlertedPrice != 0.45 {
		t.Errorf("LastAlertedPrice = %v, want 0.45", got.LastAlertedPrice)
	}
	if got.LastAlertedAt == nil || !got.LastAlertedAt.Equal(now) {
		t.Errorf("LastAlertedAt = %v, want %v", got.LastAlertedAt, now)
	}
}

func TestCycle_RecordAlertLeavesObservation(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	c := s.Begin()
	c.RecordObservation(key("1"), 0.45, 1000, now)
	_ = c.Commit(context.Background())

	c = s.Begin()
	c.RecordAlert(key("1"), 0.52, now.Add(time.Minute))
	_ = c.Commit(context.Background())

	got, _ := s.Get(key("1"))
	if got.LastPrice != 0.45 || got.LastVolumeUSD != 1000 {
		t.Errorf("RecordAlert changed observation fields: %+v", got)
	}
	if got.LastAlertedPrice == nil || *got.LastAlertedPrice != 0.52 {
		t.Errorf("LastAlertedPrice = %v, want 0.52", got.LastAlertedPrice)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	c := s.Begin()
	c.RecordAlert(key("1"), 0.3, time.Now())
	_ = c.Commit(context.Background())

	got, _ := s.Get(key("1"))
	*got.LastAlertedPrice = 0.99

	again, _ := s.Get(key("1"))
	if *again.LastAlertedPrice != 0.3 {
		t.Errorf("caller mutated committed state: %f", *again.LastAlertedPrice)
	}
}

func TestStore_CommitFailureIsFatalWithoutFallback(t *testing.T) {
	fb := &failingBackend{}
	s, err := New(context.Background(), fb, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c := s.Begin()
	c.RecordObservation(key("1"), 0.45, 1000, time.Now())
	err = c.Commit(context.Background())

	var storeErr *models.StateStoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StateStoreError, got %v", err)
	}
	if _, ok := s.Get(key("1")); ok {
		t.Error("failed commit must not publish entries")
	}
}

func TestStore_CommitFailureFallsBackToMemory(t *testing.T) {
	fb := &failingBackend{}
	s, err := New(context.Background(), fb, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c := s.Begin()
	c.RecordObservation(key("1"), 0.45, 1000, time.Now())
	if err := c.Commit(context.Background()); err != nil {
		t.Fatalf("Commit with fallback: %v", err)
	}
	if _, ok := s.Get(key("1")); !ok {
		t.Error("entry should be kept in memory after fallback")
	}
	if s.Backend() != "memory" {
		t.Errorf("Backend = %s, want memory", s.Backend())
	}

	// Subsequent commits no longer touch the failed backend.
	c = s.Begin()
	c.RecordObservation(key("2"), 0.5, 1, time.Now())
	if err := c.Commit(context.Background()); err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	if fb.saves != 1 {
		t.Errorf("failed backend saved %d times, want 1", fb.saves)
	}
}

func TestStore_Prune(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	c := s.Begin()
	c.RecordObservation(key("old"), 0.2, 1, now.Add(-48*time.Hour))
	c.RecordObservation(key("fresh"), 0.3, 1, now)
	_ = c.Commit(context.Background())

	n, err := s.Prune(context.Background(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if _, ok := s.Get(key("old")); ok {
		t.Error("stale entry should be pruned")
	}
	if _, ok := s.Get(key("fresh")); !ok {
		t.Error("fresh entry should survive")
	}
}

func TestStore_LoadsFromBackend(t *testing.T) {
	db, err := NewSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	now := time.Now()
	alerted := 0.4
	if err := db.Save(context.Background(), map[models.ContractOutcome]models.RetainedState{
		key("1"): {LastPrice: 0.45, LastVolumeUSD: 10, LastObservedAt: now, LastAlertedPrice: &alerted},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s, err := New(context.Background(), db, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	got, ok := s.Get(key("1"))
	if !ok || got.LastPrice != 0.45 || got.LastAlertedPrice == nil || *got.LastAlertedPrice != 0.4 {
		t.Errorf("loaded entry = %+v, %v", got, ok)
	}
	if !s.Durable() {
		t.Error("sqlite store should report durable")
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Options{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	b, err := Open(context.Background(), Options{})
	if err != nil || b.Name() != "memory" {
		t.Errorf("default backend = %v, %v", b, err)
	}
}
