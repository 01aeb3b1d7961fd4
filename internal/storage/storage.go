// Package storage retains per-contract price state across poll cycles and
// mirrors it to a durable backend.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/polywatch/internal/logger"
	"github.com/rewired-gh/polywatch/internal/models"
)

// Store owns the committed RetainedState of every tracked contract outcome.
// Mutations go through a Cycle so a poll cycle is applied whole or not at all.
type Store struct {
	mu       sync.RWMutex
	entries  map[models.ContractOutcome]models.RetainedState
	backend  Backend
	fallback bool
	degraded bool
}

// New loads all persisted entries from backend. When fallbackToMemory is set,
// a later backend write failure detaches the backend instead of failing.
func New(ctx context.Context, backend Backend, fallbackToMemory bool) (*Store, error) {
	if backend == nil {
		backend = NewMemory()
	}
	entries, err := backend.LoadAll(ctx)
	if err != nil {
		return nil, &models.StateStoreError{Op: "load", Err: err}
	}
	if entries == nil {
		entries = make(map[models.ContractOutcome]models.RetainedState)
	}
	return &Store{
		entries:  entries,
		backend:  backend,
		fallback: fallbackToMemory,
	}, nil
}

// Get returns a copy of the committed entry for key.
func (s *Store) Get(key models.ContractOutcome) (models.RetainedState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entries[key]
	if !ok {
		return models.RetainedState{}, false
	}
	return st.Clone(), true
}

// Len returns the number of tracked contract outcomes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns a deep copy of all committed entries.
func (s *Store) Snapshot() map[models.ContractOutcome]models.RetainedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.ContractOutcome]models.RetainedState, len(s.entries))
	for k, v := range s.entries {
		out[k] = v.Clone()
	}
	return out
}

// Durable reports whether entries currently survive a restart.
func (s *Store) Durable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.degraded && s.backend.Name() != memoryName
}

// Backend returns the name of the active backend.
func (s *Store) Backend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Name()
}

// Begin starts staging the writes of one poll cycle.
func (s *Store) Begin() *Cycle {
	return &Cycle{
		store:  s,
		staged: make(map[models.ContractOutcome]models.RetainedState),
	}
}

// Prune removes entries not observed since cutoff. Removal is never an
// alertable event; a pruned contract that reappears starts a new baseline.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []models.ContractOutcome
	for k, v := range s.entries {
		if v.LastObservedAt.Before(cutoff) {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.backend.Delete(ctx, stale); err != nil {
		if err := s.degrade("delete", err); err != nil {
			return 0, err
		}
	}
	for _, k := range stale {
		delete(s.entries, k)
	}
	return len(stale), nil
}

// Close releases the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}

// commit persists staged entries and then publishes them in memory.
func (s *Store) commit(ctx context.Context, staged map[models.ContractOutcome]models.RetainedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Save(ctx, staged); err != nil {
		if err := s.degrade("save", err); err != nil {
			return err
		}
	}
	for k, v := range staged {
		s.entries[k] = v
	}
	return nil
}

// degrade must be called with s.mu held.
func (s *Store) degrade(op string, cause error) error {
	storeErr := &models.StateStoreError{Op: op, Err: fmt.Errorf("%s backend: %w", s.backend.Name(), cause)}
	if !s.fallback {
		return storeErr
	}
	logger.Error("State backend failed, continuing in memory only (alert dedup will not survive restart): %v", storeErr)
	if err := s.backend.Close(); err != nil {
		logger.Warn("Failed to close failed backend: %v", err)
	}
	s.backend = NewMemory()
	s.degraded = true
	return nil
}

// Cycle stages the observations and alert records of one poll cycle on top
// of the committed state. It is safe for concurrent use.
type Cycle struct {
	mu     sync.Mutex
	store  *Store
	staged map[models.ContractOutcome]models.RetainedState
	done   bool
}

// Get returns the staged entry if present, otherwise the committed one.
func (c *Cycle) Get(key models.ContractOutcome) (models.RetainedState, bool) {
	c.mu.Lock()
	st, ok := c.staged[key]
	c.mu.Unlock()
	if ok {
		return st.Clone(), true
	}
	return c.store.Get(key)
}

// RecordObservation sets the last price, volume and observation time,
// creating the entry if unseen. Alert metadata is left untouched.
func (c *Cycle) RecordObservation(key models.ContractOutcome, price, volumeUSD float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.current(key)
	st.LastPrice = price
	st.LastVolumeUSD = volumeUSD
	st.LastObservedAt = at
	c.staged[key] = st
}

// RecordAlert sets the last alerted price and time only.
func (c *Cycle) RecordAlert(key models.ContractOutcome, alertedPrice float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.current(key)
	p, ts := alertedPrice, at
	st.LastAlertedPrice = &p
	st.LastAlertedAt = &ts
	c.staged[key] = st
}

// current must be called with c.mu held.
func (c *Cycle) current(key models.ContractOutcome) models.RetainedState {
	if st, ok := c.staged[key]; ok {
		return st
	}
	st, _ := c.store.Get(key)
	return st
}

// Pending returns the number of staged entries.
func (c *Cycle) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.staged)
}

// Commit applies all staged entries atomically. A cycle can be committed or
// discarded once.
func (c *Cycle) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return fmt.Errorf("cycle already finished")
	}
	c.done = true
	if len(c.staged) == 0 {
		return nil
	}
	return c.store.commit(ctx, c.staged)
}

// Discard drops all staged entries.
func (c *Cycle) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
	c.staged = nil
}
