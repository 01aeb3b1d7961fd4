// Package scheduler drives the fetch, detect, filter, dispatch and persist
// poll cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rewired-gh/polywatch/internal/logger"
	"github.com/rewired-gh/polywatch/internal/metrics"
	"github.com/rewired-gh/polywatch/internal/models"
	"github.com/rewired-gh/polywatch/internal/monitor"
	"github.com/rewired-gh/polywatch/internal/notify"
	"github.com/rewired-gh/polywatch/internal/storage"
)

// State is the stage of the cycle currently running.
type State int32

const (
	Idle State = iota
	Fetching
	Detecting
	Filtering
	Dispatching
	Persisted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Detecting:
		return "detecting"
	case Filtering:
		return "filtering"
	case Dispatching:
		return "dispatching"
	case Persisted:
		return "persisted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Fetcher returns a complete snapshot or fails.
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.PriceSample, error)
}

// Dispatcher delivers alerts and reports one outcome per alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, alerts []models.Alert) []notify.Outcome
}

// Notifier receives operational notices about failing and recovering cycles.
type Notifier interface {
	SendError(ctx context.Context, cycleErr error) error
	SendRecovery(ctx context.Context, failureCount int) error
}

// Options wires a Scheduler. Ticks, Fetcher, Store and Dispatcher are required.
type Options struct {
	Ticks      TickSource
	Fetcher    Fetcher
	Store      *storage.Store
	Policy     monitor.Policy
	Dispatcher Dispatcher
	Notifier   Notifier         // optional
	Metrics    *metrics.Metrics // optional

	FetchTimeout time.Duration
	Retention    time.Duration // 0 keeps entries forever

	// AfterFirstCycle runs once, after the first cycle that persisted.
	AfterFirstCycle func(ctx context.Context, stats models.Stats)
}

// Scheduler runs one poll cycle at a time. Ticks that arrive while a cycle
// is running are dropped.
type Scheduler struct {
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time

	state atomic.Int32

	mu                  sync.Mutex
	stats               models.Stats
	consecutiveFailures int
	announced           bool
}

// New creates a scheduler.
func New(opts Options) *Scheduler {
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	s := &Scheduler{
		opts:    opts,
		metrics: m,
		now:     time.Now,
	}
	s.stats.StartedAt = s.now()
	return s
}

// State returns the stage of the running cycle, or Idle.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot of scheduler activity.
func (s *Scheduler) Stats() models.Stats {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()
	st.TrackedContracts = s.opts.Store.Len()
	return st
}

// Run executes a cycle immediately and then one per tick until ctx is
// cancelled. It returns nil on cancellation and a *models.StateStoreError
// when state can no longer be persisted.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.opts.Ticks.Stop()

	done := make(chan cycleResult, 1)
	running := false
	start := func() {
		running = true
		go func() { done <- s.execute(ctx) }()
	}
	// finish records a completed cycle and reports whether Run must stop.
	finish := func(r cycleResult) bool {
		running = false
		s.handleResult(ctx, r)
		return isFatal(r.err)
	}

	logger.Debug("Running initial poll cycle")
	start()

	for {
		select {
		case <-ctx.Done():
			if running {
				if r := <-done; finish(r) {
					return r.err
				}
			}
			logger.Info("Scheduler stopped")
			return nil

		case <-s.opts.Ticks.C():
			// A cycle that finished alongside this tick is not still running.
			if running {
				select {
				case r := <-done:
					if finish(r) {
						return r.err
					}
				default:
				}
			}
			if running {
				s.mu.Lock()
				s.stats.SkippedTicks++
				s.mu.Unlock()
				s.metrics.SkippedTicksTotal.Inc()
				logger.Warn("Skipping tick: previous cycle still %s", s.State())
				continue
			}
			logger.Debug("Starting scheduled poll cycle")
			start()

		case r := <-done:
			if finish(r) {
				return r.err
			}
		}
	}
}

// RunCycle executes one complete poll cycle. A FetchError aborts the cycle
// without touching state. Once dispatch has started the cycle is always
// persisted, even if ctx is cancelled meanwhile.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	r := s.execute(ctx)
	s.handleResult(ctx, r)
	return r.err
}

type cycleResult struct {
	id      string
	err     error
	elapsed time.Duration
}

func (s *Scheduler) execute(ctx context.Context) cycleResult {
	id := uuid.NewString()
	started := s.now()
	defer s.setState(Idle)

	err := s.runCycle(ctx, logger.With("cycle", id))
	elapsed := s.now().Sub(started)
	s.metrics.CycleDuration.Observe(elapsed.Seconds())
	return cycleResult{id: id, err: err, elapsed: elapsed}
}

func (s *Scheduler) runCycle(ctx context.Context, log *zap.SugaredLogger) error {
	log.Info("Starting poll cycle")

	s.setState(Fetching)
	fetchCtx, cancel := s.fetchContext(ctx)
	snapshot, err := s.opts.Fetcher.Fetch(fetchCtx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		var fetchErr *models.FetchError
		if !errors.As(err, &fetchErr) {
			err = &models.FetchError{Op: "fetch", Err: err}
		}
		return err
	}
	log.Debugf("Fetched %d price samples", len(snapshot))

	s.setState(Detecting)
	cycle := s.opts.Store.Begin()
	candidates := monitor.Detect(snapshot, cycle)
	s.metrics.CandidatesTotal.Add(float64(len(candidates)))
	if ctx.Err() != nil {
		cycle.Discard()
		return ctx.Err()
	}

	s.setState(Filtering)
	alerts := s.opts.Policy.Filter(candidates, cycle)
	log.Infof("%d candidates, %d alerts", len(candidates), len(alerts))
	if ctx.Err() != nil {
		cycle.Discard()
		return ctx.Err()
	}

	s.setState(Dispatching)
	var delivered, failed int
	if len(alerts) > 0 {
		for _, o := range s.opts.Dispatcher.Dispatch(ctx, alerts) {
			if !o.Delivered() {
				failed++
				continue
			}
			delivered++
			cycle.RecordAlert(o.Alert.Contract, o.Alert.CurrentPrice, o.Alert.Timestamp)
		}
	}
	s.metrics.AlertsTotal.Add(float64(delivered))
	s.metrics.DispatchFailuresTotal.Add(float64(failed))

	persistCtx := context.WithoutCancel(ctx)
	if err := cycle.Commit(persistCtx); err != nil {
		return err
	}
	s.setState(Persisted)

	if s.opts.Retention > 0 {
		n, err := s.opts.Store.Prune(persistCtx, s.now().Add(-s.opts.Retention))
		if err != nil {
			return err
		}
		if n > 0 {
			log.Infof("Pruned %d contract outcomes not seen for %v", n, s.opts.Retention)
		}
	}

	s.mu.Lock()
	s.stats.AlertsSent += delivered
	s.stats.DispatchFailures += failed
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.FetchTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.FetchTimeout)
	}
	return context.WithCancel(ctx)
}

// handleResult updates stats and metrics and sends error and recovery
// notices on the edges of a failure streak.
func (s *Scheduler) handleResult(ctx context.Context, r cycleResult) {
	id, err, elapsed := r.id, r.err, r.elapsed
	now := s.now()
	tracked := s.opts.Store.Len()
	s.metrics.TrackedContracts.Set(float64(tracked))

	var fetchErr *models.FetchError
	switch {
	case err == nil:
		s.metrics.CyclesTotal.WithLabelValues(metrics.ResultOK).Inc()
		logger.Info("Poll cycle %s completed in %v (%d contracts tracked)", id, elapsed.Round(time.Millisecond), tracked)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		s.metrics.CyclesTotal.WithLabelValues(metrics.ResultCancelled).Inc()
		logger.Info("Poll cycle %s cancelled", id)
		return
	case errors.As(err, &fetchErr):
		s.metrics.CyclesTotal.WithLabelValues(metrics.ResultFetchFail).Inc()
		s.metrics.FetchErrorsTotal.Inc()
		logger.Error("Poll cycle %s failed: %v", id, err)
	default:
		s.metrics.CyclesTotal.WithLabelValues(metrics.ResultStoreFail).Inc()
		logger.Error("Poll cycle %s failed: %v", id, err)
	}

	s.mu.Lock()
	s.stats.CyclesRun++
	s.stats.LastCycleAt = now
	if err != nil {
		s.stats.FailedCycles++
		s.stats.LastCycleErr = err.Error()
		s.consecutiveFailures++
	} else {
		s.stats.LastCycleErr = ""
	}
	failures := s.consecutiveFailures
	if err == nil {
		s.consecutiveFailures = 0
	}
	first := err == nil && !s.announced
	if first {
		s.announced = true
	}
	s.mu.Unlock()

	notifyCtx := context.WithoutCancel(ctx)
	if n := s.opts.Notifier; n != nil {
		switch {
		case err != nil && failures == 1:
			if sendErr := n.SendError(notifyCtx, err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		case err == nil && failures > 0:
			if sendErr := n.SendRecovery(notifyCtx, failures); sendErr != nil {
				logger.Warn("Failed to send recovery notification: %v", sendErr)
			}
		}
	}

	if first && s.opts.AfterFirstCycle != nil {
		s.opts.AfterFirstCycle(notifyCtx, s.Stats())
	}
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

func isFatal(err error) bool {
	var storeErr *models.StateStoreError
	return errors.As(err, &storeErr)
}
