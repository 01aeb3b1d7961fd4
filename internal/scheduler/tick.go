package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TickSource delivers the instants at which a poll cycle should start.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

type intervalTicker struct {
	t *time.Ticker
}

// NewIntervalTicker ticks every d.
func NewIntervalTicker(d time.Duration) TickSource {
	return &intervalTicker{t: time.NewTicker(d)}
}

func (i *intervalTicker) C() <-chan time.Time { return i.t.C }
func (i *intervalTicker) Stop()               { i.t.Stop() }

type cronTicker struct {
	c  *cron.Cron
	ch chan time.Time
}

// NewCronTicker ticks on a standard five-field cron expression or a
// descriptor such as "@every 5m" or "@hourly".
func NewCronTicker(spec string) (TickSource, error) {
	t := &cronTicker{
		c:  cron.New(),
		ch: make(chan time.Time, 1),
	}
	if _, err := t.c.AddFunc(spec, t.fire); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	t.c.Start()
	return t, nil
}

// fire never blocks; a tick that cannot be delivered is dropped like a
// time.Ticker would.
func (t *cronTicker) fire() {
	select {
	case t.ch <- time.Now():
	default:
	}
}

func (t *cronTicker) C() <-chan time.Time { return t.ch }
func (t *cronTicker) Stop()               { t.c.Stop() }

// ManualTicker ticks only when Tick is called.
type ManualTicker struct {
	ch chan time.Time
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time)}
}

// Tick blocks until the scheduler receives the tick.
func (m *ManualTicker) Tick(at time.Time) { m.ch <- at }

func (m *ManualTicker) C() <-chan time.Time { return m.ch }
func (m *ManualTicker) Stop()               {}
