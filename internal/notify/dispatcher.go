package notify

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polywatch/internal/logger"
	"github.com/rewired-gh/polywatch/internal/models"
)

// Outcome is the delivery result of one alert. Err is a *models.DispatchError
// when delivery failed.
type Outcome struct {
	Alert models.Alert
	Err   error
}

// Delivered reports whether the alert reached the sink.
func (o Outcome) Delivered() bool { return o.Err == nil }

// Dispatcher sends alerts through a sink with bounded parallelism. Each alert
// is delivered independently; one failure never affects another.
type Dispatcher struct {
	sink    Sink
	workers int
	timeout time.Duration
	format  func(models.Alert) string
}

// NewDispatcher creates a dispatcher running at most workers sends at once,
// each bounded by timeout.
func NewDispatcher(sink Sink, workers int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		sink:    sink,
		workers: workers,
		timeout: timeout,
		format:  FormatAlert,
	}
}

// Dispatch delivers every alert and returns one outcome per alert, in input
// order. It never returns early; failures are reported in the outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, alerts []models.Alert) []Outcome {
	outcomes := make([]Outcome, len(alerts))

	var g errgroup.Group
	g.SetLimit(d.workers)
	for i, a := range alerts {
		i, a := i, a
		g.Go(func() error {
			outcomes[i] = Outcome{Alert: a, Err: d.send(ctx, a)}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.Err != nil {
			logger.Warn("Failed to deliver alert: %v", o.Err)
		}
	}
	return outcomes
}

func (d *Dispatcher) send(ctx context.Context, a models.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &models.DispatchError{Contract: a.Contract, Err: fmt.Errorf("sink panic: %v", r)}
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.sink.Send(ctx, d.format(a)); err != nil {
		return &models.DispatchError{Contract: a.Contract, Err: err}
	}
	return nil
}
