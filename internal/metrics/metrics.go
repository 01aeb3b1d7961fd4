// Package metrics exposes poll-cycle counters and gauges for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/polywatch/internal/logger"
)

const namespace = "polywatch"

// Cycle results used as the "result" label of CyclesTotal.
const (
	ResultOK        = "ok"
	ResultFetchFail = "fetch_error"
	ResultStoreFail = "store_error"
	ResultCancelled = "cancelled"
)

// Metrics holds every collector the scheduler updates.
type Metrics struct {
	CyclesTotal           *prometheus.CounterVec
	SkippedTicksTotal     prometheus.Counter
	FetchErrorsTotal      prometheus.Counter
	CandidatesTotal       prometheus.Counter
	AlertsTotal           prometheus.Counter
	DispatchFailuresTotal prometheus.Counter
	TrackedContracts      prometheus.Gauge
	CycleDuration         prometheus.Histogram
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Poll cycles run, by result",
		}, []string{"result"}),
		SkippedTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_ticks_total",
			Help:      "Ticks dropped because a cycle was still running",
		}),
		FetchErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Snapshot fetches that failed",
		}),
		CandidatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Price changes detected before policy filtering",
		}),
		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts delivered",
		}),
		DispatchFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Alerts whose delivery failed",
		}),
		TrackedContracts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_contracts",
			Help:      "Contract outcomes with retained state",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one poll cycle",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.CyclesTotal,
		m.SkippedTicksTotal,
		m.FetchErrorsTotal,
		m.CandidatesTotal,
		m.AlertsTotal,
		m.DispatchFailuresTotal,
		m.TrackedContracts,
		m.CycleDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Serve exposes /metrics for gatherer on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics on %s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
