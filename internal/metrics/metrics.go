// Package metrics exposes scenario outcomes as Prometheus collectors.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

const namespace = "recipe_e2e"

// Recorder tracks run outcomes on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	runs              *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	stepFailures      *prometheus.CounterVec
	assertionFailures *prometheus.CounterVec
	lastRun           *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with Go runtime and process collectors
// registered next to the scenario metrics.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of scenario runs by outcome",
		}, []string{"scenario", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of scenario runs",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"scenario"}),
		stepFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Total number of runs aborted by a failing step",
		}, []string{"scenario", "action"}),
		assertionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assertion_failures_total",
			Help:      "Total number of runs whose expected outcome was not observed",
		}, []string{"scenario"}),
		lastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the scenario last finished",
		}, []string{"scenario"}),
	}
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe records a finished run.
func (r *Recorder) Observe(_ context.Context, res *scenario.Result) error {
	r.runs.WithLabelValues(res.ScenarioID, string(res.Status)).Inc()
	r.duration.WithLabelValues(res.ScenarioID).Observe(res.Duration.Seconds())
	r.lastRun.WithLabelValues(res.ScenarioID).Set(float64(res.FinishedAt.Unix()))

	switch res.Phase {
	case scenario.PhaseSteps:
		action := "unknown"
		if n := len(res.Steps); n > 0 {
			action = string(res.Steps[n-1].Action)
		}
		r.stepFailures.WithLabelValues(res.ScenarioID, action).Inc()
	case scenario.PhaseAssert:
		r.assertionFailures.WithLabelValues(res.ScenarioID).Inc()
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
