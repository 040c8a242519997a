package telemetry

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/KonstantinTomashevich/Kan-sub009/universe"
)

// PrometheusCollector implements universe.PrometheusCollector against a
// dedicated registry, one {mutator,pipeline,world} label set per vector.
type PrometheusCollector struct {
	registry *prometheus.Registry

	duration *prometheus.HistogramVec
	executed *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

// NewPrometheusCollector registers a fresh metric set against its own
// registry, so a test or a second world instance never collides with
// prometheus.DefaultRegisterer's global state.
func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()
	labels := []string{"mutator", "pipeline", "world"}

	c := &PrometheusCollector{
		registry: registry,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kan_mutator_duration_seconds",
			Help:    "Mutator execution duration.",
			Buckets: prometheus.DefBuckets,
		}, labels),
		executed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kan_mutator_executed_total",
			Help: "Mutator executions that ran (not skipped).",
		}, labels),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kan_mutator_skipped_total",
			Help: "Mutator executions skipped by the scheduler.",
		}, labels),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kan_mutator_errors_total",
			Help: "Mutator executions that returned an error.",
		}, labels),
	}
	registry.MustRegister(c.duration, c.executed, c.skipped, c.errors)
	return c
}

func (c *PrometheusCollector) ObserveMutator(summary universe.MutatorSummary) {
	labels := prometheus.Labels{"mutator": summary.Mutator, "pipeline": summary.Pipeline, "world": summary.World}
	c.duration.With(labels).Observe(summary.Duration.Seconds())
	if summary.Skipped {
		c.skipped.With(labels).Inc()
		return
	}
	c.executed.With(labels).Inc()
	if summary.Err != nil {
		c.errors.With(labels).Inc()
	}
}

// Handler exposes the collector's registry over the standard Prometheus
// text exposition format, for wiring into an HTTP mux.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WriteMetrics renders the registry's current state in the text exposition
// format, for callers that don't run an HTTP server (e.g. a CLI --metrics
// flag dumping a snapshot).
func (c *PrometheusCollector) WriteMetrics(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

var _ universe.PrometheusCollector = (*PrometheusCollector)(nil)
