package refiner

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	stateDuration *prometheus.HistogramVec
	iterations    *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runLength     prometheus.Histogram

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a collector on its own registry.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	return NewPrometheusMetricsCollectorWithRegistry(namespace, prometheus.NewRegistry())
}

// NewPrometheusMetricsCollectorWithRegistry registers on an existing registry.
func NewPrometheusMetricsCollectorWithRegistry(namespace string, registry *prometheus.Registry) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "refiner"
	}

	pmc := &PrometheusMetricsCollector{registry: registry}

	pmc.stateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "state_duration_seconds",
			Help:      "Time spent in each controller state",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"state"},
	)

	pmc.iterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Recorded iterations by deployment outcome",
		},
		[]string{"outcome", "captured"},
	)

	pmc.runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by terminal state",
		},
		[]string{"state"},
	)

	pmc.runLength = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_iterations",
			Help:      "Number of iterations recorded per finished run",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	registry.MustRegister(pmc.stateDuration, pmc.iterations, pmc.runs, pmc.runLength)

	return pmc
}

// StateDuration records how long one state took
func (p *PrometheusMetricsCollector) StateDuration(state State, d time.Duration) {
	p.stateDuration.WithLabelValues(state.String()).Observe(d.Seconds())
}

// IterationRecorded counts a recorded iteration
func (p *PrometheusMetricsCollector) IterationRecorded(outcome DeployOutcome, captured bool) {
	p.iterations.WithLabelValues(outcome.String(), strconv.FormatBool(captured)).Inc()
}

// RunFinished counts a finished run
func (p *PrometheusMetricsCollector) RunFinished(state State, iterations int) {
	p.runs.WithLabelValues(state.String()).Inc()
	p.runLength.Observe(float64(iterations))
}

// Registry returns the Prometheus registry for HTTP handler exposure
func (p *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return p.registry
}

var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
