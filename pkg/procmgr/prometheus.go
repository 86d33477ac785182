package procmgr

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	stateTransitions    *prometheus.CounterVec
	startFailures       prometheus.Counter
	exits               *prometheus.CounterVec
	uptime              prometheus.Histogram
	terminationDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector
// registered on its own registry.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	return NewPrometheusMetricsCollectorWithRegistry(namespace, prometheus.NewRegistry())
}

// NewPrometheusMetricsCollectorWithRegistry registers the collector's metrics
// on an existing registry so several components can share one /metrics page.
func NewPrometheusMetricsCollectorWithRegistry(namespace string, registry *prometheus.Registry) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "procmgr"
	}

	pmc := &PrometheusMetricsCollector{
		registry: registry,
	}

	pmc.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_state_transitions_total",
			Help:      "Total number of process state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	pmc.startFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_start_failures_total",
			Help:      "Total number of programs that could not be launched",
		},
	)

	pmc.exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "Total number of observed process exits by exit code",
		},
		[]string{"exit_code"},
	)

	pmc.uptime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_uptime_seconds",
			Help:      "Lifetime of managed processes from start to observed exit",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
	)

	pmc.terminationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_termination_duration_seconds",
			Help:      "Duration of process termination operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"forced"},
	)

	pmc.registry.MustRegister(
		pmc.stateTransitions,
		pmc.startFailures,
		pmc.exits,
		pmc.uptime,
		pmc.terminationDuration,
	)

	return pmc
}

// ProcessStateTransition records a state transition
func (pmc *PrometheusMetricsCollector) ProcessStateTransition(id ProcessID, fromState, toState ProcessState) {
	pmc.stateTransitions.WithLabelValues(
		fromState.String(),
		toState.String(),
	).Inc()
}

// ProcessStartFailure records a failed launch
func (pmc *PrometheusMetricsCollector) ProcessStartFailure(id ProcessID) {
	pmc.startFailures.Inc()
}

// ProcessExit records an observed exit
func (pmc *PrometheusMetricsCollector) ProcessExit(id ProcessID, exitCode int, uptime time.Duration) {
	pmc.exits.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	pmc.uptime.Observe(uptime.Seconds())
}

// ProcessTerminationDuration records the duration of a termination operation
func (pmc *PrometheusMetricsCollector) ProcessTerminationDuration(id ProcessID, duration time.Duration, forced bool) {
	pmc.terminationDuration.WithLabelValues(
		strconv.FormatBool(forced),
	).Observe(duration.Seconds())
}

// Registry returns the Prometheus registry for HTTP handler setup
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// Compile-time interface compliance check
var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
