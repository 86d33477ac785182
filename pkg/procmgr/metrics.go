package procmgr

import (
	"time"
)

// MetricsCollector defines the interface for collecting process manager metrics
type MetricsCollector interface {
	// ProcessStateTransition records a state transition for a process
	ProcessStateTransition(id ProcessID, fromState, toState ProcessState)

	// ProcessStartFailure records a launch that never produced a process
	ProcessStartFailure(id ProcessID)

	// ProcessExit records an observed exit and its status code
	ProcessExit(id ProcessID, exitCode int, uptime time.Duration)

	// ProcessTerminationDuration records how long Terminate took and whether
	// it had to escalate to a forced kill
	ProcessTerminationDuration(id ProcessID, duration time.Duration, forced bool)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) ProcessStateTransition(id ProcessID, fromState, toState ProcessState) {}
func (n *noopMetricsCollector) ProcessStartFailure(id ProcessID)                                     {}
func (n *noopMetricsCollector) ProcessExit(id ProcessID, exitCode int, uptime time.Duration)        {}
func (n *noopMetricsCollector) ProcessTerminationDuration(id ProcessID, duration time.Duration, forced bool) {
}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
