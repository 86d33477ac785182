package refiner

import "time"

// MetricsCollector defines the interface for collecting controller metrics
type MetricsCollector interface {
	// StateDuration records how long one state took
	StateDuration(state State, d time.Duration)

	// IterationRecorded counts a recorded iteration by deployment outcome
	IterationRecorded(outcome DeployOutcome, captured bool)

	// RunFinished counts a finished run by terminal state
	RunFinished(state State, iterations int)
}

type noopMetricsCollector struct{}

func (noopMetricsCollector) StateDuration(State, time.Duration)    {}
func (noopMetricsCollector) IterationRecorded(DeployOutcome, bool) {}
func (noopMetricsCollector) RunFinished(State, int)                {}

// NewNoopMetricsCollector returns a collector that discards everything.
func NewNoopMetricsCollector() MetricsCollector {
	return noopMetricsCollector{}
}
