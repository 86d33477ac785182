package procmgr

import (
	"log/slog"
	"time"
)

// Option configures the ProcessManager
type Option func(*ProcessManager)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(pm *ProcessManager) {
		if logger != nil {
			pm.logger = logger
		}
	}
}

// WithGracePeriod sets how long Terminate waits after SIGTERM before killing
func WithGracePeriod(d time.Duration) Option {
	return func(pm *ProcessManager) {
		pm.gracePeriod = d
	}
}

// WithKillTimeout sets how long Terminate waits for exit after SIGKILL
func WithKillTimeout(d time.Duration) Option {
	return func(pm *ProcessManager) {
		pm.killTimeout = d
	}
}

// WithOutputLimit caps the bytes kept per captured stream
func WithOutputLimit(n int) Option {
	return func(pm *ProcessManager) {
		pm.outputLimit = n
	}
}

// WithPipeDrainTimeout bounds how long exit observation waits for output
// pipes to close once the process itself has exited
func WithPipeDrainTimeout(d time.Duration) Option {
	return func(pm *ProcessManager) {
		pm.pipeDrainTimeout = d
	}
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(pm *ProcessManager) {
		pm.metrics = mc
	}
}
