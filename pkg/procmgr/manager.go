package procmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultGracePeriod      = 10 * time.Second
	defaultKillTimeout      = 5 * time.Second
	defaultOutputLimit      = 1 << 20
	defaultPipeDrainTimeout = 2 * time.Second
)

// ProcessManager launches child programs, captures their output and tears
// them down. It owns every process between Start and an observed exit.
type ProcessManager struct {
	mu      sync.Mutex
	handles map[ProcessID]*Handle
	seq     atomic.Uint64

	logger           *slog.Logger
	metrics          MetricsCollector
	gracePeriod      time.Duration
	killTimeout      time.Duration
	outputLimit      int
	pipeDrainTimeout time.Duration
}

// NewProcessManager creates a new process manager
func NewProcessManager(opts ...Option) *ProcessManager {
	pm := &ProcessManager{
		handles:          make(map[ProcessID]*Handle),
		logger:           slog.Default().With("component", "procmgr"),
		metrics:          NewNoopMetricsCollector(),
		gracePeriod:      defaultGracePeriod,
		killTimeout:      defaultKillTimeout,
		outputLimit:      defaultOutputLimit,
		pipeDrainTimeout: defaultPipeDrainTimeout,
	}

	for _, opt := range opts {
		opt(pm)
	}

	return pm
}

// Start launches spec as a child process and returns immediately. A
// *StartError is returned when the program cannot be launched.
func (pm *ProcessManager) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := ProcessID(fmt.Sprintf("%s-%d", filepath.Base(spec.Program), pm.seq.Add(1)))

	if spec.Program == "" {
		pm.metrics.ProcessStartFailure(id)
		return nil, &StartError{Program: spec.Program, Err: errors.New("empty program path")}
	}
	if len(spec.Interpreter) > 0 || strings.ContainsRune(spec.Program, filepath.Separator) {
		// Dir may differ from the caller's working directory
		if abs, err := filepath.Abs(spec.Program); err == nil {
			spec.Program = abs
		}
	}
	if len(spec.Interpreter) > 0 {
		// the interpreter would start and then fail, which looks like a crash
		if _, err := os.Stat(spec.Program); err != nil {
			pm.metrics.ProcessStartFailure(id)
			return nil, &StartError{Program: spec.Program, Err: err}
		}
	}

	argv := spec.argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = spec.environ()
	cmd.Dir = spec.Dir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(spec.Program)
	}
	cmd.WaitDelay = pm.pipeDrainTimeout
	setProcessGroup(cmd)

	h := &Handle{
		ID:     id,
		Port:   spec.Port,
		Spec:   spec,
		cmd:    cmd,
		stdout: NewTailBuffer(pm.outputLimit),
		stderr: NewTailBuffer(pm.outputLimit),
		done:   make(chan struct{}),
	}
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr

	h.StartedAt = time.Now()
	if err := cmd.Start(); err != nil {
		pm.metrics.ProcessStartFailure(id)
		pm.logger.Warn("process start failed", "id", id, "program", spec.Program, "error", err)
		return nil, &StartError{Program: spec.Program, Err: err}
	}

	h.mu.Lock()
	h.runningAt = time.Now()
	h.mu.Unlock()
	pm.metrics.ProcessStateTransition(id, ProcessStateStarting, ProcessStateRunning)

	pm.mu.Lock()
	pm.handles[id] = h
	pm.mu.Unlock()

	pm.logger.Info("process started",
		"id", id,
		"pid", cmd.Process.Pid,
		"port", spec.Port,
		"program", spec.Program)

	go pm.wait(h)

	return h, nil
}

// wait observes the exit of h and releases its bookkeeping.
func (pm *ProcessManager) wait(h *Handle) {
	err := h.cmd.Wait()

	h.mu.Lock()
	from := h.stateLocked()
	h.exitedAt = time.Now()
	h.waitErr = err
	h.exitCode = h.cmd.ProcessState.ExitCode()
	exitCode := h.exitCode
	uptime := h.exitedAt.Sub(h.StartedAt)
	h.mu.Unlock()

	pm.mu.Lock()
	delete(pm.handles, h.ID)
	pm.mu.Unlock()

	close(h.done)

	pm.metrics.ProcessStateTransition(h.ID, from, ProcessStateExited)
	pm.metrics.ProcessExit(h.ID, exitCode, uptime)

	if errors.Is(err, exec.ErrWaitDelay) {
		pm.logger.Debug("process exited with output pipes still held open", "id", h.ID)
	}
	pm.logger.Info("process exited",
		"id", h.ID,
		"exit_code", exitCode,
		"uptime", uptime.Round(time.Millisecond))
}

// Terminate asks the process to stop and blocks until its exit has been
// observed. SIGTERM is sent first; after the grace period, or as soon as ctx
// is done, the process group is killed. Terminating an exited handle is a
// no-op.
func (pm *ProcessManager) Terminate(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}

	h.termMu.Lock()
	defer h.termMu.Unlock()

	if h.Exited() {
		return nil
	}

	start := time.Now()
	h.mu.Lock()
	from := h.stateLocked()
	if h.terminatingAt.IsZero() {
		h.terminatingAt = start
	}
	h.mu.Unlock()
	pm.metrics.ProcessStateTransition(h.ID, from, ProcessStateTerminating)

	if err := requestStop(h.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		pm.logger.Warn("error sending SIGTERM", "id", h.ID, "error", err)
	}

	grace := time.NewTimer(pm.gracePeriod)
	defer grace.Stop()

	select {
	case <-h.done:
		pm.metrics.ProcessTerminationDuration(h.ID, time.Since(start), false)
		pm.logger.Debug("process exited gracefully", "id", h.ID)
		return nil
	case <-grace.C:
		pm.logger.Warn("process did not exit within grace period, force killing",
			"id", h.ID, "grace_period", pm.gracePeriod)
	case <-ctx.Done():
		pm.logger.Warn("termination cancelled, force killing", "id", h.ID, "error", ctx.Err())
	}

	if err := forceKill(h.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		pm.logger.Warn("error sending SIGKILL", "id", h.ID, "error", err)
	}

	killWait := time.NewTimer(pm.killTimeout)
	defer killWait.Stop()

	select {
	case <-h.done:
		pm.metrics.ProcessTerminationDuration(h.ID, time.Since(start), true)
		return nil
	case <-killWait.C:
		return fmt.Errorf("process %s did not exit within %v after SIGKILL", h.ID, pm.killTimeout)
	}
}

// DrainOutput waits up to timeout for the process exit to be observed and
// returns whatever stdout and stderr were captured. It never blocks longer
// than timeout; a timeout of zero returns the current snapshot.
func (pm *ProcessManager) DrainOutput(h *Handle, timeout time.Duration) Output {
	if h == nil {
		return Output{Complete: true}
	}

	if timeout > 0 && !h.Exited() {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-h.done:
		case <-t.C:
		}
	}

	return h.snapshot()
}

// Get returns a live handle by id.
func (pm *ProcessManager) Get(id ProcessID) (*Handle, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	h, ok := pm.handles[id]
	return h, ok
}

// Active returns the handles whose exit has not been observed yet, oldest
// first.
func (pm *ProcessManager) Active() []*Handle {
	pm.mu.Lock()
	active := make([]*Handle, 0, len(pm.handles))
	for _, h := range pm.handles {
		active = append(active, h)
	}
	pm.mu.Unlock()

	sort.Slice(active, func(i, j int) bool {
		return active[i].StartedAt.Before(active[j].StartedAt)
	})
	return active
}

// Shutdown terminates every live process.
func (pm *ProcessManager) Shutdown(ctx context.Context) error {
	pm.logger.Info("process manager shutting down")

	var errs []error
	for _, h := range pm.Active() {
		if err := pm.Terminate(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// HealthCheck summarizes the processes owned by the manager
type HealthCheck struct {
	RunningProcesses     int
	TerminatingProcesses int
	Processes            map[ProcessID]ProcessHealth
}

// ProcessHealth describes one live process
type ProcessHealth struct {
	State  ProcessState
	PID    int
	Port   int
	Uptime time.Duration
}

// Health returns the current health status of the process manager
func (pm *ProcessManager) Health() HealthCheck {
	health := HealthCheck{
		Processes: make(map[ProcessID]ProcessHealth),
	}

	for _, h := range pm.Active() {
		state := h.State()
		switch state {
		case ProcessStateRunning:
			health.RunningProcesses++
		case ProcessStateTerminating:
			health.TerminatingProcesses++
		}

		health.Processes[h.ID] = ProcessHealth{
			State:  state,
			PID:    h.PID(),
			Port:   h.Port,
			Uptime: h.Uptime(),
		}
	}

	return health
}
