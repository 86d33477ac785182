package procmgr

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ProcessState represents the lifecycle state of a managed process
type ProcessState int

const (
	// ProcessStateStarting - process is being launched
	ProcessStateStarting ProcessState = iota
	// ProcessStateRunning - process launched and has not exited
	ProcessStateRunning
	// ProcessStateTerminating - termination requested, exit not yet observed
	ProcessStateTerminating
	// ProcessStateExited - exit observed, output pipes closed
	ProcessStateExited
)

// String returns the string representation of a ProcessState
func (ps ProcessState) String() string {
	switch ps {
	case ProcessStateStarting:
		return "Starting"
	case ProcessStateRunning:
		return "Running"
	case ProcessStateTerminating:
		return "Terminating"
	case ProcessStateExited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// ProcessID uniquely identifies a managed process
type ProcessID string

// DefaultPortEnv is the environment variable a deployed program reads its
// listening port from.
const DefaultPortEnv = "PORT"

// Spec describes a program to launch.
type Spec struct {
	// Program is the file to run. When Interpreter is empty it is executed
	// directly, otherwise it is passed as the first interpreter argument.
	Program string

	// Interpreter is the command prefix used to run Program (e.g. "python3").
	Interpreter []string

	// Args are appended after Program.
	Args []string

	// Port is exported to the child through PortEnv.
	Port int

	// PortEnv names the port variable. Defaults to DefaultPortEnv.
	PortEnv string

	// Dir is the working directory. Defaults to the directory of Program.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the inherited environment.
	Env []string
}

func (s Spec) argv() []string {
	argv := make([]string, 0, len(s.Interpreter)+1+len(s.Args))
	argv = append(argv, s.Interpreter...)
	argv = append(argv, s.Program)
	argv = append(argv, s.Args...)
	return argv
}

func (s Spec) environ() []string {
	portEnv := s.PortEnv
	if portEnv == "" {
		portEnv = DefaultPortEnv
	}
	env := os.Environ()
	env = append(env, s.Env...)
	if s.Port > 0 {
		env = append(env, fmt.Sprintf("%s=%d", portEnv, s.Port))
	}
	return env
}

// Output is a snapshot of a process's captured streams.
type Output struct {
	Stdout string
	Stderr string

	// Complete is true when the snapshot was taken after exit was observed.
	Complete bool

	// Truncated is true when either stream exceeded the buffer limit and
	// its oldest bytes were dropped.
	Truncated bool
}

// StartError reports that a program could not be launched at all. It is
// distinct from a process that launched and then crashed.
type StartError struct {
	Program string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Program, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// Handle is a launched child process. Handles are created by
// ProcessManager.Start and are safe for concurrent use.
type Handle struct {
	ID        ProcessID
	Port      int
	Spec      Spec
	StartedAt time.Time

	cmd    *exec.Cmd
	stdout *TailBuffer
	stderr *TailBuffer
	done   chan struct{}

	// serializes Terminate calls
	termMu sync.Mutex

	mu            sync.Mutex
	runningAt     time.Time
	terminatingAt time.Time
	exitedAt      time.Time
	exitCode      int
	waitErr       error
}

// PID returns the operating system process id.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// State returns the current state of the process
func (h *Handle) State() ProcessState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stateLocked()
}

func (h *Handle) stateLocked() ProcessState {
	if !h.exitedAt.IsZero() {
		return ProcessStateExited
	}
	if !h.terminatingAt.IsZero() {
		return ProcessStateTerminating
	}
	if !h.runningAt.IsZero() {
		return ProcessStateRunning
	}
	return ProcessStateStarting
}

// Done is closed once the process exit has been observed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process exit has been observed.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit status, or -1 while running or when the process
// was ended by a signal.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exitedAt.IsZero() {
		return -1
	}
	return h.exitCode
}

// ExitErr returns the error reported by wait, if any.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// Uptime returns how long the process ran, or has been running.
func (h *Handle) Uptime() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exitedAt.IsZero() {
		return time.Since(h.StartedAt)
	}
	return h.exitedAt.Sub(h.StartedAt)
}

func (h *Handle) snapshot() Output {
	return Output{
		Stdout:    h.stdout.String(),
		Stderr:    h.stderr.String(),
		Complete:  h.Exited(),
		Truncated: h.stdout.Dropped() > 0 || h.stderr.Dropped() > 0,
	}
}
