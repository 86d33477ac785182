package refiner

import (
	"context"
	"fmt"
	"time"

	"github.com/rskrny/aipromptai/pkg/capture"
	"github.com/rskrny/aipromptai/pkg/health"
	"github.com/rskrny/aipromptai/pkg/procmgr"
)

// ReviewRequest is everything the reviewer sees for one pass.
type ReviewRequest struct {
	Goal string

	// Program is the current program, empty on the first pass
	Program string

	Ordinal int

	// History holds the completed iterations in ordinal order
	History []Iteration

	// ArtifactPath is the latest screenshot, empty when there is none
	ArtifactPath string
}

// LastIteration returns the most recent completed iteration.
func (r ReviewRequest) LastIteration() (Iteration, bool) {
	if len(r.History) == 0 {
		return Iteration{}, false
	}
	return r.History[len(r.History)-1], true
}

// Reviewer critiques the current state and returns either an instruction
// for the coder or an approval.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (string, error)
}

// Turn is one earlier exchange with the coder.
type Turn struct {
	Instruction string
	Code        string
}

// Coder turns an instruction into a complete program.
type Coder interface {
	Write(ctx context.Context, instruction string, turns []Turn) (string, error)
}

// DependencyInstaller installs whatever program needs and describes what it
// did. It never fails; problems belong in the summary.
type DependencyInstaller interface {
	Install(ctx context.Context, program string) string
}

// DependencyReporter is implemented by installers that can also name the
// packages that failed to install.
type DependencyReporter interface {
	InstallWithReport(ctx context.Context, program string) (summary string, failed []string)
}

// PortAllocator hands out a port for the next deployment.
type PortAllocator interface {
	Allocate(ctx context.Context) (int, error)
}

// Process is a running deployment as seen by the controller.
type Process interface {
	Exited() bool
}

// Lifecycle starts and stops deployments.
type Lifecycle interface {
	Start(ctx context.Context, spec procmgr.Spec) (Process, error)
	Terminate(ctx context.Context, p Process) error
	DrainOutput(p Process, timeout time.Duration) procmgr.Output
}

// Prober waits for an address to answer HTTP.
type Prober interface {
	Probe(ctx context.Context, address string, deadline time.Duration) health.Result
}

// Capturer screenshots an address into outputPath.
type Capturer interface {
	Capture(ctx context.Context, address, outputPath string, timeout time.Duration) capture.Result
}

// RunInfo describes a run when it begins.
type RunInfo struct {
	RunID         string
	Goal          string
	MaxIterations int
	StartedAt     time.Time
}

// Recorder persists runs and their iterations.
type Recorder interface {
	BeginRun(ctx context.Context, run RunInfo) error
	RecordIteration(ctx context.Context, runID string, it Iteration) error
	FinishRun(ctx context.Context, runID string, outcome State, finishedAt time.Time) error
}

// Archiver keeps a per-iteration copy of the artifact and returns where it
// was stored.
type Archiver interface {
	Archive(ctx context.Context, runID string, ordinal int, path string) (string, error)
}

// NewLifecycle exposes a ProcessManager as a Lifecycle.
func NewLifecycle(pm *procmgr.ProcessManager) Lifecycle {
	return managedLifecycle{pm: pm}
}

type managedLifecycle struct {
	pm *procmgr.ProcessManager
}

func (l managedLifecycle) Start(ctx context.Context, spec procmgr.Spec) (Process, error) {
	h, err := l.pm.Start(ctx, spec)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (l managedLifecycle) Terminate(ctx context.Context, p Process) error {
	h, ok := p.(*procmgr.Handle)
	if !ok {
		return fmt.Errorf("process %T not owned by this manager", p)
	}
	return l.pm.Terminate(ctx, h)
}

func (l managedLifecycle) DrainOutput(p Process, timeout time.Duration) procmgr.Output {
	h, ok := p.(*procmgr.Handle)
	if !ok {
		return procmgr.Output{}
	}
	return l.pm.DrainOutput(h, timeout)
}

// noopInstaller is used when no installer is configured.
type noopInstaller struct{}

func (noopInstaller) Install(context.Context, string) string {
	return "Dependency installation disabled."
}
