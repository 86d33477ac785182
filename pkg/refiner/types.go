package refiner

import (
	"fmt"
	"time"
)

// State is a step of the refinement state machine
type State int

const (
	// StateReviewing - reviewer inspects goal, program, history and artifact
	StateReviewing State = iota
	// StateCoding - coder turns the instruction into a program
	StateCoding
	// StateInstallingDeps - best-effort dependency installation
	StateInstallingDeps
	// StateDeploying - program written, port allocated, previous deployment replaced
	StateDeploying
	// StateHealthChecking - waiting for the deployment to answer HTTP
	StateHealthChecking
	// StateCapturing - isolated screenshot of the ready deployment
	StateCapturing
	// StateRecording - iteration frozen and appended to history
	StateRecording
	// StateApproved - reviewer approved the program
	StateApproved
	// StateExhausted - iteration budget spent without approval
	StateExhausted
	// StateCancelled - the run context ended
	StateCancelled
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateReviewing:
		return "Reviewing"
	case StateCoding:
		return "Coding"
	case StateInstallingDeps:
		return "InstallingDeps"
	case StateDeploying:
		return "Deploying"
	case StateHealthChecking:
		return "HealthChecking"
	case StateCapturing:
		return "Capturing"
	case StateRecording:
		return "Recording"
	case StateApproved:
		return "Approved"
	case StateExhausted:
		return "Exhausted"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the run ends in s.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateExhausted || s == StateCancelled
}

// DeployOutcome is how the deployment of one iteration ended
type DeployOutcome int

const (
	// DeployOutcomeSkipped - no program was deployed (review or coding failed)
	DeployOutcomeSkipped DeployOutcome = iota
	// DeployOutcomeSucceeded - the deployment answered HTTP
	DeployOutcomeSucceeded
	// DeployOutcomeStartFailed - the program could not be launched
	DeployOutcomeStartFailed
	// DeployOutcomeAllocationFailed - no port could be allocated
	DeployOutcomeAllocationFailed
	// DeployOutcomeUnready - launched but never answered before the deadline
	DeployOutcomeUnready
)

// String returns the string representation of a DeployOutcome
func (o DeployOutcome) String() string {
	switch o {
	case DeployOutcomeSkipped:
		return "Skipped"
	case DeployOutcomeSucceeded:
		return "Succeeded"
	case DeployOutcomeStartFailed:
		return "StartFailed"
	case DeployOutcomeAllocationFailed:
		return "AllocationFailed"
	case DeployOutcomeUnready:
		return "Unready"
	default:
		return "Unknown"
	}
}

// ParseDeployOutcome is the inverse of DeployOutcome.String.
func ParseDeployOutcome(s string) DeployOutcome {
	for o := DeployOutcomeSkipped; o <= DeployOutcomeUnready; o++ {
		if o.String() == s {
			return o
		}
	}
	return DeployOutcomeSkipped
}

// Iteration is the frozen record of one full cycle.
type Iteration struct {
	Ordinal           int
	Instruction       string
	Program           string
	DependencySummary string
	Deployment        DeployOutcome
	Port              int

	// ArtifactPath is empty when no screenshot was captured
	ArtifactPath string

	// ArchivedAt is where the archiver stored its copy of the artifact
	ArchivedAt string

	CaptureFailure string
	CrashReport    string

	// Failures holds one message per failure class seen this iteration
	Failures []string

	StartedAt  time.Time
	FinishedAt time.Time
}

// HasArtifact reports whether the iteration produced a screenshot.
func (it Iteration) HasArtifact() bool {
	return it.ArtifactPath != ""
}

// Report is the system feedback handed to the next review: the crash report,
// the capture failure and any other failures, in that order.
func (it Iteration) Report() string {
	var report string
	add := func(s string) {
		if s == "" {
			return
		}
		if report != "" {
			report += "\n"
		}
		report += s
	}

	add(it.CrashReport)
	add(it.CaptureFailure)
	for _, f := range it.Failures {
		if f != it.CrashReport && f != it.CaptureFailure {
			add(f)
		}
	}
	return report
}

func (it Iteration) clone() Iteration {
	it.Failures = append([]string(nil), it.Failures...)
	return it
}

// History is the ordered, append-only log of iterations of one run.
type History struct {
	records []Iteration
}

// Append adds it as the next record. The ordinal must follow the last one.
func (h *History) Append(it Iteration) error {
	want := len(h.records) + 1
	if it.Ordinal != want {
		return fmt.Errorf("iteration ordinal %d out of order, expected %d", it.Ordinal, want)
	}
	h.records = append(h.records, it.clone())
	return nil
}

// Len returns the number of recorded iterations.
func (h *History) Len() int {
	return len(h.records)
}

// At returns the i-th record (0-based).
func (h *History) At(i int) Iteration {
	return h.records[i].clone()
}

// Records returns a copy of all records in ordinal order.
func (h *History) Records() []Iteration {
	out := make([]Iteration, len(h.records))
	for i, r := range h.records {
		out[i] = r.clone()
	}
	return out
}

// Latest returns the most recent record, if any.
func (h *History) Latest() (Iteration, bool) {
	if len(h.records) == 0 {
		return Iteration{}, false
	}
	return h.records[len(h.records)-1].clone(), true
}

// Outcome summarizes a finished run.
type Outcome struct {
	RunID      string
	State      State
	Iterations []Iteration

	// ApprovedAt is the ordinal of the approving review, 0 unless approved
	ApprovedAt int

	// LiveURL is the address of the deployment left running, if any
	LiveURL string

	// Program is the last generated program
	Program string
}
