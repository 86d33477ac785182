package capture

import "fmt"

// Result is the outcome of a capture attempt: either Captured or Failed.
type Result interface {
	isResult()
	String() string
}

// Captured means the artifact was written to Path.
type Captured struct {
	Path string
}

func (Captured) isResult() {}

func (c Captured) String() string {
	return "captured " + c.Path
}

// FailureKind classifies why a capture failed.
type FailureKind int

const (
	// FailureLaunch - the capture process could not be started
	FailureLaunch FailureKind = iota
	// FailureTimeout - the capture process exceeded the parent's deadline
	FailureTimeout
	// FailureCancelled - the caller's context ended the capture
	FailureCancelled
	// FailureExit - the capture process exited non-zero
	FailureExit
	// FailureNoMarker - exit 0 without the success marker
	FailureNoMarker
	// FailureNoArtifact - success reported but the output file is missing
	FailureNoArtifact
)

func (k FailureKind) String() string {
	switch k {
	case FailureLaunch:
		return "launch"
	case FailureTimeout:
		return "timeout"
	case FailureCancelled:
		return "cancelled"
	case FailureExit:
		return "exit"
	case FailureNoMarker:
		return "no_marker"
	case FailureNoArtifact:
		return "no_artifact"
	default:
		return "unknown"
	}
}

// Failed carries a human-readable reason.
type Failed struct {
	Kind   FailureKind
	Reason string
}

func (Failed) isResult() {}

func (f Failed) String() string {
	return fmt.Sprintf("capture failed (%s): %s", f.Kind, f.Reason)
}
