package refiner

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rskrny/aipromptai/pkg/procmgr"
)

// Deployment is the single live instance of a generated program.
type Deployment struct {
	Ordinal int
	Process Process
	Port    int
	URL     string
}

// Label identifies the deployment in logs and errors.
func (d *Deployment) Label() string {
	if h, ok := d.Process.(*procmgr.Handle); ok {
		return string(h.ID)
	}
	return fmt.Sprintf("iteration-%d", d.Ordinal)
}

// Session carries the state of one refinement run between passes. It is
// owned by a single controller goroutine.
type Session struct {
	RunID string
	Goal  string

	state      State
	ordinal    int
	history    History
	program    string
	turns      []Turn
	deployment *Deployment
	approvedAt int
}

// NewSession creates a session for goal with a fresh run id.
func NewSession(goal string) *Session {
	return &Session{
		RunID:   uuid.NewString(),
		Goal:    goal,
		state:   StateReviewing,
		ordinal: 1,
	}
}

// State returns the state the session is in, or ended in.
func (s *Session) State() State {
	return s.state
}

// Ordinal returns the iteration currently in progress.
func (s *Session) Ordinal() int {
	return s.ordinal
}

// History returns a copy of the recorded iterations.
func (s *Session) History() []Iteration {
	return s.history.Records()
}

// Program returns the latest generated program, empty before the first.
func (s *Session) Program() string {
	return s.program
}

// Deployment returns the active deployment, or nil.
func (s *Session) Deployment() *Deployment {
	return s.deployment
}

func (s *Session) latestArtifact() string {
	if it, ok := s.history.Latest(); ok {
		return it.ArtifactPath
	}
	return ""
}

func (s *Session) turnsCopy() []Turn {
	return append([]Turn(nil), s.turns...)
}

// reset discards all progress and assigns a new run id. The deployment must
// already have been terminated.
func (s *Session) reset() {
	*s = *NewSession(s.Goal)
}
