// Package events publishes refinement lifecycle events so that an external
// UI or operator tooling can follow a run without polling the history store.
package events

import (
	"context"
	"errors"
	"time"
)

// Type names a lifecycle event. It doubles as the subject suffix.
type Type string

const (
	RunStarted        Type = "run.started"
	StateEntered      Type = "state.entered"
	DeploymentStarted Type = "deployment.started"
	DeploymentReady   Type = "deployment.ready"
	DeploymentUnready Type = "deployment.unready"
	CaptureSucceeded  Type = "capture.succeeded"
	CaptureFailed     Type = "capture.failed"
	IterationRecorded Type = "iteration.recorded"
	RunFinished       Type = "run.finished"
)

// Event is a single lifecycle notification.
type Event struct {
	Type     Type              `json:"type"`
	RunID    string            `json:"run_id"`
	Ordinal  int               `json:"ordinal,omitempty"`
	State    string            `json:"state,omitempty"`
	Message  string            `json:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Time     time.Time         `json:"time"`
}

// Publisher delivers events. Implementations must be safe for use from the
// controller goroutine while Close runs during shutdown.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// Publish does nothing
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Close does nothing
func (NoopPublisher) Close() error { return nil }

// Multi delivers every event to each publisher in order. A failing
// publisher does not stop delivery to the rest.
type Multi []Publisher

// Publish delivers event to all publishers
func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all publishers
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Publisher = NoopPublisher{}
	_ Publisher = Multi(nil)
)
