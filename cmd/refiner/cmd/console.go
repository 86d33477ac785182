package cmd

import (
	"context"
	"fmt"

	"github.com/rskrny/aipromptai/internal/ui"
	"github.com/rskrny/aipromptai/pkg/events"
)

// consolePublisher prints lifecycle events as they happen.
type consolePublisher struct {
	ui *ui.UI
}

func (c consolePublisher) Publish(_ context.Context, e events.Event) error {
	switch e.Type {
	case events.StateEntered:
		c.ui.Subtle(fmt.Sprintf("[%d] %s", e.Ordinal, e.State))
	case events.DeploymentStarted:
		c.ui.Info(fmt.Sprintf("Deployed %s at %s", e.Metadata["deployment"], e.Message))
	case events.DeploymentReady:
		c.ui.Success("Server is answering at " + e.Message)
	case events.DeploymentUnready:
		c.ui.Error("Server did not become ready")
	case events.CaptureSucceeded:
		c.ui.Success("Screenshot saved to " + e.Message)
	case events.CaptureFailed:
		c.ui.Warning("Screenshot failed: " + e.Message)
	case events.IterationRecorded:
		c.ui.Subtle(fmt.Sprintf("Iteration %d recorded: %s", e.Ordinal, e.Metadata["deploy_outcome"]))
	}
	return nil
}

func (consolePublisher) Close() error { return nil }
