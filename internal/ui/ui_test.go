package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rskrny/aipromptai/pkg/refiner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewWithWriters(&out, &errOut), &out, &errOut
}

func TestUI_Messages(t *testing.T) {
	ui, out, errOut := newTestUI()

	ui.Success("deployed")
	ui.Info("probing")
	ui.Error("crashed")

	assert.Contains(t, out.String(), "deployed")
	assert.Contains(t, out.String(), "probing")
	assert.NotContains(t, out.String(), "crashed")
	assert.Contains(t, errOut.String(), "crashed")
}

func TestUI_FailureShowsSuggestion(t *testing.T) {
	ui, _, errOut := newTestUI()

	ui.Failure(refiner.ErrPortAllocationFailed(errors.New("no ports")))
	assert.Contains(t, errOut.String(), "PORT_ALLOCATION_FAILED")
	assert.Contains(t, errOut.String(), "ephemeral port exhaustion")

	errOut.Reset()
	ui.Failure(errors.New("plain"))
	assert.Contains(t, errOut.String(), "plain")
}

func TestUI_IterationPrintsReport(t *testing.T) {
	ui, out, errOut := newTestUI()

	ui.Iteration(refiner.Iteration{
		Ordinal:     2,
		Deployment:  refiner.DeployOutcomeUnready,
		CrashReport: "Server failed to start on port 41000.\nLogs:\nTraceback",
	})

	assert.Contains(t, errOut.String(), "Iteration 2")
	assert.Contains(t, out.String(), "Traceback")
}

func TestTable_Render(t *testing.T) {
	ui, out, _ := newTestUI()

	table := ui.NewTable("ORDINAL", "DEPLOYMENT")
	table.AddRow("1", "Unready")
	table.AddRow("2", "Succeeded")
	table.AddRow("3")
	table.Render()

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "ORDINAL")
	assert.Contains(t, lines[3], "Succeeded")
}

func TestTimestamp(t *testing.T) {
	assert.Equal(t, "-", Timestamp(time.Time{}))
	assert.NotEqual(t, "-", Timestamp(time.Now()))
}

func TestUI_IterationOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		it      refiner.Iteration
		wantOut string
		wantErr string
	}{
		{"captured", refiner.Iteration{Ordinal: 1, Deployment: refiner.DeployOutcomeSucceeded, ArtifactPath: "shot.png"}, "screenshot captured", ""},
		{"no screenshot", refiner.Iteration{Ordinal: 1, Deployment: refiner.DeployOutcomeSucceeded}, "no screenshot", ""},
		{"skipped", refiner.Iteration{Ordinal: 3, Deployment: refiner.DeployOutcomeSkipped}, "Iteration 3", ""},
		{"start failed", refiner.Iteration{Ordinal: 4, Deployment: refiner.DeployOutcomeStartFailed}, "", "Iteration 4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ui, out, errOut := newTestUI()
			ui.Iteration(tt.it)
			if tt.wantOut != "" {
				assert.Contains(t, out.String(), tt.wantOut)
			}
			if tt.wantErr != "" {
				assert.Contains(t, errOut.String(), tt.wantErr)
			}
		})
	}
}

func TestUI_Outcome(t *testing.T) {
	ui, out, _ := newTestUI()
	ui.Outcome(refiner.Outcome{
		RunID:      "run-1",
		State:      refiner.StateApproved,
		Iterations: make([]refiner.Iteration, 2),
		LiveURL:    "http://localhost:41000",
	})
	assert.Contains(t, out.String(), "Approved after 2 iteration(s)")
	assert.Contains(t, out.String(), "http://localhost:41000")

	out.Reset()
	ui.Outcome(refiner.Outcome{RunID: "run-2", State: refiner.StateExhausted, Iterations: make([]refiner.Iteration, 3)})
	assert.Contains(t, out.String(), "Iteration limit reached after 3 iteration(s)")
	assert.NotContains(t, out.String(), "live at")

	out.Reset()
	ui.Outcome(refiner.Outcome{RunID: "run-3", State: refiner.StateCancelled})
	assert.Contains(t, out.String(), "cancelled")
}
