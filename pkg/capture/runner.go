// Package capture screenshots a deployed program from a separate, short-lived
// process. The child owns the headless browser; this package only launches it
// under a hard timeout and decodes its exit status and output into a Result.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rskrny/aipromptai/pkg/procmgr"
)

const (
	// DefaultTimeout is the parent-side bound on one capture.
	DefaultTimeout = 30 * time.Second
	// SuccessMarker is printed by the child as its last stdout line on success.
	SuccessMarker = "SUCCESS"
	// DefaultCommand is the capture child binary.
	DefaultCommand = "aipromptai-snapshot"

	outputLimit = 64 << 10
	tailLines   = 20
)

// Runner launches the capture child.
type Runner struct {
	// Command is the child argv prefix; the address and output path are
	// appended as the two positional arguments.
	Command []string

	// Env holds extra KEY=VALUE pairs for the child.
	Env []string

	// Timeout is used when Capture is called with a non-positive timeout.
	Timeout time.Duration

	logger *slog.Logger
}

// NewRunner creates a Runner for command. An empty command uses DefaultCommand.
func NewRunner(command []string, logger *slog.Logger) *Runner {
	if len(command) == 0 {
		command = []string{DefaultCommand}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Command: command,
		Timeout: DefaultTimeout,
		logger:  logger.With("component", "capture"),
	}
}

// Capture runs the child against address, writing the screenshot to
// outputPath. Any stale file at outputPath is removed first so a Captured
// result always refers to this attempt. The child is killed, together with
// any browser processes it spawned, once timeout elapses.
func (r *Runner) Capture(ctx context.Context, address, outputPath string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = r.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Failed{Kind: FailureLaunch, Reason: fmt.Sprintf("remove stale artifact: %v", err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append(append([]string(nil), r.Command...), address, outputPath)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), r.Env...)
	procmgr.ConfigureGroup(cmd)
	cmd.WaitDelay = 2 * time.Second

	stdout := procmgr.NewTailBuffer(outputLimit)
	stderr := procmgr.NewTailBuffer(outputLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	res := r.decode(ctx, runCtx, err, stdout.String(), stderr.String(), outputPath, timeout)
	r.logger.Info("capture finished",
		"address", address,
		"result", res.String(),
		"elapsed", elapsed.Round(time.Millisecond))
	return res
}

func (r *Runner) decode(parent, runCtx context.Context, runErr error, stdout, stderr, outputPath string, timeout time.Duration) Result {
	if parent.Err() != nil {
		return Failed{Kind: FailureCancelled, Reason: fmt.Sprintf("capture cancelled: %v", parent.Err())}
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return Failed{Kind: FailureTimeout, Reason: fmt.Sprintf("capture timed out after %v%s", timeout, detail(stdout, stderr))}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return Failed{Kind: FailureExit, Reason: fmt.Sprintf("capture process exited with status %d%s", exitErr.ExitCode(), detail(stdout, stderr))}
		}
		if !errors.Is(runErr, exec.ErrWaitDelay) {
			return Failed{Kind: FailureLaunch, Reason: fmt.Sprintf("start capture process: %v", runErr)}
		}
	}

	if lastLine(stdout) != SuccessMarker {
		return Failed{Kind: FailureNoMarker, Reason: "capture process exited 0 without reporting success" + detail(stdout, stderr)}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return Failed{Kind: FailureNoArtifact, Reason: fmt.Sprintf("capture reported success but artifact is missing: %v", err)}
	}
	if info.Size() == 0 {
		return Failed{Kind: FailureNoArtifact, Reason: "capture reported success but artifact is empty"}
	}

	return Captured{Path: outputPath}
}

// lastLine returns the final non-empty line of s, trimmed.
func lastLine(s string) string {
	var last string
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 4096), outputLimit)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	return last
}

func detail(stdout, stderr string) string {
	var b strings.Builder
	if s := tail(stdout); s != "" {
		b.WriteString("\nSTDOUT: ")
		b.WriteString(s)
	}
	if s := tail(stderr); s != "" {
		b.WriteString("\nSTDERR: ")
		b.WriteString(s)
	}
	return b.String()
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	return strings.Join(lines, "\n")
}
