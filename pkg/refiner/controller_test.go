package refiner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskrny/aipromptai/pkg/capture"
	"github.com/rskrny/aipromptai/pkg/events"
	"github.com/rskrny/aipromptai/pkg/health"
	"github.com/rskrny/aipromptai/pkg/procmgr"
)

const helperEnv = "REFINER_TEST_HELPER"

// TestMain lets the test binary stand in for a generated program. The
// program file path arrives as the first argument and is ignored.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "crash":
		fmt.Fprintln(os.Stderr, "Traceback (most recent call last):")
		fmt.Fprintln(os.Stderr, "ModuleNotFoundError: No module named 'flask'")
		os.Exit(1)
	case "serve":
		http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "hello")
		})
		if err := http.ListenAndServe(":"+os.Getenv("PORT"), nil); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	os.Exit(2)
}

type scriptedReviewer struct {
	mu       sync.Mutex
	requests []ReviewRequest
	respond  func(req ReviewRequest) (string, error)
}

func (r *scriptedReviewer) Review(ctx context.Context, req ReviewRequest) (string, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.respond != nil {
		return r.respond(req)
	}
	return fmt.Sprintf("improve step %d", req.Ordinal), nil
}

func (r *scriptedReviewer) request(i int) ReviewRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[i]
}

type countingCoder struct {
	calls int
	turns [][]Turn
	fail  func(call int) error
}

func (c *countingCoder) Write(ctx context.Context, instruction string, turns []Turn) (string, error) {
	c.calls++
	c.turns = append(c.turns, turns)
	if c.fail != nil {
		if err := c.fail(c.calls); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("# program %d\n# %s\n", c.calls, instruction), nil
}

type fakeProcess struct {
	id   int
	done chan struct{}
}

func (p *fakeProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// fakeLifecycle records starts and terminations and flags any start that
// happens while another process is still alive.
type fakeLifecycle struct {
	mu           sync.Mutex
	live         map[int]*fakeProcess
	starts       []procmgr.Spec
	terminations int
	violations   int
	terminateErr error
	output       procmgr.Output
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{live: make(map[int]*fakeProcess)}
}

func (l *fakeLifecycle) Start(ctx context.Context, spec procmgr.Spec) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.live) > 0 {
		l.violations++
	}
	l.starts = append(l.starts, spec)
	p := &fakeProcess{id: len(l.starts), done: make(chan struct{})}
	l.live[p.id] = p
	return p, nil
}

func (l *fakeLifecycle) Terminate(ctx context.Context, p Process) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.terminateErr != nil {
		return l.terminateErr
	}
	fp := p.(*fakeProcess)
	if !fp.Exited() {
		close(fp.done)
	}
	delete(l.live, fp.id)
	l.terminations++
	return nil
}

func (l *fakeLifecycle) DrainOutput(p Process, timeout time.Duration) procmgr.Output {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.output
}

func (l *fakeLifecycle) liveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

type fakePorts struct {
	next int
	fail func(call int) error
	call int
}

func (p *fakePorts) Allocate(ctx context.Context) (int, error) {
	p.call++
	if p.fail != nil {
		if err := p.fail(p.call); err != nil {
			return 0, err
		}
	}
	p.next++
	return 40000 + p.next, nil
}

type fakeProber struct {
	ready     func(address string) bool
	addresses []string
}

func (p *fakeProber) Probe(ctx context.Context, address string, deadline time.Duration) health.Result {
	p.addresses = append(p.addresses, address)
	if p.ready == nil || p.ready(address) {
		return health.Result{Status: health.Ready, Attempts: 1, LastStatusCode: 200}
	}
	return health.Result{Status: health.Unready, Attempts: 3}
}

type fakeCapturer struct {
	addresses []string
	fail      func(call int) bool
}

func (c *fakeCapturer) Capture(ctx context.Context, address, outputPath string, timeout time.Duration) capture.Result {
	c.addresses = append(c.addresses, address)
	if c.fail != nil && c.fail(len(c.addresses)) {
		return capture.Failed{Kind: capture.FailureExit, Reason: "exit status 1: browser crashed"}
	}
	if err := os.WriteFile(outputPath, []byte("png"), 0o644); err != nil {
		return capture.Failed{Kind: capture.FailureNoArtifact, Reason: err.Error()}
	}
	return capture.Captured{Path: outputPath}
}

type harness struct {
	cfg       Config
	reviewer  *scriptedReviewer
	coder     *countingCoder
	lifecycle *fakeLifecycle
	ports     *fakePorts
	prober    *fakeProber
	capturer  *fakeCapturer
}

func newHarness(t *testing.T, maxIterations int) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxIterations = maxIterations
	cfg.Workspace = t.TempDir()
	return &harness{
		cfg:       cfg,
		reviewer:  &scriptedReviewer{},
		coder:     &countingCoder{},
		lifecycle: newFakeLifecycle(),
		ports:     &fakePorts{},
		prober:    &fakeProber{},
		capturer:  &fakeCapturer{},
	}
}

func (h *harness) controller(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	base := []Option{
		WithLifecycle(h.lifecycle),
		WithPortAllocator(h.ports),
		WithProber(h.prober),
		WithCapturer(h.capturer),
	}
	c, err := NewController(h.cfg, h.reviewer, h.coder, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestController_SingleActiveDeployment(t *testing.T) {
	h := newHarness(t, 4)
	c := h.controller(t)
	s := NewSession("a todo app")

	out, err := c.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, out.State)
	assert.Len(t, h.lifecycle.starts, 4)
	assert.Equal(t, 0, h.lifecycle.violations, "a deployment started while another was alive")
	assert.Equal(t, 3, h.lifecycle.terminations)
	assert.Equal(t, 1, h.lifecycle.liveCount(), "final deployment stays live")
	assert.Equal(t, "http://localhost:40004", out.LiveURL)

	require.NoError(t, c.Close(context.Background(), s))
	assert.Equal(t, 0, h.lifecycle.liveCount())
	assert.Nil(t, s.Deployment())

	// every capture targeted the deployment probed in the same pass
	assert.Equal(t, h.prober.addresses, h.capturer.addresses)
}

func TestController_ApprovalOnSecondReview(t *testing.T) {
	h := newHarness(t, 5)
	h.reviewer.respond = func(req ReviewRequest) (string, error) {
		if req.Ordinal == 2 {
			return "APPROVED", nil
		}
		return "build the first version", nil
	}
	c := h.controller(t)

	out, err := c.Run(context.Background(), NewSession("landing page"))
	require.NoError(t, err)

	assert.Equal(t, StateApproved, out.State)
	assert.Equal(t, 2, out.ApprovedAt)
	assert.Equal(t, 1, h.coder.calls)
	require.Len(t, out.Iterations, 1)
	assert.Equal(t, "build the first version", out.Iterations[0].Instruction)
	assert.Equal(t, out.Iterations[0].Program, out.Program)
}

func TestController_ExhaustsWithOrderedHistory(t *testing.T) {
	h := newHarness(t, 3)
	c := h.controller(t)

	out, err := c.Run(context.Background(), NewSession("calculator"))
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, out.State)
	require.Len(t, out.Iterations, 3)
	for i, it := range out.Iterations {
		assert.Equal(t, i+1, it.Ordinal)
		assert.Equal(t, DeployOutcomeSucceeded, it.Deployment)
		assert.Equal(t, h.cfg.ArtifactPath(), it.ArtifactPath)
		assert.Empty(t, it.Failures)
		assert.False(t, it.FinishedAt.Before(it.StartedAt))
	}

	first := h.reviewer.request(0)
	assert.Empty(t, first.Program, "first review has no program")
	assert.Empty(t, first.ArtifactPath, "first review has no artifact")
	assert.Empty(t, first.History)

	second := h.reviewer.request(1)
	assert.Equal(t, out.Iterations[0].Program, second.Program)
	assert.Equal(t, h.cfg.ArtifactPath(), second.ArtifactPath)
	assert.Len(t, second.History, 1)

	// coder sees every earlier exchange
	require.Len(t, h.coder.turns, 3)
	assert.Empty(t, h.coder.turns[0])
	assert.Len(t, h.coder.turns[2], 2)
	assert.Equal(t, "improve step 1", h.coder.turns[2][0].Instruction)

	written, err := os.ReadFile(h.cfg.ProgramPath())
	require.NoError(t, err)
	assert.Equal(t, out.Program, string(written))
}

func TestController_CodingFailureIsRecorded(t *testing.T) {
	h := newHarness(t, 2)
	h.coder.fail = func(call int) error {
		if call == 1 {
			return errors.New("rate limited")
		}
		return nil
	}
	c := h.controller(t)

	out, err := c.Run(context.Background(), NewSession("blog"))
	require.NoError(t, err)

	require.Len(t, out.Iterations, 2)
	first := out.Iterations[0]
	assert.Equal(t, DeployOutcomeSkipped, first.Deployment)
	assert.Equal(t, []string{"Code generation failed: rate limited"}, first.Failures)
	assert.Empty(t, first.Program)

	assert.Equal(t, DeployOutcomeSucceeded, out.Iterations[1].Deployment)
	assert.Len(t, h.lifecycle.starts, 1)
}

func TestController_AllocationFailureStillStopsPrevious(t *testing.T) {
	h := newHarness(t, 2)
	h.ports.fail = func(call int) error {
		if call == 2 {
			return errors.New("no ports left")
		}
		return nil
	}
	c := h.controller(t)

	out, err := c.Run(context.Background(), NewSession("shop"))
	require.NoError(t, err)

	require.Len(t, out.Iterations, 2)
	second := out.Iterations[1]
	assert.Equal(t, DeployOutcomeAllocationFailed, second.Deployment)
	require.Len(t, second.Failures, 1)
	assert.Contains(t, second.Failures[0], "Port allocation failed")
	assert.Contains(t, second.Failures[0], "no ports left")

	assert.Equal(t, 0, h.lifecycle.liveCount(), "previous deployment terminated")
	assert.Empty(t, out.LiveURL)
	assert.Len(t, h.capturer.addresses, 1)
}

func TestController_TerminationFailureBlocksStart(t *testing.T) {
	h := newHarness(t, 2)
	c := h.controller(t)
	s := NewSession("game")

	h.reviewer.respond = func(req ReviewRequest) (string, error) {
		if req.Ordinal == 2 {
			h.lifecycle.mu.Lock()
			h.lifecycle.terminateErr = errors.New("process did not exit")
			h.lifecycle.mu.Unlock()
		}
		return "next", nil
	}

	out, err := c.Run(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, out.Iterations, 2)
	second := out.Iterations[1]
	assert.Equal(t, DeployOutcomeStartFailed, second.Deployment)
	require.Len(t, second.Failures, 1)
	assert.Contains(t, second.Failures[0], "Failed to terminate previous deployment")
	assert.Len(t, h.lifecycle.starts, 1, "no second deployment while the first is alive")
	assert.Equal(t, 0, h.lifecycle.violations)
	assert.NotNil(t, s.Deployment(), "unstoppable deployment stays owned by the session")
}

func TestController_UnreadyProducesCrashReport(t *testing.T) {
	h := newHarness(t, 2)
	h.prober.ready = func(string) bool { return false }
	h.lifecycle.output = procmgr.Output{
		Stderr:   "ImportError: cannot import name 'Flask'\n",
		Complete: true,
	}
	c := h.controller(t)

	out, err := c.Run(context.Background(), NewSession("dashboard"))
	require.NoError(t, err)

	first := out.Iterations[0]
	assert.Equal(t, DeployOutcomeUnready, first.Deployment)
	assert.Equal(t, "Server failed to start on port 40001.\nLogs:\nImportError: cannot import name 'Flask'\n", first.CrashReport)
	assert.False(t, first.HasArtifact())
	assert.Empty(t, h.capturer.addresses, "no capture without Ready")

	second := h.reviewer.request(1)
	last, ok := second.LastIteration()
	require.True(t, ok)
	assert.Contains(t, last.Report(), "ImportError")
	assert.Empty(t, second.ArtifactPath)
}

func TestController_UnreadyFallsBackToStdout(t *testing.T) {
	h := newHarness(t, 1)
	h.prober.ready = func(string) bool { return false }
	h.lifecycle.output = procmgr.Output{Stdout: " * Running on http://0.0.0.0:5000\n"}
	c := h.controller(t)

	out, err := c.Run(context.Background(), NewSession("x"))
	require.NoError(t, err)
	assert.Contains(t, out.Iterations[0].CrashReport, "Running on http://0.0.0.0:5000")
}

func TestController_CaptureFailureClearsArtifact(t *testing.T) {
	h := newHarness(t, 3)
	h.capturer.fail = func(call int) bool { return call == 2 }
	c := h.controller(t)

	out, err := c.Run(context.Background(), NewSession("gallery"))
	require.NoError(t, err)

	require.Len(t, out.Iterations, 3)
	second := out.Iterations[1]
	assert.Equal(t, DeployOutcomeSucceeded, second.Deployment)
	assert.False(t, second.HasArtifact())
	assert.Equal(t, "Screenshot failed: exit status 1: browser crashed", second.CaptureFailure)

	assert.Empty(t, h.reviewer.request(2).ArtifactPath)
	assert.NotEmpty(t, h.reviewer.request(1).ArtifactPath)
}

func TestController_ReviewFailureIsRecorded(t *testing.T) {
	h := newHarness(t, 2)
	h.reviewer.respond = func(req ReviewRequest) (string, error) {
		if req.Ordinal == 1 {
			return "", errors.New("upstream 503")
		}
		return "try again", nil
	}
	c := h.controller(t)

	out, err := c.Run(context.Background(), NewSession("x"))
	require.NoError(t, err)

	assert.Equal(t, []string{"Review failed: upstream 503"}, out.Iterations[0].Failures)
	assert.Equal(t, DeployOutcomeSkipped, out.Iterations[0].Deployment)
	assert.Equal(t, 1, h.coder.calls)
}

func TestController_Cancelled(t *testing.T) {
	h := newHarness(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.reviewer.respond = func(req ReviewRequest) (string, error) {
		if req.Ordinal == 2 {
			cancel()
			return "", context.Canceled
		}
		return "go", nil
	}
	c := h.controller(t)

	out, err := c.Run(ctx, NewSession("x"))
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StateCancelled, out.State)
	assert.Len(t, out.Iterations, 1)
	assert.Equal(t, 0, h.lifecycle.liveCount(), "cancelled run tears down its deployment")
	assert.Empty(t, out.LiveURL)
}

func TestController_KeepAliveDisabled(t *testing.T) {
	h := newHarness(t, 2)
	h.cfg.KeepAlive = false
	c := h.controller(t)

	out, err := c.Run(context.Background(), NewSession("x"))
	require.NoError(t, err)
	assert.Empty(t, out.LiveURL)
	assert.Equal(t, 0, h.lifecycle.liveCount())
}

func TestController_FinishedSessionCannotRunAgain(t *testing.T) {
	h := newHarness(t, 1)
	c := h.controller(t)
	s := NewSession("x")

	_, err := c.Run(context.Background(), s)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), s)
	assert.Error(t, err)
}

func TestController_Reset(t *testing.T) {
	h := newHarness(t, 1)
	c := h.controller(t)
	s := NewSession("x")
	runID := s.RunID

	_, err := c.Run(context.Background(), s)
	require.NoError(t, err)
	require.NoError(t, c.Reset(context.Background(), s))

	assert.NotEqual(t, runID, s.RunID)
	assert.Equal(t, "x", s.Goal)
	assert.Equal(t, StateReviewing, s.State())
	assert.Empty(t, s.History())
	assert.Empty(t, s.Program())
	assert.Equal(t, 0, h.lifecycle.liveCount())
}

type memRecorder struct {
	runs       []RunInfo
	iterations []Iteration
	finished   []State
}

func (r *memRecorder) BeginRun(ctx context.Context, run RunInfo) error {
	r.runs = append(r.runs, run)
	return nil
}

func (r *memRecorder) RecordIteration(ctx context.Context, runID string, it Iteration) error {
	r.iterations = append(r.iterations, it)
	return nil
}

func (r *memRecorder) FinishRun(ctx context.Context, runID string, outcome State, finishedAt time.Time) error {
	r.finished = append(r.finished, outcome)
	return nil
}

type memPublisher struct {
	events []events.Event
}

func (p *memPublisher) Publish(ctx context.Context, e events.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *memPublisher) Close() error { return nil }

func (p *memPublisher) types() []events.Type {
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type failingArchiver struct{}

func (failingArchiver) Archive(ctx context.Context, runID string, ordinal int, path string) (string, error) {
	return "", errors.New("bucket missing")
}

func TestController_RecorderPublisherArchiver(t *testing.T) {
	h := newHarness(t, 2)
	rec := &memRecorder{}
	pub := &memPublisher{}
	c := h.controller(t, WithRecorder(rec), WithPublisher(pub), WithArchiver(failingArchiver{}))
	s := NewSession("notes")

	_, err := c.Run(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, s.RunID, rec.runs[0].RunID)
	assert.Equal(t, 2, rec.runs[0].MaxIterations)
	require.Len(t, rec.iterations, 2)
	assert.Equal(t, 1, rec.iterations[0].Ordinal)
	assert.Equal(t, []State{StateExhausted}, rec.finished)

	// archive failure is recorded but the artifact path is kept
	assert.True(t, rec.iterations[0].HasArtifact())
	require.Len(t, rec.iterations[0].Failures, 1)
	assert.Contains(t, rec.iterations[0].Failures[0], "bucket missing")

	types := pub.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.RunStarted, types[0])
	assert.Equal(t, events.RunFinished, types[len(types)-1])
	assert.Contains(t, types, events.DeploymentStarted)
	assert.Contains(t, types, events.DeploymentReady)
	assert.Contains(t, types, events.CaptureSucceeded)

	var recorded int
	for _, e := range pub.events {
		assert.Equal(t, s.RunID, e.RunID)
		if e.Type == events.IterationRecorded {
			recorded++
		}
	}
	assert.Equal(t, 2, recorded)
}

func TestController_EndToEndCrashOnStart(t *testing.T) {
	h := newHarness(t, 2)
	h.cfg.Interpreter = []string{os.Args[0]}
	h.cfg.ExtraEnv = []string{helperEnv + "=crash"}
	h.cfg.HealthDeadline = 500 * time.Millisecond
	h.cfg.KeepAlive = false

	pm := procmgr.NewProcessManager(procmgr.WithGracePeriod(time.Second))
	prober := health.NewProber(health.WithInterval(50 * time.Millisecond))

	c, err := NewController(h.cfg, h.reviewer, h.coder,
		WithLifecycle(NewLifecycle(pm)),
		WithProber(prober),
		WithCapturer(h.capturer),
	)
	require.NoError(t, err)

	out, err := c.Run(context.Background(), NewSession("flask app"))
	require.NoError(t, err)

	require.Len(t, out.Iterations, 2)
	first := out.Iterations[0]
	assert.Equal(t, DeployOutcomeUnready, first.Deployment)
	assert.NotZero(t, first.Port)
	assert.True(t, strings.HasPrefix(first.CrashReport, fmt.Sprintf("Server failed to start on port %d.\nLogs:\n", first.Port)))
	assert.Contains(t, first.CrashReport, "No module named 'flask'")
	assert.False(t, first.HasArtifact())
	assert.Empty(t, h.capturer.addresses)

	next := h.reviewer.request(1)
	require.Len(t, next.History, 1)
	assert.Contains(t, next.History[0].CrashReport, "ModuleNotFoundError")

	assert.Empty(t, pm.Active())
}

func TestController_EndToEndServe(t *testing.T) {
	h := newHarness(t, 2)
	h.cfg.Interpreter = []string{os.Args[0]}
	h.cfg.ExtraEnv = []string{helperEnv + "=serve"}
	h.cfg.HealthDeadline = 5 * time.Second

	pm := procmgr.NewProcessManager(procmgr.WithGracePeriod(2 * time.Second))
	c, err := NewController(h.cfg, h.reviewer, h.coder,
		WithLifecycle(NewLifecycle(pm)),
		WithProber(health.NewProber(health.WithInterval(50*time.Millisecond))),
		WithCapturer(h.capturer),
	)
	require.NoError(t, err)
	s := NewSession("hello")

	out, err := c.Run(context.Background(), s)
	require.NoError(t, err)

	for _, it := range out.Iterations {
		assert.Equal(t, DeployOutcomeSucceeded, it.Deployment)
		assert.True(t, it.HasArtifact())
	}
	require.Len(t, pm.Active(), 1, "only the last deployment is alive")
	assert.NotEqual(t, out.Iterations[0].Port, 0)

	resp, err := http.Get(out.LiveURL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, c.Close(context.Background(), s))
	assert.Empty(t, pm.Active())

	_, err = os.Stat(filepath.Join(h.cfg.Workspace, h.cfg.ProgramFile))
	assert.NoError(t, err)
}

func TestNewController_Validation(t *testing.T) {
	_, err := NewController(DefaultConfig(), nil, &countingCoder{})
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxIterations = 11
	_, err = NewController(cfg, &scriptedReviewer{}, &countingCoder{})
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrorCodeInvalidConfiguration))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"defaults", func(*Config) {}, ""},
		{"min iterations", func(c *Config) { c.MaxIterations = 1 }, ""},
		{"max iterations", func(c *Config) { c.MaxIterations = 10 }, ""},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, "max_iterations"},
		{"too many iterations", func(c *Config) { c.MaxIterations = 11 }, "max_iterations"},
		{"no workspace", func(c *Config) { c.Workspace = "" }, "workspace"},
		{"program file with dir", func(c *Config) { c.ProgramFile = "a/app.py" }, "program_file"},
		{"artifact file empty", func(c *Config) { c.ArtifactFile = "" }, "artifact_file"},
		{"zero health deadline", func(c *Config) { c.HealthDeadline = 0 }, "health_deadline"},
		{"zero capture timeout", func(c *Config) { c.CaptureTimeout = 0 }, "capture_timeout"},
		{"negative drain", func(c *Config) { c.DrainTimeout = -time.Second }, "drain_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.field, e.Context["field"])
		})
	}
}

func TestIsApproval(t *testing.T) {
	assert.True(t, IsApproval("APPROVED"))
	assert.True(t, IsApproval("  APPROVED.\n"))
	assert.True(t, IsApproval(`"APPROVED"`))
	assert.False(t, IsApproval("The layout works. APPROVED."))
	assert.False(t, IsApproval("NOT APPROVED yet, the button overlaps the footer"))
	assert.False(t, IsApproval("approved"))
	assert.False(t, IsApproval("Make the header larger"))
}
