// Package refiner drives the review, code, deploy and verify loop.
//
// A Controller moves a Session through an explicit state machine:
//
//	Reviewing -> Coding -> InstallingDeps -> Deploying -> HealthChecking
//	          -> Capturing -> Recording -> Reviewing ...
//
// until the reviewer approves (Approved), the iteration budget is spent
// (Exhausted) or the context ends (Cancelled). Failures inside a pass never
// end the run; they are recorded on the iteration and become input to the
// next review.
package refiner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rskrny/aipromptai/pkg/capture"
	"github.com/rskrny/aipromptai/pkg/events"
	"github.com/rskrny/aipromptai/pkg/health"
	"github.com/rskrny/aipromptai/pkg/portalloc"
	"github.com/rskrny/aipromptai/pkg/procmgr"
)

const (
	// ApprovalMarker in a review ends the run as approved.
	ApprovalMarker = "APPROVED"

	// MinIterations and MaxIterations bound Config.MaxIterations.
	MinIterations = 1
	MaxIterations = 10

	tracerName = "github.com/rskrny/aipromptai/pkg/refiner"
)

// IsApproval is the default approval rule: the whole review, ignoring
// surrounding whitespace, quotes and trailing punctuation, is ApprovalMarker.
// A critique that merely mentions the marker is not an approval.
func IsApproval(review string) bool {
	s := strings.Trim(strings.TrimSpace(review), "\"'`*.!")
	return strings.TrimSpace(s) == ApprovalMarker
}

// Config holds the controller settings
type Config struct {
	MaxIterations int

	// Workspace is the directory the program and artifact are written to
	Workspace    string
	ProgramFile  string
	ArtifactFile string

	// Interpreter runs the program file, e.g. ["python3"]
	Interpreter []string
	PortEnv     string
	ExtraEnv    []string

	HealthDeadline time.Duration
	DrainTimeout   time.Duration
	CaptureTimeout time.Duration

	// KeepAlive leaves the last deployment running when the run ends
	KeepAlive bool

	// Approval decides whether a review approves the program
	Approval func(review string) bool
}

// DefaultConfig returns the default controller settings
func DefaultConfig() Config {
	return Config{
		MaxIterations:  5,
		Workspace:      "workspace",
		ProgramFile:    "generated_app.py",
		ArtifactFile:   "screenshot.png",
		Interpreter:    []string{"python3"},
		PortEnv:        procmgr.DefaultPortEnv,
		HealthDeadline: health.DefaultDeadline,
		DrainTimeout:   2 * time.Second,
		CaptureTimeout: capture.DefaultTimeout,
		KeepAlive:      true,
		Approval:       IsApproval,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MaxIterations < MinIterations || c.MaxIterations > MaxIterations {
		return ErrInvalidConfiguration("max_iterations", c.MaxIterations,
			fmt.Sprintf("must be between %d and %d", MinIterations, MaxIterations))
	}
	if c.Workspace == "" {
		return ErrInvalidConfiguration("workspace", c.Workspace, "workspace directory is required")
	}
	if c.ProgramFile == "" || filepath.Base(c.ProgramFile) != c.ProgramFile {
		return ErrInvalidConfiguration("program_file", c.ProgramFile, "must be a plain file name")
	}
	if c.ArtifactFile == "" || filepath.Base(c.ArtifactFile) != c.ArtifactFile {
		return ErrInvalidConfiguration("artifact_file", c.ArtifactFile, "must be a plain file name")
	}
	if c.HealthDeadline <= 0 {
		return ErrInvalidConfiguration("health_deadline", c.HealthDeadline, "must be positive")
	}
	if c.CaptureTimeout <= 0 {
		return ErrInvalidConfiguration("capture_timeout", c.CaptureTimeout, "must be positive")
	}
	if c.DrainTimeout < 0 {
		return ErrInvalidConfiguration("drain_timeout", c.DrainTimeout, "must not be negative")
	}
	return nil
}

// ProgramPath is where the program of every iteration is written.
func (c Config) ProgramPath() string {
	return filepath.Join(c.Workspace, c.ProgramFile)
}

// ArtifactPath is where every capture writes its screenshot.
func (c Config) ArtifactPath() string {
	return filepath.Join(c.Workspace, c.ArtifactFile)
}

// Controller runs refinement sessions.
type Controller struct {
	cfg Config

	reviewer  Reviewer
	coder     Coder
	installer DependencyInstaller
	ports     PortAllocator
	lifecycle Lifecycle
	prober    Prober
	capturer  Capturer
	recorder  Recorder
	archiver  Archiver
	publisher events.Publisher

	metrics MetricsCollector
	tracer  trace.Tracer
	logger  *slog.Logger
}

// Option configures the Controller
type Option func(*Controller)

// WithInstaller sets the dependency installer
func WithInstaller(i DependencyInstaller) Option {
	return func(c *Controller) { c.installer = i }
}

// WithPortAllocator sets the port allocator
func WithPortAllocator(p PortAllocator) Option {
	return func(c *Controller) { c.ports = p }
}

// WithLifecycle sets how deployments are started and stopped
func WithLifecycle(l Lifecycle) Option {
	return func(c *Controller) { c.lifecycle = l }
}

// WithProber sets the health prober
func WithProber(p Prober) Option {
	return func(c *Controller) { c.prober = p }
}

// WithCapturer sets the capture runner
func WithCapturer(cp Capturer) Option {
	return func(c *Controller) { c.capturer = cp }
}

// WithRecorder persists runs and iterations
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithArchiver keeps a copy of every captured artifact
func WithArchiver(a Archiver) Option {
	return func(c *Controller) { c.archiver = a }
}

// WithPublisher sets the lifecycle event publisher
func WithPublisher(p events.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(m MetricsCollector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTracer sets the tracer used for per-state spans
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController creates a controller. The reviewer and coder are required;
// every other collaborator has a local default.
func NewController(cfg Config, reviewer Reviewer, coder Coder, opts ...Option) (*Controller, error) {
	if reviewer == nil || coder == nil {
		return nil, errors.New("reviewer and coder are required")
	}
	if cfg.Approval == nil {
		cfg.Approval = IsApproval
	}
	if cfg.PortEnv == "" {
		cfg.PortEnv = procmgr.DefaultPortEnv
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:      cfg,
		reviewer: reviewer,
		coder:    coder,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	base := c.logger
	c.logger = base.With("component", "refiner")

	if c.installer == nil {
		c.installer = noopInstaller{}
	}
	if c.ports == nil {
		c.ports = portalloc.New("")
	}
	if c.lifecycle == nil {
		c.lifecycle = NewLifecycle(procmgr.NewProcessManager(procmgr.WithLogger(base.With("component", "procmgr"))))
	}
	if c.prober == nil {
		c.prober = health.NewProber(health.WithLogger(base.With("component", "health")))
	}
	if c.capturer == nil {
		c.capturer = capture.NewRunner(nil, base)
	}
	if c.publisher == nil {
		c.publisher = events.NoopPublisher{}
	}
	if c.metrics == nil {
		c.metrics = NewNoopMetricsCollector()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}

	return c, nil
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// pass is the iteration being assembled.
type pass struct {
	it         Iteration
	review     string
	deployment *Deployment
}

func (p *pass) fail(msg string) {
	for _, f := range p.it.Failures {
		if f == msg {
			return
		}
	}
	p.it.Failures = append(p.it.Failures, msg)
}

// Run drives s until it reaches a terminal state. Iteration failures are
// recorded, never returned; the error is non-nil only when the run could not
// begin or the context ended it.
func (c *Controller) Run(ctx context.Context, s *Session) (Outcome, error) {
	if s == nil {
		return Outcome{}, errors.New("nil session")
	}
	if s.state.Terminal() {
		return c.outcome(s), fmt.Errorf("session %s already finished as %s", s.RunID, s.state)
	}

	ctx, span := c.tracer.Start(ctx, "refiner.run", trace.WithAttributes(
		attribute.String("run.id", s.RunID),
		attribute.Int("run.max_iterations", c.cfg.MaxIterations),
	))
	defer span.End()

	logger := c.logger.With("run_id", s.RunID)

	if c.recorder != nil && s.ordinal == 1 && s.history.Len() == 0 {
		err := c.recorder.BeginRun(ctx, RunInfo{
			RunID:         s.RunID,
			Goal:          s.Goal,
			MaxIterations: c.cfg.MaxIterations,
			StartedAt:     time.Now().UTC(),
		})
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return c.outcome(s), fmt.Errorf("failed to record run start: %w", err)
		}
	}

	logger.Info("run started", "goal", s.Goal, "max_iterations", c.cfg.MaxIterations)
	c.publish(ctx, s, events.RunStarted, s.Goal, map[string]string{
		"max_iterations": strconv.Itoa(c.cfg.MaxIterations),
	})

	p := &pass{}
	for !s.state.Terminal() {
		if ctx.Err() != nil {
			s.state = StateCancelled
			break
		}
		if s.state == StateReviewing {
			p = &pass{it: Iteration{Ordinal: s.ordinal, StartedAt: time.Now().UTC()}}
		}
		s.state = c.step(ctx, s, p)
	}

	return c.finish(ctx, s, span)
}

// step executes the current state and returns the next one.
func (c *Controller) step(ctx context.Context, s *Session, p *pass) State {
	state := s.state
	start := time.Now()

	c.publish(ctx, s, events.StateEntered, "", nil)

	stepCtx, span := c.tracer.Start(ctx, "refiner."+state.String(), trace.WithAttributes(
		attribute.String("run.id", s.RunID),
		attribute.Int("iteration", s.ordinal),
	))
	failuresBefore := len(p.it.Failures)

	var next State
	switch state {
	case StateReviewing:
		next = c.review(stepCtx, s, p)
	case StateCoding:
		next = c.code(stepCtx, s, p)
	case StateInstallingDeps:
		next = c.installDeps(stepCtx, s, p)
	case StateDeploying:
		next = c.deploy(stepCtx, s, p)
	case StateHealthChecking:
		next = c.healthCheck(stepCtx, s, p)
	case StateCapturing:
		next = c.capture(stepCtx, s, p)
	case StateRecording:
		next = c.record(stepCtx, s, p)
	default:
		next = StateCancelled
	}

	if len(p.it.Failures) > failuresBefore {
		span.SetStatus(codes.Error, p.it.Failures[len(p.it.Failures)-1])
	}
	span.SetAttributes(attribute.String("next_state", next.String()))
	span.End()

	c.metrics.StateDuration(state, time.Since(start))
	c.logger.Debug("state finished",
		"run_id", s.RunID,
		"iteration", s.ordinal,
		"state", state,
		"next", next,
		"duration", time.Since(start).Round(time.Millisecond))

	return next
}

func (c *Controller) review(ctx context.Context, s *Session, p *pass) State {
	req := ReviewRequest{
		Goal:         s.Goal,
		Program:      s.program,
		Ordinal:      s.ordinal,
		History:      s.history.Records(),
		ArtifactPath: s.latestArtifact(),
	}

	review, err := c.reviewer.Review(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return StateCancelled
		}
		p.fail(ErrReviewFailed(err).Summary())
		c.logger.Warn("review failed", "run_id", s.RunID, "iteration", s.ordinal, "error", err)
		return StateRecording
	}

	if c.cfg.Approval(review) {
		s.approvedAt = s.ordinal
		c.logger.Info("program approved", "run_id", s.RunID, "iteration", s.ordinal)
		return StateApproved
	}

	p.review = review
	p.it.Instruction = review
	return StateCoding
}

func (c *Controller) code(ctx context.Context, s *Session, p *pass) State {
	program, err := c.coder.Write(ctx, p.review, s.turnsCopy())
	if err == nil && strings.TrimSpace(program) == "" {
		err = errors.New("coder returned an empty program")
	}
	if err != nil {
		if ctx.Err() != nil {
			return StateCancelled
		}
		p.fail(ErrCodeGenerationFailed(err).Summary())
		c.logger.Warn("code generation failed", "run_id", s.RunID, "iteration", s.ordinal, "error", err)
		return StateRecording
	}

	s.program = program
	s.turns = append(s.turns, Turn{Instruction: p.review, Code: program})
	p.it.Program = program
	return StateInstallingDeps
}

func (c *Controller) installDeps(ctx context.Context, s *Session, p *pass) State {
	if reporter, ok := c.installer.(DependencyReporter); ok {
		summary, failed := reporter.InstallWithReport(ctx, p.it.Program)
		p.it.DependencySummary = summary
		for _, pkg := range failed {
			p.fail(ErrDependencyInstallFailed(pkg).Summary())
		}
	} else {
		p.it.DependencySummary = c.installer.Install(ctx, p.it.Program)
	}

	c.logger.Info("dependencies", "run_id", s.RunID, "iteration", s.ordinal, "summary", p.it.DependencySummary)
	return StateDeploying
}

func (c *Controller) deploy(ctx context.Context, s *Session, p *pass) State {
	path := c.cfg.ProgramPath()
	if err := writeProgram(path, p.it.Program); err != nil {
		p.it.Deployment = DeployOutcomeStartFailed
		p.fail(ErrWorkspaceWriteFailed(path, err).Summary())
		return StateRecording
	}

	port, allocErr := c.ports.Allocate(ctx)

	// the previous deployment goes away whether or not a port was obtained
	if err := c.teardown(ctx, s); err != nil {
		p.it.Deployment = DeployOutcomeStartFailed
		p.fail(summarize(err))
		return StateRecording
	}

	if allocErr != nil {
		p.it.Deployment = DeployOutcomeAllocationFailed
		p.fail(ErrPortAllocationFailed(allocErr).Summary())
		c.logger.Warn("port allocation failed", "run_id", s.RunID, "iteration", s.ordinal, "error", allocErr)
		return StateRecording
	}
	p.it.Port = port

	proc, err := c.lifecycle.Start(ctx, procmgr.Spec{
		Program:     path,
		Interpreter: c.cfg.Interpreter,
		Port:        port,
		PortEnv:     c.cfg.PortEnv,
		Env:         c.cfg.ExtraEnv,
	})
	if err != nil {
		p.it.Deployment = DeployOutcomeStartFailed
		p.fail(ErrProcessStartFailed(path, err).Summary())
		c.logger.Warn("deployment failed to start", "run_id", s.RunID, "iteration", s.ordinal, "error", err)
		return StateRecording
	}

	d := &Deployment{
		Ordinal: s.ordinal,
		Process: proc,
		Port:    port,
		URL:     portalloc.Address(port),
	}
	s.deployment = d
	p.deployment = d

	c.publish(ctx, s, events.DeploymentStarted, d.URL, map[string]string{
		"port":       strconv.Itoa(port),
		"deployment": d.Label(),
	})
	return StateHealthChecking
}

func (c *Controller) healthCheck(ctx context.Context, s *Session, p *pass) State {
	d := p.deployment
	res := c.prober.Probe(ctx, d.URL, c.cfg.HealthDeadline)

	if res.Ready() {
		p.it.Deployment = DeployOutcomeSucceeded
		c.logger.Info("deployment ready", "run_id", s.RunID, "iteration", s.ordinal, "url", d.URL, "probe", res.String())
		c.publish(ctx, s, events.DeploymentReady, d.URL, nil)
		return StateCapturing
	}

	out := c.lifecycle.DrainOutput(d.Process, c.cfg.DrainTimeout)
	logs := out.Stderr
	if strings.TrimSpace(logs) == "" {
		logs = out.Stdout
	}
	p.it.Deployment = DeployOutcomeUnready
	p.it.CrashReport = fmt.Sprintf("Server failed to start on port %d.\nLogs:\n%s", d.Port, logs)
	p.fail(p.it.CrashReport)

	c.logger.Warn("deployment unready",
		"run_id", s.RunID,
		"iteration", s.ordinal,
		"error", ErrHealthCheckTimeout(d.URL, d.Port, c.cfg.HealthDeadline, res.String()),
		"exited", d.Process.Exited(),
		"output_complete", out.Complete)
	c.publish(ctx, s, events.DeploymentUnready, p.it.CrashReport, map[string]string{
		"port": strconv.Itoa(d.Port),
	})
	return StateRecording
}

func (c *Controller) capture(ctx context.Context, s *Session, p *pass) State {
	d := p.deployment
	res := c.capturer.Capture(ctx, d.URL, c.cfg.ArtifactPath(), c.cfg.CaptureTimeout)

	switch r := res.(type) {
	case capture.Captured:
		p.it.ArtifactPath = r.Path
		c.publish(ctx, s, events.CaptureSucceeded, r.Path, nil)
	case capture.Failed:
		p.it.CaptureFailure = ErrCaptureFailed(d.URL, r.Reason).Summary()
		p.fail(p.it.CaptureFailure)
		c.publish(ctx, s, events.CaptureFailed, r.Reason, map[string]string{"kind": r.Kind.String()})
	default:
		p.it.CaptureFailure = fmt.Sprintf("Screenshot failed: unexpected result %v", res)
		p.fail(p.it.CaptureFailure)
	}
	return StateRecording
}

func (c *Controller) record(ctx context.Context, s *Session, p *pass) State {
	if c.archiver != nil && p.it.ArtifactPath != "" {
		loc, err := c.archiver.Archive(ctx, s.RunID, p.it.Ordinal, p.it.ArtifactPath)
		if err != nil {
			p.fail(ErrArchiveFailed(p.it.ArtifactPath, err).Summary())
			c.logger.Warn("artifact archive failed", "run_id", s.RunID, "iteration", s.ordinal, "error", err)
		} else {
			p.it.ArchivedAt = loc
		}
	}

	p.it.FinishedAt = time.Now().UTC()
	if err := s.history.Append(p.it); err != nil {
		// only reachable through a programming error in the state machine
		c.logger.Error("history append rejected", "run_id", s.RunID, "error", err)
		return StateCancelled
	}

	if c.recorder != nil {
		if err := c.recorder.RecordIteration(ctx, s.RunID, p.it); err != nil {
			c.logger.Warn("failed to persist iteration", "run_id", s.RunID, "iteration", s.ordinal, "error", err)
		}
	}

	c.metrics.IterationRecorded(p.it.Deployment, p.it.HasArtifact())
	c.logger.Info("iteration recorded",
		"run_id", s.RunID,
		"iteration", p.it.Ordinal,
		"deployment", p.it.Deployment,
		"artifact", p.it.ArtifactPath,
		"failures", len(p.it.Failures))
	c.publish(ctx, s, events.IterationRecorded, p.it.Report(), map[string]string{
		"deploy_outcome": p.it.Deployment.String(),
		"artifact":       p.it.ArtifactPath,
	})

	if s.ordinal >= c.cfg.MaxIterations {
		return StateExhausted
	}
	s.ordinal++
	return StateReviewing
}

func (c *Controller) finish(ctx context.Context, s *Session, span trace.Span) (Outcome, error) {
	var runErr error
	if s.state == StateCancelled {
		runErr = ctx.Err()
		if runErr == nil {
			runErr = errors.New("run cancelled")
		}
	}

	// cleanup and bookkeeping must outlive a cancelled run context
	cleanupCtx := context.WithoutCancel(ctx)

	if !c.cfg.KeepAlive || s.state == StateCancelled {
		if err := c.teardown(cleanupCtx, s); err != nil {
			c.logger.Warn("failed to stop final deployment", "run_id", s.RunID, "error", err)
		}
	}

	if c.recorder != nil {
		if err := c.recorder.FinishRun(cleanupCtx, s.RunID, s.state, time.Now().UTC()); err != nil {
			c.logger.Warn("failed to record run finish", "run_id", s.RunID, "error", err)
		}
	}

	c.metrics.RunFinished(s.state, s.history.Len())
	span.SetAttributes(
		attribute.String("run.outcome", s.state.String()),
		attribute.Int("run.iterations", s.history.Len()),
	)

	out := c.outcome(s)
	c.logger.Info("run finished",
		"run_id", s.RunID,
		"state", s.state,
		"iterations", len(out.Iterations),
		"live_url", out.LiveURL)
	c.publish(cleanupCtx, s, events.RunFinished, s.state.String(), map[string]string{
		"iterations": strconv.Itoa(len(out.Iterations)),
		"live_url":   out.LiveURL,
	})

	return out, runErr
}

func (c *Controller) outcome(s *Session) Outcome {
	out := Outcome{
		RunID:      s.RunID,
		State:      s.state,
		Iterations: s.history.Records(),
		ApprovedAt: s.approvedAt,
		Program:    s.program,
	}
	if d := s.deployment; d != nil && !d.Process.Exited() {
		out.LiveURL = d.URL
	}
	return out
}

// teardown stops the active deployment and blocks until its exit has been
// observed. The deployment stays on the session if it could not be stopped.
func (c *Controller) teardown(ctx context.Context, s *Session) error {
	d := s.deployment
	if d == nil {
		return nil
	}
	if err := c.lifecycle.Terminate(ctx, d.Process); err != nil {
		return ErrTerminationFailed(d.Label(), err)
	}
	s.deployment = nil
	return nil
}

// Close stops the deployment left running by a finished run.
func (c *Controller) Close(ctx context.Context, s *Session) error {
	return c.teardown(ctx, s)
}

// Reset stops any deployment and discards the session's progress, giving it
// a new run id.
func (c *Controller) Reset(ctx context.Context, s *Session) error {
	if err := c.teardown(ctx, s); err != nil {
		return err
	}
	s.reset()
	return nil
}

func (c *Controller) publish(ctx context.Context, s *Session, t events.Type, msg string, meta map[string]string) {
	err := c.publisher.Publish(ctx, events.Event{
		Type:     t,
		RunID:    s.RunID,
		Ordinal:  s.ordinal,
		State:    s.state.String(),
		Message:  msg,
		Metadata: meta,
		Time:     time.Now().UTC(),
	})
	if err != nil {
		c.logger.Debug("event publish failed", "type", t, "error", err)
	}
}

// summarize returns the one-line form of err for an iteration record.
func summarize(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Summary()
	}
	return err.Error()
}

func writeProgram(path, program string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(program), 0o644)
}
