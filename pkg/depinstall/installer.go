// Package depinstall installs the third-party packages a generated program
// needs before it is deployed. Installation is best-effort: every outcome,
// including failure, is reported as a summary string.
package depinstall

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rskrny/aipromptai/pkg/procmgr"
)

const (
	// NoDependencies is the summary when nothing needs installing.
	NoDependencies = "No new dependencies found."

	// DefaultPackageTimeout bounds a single pip invocation.
	DefaultPackageTimeout = 5 * time.Minute

	outputLimit = 16 << 10
)

// DefaultCommand is the install command prefix; the package name is appended.
var DefaultCommand = []string{"python3", "-m", "pip", "install"}

// PackageLister names the packages a program requires.
type PackageLister interface {
	ListPackages(ctx context.Context, program string) ([]string, error)
}

// Installer lists and installs a program's packages one at a time.
type Installer struct {
	lister  PackageLister
	command []string
	env     []string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures the Installer
type Option func(*Installer)

// WithCommand replaces the install command prefix
func WithCommand(argv ...string) Option {
	return func(i *Installer) {
		if len(argv) > 0 {
			i.command = argv
		}
	}
}

// WithEnv adds KEY=VALUE pairs to the install command environment
func WithEnv(env ...string) Option {
	return func(i *Installer) { i.env = append(i.env, env...) }
}

// WithPackageTimeout bounds each package install
func WithPackageTimeout(d time.Duration) Option {
	return func(i *Installer) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(i *Installer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// New creates an Installer.
func New(lister PackageLister, opts ...Option) *Installer {
	i := &Installer{
		lister:  lister,
		command: DefaultCommand,
		timeout: DefaultPackageTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "depinstall")
	return i
}

// Install installs program's packages and returns the summary.
func (i *Installer) Install(ctx context.Context, program string) string {
	summary, _ := i.InstallWithReport(ctx, program)
	return summary
}

// InstallWithReport installs program's packages, returning the summary and
// the names of the packages that failed.
func (i *Installer) InstallWithReport(ctx context.Context, program string) (string, []string) {
	pkgs, err := i.lister.ListPackages(ctx, program)
	if err != nil {
		i.logger.Warn("package listing failed", "error", err)
		return fmt.Sprintf("Dependency Error: %v", err), nil
	}
	if len(pkgs) == 0 {
		return NoDependencies, nil
	}

	var installed, failed []string
	for _, pkg := range pkgs {
		if err := i.installOne(ctx, pkg); err != nil {
			i.logger.Warn("package install failed", "package", pkg, "error", err)
			failed = append(failed, pkg)
			continue
		}
		installed = append(installed, pkg)
	}

	summary := fmt.Sprintf("Installed: %s. Failed: %s", strings.Join(installed, ", "), strings.Join(failed, ", "))
	i.logger.Info("dependencies processed", "installed", len(installed), "failed", len(failed))
	return summary, failed
}

func (i *Installer) installOne(ctx context.Context, pkg string) error {
	if strings.HasPrefix(pkg, "-") {
		return fmt.Errorf("refusing option-like package name %q", pkg)
	}

	runCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	argv := append(append([]string(nil), i.command...), pkg)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), i.env...)
	procmgr.ConfigureGroup(cmd)
	cmd.WaitDelay = 2 * time.Second

	output := procmgr.NewTailBuffer(outputLimit)
	cmd.Stdout = output
	cmd.Stderr = output

	start := time.Now()
	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("timed out after %v", i.timeout)
	}
	if err != nil {
		return fmt.Errorf("%w: %s", err, lastLines(output.String(), 5))
	}
	i.logger.Debug("package installed", "package", pkg, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
