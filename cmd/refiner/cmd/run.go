package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rskrny/aipromptai/internal/config"
	"github.com/rskrny/aipromptai/internal/ui"
	"github.com/rskrny/aipromptai/pkg/agents"
	"github.com/rskrny/aipromptai/pkg/archive"
	"github.com/rskrny/aipromptai/pkg/capture"
	"github.com/rskrny/aipromptai/pkg/depinstall"
	"github.com/rskrny/aipromptai/pkg/events"
	"github.com/rskrny/aipromptai/pkg/health"
	"github.com/rskrny/aipromptai/pkg/history"
	"github.com/rskrny/aipromptai/pkg/observability"
	"github.com/rskrny/aipromptai/pkg/procmgr"
	"github.com/rskrny/aipromptai/pkg/refiner"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Refine an application until it is approved or the iteration limit is hit",
	Long: `Run the refinement loop for goal. When goal is omitted it is read from stdin.

With keep-alive (the default) the last healthy deployment stays up after the
loop ends and refiner waits for Ctrl+C before stopping it.

Example:
  refiner run "a todo list with dark mode"
  refiner run --max-iterations 3 --keep-alive=false "a pomodoro timer"
`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntP("max-iterations", "n", refiner.DefaultConfig().MaxIterations, "Maximum number of iterations")
	runCmd.Flags().Bool("keep-alive", true, "Leave the last deployment running after the loop ends")
	runCmd.Flags().String("workspace", refiner.DefaultConfig().Workspace, "Directory the program and screenshot are written to")

	_ = v.BindPFlag("refiner.max_iterations", runCmd.Flags().Lookup("max-iterations"))
	_ = v.BindPFlag("refiner.keep_alive", runCmd.Flags().Lookup("keep-alive"))
	_ = v.BindPFlag("refiner.workspace", runCmd.Flags().Lookup("workspace"))

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	goal, err := readGoal(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	obs := observability.NewManager(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: Version,
		MetricsAddr:    cfg.MetricsAddr(),
		EnableTracing:  cfg.Observability.EnableTracing,
	}, logger)
	if err := obs.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = obs.Shutdown(sctx)
	}()

	pm := procmgr.NewProcessManager(
		procmgr.WithLogger(logger.With("component", "procmgr")),
		procmgr.WithMetricsCollector(procmgr.NewPrometheusMetricsCollectorWithRegistry("procmgr", obs.Registry())),
	)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := pm.Shutdown(sctx); err != nil {
			logger.Warn("process shutdown incomplete", "error", err)
		}
	}()
	obs.SetHealth(func() any { return pm.Health() })

	client, err := agents.NewClient(cfg.LLM, logger)
	if err != nil {
		return err
	}

	opts := []refiner.Option{
		refiner.WithLogger(logger),
		refiner.WithLifecycle(refiner.NewLifecycle(pm)),
		refiner.WithProber(health.NewProber(health.WithLogger(logger))),
		refiner.WithCapturer(capture.NewRunner(cfg.Capture.Command, logger)),
		refiner.WithMetricsCollector(refiner.NewPrometheusMetricsCollectorWithRegistry("refiner", obs.Registry())),
		refiner.WithTracer(obs.Tracer("refiner")),
	}

	if cfg.Install.Enabled {
		opts = append(opts, refiner.WithInstaller(depinstall.New(
			agents.NewPackageLister(client),
			depinstall.WithCommand(cfg.Install.Command...),
			depinstall.WithPackageTimeout(cfg.Install.PackageTimeout),
			depinstall.WithLogger(logger),
		)))
	}

	if cfg.History.Enabled {
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, refiner.WithRecorder(store))
	}

	archiver, err := newArchiver(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}
	if archiver != nil {
		opts = append(opts, refiner.WithArchiver(archiver))
	}

	publisher, err := newPublisher(cfg.Events, uiInstance, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()
	opts = append(opts, refiner.WithPublisher(publisher))

	ctrl, err := refiner.NewController(cfg.ControllerConfig(), agents.NewReviewer(client), agents.NewCoder(client), opts...)
	if err != nil {
		return err
	}

	session := refiner.NewSession(goal)
	uiInstance.Header("Refining: " + goal)
	uiInstance.KeyValue("run", session.RunID)
	uiInstance.KeyValue("model", client.Model())
	if addr := obs.Addr(); addr != "" {
		uiInstance.KeyValue("metrics", "http://"+addr+"/metrics")
	}
	obs.SetReady(true)

	outcome, runErr := ctrl.Run(ctx, session)
	uiInstance.Outcome(outcome)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if outcome.LiveURL != "" && ctx.Err() == nil {
		uiInstance.Info(fmt.Sprintf("Serving %s, press Ctrl+C to stop", outcome.LiveURL))
		<-ctx.Done()
	}
	return nil
}

func readGoal(args []string) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}

	fmt.Fprint(os.Stderr, "Enter your application goal: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	goal := strings.TrimSpace(line)
	if goal == "" {
		if err != nil {
			return "", fmt.Errorf("read goal: %w", err)
		}
		return "", errors.New("goal must not be empty")
	}
	return goal, nil
}

func newArchiver(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (refiner.Archiver, error) {
	switch cfg.Backend {
	case config.ArchiveLocal:
		return archive.NewLocalArchiver(cfg.Dir), nil
	case config.ArchiveS3:
		return archive.NewS3Archiver(ctx, cfg.S3, logger)
	default:
		return nil, nil
	}
}

func newPublisher(cfg config.EventsConfig, out *ui.UI, logger *slog.Logger) (events.Publisher, error) {
	pubs := events.Multi{consolePublisher{ui: out}}
	if cfg.Enabled {
		nats, err := events.NewNATSPublisher(cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, nats)
	}
	return pubs, nil
}
