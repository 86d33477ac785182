package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rskrny/aipromptai/internal/ui"
	"github.com/rskrny/aipromptai/pkg/history"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past runs or show the iterations of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(cmd.Context(), cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 0 {
			return listRuns(cmd, store)
		}
		return showRun(cmd, store, args[0])
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of runs to list (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func listRuns(cmd *cobra.Command, store *history.Store) error {
	runs, err := store.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		uiInstance.Subtle("No runs recorded in " + store.Path())
		return nil
	}

	table := uiInstance.NewTable("RUN", "STARTED", "OUTCOME", "ITERATIONS", "GOAL")
	for _, r := range runs {
		table.AddRow(r.RunID, ui.Timestamp(r.StartedAt), r.Outcome,
			fmt.Sprintf("%d/%d", r.Iterations, r.MaxIterations), truncate(r.Goal, 40))
	}
	table.Render()
	return nil
}

func showRun(cmd *cobra.Command, store *history.Store, runID string) error {
	run, err := store.GetRun(cmd.Context(), runID)
	if errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return err
	}

	uiInstance.Header("Run " + run.RunID)
	uiInstance.KeyValue("goal", run.Goal)
	uiInstance.KeyValue("outcome", run.Outcome)
	uiInstance.KeyValue("started", ui.Timestamp(run.StartedAt))
	if run.FinishedAt != nil {
		uiInstance.KeyValue("finished", ui.Timestamp(*run.FinishedAt))
	}
	uiInstance.Println("")

	iterations, err := store.ListIterations(cmd.Context(), runID)
	if err != nil {
		return err
	}

	table := uiInstance.NewTable("#", "DEPLOYMENT", "PORT", "ARTIFACT", "INSTRUCTION")
	for _, it := range iterations {
		artifact := "-"
		if it.HasArtifact() {
			artifact = it.ArtifactPath
		}
		port := "-"
		if it.Port > 0 {
			port = strconv.Itoa(it.Port)
		}
		table.AddRow(strconv.Itoa(it.Ordinal), it.Deployment.String(), port, artifact, truncate(it.Instruction, 50))
	}
	table.Render()

	for _, it := range iterations {
		if it.Report() != "" {
			uiInstance.Println("")
			uiInstance.Iteration(it)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
