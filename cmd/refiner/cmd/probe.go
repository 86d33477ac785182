package cmd

import (
	"fmt"
	"log/slog"

	"github.com/rskrny/aipromptai/pkg/health"
	"github.com/spf13/cobra"
)

var probeDeadline = health.DefaultDeadline

var probeCmd = &cobra.Command{
	Use:   "probe <url>",
	Short: "Poll a URL until it answers HTTP or the deadline passes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prober := health.NewProber(health.WithLogger(slog.Default()))
		result := prober.Probe(cmd.Context(), args[0], probeDeadline)

		if !result.Ready() {
			return fmt.Errorf("%s is not ready: %s", args[0], result)
		}
		uiInstance.Success(fmt.Sprintf("%s is ready: %s", args[0], result))
		return nil
	},
}

func init() {
	probeCmd.Flags().DurationVarP(&probeDeadline, "deadline", "d", health.DefaultDeadline, "How long to keep polling")
	rootCmd.AddCommand(probeCmd)
}
