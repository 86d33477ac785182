package cmd

import (
	"fmt"
	"log/slog"

	"github.com/rskrny/aipromptai/pkg/capture"
	"github.com/spf13/cobra"
)

var captureTimeout = capture.DefaultTimeout

var captureCmd = &cobra.Command{
	Use:   "capture <url> <output>",
	Short: "Screenshot a URL through the isolated capture child",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner := capture.NewRunner(cfg.Capture.Command, slog.Default())

		switch r := runner.Capture(cmd.Context(), args[0], args[1], captureTimeout).(type) {
		case capture.Captured:
			uiInstance.Success("Screenshot saved to " + r.Path)
			return nil
		case capture.Failed:
			return fmt.Errorf("capture %s: %s", r.Kind, r.Reason)
		default:
			return fmt.Errorf("unexpected capture result %v", r)
		}
	},
}

func init() {
	captureCmd.Flags().DurationVarP(&captureTimeout, "timeout", "t", capture.DefaultTimeout, "Kill the capture child after this long")
	rootCmd.AddCommand(captureCmd)
}
