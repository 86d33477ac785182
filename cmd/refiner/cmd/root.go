// Package cmd provides the CLI commands for refiner
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rskrny/aipromptai/internal/config"
	"github.com/rskrny/aipromptai/internal/ui"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "0.1.0"

var (
	cfgFile    string
	v          = config.New()
	cfg        *config.Config
	uiInstance *ui.UI
)

var rootCmd = &cobra.Command{
	Use:   "refiner",
	Short: "Generate, deploy and verify a web app until it is approved",
	Long: `refiner drives a review, code, deploy, verify loop for a generated web
application. Each iteration the program is written to the workspace, launched
on a fresh local port, probed over HTTP and screenshotted in an isolated
browser process. Crash logs and capture failures are fed back to the reviewer.

Configuration is read from refiner.yaml in the working directory or
~/.aipromptai, and from AIPROMPT_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		uiInstance = ui.New()

		var err error
		cfg, err = config.Load(v, cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level, _ := cfg.LogLevel()
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if uiInstance == nil {
			uiInstance = ui.New()
		}
		uiInstance.Failure(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./refiner.yaml or ~/.aipromptai/refiner.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}
