package cmd

import (
	"path/filepath"

	"github.com/rskrny/aipromptai/internal/config"
	"github.com/rskrny/aipromptai/internal/ui"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	configForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the refiner configuration file",
	// config init must work even when the existing file does not load
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		uiInstance = ui.New()
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(configPath, configForce); err != nil {
			return err
		}
		uiInstance.Success("Wrote " + configPath)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVarP(&configPath, "output", "o", filepath.Join(config.Dir(), "refiner.yaml"), "Where to write the file")
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
