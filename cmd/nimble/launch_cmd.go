package main

import (
	"github.com/spf13/cobra"

	"github.com/vitorhnn/nimble/internal/launcher"
)

var launchCmd = &cobra.Command{
	Use:     "launch",
	Short:   "Launch the game through Steam with the synchronized mods",
	PreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromViper()
		if err := cfg.Validate(); err != nil {
			return err
		}
		cmd.SilenceUsage = true
		return launcher.Launch(cfg.StorePath)
	},
}

func init() {
	launchCmd.Flags().SortFlags = false
	launchCmd.Flags().StringP("path", "p", "", "mod store directory")
	rootCmd.AddCommand(launchCmd)
}
