package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitorhnn/nimble/internal/sync"
)

var genSrfCmd = &cobra.Command{
	Use:     "gen-srf",
	Short:   "Generate manifests for every @mod directory in the store",
	PreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromViper()
		if err := cfg.Validate(); err != nil {
			return err
		}
		cmd.SilenceUsage = true

		generated, err := sync.GenerateManifests(cmd.Context(), sync.GenerateOptions{
			RootDir:        cfg.StorePath,
			Workers:        cfg.Workers,
			FollowSymlinks: cfg.FollowSymlinks,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s generated %d manifest(s)\n", green("✓"), len(generated))
		return nil
	},
}

func init() {
	genSrfCmd.Flags().SortFlags = false
	genSrfCmd.Flags().StringP("path", "p", "", "mod store directory")
	genSrfCmd.Flags().Int("workers", 0, "concurrent hashers (0 = all cores)")
	genSrfCmd.Flags().Bool("follow-symlinks", false, "allow symlinked files in the mod store")
	rootCmd.AddCommand(genSrfCmd)
}
