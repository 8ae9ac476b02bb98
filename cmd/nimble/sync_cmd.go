package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vitorhnn/nimble/internal/repo"
	"github.com/vitorhnn/nimble/internal/sync"
	"github.com/vitorhnn/nimble/internal/version"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Synchronize the local mod store against a repository",
	PreRunE: loadConfig,
	RunE:    runSync,
}

func init() {
	syncCmd.Flags().SortFlags = false
	syncCmd.Flags().StringP("repo-url", "r", "", "repository base URL")
	syncCmd.Flags().StringP("path", "p", "", "mod store directory")
	syncCmd.Flags().Bool("dry-run", false, "diff and report without transferring anything")
	syncCmd.Flags().Bool("include-optional", false, "also sync the repository's optional mods")
	syncCmd.Flags().Int("workers", sync.DefaultWorkers, "concurrent transfers")
	syncCmd.Flags().Int("retry-attempts", 0, "attempts per fetch (0 = default)")
	syncCmd.Flags().Duration("fetch-timeout", repo.DefaultFetchTimeout, "timeout per fetch")
	syncCmd.Flags().Float64("whole-file-threshold", sync.DefaultWholeFileThreshold,
		"changed-block fraction above which a file is fetched whole")
	syncCmd.Flags().Bool("follow-symlinks", false, "allow symlinked files in the mod store")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg := configFromViper()
	if err := cfg.ValidateForSync(); err != nil {
		return err
	}
	cmd.SilenceUsage = true
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	slog.Info("nimble", "version", version.Version, "revision", version.Revision)
	slog.Info("syncing", "repo", cfg.RepoURL, "store", cfg.StorePath, "dry_run", dryRun)

	opts := []repo.HTTPTransportOption{}
	if cfg.FetchTimeout > 0 {
		opts = append(opts, repo.WithFetchTimeout(cfg.FetchTimeout))
	}
	if cfg.Username != "" {
		opts = append(opts, repo.WithBasicAuth(cfg.Username, cfg.Password))
	}
	transport := repo.NewHTTPTransport(cfg.RepoURL, opts...)

	retry := sync.DefaultRetryPolicy()
	if cfg.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.RetryAttempts
	}

	syncer := sync.NewSyncer(transport, sync.Options{
		RootDir:            cfg.StorePath,
		IncludeOptional:    cfg.IncludeOptional,
		DryRun:             dryRun,
		Workers:            cfg.Workers,
		Retry:              retry,
		WholeFileThreshold: cfg.WholeFileThreshold,
		FollowSymlinks:     cfg.FollowSymlinks,
	})

	report, err := syncer.Run(cmd.Context())
	if report != nil {
		printReport(report, dryRun)
	}
	if err != nil {
		return err
	}
	if !report.Ok() {
		return errors.New("sync completed with failures")
	}
	return nil
}

func printReport(r *sync.Report, dryRun bool) {
	header := fmt.Sprintf("repository %s", cyan(r.RepoName))
	if dryRun {
		header += " (dry run)"
	}
	fmt.Println(header)

	for i := range r.Mods {
		m := &r.Mods[i]
		switch {
		case m.Err != nil:
			fmt.Printf("  %s %s: %v\n", red("✗"), m.Name, m.Err)
		case len(m.Failed) > 0:
			fmt.Printf("  %s %s: %d file(s) failed: %s\n",
				red("✗"), m.Name, len(m.Failed), strings.Join(m.Failed, ", "))
		case m.Skipped:
			fmt.Printf("  %s %s is up to date\n", green("✓"), m.Name)
		default:
			fmt.Printf("  %s %s +%d ~%d -%d (%d unchanged)\n",
				green("✓"), m.Name, m.Added, m.Updated, m.Deleted, m.Unchanged)
		}
	}
}
