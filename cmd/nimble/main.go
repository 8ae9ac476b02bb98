package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vitorhnn/nimble/internal/config"
	"github.com/vitorhnn/nimble/internal/version"
)

var home, _ = os.UserHomeDir()

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "nimble",
	Short:   "Swifty-compatible mod repository client",
	Version: version.Detailed(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		setupLogging(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("config") {
		path, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".nimble"))
		viper.SetConfigName("config")
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	bind := func(key, flag string) {
		if f := cmd.Flags().Lookup(flag); f != nil {
			viper.BindPFlag(key, f)
		}
	}
	bind("repo_url", "repo-url")
	bind("store_path", "path")
	bind("workers", "workers")
	bind("retry_attempts", "retry-attempts")
	bind("fetch_timeout", "fetch-timeout")
	bind("whole_file_threshold", "whole-file-threshold")
	bind("include_optional", "include-optional")
	bind("follow_symlinks", "follow-symlinks")

	viper.SetEnvPrefix("NIMBLE")
	viper.AutomaticEnv()

	return nil
}

func configFromViper() *config.Config {
	return &config.Config{
		RepoURL:            viper.GetString("repo_url"),
		StorePath:          viper.GetString("store_path"),
		Workers:            viper.GetInt("workers"),
		RetryAttempts:      viper.GetInt("retry_attempts"),
		FetchTimeout:       viper.GetDuration("fetch_timeout"),
		WholeFileThreshold: viper.GetFloat64("whole_file_threshold"),
		IncludeOptional:    viper.GetBool("include_optional"),
		FollowSymlinks:     viper.GetBool("follow_symlinks"),
		Username:           viper.GetString("username"),
		Password:           viper.GetString("password"),
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
