// Package config holds the client's tunables. Values come from the
// optional JSON config file, environment, and flags; the CLI layer merges
// them and hands a validated Config to the commands.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".nimble", "config.json")
)

type Config struct {
	// RepoURL is the repository base URL. Required for sync.
	RepoURL string `json:"repo_url"`
	// StorePath is the local mod store root.
	StorePath string `json:"store_path"`
	// Workers bounds concurrent transfers and hashing. Zero means default.
	Workers int `json:"workers"`
	// RetryAttempts bounds per-fetch attempts. Zero means default.
	RetryAttempts int `json:"retry_attempts"`
	// FetchTimeout bounds each individual fetch. Zero means default.
	FetchTimeout time.Duration `json:"fetch_timeout"`
	// WholeFileThreshold is the changed-block fraction above which an
	// update is fetched whole. Zero means default.
	WholeFileThreshold float64 `json:"whole_file_threshold"`
	// IncludeOptional syncs the repository's optional mods too.
	IncludeOptional bool `json:"include_optional"`
	// FollowSymlinks permits symlinked files in the mod store.
	FollowSymlinks bool `json:"follow_symlinks"`
	// Username and Password override credentials from the repository
	// description.
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Config) Validate() error {
	if c.StorePath == "" {
		return errors.New("mod store path is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts must not be negative, got %d", c.RetryAttempts)
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("fetch timeout must not be negative, got %s", c.FetchTimeout)
	}
	if c.WholeFileThreshold < 0 || c.WholeFileThreshold > 1 {
		return fmt.Errorf("whole-file threshold must be within [0, 1], got %g", c.WholeFileThreshold)
	}
	return nil
}

// ValidateForSync additionally requires a usable repository URL.
func (c *Config) ValidateForSync() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.RepoURL == "" {
		return errors.New("repository URL is required")
	}
	u, err := url.Parse(c.RepoURL)
	if err != nil {
		return fmt.Errorf("repository URL %q: %w", c.RepoURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("repository URL %q: scheme must be http or https", c.RepoURL)
	}
	return nil
}
