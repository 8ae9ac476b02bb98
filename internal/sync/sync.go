// Package sync implements the client's synchronization core: diffing a
// local mod store against a remote repository's manifests, scheduling the
// implied transfers with bounded concurrency, and committing results so
// that every file on disk either matches the old manifest or the new one.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"github.com/vitorhnn/nimble/internal/archive"
	"github.com/vitorhnn/nimble/internal/modcache"
	"github.com/vitorhnn/nimble/internal/repo"
	"github.com/vitorhnn/nimble/internal/srf"
	"github.com/vitorhnn/nimble/internal/utils"
)

// LockFileName guards the mod store against concurrent passes. The lock
// is advisory and scoped to the store root.
const LockFileName = ".nimble.lock"

type Options struct {
	// RootDir is the mod store root. Mod directories live directly under it.
	RootDir string
	// IncludeOptional syncs the repository's optional mods as well.
	IncludeOptional bool
	// DryRun diffs and reports without transferring or touching disk.
	DryRun bool
	// Workers bounds concurrent transfers. Zero means the default.
	Workers int
	// Retry overrides the per-fetch retry policy when MaxAttempts > 0.
	Retry RetryPolicy
	// WholeFileThreshold overrides the changed-fraction degrade point.
	WholeFileThreshold float64
	// FollowSymlinks permits symlinked files when rescanning local mods.
	FollowSymlinks bool
}

// ModReport is the outcome of one mod's sync.
type ModReport struct {
	Name      string
	Required  bool
	Skipped   bool
	Added     int
	Updated   int
	Deleted   int
	Unchanged int
	// Failed lists files that did not commit this pass.
	Failed []string
	// Err is a mod-level failure that prevented the mod from syncing at all.
	Err error
}

func (r *ModReport) Ok() bool {
	return r.Err == nil && len(r.Failed) == 0
}

// Report is the outcome of a whole pass.
type Report struct {
	RepoName string
	Mods     []ModReport
}

// Ok reports whether every required mod synchronized completely. Optional
// mod failures are surfaced in the report but do not fail the pass.
func (r *Report) Ok() bool {
	for i := range r.Mods {
		if r.Mods[i].Required && !r.Mods[i].Ok() {
			return false
		}
	}
	return true
}

// Syncer drives sync passes against one repository.
type Syncer struct {
	transport repo.Transport
	opts      Options
	scheduler *Scheduler
	retry     RetryPolicy
}

func NewSyncer(transport repo.Transport, opts Options) *Syncer {
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	scheduler := NewScheduler(transport,
		WithWorkers(opts.Workers),
		WithRetryPolicy(retry),
		WithWholeFileThreshold(opts.WholeFileThreshold),
	)
	return &Syncer{
		transport: transport,
		opts:      opts,
		scheduler: scheduler,
		retry:     retry,
	}
}

// Run executes one pass: fetch the repository description, sync each
// selected mod, and persist the cache. A cancelled context stops scheduling
// new work; files already committed stay committed.
func (s *Syncer) Run(ctx context.Context) (*Report, error) {
	root, err := utils.ResolvePath(s.opts.RootDir)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("mod store %s: %w", root, err)
	}

	lock := flock.New(filepath.Join(root, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock mod store: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("mod store %s is in use by another process", root)
	}
	defer lock.Unlock()

	cache, err := modcache.Load(root)
	if err != nil {
		return nil, err
	}

	repository, err := repo.Fetch(ctx, s.transport)
	if err != nil {
		return nil, err
	}

	// repositories can carry their own download credentials
	if repository.BasicAuth != nil {
		if auth, ok := s.transport.(repo.AuthSetter); ok {
			auth.SetBasicAuth(repository.BasicAuth.Username, repository.BasicAuth.Password)
		}
	}

	mods := make([]repo.Mod, 0, len(repository.RequiredMods)+len(repository.OptionalMods))
	required := make(map[string]bool, len(repository.RequiredMods))
	mods = append(mods, repository.RequiredMods...)
	for _, m := range repository.RequiredMods {
		required[m.Name] = true
	}
	if s.opts.IncludeOptional {
		mods = append(mods, repository.OptionalMods...)
	}

	report := &Report{RepoName: repository.Name}
	for _, mod := range mods {
		if ctx.Err() != nil {
			break
		}
		report.Mods = append(report.Mods, s.syncMod(ctx, root, cache, mod, required[mod.Name]))
	}

	if ctx.Err() == nil && !s.opts.DryRun {
		if err := cache.Save(root); err != nil {
			return report, err
		}
	}
	return report, ctx.Err()
}

func (s *Syncer) syncMod(ctx context.Context, root string, cache *modcache.Cache, mod repo.Mod, required bool) ModReport {
	rep := ModReport{Name: mod.Name, Required: required}
	modDir := filepath.Join(root, mod.Name)

	if err := Recover(modDir); err != nil {
		rep.Err = fmt.Errorf("recover %s: %w", mod.Name, err)
		return rep
	}

	if entry := cache.Mod(mod.Name); entry != nil && !entry.Checksum.IsZero() && strings.EqualFold(entry.Checksum.String(), mod.Checksum) {
		slog.Info("mod is up to date", "mod", mod.Name)
		rep.Skipped = true
		return rep
	}

	remote, err := s.fetchRemoteManifest(ctx, mod.Name)
	if err != nil {
		rep.Err = fmt.Errorf("fetch manifest for %s: %w", mod.Name, err)
		return rep
	}
	if remote.Legacy {
		// a legacy manifest carries no file records; diffing against it
		// would read as "delete everything"
		rep.Err = fmt.Errorf("repository serves a legacy manifest for %s, cannot sync", mod.Name)
		return rep
	}
	if !strings.EqualFold(remote.Checksum.String(), mod.Checksum) {
		// a repository mid-update can disagree with its own manifests; the
		// manifest is what the files are verified against, so it wins
		slog.Warn("repository checksum disagrees with mod manifest", "mod", mod.Name)
	}

	local := s.localManifest(ctx, modDir, mod.Name)

	actions, err := Diff(local, remote)
	if err != nil {
		rep.Err = err
		return rep
	}
	for _, a := range actions {
		switch a.Kind {
		case ActionAdd:
			rep.Added++
		case ActionUpdate:
			rep.Updated++
		case ActionDelete:
			rep.Deleted++
		case ActionUnchanged:
			rep.Unchanged++
		}
	}

	slog.Info("diffed mod",
		"mod", mod.Name,
		"add", rep.Added,
		"update", rep.Updated,
		"delete", rep.Deleted,
		"unchanged", rep.Unchanged,
	)

	if s.opts.DryRun {
		return rep
	}

	if rep.Added+rep.Updated+rep.Deleted == 0 {
		cache.SetMod(mod.Name, remote.Checksum, collectHints(modDir, remote))
		return rep
	}

	if err := utils.EnsureDir(modDir); err != nil {
		rep.Err = fmt.Errorf("create %s: %w", modDir, err)
		return rep
	}

	// single-writer apply loop: workers fetch and verify concurrently,
	// commits happen here in completion order
	applier := NewApplier(modDir)
	failed := make(map[string]bool)
	for res := range s.scheduler.Run(ctx, mod.Name, modDir, actions) {
		if res.Err != nil {
			slog.Error("transfer failed", "mod", mod.Name, "path", res.Action.Path, "error", res.Err)
			failed[res.Action.Path] = true
			continue
		}
		if err := applier.Apply(&res); err != nil {
			slog.Error("commit failed", "mod", mod.Name, "path", res.Action.Path, "error", err)
			failed[res.Action.Path] = true
			continue
		}
		if res.Action.Kind != ActionDelete {
			target := filepath.Join(modDir, filepath.FromSlash(res.Action.Path))
			if err := archive.Validate(target); err != nil {
				slog.Error("archive validation failed", "mod", mod.Name, "path", res.Action.Path, "error", err)
				failed[res.Action.Path] = true
			}
		}
	}

	// cancellation can drop scheduled work without a completion, so the
	// failed set no longer accounts for every file the remote manifest
	// claims. Keep the previous manifest; the next pass re-diffs against
	// disk and picks up whatever never landed.
	if err := ctx.Err(); err != nil {
		cache.Invalidate(mod.Name)
		rep.Err = err
		return rep
	}

	committed := remote
	if len(failed) > 0 {
		committed = committedManifest(remote, actions, failed)
		cache.Invalidate(mod.Name)
		for p := range failed {
			rep.Failed = append(rep.Failed, p)
		}
		sort.Strings(rep.Failed)
	}

	if err := applier.WriteManifest(committed); err != nil {
		rep.Err = fmt.Errorf("write manifest for %s: %w", mod.Name, err)
		return rep
	}

	if len(failed) == 0 {
		cache.SetMod(mod.Name, remote.Checksum, collectHints(modDir, remote))
	}
	return rep
}

func (s *Syncer) fetchRemoteManifest(ctx context.Context, modName string) (*srf.Manifest, error) {
	var m *srf.Manifest
	err := withRetry(ctx, s.retry, func() error {
		body, err := s.transport.Get(ctx, path.Join(modName, srf.ManifestFileName))
		if err != nil {
			return err
		}
		defer body.Close()

		decoded, err := srf.DecodeManifest(body)
		if err != nil {
			return err
		}
		m = decoded
		return nil
	})
	return m, err
}

// localManifest derives the client's current view of the mod: the cached
// manifest when it decodes, a fresh scan when it does not, and an invalid
// placeholder when the mod is not on disk yet.
func (s *Syncer) localManifest(ctx context.Context, modDir, modName string) *srf.Manifest {
	if f, err := os.Open(filepath.Join(modDir, srf.ManifestFileName)); err == nil {
		m, derr := srf.DecodeManifest(f)
		f.Close()
		if derr == nil {
			return m
		}
		slog.Warn("local manifest is unreadable, rescanning", "mod", modName, "error", derr)
	}

	if !utils.DirExists(modDir) {
		return srf.NewInvalid(strings.ToLower(modName))
	}

	builder := srf.NewBuilder(srf.BuilderOptions{
		Workers:        s.opts.Workers,
		FollowSymlinks: s.opts.FollowSymlinks,
	})
	m, err := builder.BuildMod(ctx, modDir)
	if err != nil {
		slog.Warn("local scan failed, treating mod as empty", "mod", modName, "error", err)
		return srf.NewInvalid(strings.ToLower(modName))
	}
	return m
}

// committedManifest describes what is actually on disk after a partial
// failure: the remote view minus files that failed to land, plus the local
// records of files whose deletion failed. Its checksum never matches the
// repository's, so the next pass revisits the mod.
func committedManifest(remote *srf.Manifest, actions []FileAction, failed map[string]bool) *srf.Manifest {
	files := make([]srf.FileRecord, 0, len(remote.Files))
	for i := range remote.Files {
		if !failed[remote.Files[i].Path] {
			files = append(files, remote.Files[i])
		}
	}
	for _, a := range actions {
		if a.Kind == ActionDelete && failed[a.Path] && a.Local != nil {
			files = append(files, *a.Local)
		}
	}
	srf.SortFiles(files)
	return &srf.Manifest{
		Name:     remote.Name,
		Checksum: srf.ComputeChecksum(files),
		Files:    files,
	}
}

// collectHints snapshots each manifest file's stat fingerprint so the next
// manifest build can skip re-hashing unchanged files.
func collectHints(modDir string, m *srf.Manifest) map[string]modcache.FileHint {
	hints := make(map[string]modcache.FileHint, len(m.Files))
	for i := range m.Files {
		info, err := os.Stat(filepath.Join(modDir, filepath.FromSlash(m.Files[i].Path)))
		if err != nil {
			continue
		}
		hints[m.Files[i].Path] = modcache.FileHint{
			Size:    info.Size(),
			ModTime: info.ModTime().UnixNano(),
		}
	}
	return hints
}
