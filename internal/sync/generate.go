package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/vitorhnn/nimble/internal/modcache"
	"github.com/vitorhnn/nimble/internal/srf"
	"github.com/vitorhnn/nimble/internal/utils"
)

type GenerateOptions struct {
	// RootDir is the store root whose @-prefixed directories get manifests.
	RootDir string
	// Workers bounds concurrent file hashing. Zero means NumCPU.
	Workers int
	// FollowSymlinks hashes symlink targets instead of failing the scan.
	FollowSymlinks bool
}

// GenerateManifests builds and writes a manifest for every @-prefixed
// directory under the store root, reusing cached digests for files whose
// size and modification time are unchanged since the last build. It
// returns the names of the mods it generated.
func GenerateManifests(ctx context.Context, opts GenerateOptions) ([]string, error) {
	root, err := utils.ResolvePath(opts.RootDir)
	if err != nil {
		return nil, err
	}
	if !utils.DirExists(root) {
		return nil, fmt.Errorf("mod store %s does not exist", root)
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

	// a corrupt cache only costs hints here; the generator rebuilds it
	cache, err := modcache.Load(root)
	if err != nil {
		slog.Warn("ignoring unreadable cache", "error", err)
		cache = modcache.New()
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read mod store: %w", err)
	}

	var generated []string
	for _, entry := range entries {
		if ctx.Err() != nil {
			return generated, ctx.Err()
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "@") {
			continue
		}

		modDir := filepath.Join(root, entry.Name())
		if err := Recover(modDir); err != nil {
			return generated, fmt.Errorf("recover %s: %w", entry.Name(), err)
		}

		builder := srf.NewBuilder(srf.BuilderOptions{
			Workers:        opts.Workers,
			FollowSymlinks: opts.FollowSymlinks,
			Hint:           hintFromPrior(modDir, cache.Mod(entry.Name())),
		})
		m, err := builder.BuildMod(ctx, modDir)
		if err != nil {
			return generated, fmt.Errorf("build manifest for %s: %w", entry.Name(), err)
		}

		if err := NewApplier(modDir).WriteManifest(m); err != nil {
			return generated, fmt.Errorf("write manifest for %s: %w", entry.Name(), err)
		}
		cache.SetMod(entry.Name(), m.Checksum, collectHints(modDir, m))
		generated = append(generated, entry.Name())

		slog.Info("wrote manifest",
			"mod", entry.Name(),
			"files", len(m.Files),
			"checksum", m.Checksum,
		)
	}

	if err := cache.Save(root); err != nil {
		return generated, err
	}
	return generated, nil
}

// hintFromPrior combines the previous manifest's records with the cache's
// stat fingerprints: a file reuses its prior digests only when both agree
// it is unchanged.
func hintFromPrior(modDir string, entry *modcache.Entry) srf.HintFunc {
	if entry == nil || len(entry.Files) == 0 {
		return nil
	}

	f, err := os.Open(filepath.Join(modDir, srf.ManifestFileName))
	if err != nil {
		return nil
	}
	prior, derr := srf.DecodeManifest(f)
	f.Close()
	if derr != nil {
		return nil
	}

	records := prior.Index()
	return func(relPath string, size int64, modTime time.Time) (*srf.FileRecord, bool) {
		hint, ok := entry.Files[relPath]
		if !ok || hint.Size != size || hint.ModTime != modTime.UnixNano() {
			return nil, false
		}
		record, ok := records[relPath]
		return record, ok
	}
}
