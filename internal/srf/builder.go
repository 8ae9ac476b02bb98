package srf

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vitorhnn/nimble/internal/utils"
)

// BackupSuffix marks the pre-patch copy the applier keeps while patching a
// file in place. TempSuffix marks staged downloads. Builder scans must
// never pick either up.
const (
	BackupSuffix = ".nimble-bak"
	TempSuffix   = ".nimble-tmp"
)

// HintFunc lets the builder skip re-hashing a file whose size and
// modification time are unchanged since the last committed pass, by
// returning its cached record. This is a performance shortcut only;
// diff correctness always rests on content digests.
type HintFunc func(relPath string, size int64, modTime time.Time) (*FileRecord, bool)

type BuilderOptions struct {
	// Workers bounds concurrent file hashing. Zero means NumCPU.
	Workers int
	// FollowSymlinks hashes symlink targets instead of rejecting the scan.
	FollowSymlinks bool
	// Hint is optional; see HintFunc.
	Hint HintFunc
}

// Builder walks a mod directory and produces its Manifest. It has no side
// effects; persisting the result is an explicit codec step.
type Builder struct {
	hasher  *BlockHasher
	opts    BuilderOptions
	workers int
}

func NewBuilder(opts BuilderOptions) *Builder {
	hasher, _ := NewBlockHasher(BlockSize)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Builder{
		hasher:  hasher,
		opts:    opts,
		workers: workers,
	}
}

type scanEntry struct {
	absPath string
	relPath string
	size    int64
	modTime time.Time
}

// BuildMod scans modPath and returns its manifest. Files are hashed
// concurrently, each file in a single pass. Relative paths are normalized
// to forward slashes with case preserved.
func (b *Builder) BuildMod(ctx context.Context, modPath string) (*Manifest, error) {
	entries, err := b.collect(modPath)
	if err != nil {
		return nil, err
	}

	files := make([]FileRecord, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, entry := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if b.opts.Hint != nil {
				if cached, ok := b.opts.Hint(entry.relPath, entry.size, entry.modTime); ok {
					files[i] = *cached
					files[i].Path = entry.relPath
					return nil
				}
			}

			record, err := b.hashFile(entry)
			if err != nil {
				return err
			}
			files[i] = *record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	SortFiles(files)

	return &Manifest{
		Name:     strings.ToLower(filepath.Base(modPath)),
		Checksum: ComputeChecksum(files),
		Files:    files,
	}, nil
}

func (b *Builder) collect(modPath string) ([]scanEntry, error) {
	var entries []scanEntry

	err := filepath.WalkDir(modPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("scan %s: %w", path, walkErr)
		}
		if d.IsDir() {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !b.opts.FollowSymlinks {
				return fmt.Errorf("scan %s: symbolic links are not allowed in the mod store", path)
			}
			resolvedInfo, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("scan %s: %w", path, err)
			}
			if resolvedInfo.IsDir() {
				return nil
			}
		}

		name := d.Name()
		if name == ManifestFileName || strings.HasSuffix(name, BackupSuffix) || strings.Contains(name, TempSuffix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("scan %s: %w", path, err)
		}
		// symlink targets need a follow-through stat
		if d.Type()&fs.ModeSymlink != 0 {
			if info, err = os.Stat(path); err != nil {
				return fmt.Errorf("scan %s: %w", path, err)
			}
		}

		rel, err := filepath.Rel(modPath, path)
		if err != nil {
			return fmt.Errorf("scan rel path %s: %w", path, err)
		}

		entries = append(entries, scanEntry{
			absPath: path,
			relPath: utils.NormPath(rel),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (b *Builder) hashFile(entry scanEntry) (*FileRecord, error) {
	f, err := os.Open(entry.absPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", entry.absPath, err)
	}
	defer f.Close()

	sum, err := b.hasher.Sum(f, filepath.Base(entry.absPath))
	if err != nil {
		return nil, err
	}

	kind := KindFile
	if strings.EqualFold(filepath.Ext(entry.relPath), ".pbo") {
		kind = KindPbo
	}

	return &FileRecord{
		Path:     entry.relPath,
		Length:   sum.Length,
		Checksum: sum.Checksum,
		Kind:     kind,
		Blocks:   sum.Blocks,
	}, nil
}
