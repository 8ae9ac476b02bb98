package sync

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vitorhnn/nimble/internal/srf"
	"github.com/vitorhnn/nimble/internal/utils"
)

// Applier commits verified transfer results to one mod directory. Whole
// files land by atomic rename; sparse updates patch in place behind a
// backup copy that survives until every range of the file is committed,
// so an interrupted patch is always recoverable.
type Applier struct {
	modDir string
}

func NewApplier(modDir string) *Applier {
	return &Applier{modDir: modDir}
}

func (a *Applier) target(relPath string) string {
	return filepath.Join(a.modDir, filepath.FromSlash(relPath))
}

// Apply commits one completed transfer. The result must already have been
// digest-verified by the scheduler.
func (a *Applier) Apply(res *TransferResult) error {
	switch {
	case res.Action.Kind == ActionDelete:
		return a.applyDelete(res.Action.Path)
	case res.WholeFile:
		return a.applyWholeFile(res.Action.Path, res.TempPath)
	case res.Action.Kind == ActionUpdate:
		return a.applyRanges(&res.Action, res.Ranges)
	default:
		return fmt.Errorf("unappliable result for %s", res.Action.Path)
	}
}

// applyDelete removes the file. A file that is already absent is success;
// deletes are idempotent.
func (a *Applier) applyDelete(relPath string) error {
	err := os.Remove(a.target(relPath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", relPath, err)
	}
	return nil
}

// applyWholeFile renames the staged download over the target. The staging
// file lives in the same directory, so the rename is atomic.
func (a *Applier) applyWholeFile(relPath, tempPath string) error {
	target := a.target(relPath)
	if err := utils.EnsureParent(target); err != nil {
		return fmt.Errorf("commit %s: %w", relPath, err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		return fmt.Errorf("commit %s: %w", relPath, err)
	}
	return nil
}

// applyRanges patches only the changed byte ranges in place. A pre-patch
// copy of the file is retained until every range succeeds; if the process
// dies mid-patch, the next pass restores it before diffing.
func (a *Applier) applyRanges(action *FileAction, ranges []FetchedRange) error {
	target := a.target(action.Path)
	backup := target + srf.BackupSuffix

	if err := utils.CopyFile(target, backup); err != nil {
		return fmt.Errorf("backup %s: %w", action.Path, err)
	}

	if err := a.patch(target, action, ranges); err != nil {
		return err
	}

	if err := os.Remove(backup); err != nil {
		return fmt.Errorf("discard backup of %s: %w", action.Path, err)
	}
	return nil
}

func (a *Applier) patch(target string, action *FileAction, ranges []FetchedRange) error {
	f, err := os.OpenFile(target, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("patch %s: %w", action.Path, err)
	}
	defer f.Close()

	for _, r := range ranges {
		if _, err := f.WriteAt(r.Data, int64(r.Start)); err != nil {
			return fmt.Errorf("patch %s at %d: %w", action.Path, r.Start, err)
		}
	}

	// a shrinking file has no changed blocks past its new end, only a
	// shorter length
	if err := f.Truncate(int64(action.Remote.Length)); err != nil {
		return fmt.Errorf("truncate %s: %w", action.Path, err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", action.Path, err)
	}
	return nil
}

// WriteManifest atomically replaces the mod's cache manifest. It runs
// once per mod per pass, after the barrier on all per-file transfers.
func (a *Applier) WriteManifest(m *srf.Manifest) error {
	var buf bytes.Buffer
	if err := srf.EncodeManifest(&buf, m); err != nil {
		return err
	}
	return utils.WriteFileAtomic(filepath.Join(a.modDir, srf.ManifestFileName), buf.Bytes(), 0o644)
}

// Recover makes the mod directory consistent before a pass: interrupted
// in-place patches are rolled back from their backups and stale staging
// files are swept.
func Recover(modDir string) error {
	if !utils.DirExists(modDir) {
		return nil
	}

	return filepath.WalkDir(modDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		switch {
		case strings.HasSuffix(name, srf.BackupSuffix):
			original := strings.TrimSuffix(p, srf.BackupSuffix)
			slog.Warn("restoring interrupted patch", "file", original)
			if err := os.Rename(p, original); err != nil {
				return fmt.Errorf("restore %s: %w", original, err)
			}
		case strings.Contains(name, srf.TempSuffix):
			if err := os.Remove(p); err != nil {
				return fmt.Errorf("sweep %s: %w", p, err)
			}
		}
		return nil
	})
}
