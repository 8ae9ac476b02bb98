// Package modcache persists the client's last-known-good view of the mod
// store: per-mod manifest checksums plus per-file size/mtime hints that
// let the manifest builder skip re-hashing unchanged files. The cache is
// an explicit value loaded at pass start and atomically replaced at pass
// end, never shared in-memory state.
package modcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/vitorhnn/nimble/internal/srf"
	"github.com/vitorhnn/nimble/internal/utils"
)

const (
	FileName = "nimble-cache.json"
	Version  = 1
)

// FileHint records the stat fingerprint a file had when its digests were
// last computed. Matching size and mtime lets the builder reuse the cached
// manifest record; correctness still rests on content digests.
type FileHint struct {
	Size    int64 `json:"size"`
	ModTime int64 `json:"mtime"` // unix nanoseconds
}

// Entry is the cached state of one mod.
type Entry struct {
	Checksum srf.Digest          `json:"checksum"`
	Files    map[string]FileHint `json:"files,omitempty"`
}

type Cache struct {
	Version int               `json:"version"`
	Mods    map[string]*Entry `json:"mods"`
}

func New() *Cache {
	return &Cache{
		Version: Version,
		Mods:    map[string]*Entry{},
	}
}

// Load reads the cache from the mod-store root. A missing cache is an
// empty one; a corrupt cache is an error that aborts the pass before any
// transfers begin.
func Load(rootDir string) (*Cache, error) {
	data, err := os.ReadFile(filepath.Join(rootDir, FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("open cache: %w", err)
	}

	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cache %s is corrupt: %w", FileName, err)
	}
	if c.Version != Version {
		return nil, fmt.Errorf("cache %s has unsupported version %d", FileName, c.Version)
	}
	if c.Mods == nil {
		c.Mods = map[string]*Entry{}
	}
	return &c, nil
}

// Save atomically replaces the on-disk cache. The file is either fully
// the previous version or fully this one.
func (c *Cache) Save(rootDir string) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	return utils.WriteFileAtomic(filepath.Join(rootDir, FileName), data, 0o644)
}

// Mod returns the cached entry for name, or nil.
func (c *Cache) Mod(name string) *Entry {
	return c.Mods[name]
}

// SetMod records a fully synchronized mod.
func (c *Cache) SetMod(name string, checksum srf.Digest, files map[string]FileHint) {
	c.Mods[name] = &Entry{Checksum: checksum, Files: files}
}

// Invalidate clears a mod's checksum so the repository-level short-circuit
// never skips it, while keeping the per-file hints that are still valid. A
// mod that failed on its very first pass has no entry yet; it gets a
// zero-checksum one so the invalidation survives a save.
func (c *Cache) Invalidate(name string) {
	entry := c.Mods[name]
	if entry == nil {
		entry = &Entry{}
		c.Mods[name] = entry
	}
	entry.Checksum = srf.Digest{}
}
