package srf

import (
	"crypto/md5"
	"io"
	"sort"
	"strings"
)

// BlockSize is the fixed block length of the wire format. Local and remote
// manifests are only diff-comparable when built with the same size.
const BlockSize uint64 = 5_000_000

// ManifestFileName is the per-mod manifest cache file. It lives inside the
// mod directory but is never itself listed in a manifest.
const ManifestFileName = "mod.srf"

type FileKind string

const (
	KindFile FileKind = "SwiftyFile"
	KindPbo  FileKind = "SwiftyPboFile"
)

// BlockDigest is the content fingerprint of one contiguous byte range.
type BlockDigest struct {
	Label    string
	Start    uint64
	Length   uint64
	Checksum Digest
}

// FileRecord describes one file of a mod: its length, whole-file digest
// and the ordered block digests covering it end to end.
type FileRecord struct {
	Path     string
	Length   uint64
	Checksum Digest
	Kind     FileKind
	Blocks   []BlockDigest
}

// Manifest is the content-addressed description of one mod directory.
// It is immutable for the duration of a sync pass; diffing and applying
// always produce new values.
type Manifest struct {
	Name     string
	Checksum Digest
	Files    []FileRecord
	// Legacy marks a manifest decoded from the pre-JSON line format. Only
	// its header survives decoding, so it carries no file records and must
	// not drive per-file decisions.
	Legacy bool
}

// Validate checks the block invariants: blocks start at offset zero, are
// contiguous and non-overlapping, every block except the final one is
// exactly blockSize long, and the lengths sum to the file length.
func (f *FileRecord) Validate(blockSize uint64) error {
	if f.Path == "" {
		return &FormatError{Reason: "file record with empty path"}
	}
	if f.Length > 0 && len(f.Blocks) == 0 {
		return &FormatError{Path: f.Path, Reason: "non-empty file without blocks"}
	}

	var offset uint64
	for i, b := range f.Blocks {
		if b.Start != offset {
			return &FormatError{Path: f.Path, Reason: "blocks are not contiguous from offset zero"}
		}
		if b.Length == 0 {
			return &FormatError{Path: f.Path, Reason: "zero-length block"}
		}
		if i < len(f.Blocks)-1 && b.Length != blockSize {
			return &FormatError{Path: f.Path, Reason: "non-final block does not match the block size"}
		}
		if i == len(f.Blocks)-1 && b.Length > blockSize {
			return &FormatError{Path: f.Path, Reason: "final block exceeds the block size"}
		}
		offset += b.Length
	}

	if offset != f.Length {
		return &FormatError{Path: f.Path, Reason: "block lengths do not sum to the file length"}
	}
	return nil
}

// Validate checks every file record plus path uniqueness.
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Files))
	for i := range m.Files {
		f := &m.Files[i]
		if err := f.Validate(BlockSize); err != nil {
			return err
		}
		if _, dup := seen[f.Path]; dup {
			return &FormatError{Path: f.Path, Reason: "duplicate path"}
		}
		seen[f.Path] = struct{}{}
	}
	return nil
}

// BlockIndex returns an offset-keyed view of the record's blocks.
func (f *FileRecord) BlockIndex() map[uint64]*BlockDigest {
	idx := make(map[uint64]*BlockDigest, len(f.Blocks))
	for i := range f.Blocks {
		idx[f.Blocks[i].Start] = &f.Blocks[i]
	}
	return idx
}

// Index returns a path-keyed view of the manifest's files.
func (m *Manifest) Index() map[string]*FileRecord {
	idx := make(map[string]*FileRecord, len(m.Files))
	for i := range m.Files {
		idx[m.Files[i].Path] = &m.Files[i]
	}
	return idx
}

// SortFiles orders file records the way the wire format expects:
// case-insensitive uppercase path comparison.
func SortFiles(files []FileRecord) {
	sort.Slice(files, func(i, j int) bool {
		return strings.ToUpper(files[i].Path) < strings.ToUpper(files[j].Path)
	})
}

// ComputeChecksum derives the mod checksum from sorted file records:
// an MD5 over each file's uppercase hex checksum followed by its
// lowercased slash-separated path.
func ComputeChecksum(files []FileRecord) Digest {
	h := md5.New()
	for i := range files {
		io.WriteString(h, files[i].Checksum.String())
		io.WriteString(h, strings.ToLower(files[i].Path))
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// WholeFileDigest derives a file's checksum from its block digests: an MD5
// over the concatenated uppercase hex block checksums.
func WholeFileDigest(blocks []BlockDigest) Digest {
	h := md5.New()
	for i := range blocks {
		io.WriteString(h, blocks[i].Checksum.String())
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// NewInvalid returns a placeholder local manifest for a mod that has no
// usable local state. Its zero checksum never matches a remote checksum,
// so every remote file diffs as an add.
func NewInvalid(name string) *Manifest {
	return &Manifest{Name: name}
}
