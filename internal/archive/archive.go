// Package archive validates the internal structure of the game's packed
// archive containers after they have been written to disk. It is a
// defense-in-depth check behind the digest verification: a transfer can
// match its digests and still carry an archive that was corrupt at the
// source.
package archive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CorruptArchiveError reports a structurally inconsistent archive. It is
// treated as a transfer failure for that file, not as fatal to the pass.
type CorruptArchiveError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt archive %s: %s", e.Path, e.Reason)
}

func (e *CorruptArchiveError) Unwrap() error {
	return e.Err
}

// ValidateFunc checks one on-disk file for structural self-consistency.
type ValidateFunc func(path string) error

var registry = map[string]ValidateFunc{}

// Register adds a validator for a file extension (with leading dot,
// case-insensitive). New container formats plug in here.
func Register(ext string, fn ValidateFunc) {
	registry[strings.ToLower(ext)] = fn
}

// ValidatorFor looks up the validator capability for a path, keyed by its
// extension.
func ValidatorFor(path string) (ValidateFunc, bool) {
	fn, ok := registry[strings.ToLower(filepath.Ext(path))]
	return fn, ok
}

// Validate runs the registered validator for path, if any. Files without
// a recognized container format always pass.
func Validate(path string) error {
	fn, ok := ValidatorFor(path)
	if !ok {
		return nil
	}
	return fn(path)
}
