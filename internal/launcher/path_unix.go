//go:build !windows

package launcher

import (
	"errors"
	"path/filepath"
)

// gameBasePath maps the host mod store path into the game's view of the
// filesystem. Under Proton the prefix's drive_c directory is the game's
// c: drive, so the store must live somewhere beneath one.
func gameBasePath(rootDir string) (string, error) {
	for dir := rootDir; ; dir = filepath.Dir(dir) {
		if filepath.Base(dir) == "drive_c" {
			rel, err := filepath.Rel(dir, rootDir)
			if err != nil {
				return "", err
			}
			if rel == "." {
				return "c:/", nil
			}
			return "c:/" + filepath.ToSlash(rel), nil
		}
		if dir == filepath.Dir(dir) {
			return "", errors.New("mod store is not inside a Proton prefix (no drive_c ancestor)")
		}
	}
}

func joinGamePath(basePath, name string) string {
	if basePath == "c:/" {
		return basePath + name
	}
	return basePath + "/" + name
}
