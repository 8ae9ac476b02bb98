//go:build windows

package launcher

import "path/filepath"

// gameBasePath is the identity on Windows: the game sees the same paths
// the host does.
func gameBasePath(rootDir string) (string, error) {
	return rootDir, nil
}

func joinGamePath(basePath, name string) string {
	return filepath.Join(basePath, name)
}
