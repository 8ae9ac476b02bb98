package launcher

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModArgs(t *testing.T) {
	args := modArgs("c:/repo", []string{"@ace", "@cba_a3"})
	assert.Equal(t, "-noLauncher -mod=c:/repo/@ace;c:/repo/@cba_a3;", args)
}

func TestEncodeCmdline(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc123", "abc123"},
		{"-mod=", "%2Dmod%3D"},
		{"c:/repo/@ace;", "c%3A%2Frepo%2F%40ace%3B"},
		{"a b", "a%20b"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, encodeCmdline(tt.in), tt.in)
	}
}

func TestBuildSteamURL(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("proton path mapping does not apply on windows")
	}

	root := filepath.Join(t.TempDir(), "drive_c", "repo")
	require.NoError(t, os.MkdirAll(root, 0o755))

	url, err := BuildSteamURL(root, []string{"@ace"})
	require.NoError(t, err)
	assert.Equal(t, "steam://run/107410//"+encodeCmdline("-noLauncher -mod=c:/repo/@ace;")+"/", url)
}

func TestGameBasePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("proton path mapping does not apply on windows")
	}

	base, err := gameBasePath("/home/user/.steam/steamapps/compatdata/107410/pfx/drive_c/repo")
	require.NoError(t, err)
	assert.Equal(t, "c:/repo", base)

	base, err = gameBasePath("/prefix/drive_c")
	require.NoError(t, err)
	assert.Equal(t, "c:/", base)

	_, err = gameBasePath("/home/user/mods")
	require.ErrorContains(t, err, "drive_c")
}

func TestLaunchRequiresCache(t *testing.T) {
	err := Launch(t.TempDir())
	require.ErrorContains(t, err, "run sync or gen-srf first")
}
