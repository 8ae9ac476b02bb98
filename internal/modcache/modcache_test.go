package modcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitorhnn/nimble/internal/srf"
)

func TestLoad_MissingIsEmpty(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, c.Mods)
	assert.Equal(t, Version, c.Version)
}

func TestLoad_CorruptAborts(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("{not json"), 0o644))

	_, err := Load(root)
	assert.Error(t, err)
}

func TestLoad_UnsupportedVersion(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(`{"version":99,"mods":{}}`), 0o644))

	_, err := Load(root)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()

	c := New()
	c.SetMod("@ace", srf.DigestOf([]byte("ace")), map[string]FileHint{
		"addons/core.pbo": {Size: 123, ModTime: 456},
	})
	require.NoError(t, c.Save(root))

	back, err := Load(root)
	require.NoError(t, err)

	entry := back.Mod("@ace")
	require.NotNil(t, entry)
	assert.Equal(t, srf.DigestOf([]byte("ace")), entry.Checksum)
	assert.Equal(t, int64(123), entry.Files["addons/core.pbo"].Size)
}

func TestInvalidate(t *testing.T) {
	c := New()
	c.SetMod("@ace", srf.DigestOf([]byte("ace")), map[string]FileHint{
		"mod.cpp": {Size: 1, ModTime: 2},
	})

	c.Invalidate("@ace")

	entry := c.Mod("@ace")
	require.NotNil(t, entry)
	assert.True(t, entry.Checksum.IsZero())
	// hints survive invalidation
	assert.NotEmpty(t, entry.Files)

	// a mod with no entry gets a zero-checksum one, so a first-pass failure
	// still persists
	c.Invalidate("@missing")
	missing := c.Mod("@missing")
	require.NotNil(t, missing)
	assert.True(t, missing.Checksum.IsZero())
}
