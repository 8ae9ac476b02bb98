package srf

import (
	"bytes"
	"crypto/md5"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockHasher_CoversSource(t *testing.T) {
	hasher, err := NewBlockHasher(4)
	require.NoError(t, err)

	data := []byte("0123456789ab") // 3 exact blocks
	sum, err := hasher.Sum(bytes.NewReader(data), "file.bin")
	require.NoError(t, err)

	require.Len(t, sum.Blocks, 3)
	assert.Equal(t, uint64(len(data)), sum.Length)

	// blocks are contiguous from offset zero and reconstruct the length
	var offset uint64
	for _, b := range sum.Blocks {
		assert.Equal(t, offset, b.Start)
		offset += b.Length
	}
	assert.Equal(t, sum.Length, offset)

	// block digests match independently computed md5s
	for i, b := range sum.Blocks {
		want := Digest(md5.Sum(data[i*4 : i*4+4]))
		assert.Equal(t, want, b.Checksum)
	}
}

func TestBlockHasher_ShortFinalBlock(t *testing.T) {
	hasher, err := NewBlockHasher(5)
	require.NoError(t, err)

	sum, err := hasher.Sum(strings.NewReader("0123456"), "file.bin")
	require.NoError(t, err)

	require.Len(t, sum.Blocks, 2)
	assert.Equal(t, uint64(5), sum.Blocks[0].Length)
	assert.Equal(t, uint64(2), sum.Blocks[1].Length)
	assert.Equal(t, "file.bin_5", sum.Blocks[0].Label)
	assert.Equal(t, "file.bin_7", sum.Blocks[1].Label)
}

func TestBlockHasher_EmptySource(t *testing.T) {
	hasher, err := NewBlockHasher(4)
	require.NoError(t, err)

	sum, err := hasher.Sum(bytes.NewReader(nil), "empty")
	require.NoError(t, err)
	assert.Empty(t, sum.Blocks)
	assert.Equal(t, uint64(0), sum.Length)
}

func TestBlockHasher_Idempotent(t *testing.T) {
	hasher, err := NewBlockHasher(4)
	require.NoError(t, err)

	data := []byte("the same bytes every time")
	first, err := hasher.Sum(bytes.NewReader(data), "f")
	require.NoError(t, err)
	second, err := hasher.Sum(bytes.NewReader(data), "f")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBlockHasher_WholeFileDigestFromBlockStrings(t *testing.T) {
	hasher, err := NewBlockHasher(4)
	require.NoError(t, err)

	sum, err := hasher.Sum(strings.NewReader("abcdefgh"), "f")
	require.NoError(t, err)

	// the whole-file digest hashes the uppercase hex block checksums
	h := md5.New()
	for _, b := range sum.Blocks {
		h.Write([]byte(b.Checksum.String()))
	}
	var want Digest
	copy(want[:], h.Sum(nil))
	assert.Equal(t, want, sum.Checksum)
}

func TestNewBlockHasher_RejectsZeroBlockSize(t *testing.T) {
	_, err := NewBlockHasher(0)
	assert.Error(t, err)
}
