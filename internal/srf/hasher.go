package srf

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
)

// FileSum is the result of hashing one byte source: the ordered block
// digests covering it, the whole-file digest derived from them, and the
// total number of bytes read.
type FileSum struct {
	Blocks   []BlockDigest
	Checksum Digest
	Length   uint64
}

// BlockHasher digests a byte stream into fixed-size blocks. It is
// stateless across files; a single file is always hashed in one pass so
// the whole-file digest stays consistent with the block digests.
type BlockHasher struct {
	blockSize uint64
}

func NewBlockHasher(blockSize uint64) (*BlockHasher, error) {
	if blockSize == 0 {
		return nil, errors.New("block size must be positive")
	}
	return &BlockHasher{blockSize: blockSize}, nil
}

// Sum reads src until EOF and returns its block digests and whole-file
// digest. name is the file's base name, used to label blocks the way the
// wire format does ("<name>_<end offset>"). Read failures are returned
// as-is; retry policy belongs to the caller.
func (h *BlockHasher) Sum(src io.Reader, name string) (*FileSum, error) {
	var (
		blocks []BlockDigest
		offset uint64
	)

	for {
		hash := md5.New()
		n, err := io.CopyN(hash, src, int64(h.blockSize))
		if n > 0 {
			var d Digest
			copy(d[:], hash.Sum(nil))
			blocks = append(blocks, BlockDigest{
				Label:    fmt.Sprintf("%s_%d", name, offset+uint64(n)),
				Start:    offset,
				Length:   uint64(n),
				Checksum: d,
			})
			offset += uint64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("hash %s at offset %d: %w", name, offset, err)
		}
	}

	return &FileSum{
		Blocks:   blocks,
		Checksum: WholeFileDigest(blocks),
		Length:   offset,
	}, nil
}
