package archive

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// PBO entry packing methods.
const (
	pboMethodVers = 0x56657273 // product entry, followed by extension strings
	pboMethodCprs = 0x43707273 // compressed
	pboMethodEnco = 0x456e6372 // encrypted
	pboMethodNone = 0x00000000
)

// PboEntry is one file entry of a PBO header.
type PboEntry struct {
	Filename     string
	Method       uint32
	OriginalSize uint32
	Offset       uint32
	Timestamp    uint32
	DataSize     uint32
}

// Pbo is the parsed header of a PBO container: the byte length of the
// header itself, the product extension strings, and the entry index.
// Entry data follows the header back to back in index order.
type Pbo struct {
	HeaderLen  int64
	Extensions map[string]string
	Entries    []PboEntry
}

func init() {
	Register(".pbo", ValidatePbo)
}

type headerReader struct {
	r *bufio.Reader
	n int64
}

func (h *headerReader) readString() (string, error) {
	s, err := h.r.ReadString(0)
	if err != nil {
		return "", err
	}
	h.n += int64(len(s))
	return s[:len(s)-1], nil
}

func (h *headerReader) readU32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(h.r, buf[:]); err != nil {
		return 0, err
	}
	h.n += 4
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (h *headerReader) readEntry() (PboEntry, error) {
	var e PboEntry
	var err error

	if e.Filename, err = h.readString(); err != nil {
		return e, err
	}
	if e.Method, err = h.readU32(); err != nil {
		return e, err
	}
	switch e.Method {
	case pboMethodVers, pboMethodCprs, pboMethodEnco, pboMethodNone:
	default:
		return e, fmt.Errorf("unknown packing method %#x", e.Method)
	}
	if e.OriginalSize, err = h.readU32(); err != nil {
		return e, err
	}
	if e.Offset, err = h.readU32(); err != nil {
		return e, err
	}
	if e.Timestamp, err = h.readU32(); err != nil {
		return e, err
	}
	if e.DataSize, err = h.readU32(); err != nil {
		return e, err
	}
	return e, nil
}

func (h *headerReader) readExtensions() (map[string]string, error) {
	out := map[string]string{}
	for {
		key, err := h.readString()
		if err != nil {
			return nil, err
		}
		if key == "" {
			return out, nil
		}
		value, err := h.readString()
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
}

// ReadPbo parses a PBO header from r. It stops at the blank terminator
// entry; the caller decides what to do with the data section.
func ReadPbo(r io.Reader) (*Pbo, error) {
	h := &headerReader{r: bufio.NewReader(r)}
	pbo := &Pbo{Extensions: map[string]string{}}

	for {
		entry, err := h.readEntry()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, errors.New("truncated header")
			}
			return nil, err
		}

		if entry.Method == pboMethodNone && entry.Filename == "" {
			break
		}

		if entry.Method == pboMethodVers {
			if pbo.Extensions, err = h.readExtensions(); err != nil {
				return nil, fmt.Errorf("extensions: %w", err)
			}
		}

		pbo.Entries = append(pbo.Entries, entry)
	}

	pbo.HeaderLen = h.n
	return pbo, nil
}

// ValidatePbo checks that a PBO's header parses and that its entry index
// is consistent with the file's actual length. Trailing bytes beyond the
// data section are allowed; they hold the signature block.
func ValidatePbo(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat archive %s: %w", path, err)
	}

	pbo, err := ReadPbo(f)
	if err != nil {
		return &CorruptArchiveError{Path: path, Reason: "header parse failed", Err: err}
	}

	if len(pbo.Entries) == 0 {
		return &CorruptArchiveError{Path: path, Reason: "no entries"}
	}

	dataLen := pbo.HeaderLen
	for _, e := range pbo.Entries {
		dataLen += int64(e.DataSize)
	}
	if dataLen > info.Size() {
		return &CorruptArchiveError{
			Path:   path,
			Reason: fmt.Sprintf("entry index wants %d bytes, file has %d", dataLen, info.Size()),
		}
	}

	return nil
}
