package srf

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/vitorhnn/nimble/internal/utils"
)

// FormatError reports a malformed or invariant-violating manifest. A
// manifest that fails to decode is never partially trusted: the decoder
// returns no value alongside a FormatError.
type FormatError struct {
	Path   string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("manifest format error: %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("manifest format error: %s", e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// utf8BOM is tolerated at the start of remote manifests; some repository
// authoring tools emit it.
var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// legacyMagic marks the line-oriented SRF format that predates the JSON one.
var legacyMagic = []byte("ADDON")

type wirePart struct {
	Path     string `json:"Path"`
	Length   uint64 `json:"Length"`
	Start    uint64 `json:"Start"`
	Checksum string `json:"Checksum"`
}

type wireFile struct {
	Path     string     `json:"Path"`
	Length   uint64     `json:"Length"`
	Checksum string     `json:"Checksum"`
	Type     FileKind   `json:"Type"`
	Parts    []wirePart `json:"Parts"`
}

type wireManifest struct {
	Name     string     `json:"Name"`
	Checksum string     `json:"Checksum"`
	Files    []wireFile `json:"Files"`
}

// EncodeManifest writes m in the JSON wire format.
func EncodeManifest(w io.Writer, m *Manifest) error {
	wm := wireManifest{
		Name:     m.Name,
		Checksum: m.Checksum.String(),
		Files:    make([]wireFile, 0, len(m.Files)),
	}
	for i := range m.Files {
		f := &m.Files[i]
		wf := wireFile{
			Path:     f.Path,
			Length:   f.Length,
			Checksum: f.Checksum.String(),
			Type:     f.Kind,
			Parts:    make([]wirePart, 0, len(f.Blocks)),
		}
		for _, b := range f.Blocks {
			wf.Parts = append(wf.Parts, wirePart{
				Path:     b.Label,
				Length:   b.Length,
				Start:    b.Start,
				Checksum: b.Checksum.String(),
			})
		}
		wm.Files = append(wm.Files, wf)
	}

	if err := json.NewEncoder(w).Encode(&wm); err != nil {
		return fmt.Errorf("encode manifest %s: %w", m.Name, err)
	}
	return nil
}

// DecodeManifest reads a manifest in either the JSON wire format or the
// legacy line format, normalizes its paths and validates the block
// invariants. Malformed input fails with a FormatError; it is never
// partially recovered.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	if bytes.HasPrefix(data, legacyMagic) {
		return decodeLegacy(data)
	}

	var wm wireManifest
	if err := json.Unmarshal(data, &wm); err != nil {
		return nil, &FormatError{Reason: "invalid manifest json", Err: err}
	}

	m := &Manifest{
		Name:  wm.Name,
		Files: make([]FileRecord, 0, len(wm.Files)),
	}
	if m.Checksum, err = ParseDigest(wm.Checksum); err != nil {
		return nil, &FormatError{Reason: "invalid mod checksum", Err: err}
	}

	for _, wf := range wm.Files {
		f := FileRecord{
			// swifty did not normalize windows separators
			Path:   utils.NormPath(wf.Path),
			Length: wf.Length,
			Kind:   wf.Type,
			Blocks: make([]BlockDigest, 0, len(wf.Parts)),
		}
		if f.Kind != KindFile && f.Kind != KindPbo {
			return nil, &FormatError{Path: wf.Path, Reason: fmt.Sprintf("unknown file type %q", wf.Type)}
		}
		if f.Checksum, err = ParseDigest(wf.Checksum); err != nil {
			return nil, &FormatError{Path: wf.Path, Reason: "invalid file checksum", Err: err}
		}
		for _, wp := range wf.Parts {
			b := BlockDigest{
				Label:  wp.Path,
				Start:  wp.Start,
				Length: wp.Length,
			}
			if b.Checksum, err = ParseDigest(wp.Checksum); err != nil {
				return nil, &FormatError{Path: wf.Path, Reason: "invalid block checksum", Err: err}
			}
			f.Blocks = append(f.Blocks, b)
		}
		m.Files = append(m.Files, f)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// decodeLegacy parses the stateful line format:
//
//	ADDON:<name>:<file count>:<checksum>
//	FILE|PBO:<path>:<length>:<part count>:<checksum>
//	<label>:<start>:<length>:<checksum>  (per part)
//
// Legacy manifests predate fixed-size blocks, so only the mod header is
// kept; the file entries are shape-checked and discarded. The header's
// checksum is enough to drive a full re-fetch when it no longer matches.
func decodeLegacy(data []byte) (*Manifest, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return nil, &FormatError{Reason: "legacy srf: missing addon line"}
	}

	fields := strings.Split(scanner.Text(), ":")
	if len(fields) < 4 || fields[0] != "ADDON" {
		return nil, &FormatError{Reason: "legacy srf: malformed addon line"}
	}

	fileCount, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return nil, &FormatError{Reason: "legacy srf: bad file count", Err: err}
	}
	checksum, err := ParseDigest(fields[3])
	if err != nil {
		return nil, &FormatError{Reason: "legacy srf: bad addon checksum", Err: err}
	}

	for range fileCount {
		if !scanner.Scan() {
			return nil, &FormatError{Reason: "legacy srf: missing file line"}
		}
		fileFields := strings.Split(scanner.Text(), ":")
		if len(fileFields) < 5 {
			return nil, &FormatError{Reason: "legacy srf: malformed file line"}
		}
		if fileFields[0] != "FILE" && fileFields[0] != "PBO" {
			return nil, &FormatError{Reason: fmt.Sprintf("legacy srf: unknown file type %q", fileFields[0])}
		}
		partCount, err := strconv.ParseUint(fileFields[3], 10, 32)
		if err != nil {
			return nil, &FormatError{Reason: "legacy srf: bad part count", Err: err}
		}
		for range partCount {
			if !scanner.Scan() {
				return nil, &FormatError{Reason: "legacy srf: missing part line"}
			}
			if len(strings.Split(scanner.Text(), ":")) < 4 {
				return nil, &FormatError{Reason: "legacy srf: malformed part line"}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, &FormatError{Reason: "legacy srf: read failure", Err: err}
	}

	return &Manifest{
		Name:     fields[1],
		Checksum: checksum,
		Legacy:   true,
	}, nil
}
