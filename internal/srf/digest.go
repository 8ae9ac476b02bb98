package srf

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Digest is an MD5 digest. The wire format carries digests as uppercase
// hex strings, and every derived digest (whole-file, mod) is computed
// over those strings rather than raw bytes, so the casing is load-bearing.
type Digest [md5.Size]byte

func ParseDigest(s string) (Digest, error) {
	var d Digest
	if hex.DecodedLen(len(s)) != md5.Size {
		return d, fmt.Errorf("digest %q: want %d hex chars", s, md5.Size*2)
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("digest %q: %w", s, err)
	}
	return d, nil
}

func DigestOf(data []byte) Digest {
	return Digest(md5.Sum(data))
}

func (d Digest) String() string {
	return strings.ToUpper(hex.EncodeToString(d[:]))
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
