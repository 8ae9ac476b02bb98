package repo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/netip"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/vitorhnn/nimble/internal/srf"
)

// FileName is the repository description served at the repo root.
const FileName = "repo.json"

// Mod is one installable mod the repository offers. Checksum is kept
// opaque: repository tools emit placeholders like "INVALID" mid-update,
// and one unparseable entry must not take the whole description down.
// The mod's manifest carries the checksum that files are verified against.
type Mod struct {
	Name     string `json:"modName"`
	Checksum string `json:"checkSum"`
	Enabled  bool   `json:"enabled"`
}

// BasicAuth carries pre-supplied repository credentials. The client only
// passes them through to the transport.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Port tolerates repository descriptions that quote the port number.
type Port uint16

func (p *Port) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return fmt.Errorf("port %q: %w", s, err)
	}
	*p = Port(v)
	return nil
}

type Server struct {
	Name      string     `json:"name"`
	Address   netip.Addr `json:"address"`
	Port      Port       `json:"port"`
	Password  string     `json:"password"`
	BattleEye bool       `json:"battleEye"`
}

// Repository is the authoritative remote description: the list of mods,
// their manifest checksums, and game-server metadata.
type Repository struct {
	Name             string     `json:"repoName"`
	Checksum         string     `json:"checkSum"`
	RequiredMods     []Mod      `json:"requiredMods"`
	OptionalMods     []Mod      `json:"optionalMods"`
	ClientParameters string     `json:"clientParameters"`
	BasicAuth        *BasicAuth `json:"repoBasicAuthentication"`
	Version          string     `json:"version"`
	Servers          []Server   `json:"servers"`
}

// Fetch retrieves and decodes the repository description. A malformed
// description is never partially trusted.
func Fetch(ctx context.Context, t Transport) (*Repository, error) {
	body, err := t.Get(ctx, FileName)
	if err != nil {
		return nil, fmt.Errorf("fetch repository description: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read repository description: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte{0xef, 0xbb, 0xbf})

	var r Repository
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &srf.FormatError{Reason: "invalid repository description", Err: err}
	}

	return &r, nil
}
