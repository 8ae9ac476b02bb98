// Package launcher starts the game through Steam with the synchronized
// mod set. The command line is passed inside a steam browser URL, so it is
// percent-encoded far more aggressively than normal URL escaping.
package launcher

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vitorhnn/nimble/internal/modcache"
	"github.com/vitorhnn/nimble/internal/utils"
)

// arma3AppID is the Steam application the run URL targets.
const arma3AppID = "107410"

// Launch opens a steam run URL carrying a -mod= argument for every mod the
// store's cache knows about. The store must have been synchronized or had
// its manifests generated first.
func Launch(rootDir string) error {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return err
	}

	cache, err := modcache.Load(root)
	if err != nil {
		return err
	}
	if len(cache.Mods) == 0 {
		return fmt.Errorf("no mods in %s: run sync or gen-srf first", root)
	}

	names := make([]string, 0, len(cache.Mods))
	for name := range cache.Mods {
		names = append(names, name)
	}
	sort.Strings(names)

	steamURL, err := BuildSteamURL(root, names)
	if err != nil {
		return err
	}

	slog.Info("launching game", "mods", len(names), "url", steamURL)
	return openURL(steamURL)
}

// BuildSteamURL assembles the steam run URL for the given mod directories
// under rootDir. On non-Windows hosts rootDir must live inside a Proton
// prefix; the game sees the prefix's drive_c as c:/.
func BuildSteamURL(rootDir string, modNames []string) (string, error) {
	gameRoot, err := gameBasePath(rootDir)
	if err != nil {
		return "", err
	}
	return "steam://run/" + arma3AppID + "//" + encodeCmdline(modArgs(gameRoot, modNames)) + "/", nil
}

func modArgs(basePath string, modNames []string) string {
	var b strings.Builder
	b.WriteString("-noLauncher -mod=")
	for _, name := range modNames {
		b.WriteString(joinGamePath(basePath, name))
		b.WriteByte(';')
	}
	return b.String()
}

// encodeCmdline percent-encodes every byte outside [0-9A-Za-z]. The steam
// browser protocol mangles anything less strict.
func encodeCmdline(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case '0' <= c && c <= '9', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
