package sync

import (
	"sort"

	"github.com/vitorhnn/nimble/internal/srf"
)

type ActionKind int

const (
	ActionUnchanged ActionKind = iota
	ActionAdd
	ActionUpdate
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionUnchanged:
		return "unchanged"
	case ActionAdd:
		return "add"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileAction is the outcome of diffing one relative path. Exactly one
// action exists per path in the union of the local and remote key sets.
type FileAction struct {
	Path   string
	Kind   ActionKind
	Local  *srf.FileRecord // nil for Add
	Remote *srf.FileRecord // nil for Delete
	// ChangedOffsets lists, in ascending order, the start offsets of the
	// remote blocks whose content must be fetched. Update only.
	ChangedOffsets []uint64
}

// Diff compares a local manifest against the remote one and yields the
// minimal per-file actions, in lexical path order so two runs over the
// same inputs produce identical sequences. It is pure: no filesystem, no
// network.
func Diff(local, remote *srf.Manifest) ([]FileAction, error) {
	localIdx := local.Index()
	remoteIdx := remote.Index()

	paths := make([]string, 0, len(localIdx)+len(remoteIdx))
	for p := range remoteIdx {
		paths = append(paths, p)
	}
	for p := range localIdx {
		if _, ok := remoteIdx[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	actions := make([]FileAction, 0, len(paths))
	for _, p := range paths {
		lf, hasLocal := localIdx[p]
		rf, hasRemote := remoteIdx[p]

		switch {
		case !hasLocal:
			actions = append(actions, FileAction{Path: p, Kind: ActionAdd, Remote: rf})
		case !hasRemote:
			actions = append(actions, FileAction{Path: p, Kind: ActionDelete, Local: lf})
		case lf.Checksum == rf.Checksum:
			actions = append(actions, FileAction{Path: p, Kind: ActionUnchanged, Local: lf, Remote: rf})
		default:
			changed, err := changedOffsets(lf, rf)
			if err != nil {
				return nil, err
			}
			actions = append(actions, FileAction{
				Path:           p,
				Kind:           ActionUpdate,
				Local:          lf,
				Remote:         rf,
				ChangedOffsets: changed,
			})
		}
	}

	return actions, nil
}

// changedOffsets pairs blocks at equal offsets and collects the remote
// offsets whose digests differ. Remote blocks past the local end are all
// changed; local blocks past the remote end need no fetch (the applier
// truncates). Size changes never attempt partial realignment.
func changedOffsets(local, remote *srf.FileRecord) ([]uint64, error) {
	if err := comparableBlocks(local, remote); err != nil {
		return nil, err
	}

	var changed []uint64
	for i, rb := range remote.Blocks {
		if i >= len(local.Blocks) || local.Blocks[i].Checksum != rb.Checksum {
			changed = append(changed, rb.Start)
		}
	}
	return changed, nil
}

// comparableBlocks rejects manifests built with mismatched block sizes;
// pairing their offsets would produce silently wrong diffs.
func comparableBlocks(local, remote *srf.FileRecord) error {
	if len(local.Blocks) > 1 && local.Blocks[0].Length != srf.BlockSize {
		return &srf.FormatError{Path: local.Path, Reason: "local manifest uses a different block size"}
	}
	if len(remote.Blocks) > 1 && remote.Blocks[0].Length != srf.BlockSize {
		return &srf.FormatError{Path: remote.Path, Reason: "remote manifest uses a different block size"}
	}
	return nil
}
