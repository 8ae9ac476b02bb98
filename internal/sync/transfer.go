package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	gosync "sync"

	"github.com/dustin/go-humanize"

	"github.com/vitorhnn/nimble/internal/repo"
	"github.com/vitorhnn/nimble/internal/srf"
	"github.com/vitorhnn/nimble/internal/utils"
)

const (
	// AutoDetectWorkers lets the scheduler pick a worker count.
	AutoDetectWorkers = 0
	DefaultWorkers    = 8

	// DefaultWholeFileThreshold is the changed-block fraction above which
	// an update degrades to a whole-file fetch. Tunable, not a law.
	DefaultWholeFileThreshold = 0.5
)

// DigestMismatchError reports fetched content that does not match the
// manifest's expected digest. It is never silently accepted and never
// retried within a pass; the next sync attempt re-fetches.
type DigestMismatchError struct {
	Path     string
	Expected srf.Digest
	Got      srf.Digest
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("digest mismatch for %s: want %s, got %s", e.Path, e.Expected, e.Got)
}

// FetchedRange is one verified byte range of a sparse update.
type FetchedRange struct {
	Start uint64
	Data  []byte
}

// TransferResult is what one unit of scheduled work hands to the applier
// stage through the completion channel.
type TransferResult struct {
	Action    FileAction
	WholeFile bool
	// TempPath is the staged download for whole-file transfers, placed in
	// the target's directory so the applier's rename stays on one
	// filesystem.
	TempPath string
	// Ranges holds the verified blocks of a sparse update.
	Ranges  []FetchedRange
	Fetched uint64
	Err     error
}

// Scheduler executes the network fetches a diff implies, with bounded
// concurrency and per-fetch retry. One slow or broken file never blocks
// or fails unrelated files.
type Scheduler struct {
	transport repo.Transport
	workers   int
	retry     RetryPolicy
	threshold float64
}

type SchedulerOption func(*Scheduler)

func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > AutoDetectWorkers {
			s.workers = n
		}
	}
}

func WithRetryPolicy(p RetryPolicy) SchedulerOption {
	return func(s *Scheduler) { s.retry = p }
}

func WithWholeFileThreshold(f float64) SchedulerOption {
	return func(s *Scheduler) {
		if f > 0 {
			s.threshold = f
		}
	}
}

func NewScheduler(transport repo.Transport, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		transport: transport,
		workers:   DefaultWorkers,
		retry:     DefaultRetryPolicy(),
		threshold: DefaultWholeFileThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run schedules the actionable subset of actions against the remote mod
// and streams completions. Unchanged actions are dropped; deletes pass
// through untouched for the applier. The returned channel closes once
// every transfer has completed or unwound after cancellation.
func (s *Scheduler) Run(ctx context.Context, modName, modDir string, actions []FileAction) <-chan TransferResult {
	work := make([]FileAction, 0, len(actions))
	for _, a := range actions {
		if a.Kind != ActionUnchanged {
			work = append(work, a)
		}
	}

	jobs := make(chan FileAction, len(work))
	results := make(chan TransferResult, len(work))

	var wg gosync.WaitGroup
	wg.Add(s.workers)
	for range s.workers {
		go func() {
			defer wg.Done()
			for action := range jobs {
				select {
				case <-ctx.Done():
					results <- TransferResult{Action: action, Err: ctx.Err()}
				default:
					results <- s.execute(ctx, modName, modDir, action)
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, action := range work {
			select {
			case <-ctx.Done():
				return
			case jobs <- action:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

func (s *Scheduler) execute(ctx context.Context, modName, modDir string, action FileAction) TransferResult {
	switch action.Kind {
	case ActionDelete:
		// no network work; forwarded to the applier as-is
		return TransferResult{Action: action}
	case ActionAdd:
		return s.fetchWhole(ctx, modName, modDir, action)
	case ActionUpdate:
		if s.degradeToWholeFile(action) {
			return s.fetchWhole(ctx, modName, modDir, action)
		}
		return s.fetchRanges(ctx, modName, action)
	default:
		return TransferResult{Action: action, Err: fmt.Errorf("unschedulable action %s for %s", action.Kind, action.Path)}
	}
}

// degradeToWholeFile applies the threshold rule: past a certain changed
// fraction, one whole-file request beats many ranged ones.
func (s *Scheduler) degradeToWholeFile(action FileAction) bool {
	total := len(action.Remote.Blocks)
	if total == 0 {
		return true
	}
	return float64(len(action.ChangedOffsets))/float64(total) > s.threshold
}

// fetchWhole streams the remote file into a staging temp file, hashing
// blocks on the way through, and verifies the whole-file digest before
// anything reaches the applier.
func (s *Scheduler) fetchWhole(ctx context.Context, modName, modDir string, action FileAction) TransferResult {
	remotePath := path.Join(modName, action.Path)
	target := filepath.Join(modDir, filepath.FromSlash(action.Path))

	res := TransferResult{Action: action, WholeFile: true}
	res.Err = withRetry(ctx, s.retry, func() error {
		if err := utils.EnsureParent(target); err != nil {
			return err
		}

		body, err := s.transport.Get(ctx, remotePath)
		if err != nil {
			return err
		}
		defer body.Close()

		tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+srf.TempSuffix+".*")
		if err != nil {
			return fmt.Errorf("stage %s: %w", action.Path, err)
		}
		tmpPath := tmp.Name()

		ok := false
		defer func() {
			if !ok {
				tmp.Close()
				os.Remove(tmpPath)
			}
		}()

		hasher, _ := srf.NewBlockHasher(srf.BlockSize)
		sum, err := hasher.Sum(io.TeeReader(body, tmp), filepath.Base(action.Path))
		if err != nil {
			return err
		}

		if sum.Checksum != action.Remote.Checksum {
			return &DigestMismatchError{
				Path:     action.Path,
				Expected: action.Remote.Checksum,
				Got:      sum.Checksum,
			}
		}

		if err := tmp.Sync(); err != nil {
			return fmt.Errorf("sync staged %s: %w", action.Path, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close staged %s: %w", action.Path, err)
		}

		slog.Debug("fetched file",
			"mod", modName,
			"path", action.Path,
			"size", humanize.Bytes(sum.Length),
		)

		ok = true
		res.TempPath = tmpPath
		res.Fetched = sum.Length
		return nil
	})

	return res
}

// fetchRanges pulls each changed block by byte range and verifies its
// digest against the manifest before handing the set to the applier.
func (s *Scheduler) fetchRanges(ctx context.Context, modName string, action FileAction) TransferResult {
	remotePath := path.Join(modName, action.Path)
	remoteBlocks := action.Remote.BlockIndex()

	res := TransferResult{Action: action}
	for _, offset := range action.ChangedOffsets {
		block, ok := remoteBlocks[offset]
		if !ok {
			res.Err = fmt.Errorf("changed offset %d has no remote block in %s", offset, action.Path)
			return res
		}

		var data []byte
		err := withRetry(ctx, s.retry, func() error {
			fetched, err := s.transport.GetRange(ctx, remotePath, block.Start, block.Length)
			if err != nil {
				return err
			}

			got := srf.DigestOf(fetched)
			if got != block.Checksum {
				return &DigestMismatchError{
					Path:     action.Path,
					Expected: block.Checksum,
					Got:      got,
				}
			}

			data = fetched
			return nil
		})
		if err != nil {
			res.Err = err
			return res
		}

		res.Ranges = append(res.Ranges, FetchedRange{Start: block.Start, Data: data})
		res.Fetched += block.Length
	}

	slog.Debug("fetched ranges",
		"mod", modName,
		"path", action.Path,
		"blocks", len(res.Ranges),
		"size", humanize.Bytes(res.Fetched),
	)

	return res
}
