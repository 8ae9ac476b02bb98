package sync

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	gosync "sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitorhnn/nimble/internal/repo"
	"github.com/vitorhnn/nimble/internal/srf"
)

// fakeTransport serves an in-memory file tree and can inject failures.
// failures[path] is the number of failing calls before success; a negative
// count fails forever. breaks[path] counts Gets whose body dies with a
// connection reset halfway through the stream.
type fakeTransport struct {
	mu        gosync.Mutex
	files     map[string][]byte
	failures  map[string]int
	failErr   map[string]error
	breaks    map[string]int
	gets      map[string]int
	rangeGets map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		files:     map[string][]byte{},
		failures:  map[string]int{},
		failErr:   map[string]error{},
		breaks:    map[string]int{},
		gets:      map[string]int{},
		rangeGets: map[string]int{},
	}
}

func (t *fakeTransport) serve(relPath string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[relPath] = data
}

func (t *fakeTransport) failNext(relPath string, times int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[relPath] = times
	t.failErr[relPath] = err
}

func (t *fakeTransport) breakNext(relPath string, times int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.breaks[relPath] = times
}

// brokenBody serves half its data and then dies like a reset connection.
type brokenBody struct {
	data []byte
	off  int
}

func (b *brokenBody) Read(p []byte) (int, error) {
	half := len(b.data) / 2
	if b.off >= half {
		return 0, syscall.ECONNRESET
	}
	n := copy(p, b.data[b.off:half])
	b.off += n
	return n, nil
}

func (t *fakeTransport) take(relPath string) error {
	n := t.failures[relPath]
	if n == 0 {
		return nil
	}
	if n > 0 {
		t.failures[relPath] = n - 1
	}
	return t.failErr[relPath]
}

func (t *fakeTransport) getCount(relPath string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gets[relPath]
}

func (t *fakeTransport) rangeCount(relPath string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rangeGets[relPath]
}

func (t *fakeTransport) Get(ctx context.Context, relPath string) (io.ReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gets[relPath]++
	if err := t.take(relPath); err != nil {
		return nil, err
	}
	data, ok := t.files[relPath]
	if !ok {
		return nil, &repo.TransportError{URL: relPath, Status: 404}
	}
	if n := t.breaks[relPath]; n != 0 {
		if n > 0 {
			t.breaks[relPath] = n - 1
		}
		return io.NopCloser(&brokenBody{data: data}), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (t *fakeTransport) GetRange(ctx context.Context, relPath string, start, length uint64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rangeGets[relPath]++
	if err := t.take(relPath); err != nil {
		return nil, err
	}
	data, ok := t.files[relPath]
	if !ok || start+length > uint64(len(data)) {
		return nil, &repo.TransportError{URL: relPath, Status: 404}
	}
	out := make([]byte, length)
	copy(out, data[start:start+length])
	return out, nil
}

var _ repo.Transport = (*fakeTransport)(nil)

func collectResults(t *testing.T, ch <-chan TransferResult) map[string]TransferResult {
	t.Helper()
	out := map[string]TransferResult{}
	for res := range ch {
		out[res.Action.Path] = res
	}
	return out
}

func TestSchedulerAddStagesWholeFile(t *testing.T) {
	content := "fresh file content"
	ft := newFakeTransport()
	ft.serve("@demo/data/new.txt", []byte(content))

	modDir := t.TempDir()
	record := recordOf(t, "data/new.txt", content)
	actions := []FileAction{{Path: "data/new.txt", Kind: ActionAdd, Remote: &record}}

	s := NewScheduler(ft, WithRetryPolicy(fastPolicy(1)))
	results := collectResults(t, s.Run(context.Background(), "@demo", modDir, actions))

	res, ok := results["data/new.txt"]
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.True(t, res.WholeFile)
	assert.Equal(t, uint64(len(content)), res.Fetched)

	staged, err := os.ReadFile(res.TempPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(staged))
	// staged next to the target so the commit rename is atomic
	assert.Equal(t, filepath.Join(modDir, "data"), filepath.Dir(res.TempPath))
}

func TestSchedulerDigestMismatchIsIsolated(t *testing.T) {
	ft := newFakeTransport()
	ft.serve("@demo/bad.txt", []byte("tampered content"))
	ft.serve("@demo/good.txt", []byte("good content"))

	bad := recordOf(t, "bad.txt", "expected content")
	good := recordOf(t, "good.txt", "good content")
	actions := []FileAction{
		{Path: "bad.txt", Kind: ActionAdd, Remote: &bad},
		{Path: "good.txt", Kind: ActionAdd, Remote: &good},
	}

	s := NewScheduler(ft, WithRetryPolicy(fastPolicy(1)))
	results := collectResults(t, s.Run(context.Background(), "@demo", t.TempDir(), actions))

	var mismatch *DigestMismatchError
	require.ErrorAs(t, results["bad.txt"].Err, &mismatch)
	assert.Equal(t, "bad.txt", mismatch.Path)

	// the sibling still completes
	require.NoError(t, results["good.txt"].Err)
	assert.NotEmpty(t, results["good.txt"].TempPath)
}

func TestSchedulerDigestMismatchLeavesNoStagingFile(t *testing.T) {
	ft := newFakeTransport()
	ft.serve("@demo/bad.txt", []byte("tampered"))

	record := recordOf(t, "bad.txt", "expected")
	modDir := t.TempDir()

	s := NewScheduler(ft, WithRetryPolicy(fastPolicy(1)))
	results := collectResults(t, s.Run(context.Background(), "@demo", modDir,
		[]FileAction{{Path: "bad.txt", Kind: ActionAdd, Remote: &record}}))
	require.Error(t, results["bad.txt"].Err)

	entries, err := os.ReadDir(modDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSchedulerUpdateFetchesRanges(t *testing.T) {
	oldContent := "old contents!"
	newContent := "new contents!"
	ft := newFakeTransport()
	ft.serve("@demo/file.bin", []byte(newContent))

	local := recordOf(t, "file.bin", oldContent)
	remote := recordOf(t, "file.bin", newContent)
	actions := []FileAction{{
		Path:           "file.bin",
		Kind:           ActionUpdate,
		Local:          &local,
		Remote:         &remote,
		ChangedOffsets: []uint64{0},
	}}

	// a threshold of 1.0 never degrades: the changed fraction cannot
	// exceed it
	s := NewScheduler(ft, WithRetryPolicy(fastPolicy(1)), WithWholeFileThreshold(1.0))
	results := collectResults(t, s.Run(context.Background(), "@demo", t.TempDir(), actions))

	res := results["file.bin"]
	require.NoError(t, res.Err)
	assert.False(t, res.WholeFile)
	require.Len(t, res.Ranges, 1)
	assert.Equal(t, uint64(0), res.Ranges[0].Start)
	assert.Equal(t, newContent, string(res.Ranges[0].Data))
	assert.Equal(t, 1, ft.rangeCount("@demo/file.bin"))
	assert.Equal(t, 0, ft.getCount("@demo/file.bin"))
}

func TestSchedulerUpdateDegradesToWholeFile(t *testing.T) {
	newContent := "new contents!"
	ft := newFakeTransport()
	ft.serve("@demo/file.bin", []byte(newContent))

	local := recordOf(t, "file.bin", "old contents!")
	remote := recordOf(t, "file.bin", newContent)
	actions := []FileAction{{
		Path:           "file.bin",
		Kind:           ActionUpdate,
		Local:          &local,
		Remote:         &remote,
		ChangedOffsets: []uint64{0},
	}}

	// every block changed, well past the default threshold
	s := NewScheduler(ft, WithRetryPolicy(fastPolicy(1)))
	results := collectResults(t, s.Run(context.Background(), "@demo", t.TempDir(), actions))

	res := results["file.bin"]
	require.NoError(t, res.Err)
	assert.True(t, res.WholeFile)
	assert.Equal(t, 0, ft.rangeCount("@demo/file.bin"))
	assert.Equal(t, 1, ft.getCount("@demo/file.bin"))
}

func TestSchedulerRetriesTransientFailures(t *testing.T) {
	content := "eventually served"
	ft := newFakeTransport()
	ft.serve("@demo/flaky.txt", []byte(content))
	ft.failNext("@demo/flaky.txt", 2, &repo.TransportError{URL: "flaky", Status: 503, Transient: true})

	record := recordOf(t, "flaky.txt", content)
	s := NewScheduler(ft, WithRetryPolicy(fastPolicy(4)))
	results := collectResults(t, s.Run(context.Background(), "@demo", t.TempDir(),
		[]FileAction{{Path: "flaky.txt", Kind: ActionAdd, Remote: &record}}))

	require.NoError(t, results["flaky.txt"].Err)
	assert.Equal(t, 3, ft.getCount("@demo/flaky.txt"))
}

func TestSchedulerRetriesMidStreamDisconnect(t *testing.T) {
	content := "served in full on the second attempt"
	ft := newFakeTransport()
	ft.serve("@demo/reset.txt", []byte(content))
	// the request succeeds but the body dies halfway through the stream
	ft.breakNext("@demo/reset.txt", 1)

	record := recordOf(t, "reset.txt", content)
	s := NewScheduler(ft, WithRetryPolicy(fastPolicy(4)))
	results := collectResults(t, s.Run(context.Background(), "@demo", t.TempDir(),
		[]FileAction{{Path: "reset.txt", Kind: ActionAdd, Remote: &record}}))

	require.NoError(t, results["reset.txt"].Err)
	assert.Equal(t, 2, ft.getCount("@demo/reset.txt"))
}

func TestSchedulerDeletePassesThrough(t *testing.T) {
	local := recordOf(t, "gone.txt", "old")
	s := NewScheduler(newFakeTransport(), WithRetryPolicy(fastPolicy(1)))
	results := collectResults(t, s.Run(context.Background(), "@demo", t.TempDir(),
		[]FileAction{{Path: "gone.txt", Kind: ActionDelete, Local: &local}}))

	res := results["gone.txt"]
	require.NoError(t, res.Err)
	assert.False(t, res.WholeFile)
	assert.Empty(t, res.TempPath)
}

func TestSchedulerDropsUnchanged(t *testing.T) {
	record := recordOf(t, "same.txt", "same")
	s := NewScheduler(newFakeTransport(), WithRetryPolicy(fastPolicy(1)))
	results := collectResults(t, s.Run(context.Background(), "@demo", t.TempDir(),
		[]FileAction{{Path: "same.txt", Kind: ActionUnchanged, Local: &record, Remote: &record}}))

	assert.Empty(t, results)
}

func TestSchedulerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	record := recordOf(t, "a.txt", "content")
	s := NewScheduler(newFakeTransport(), WithRetryPolicy(fastPolicy(1)))

	// the channel must still drain and close after cancellation
	for res := range s.Run(ctx, "@demo", t.TempDir(), []FileAction{{Path: "a.txt", Kind: ActionAdd, Remote: &record}}) {
		if res.Err != nil {
			assert.ErrorIs(t, res.Err, context.Canceled)
		}
	}
}

func TestDigestMismatchErrorMessage(t *testing.T) {
	err := &DigestMismatchError{
		Path:     "addons/a.pbo",
		Expected: srf.DigestOf([]byte("want")),
		Got:      srf.DigestOf([]byte("got")),
	}
	assert.Contains(t, err.Error(), "addons/a.pbo")
	assert.Contains(t, err.Error(), err.Expected.String())
}
