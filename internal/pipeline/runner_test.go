package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poacher-dev/poacher/internal/git"
	"github.com/poacher-dev/poacher/internal/handler"
	"github.com/poacher-dev/poacher/internal/marker"
	"github.com/poacher-dev/poacher/internal/types"
)

// fakeFeed lists batches in order. Lookup reports a 100 KB size unless
// sizes says otherwise, and the same creation time for every repository.
type fakeFeed struct {
	mu       sync.Mutex
	batches  [][]types.Repository
	calls    []int64
	sizes    map[int64]int64
	sizeErrs map[int64]error
	listErr  error
}

var fakeCreatedAt = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func (f *fakeFeed) ListSince(ctx context.Context, id int64) ([]types.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeFeed) Lookup(ctx context.Context, repo *types.Repository) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sizeErrs[repo.ID]; err != nil {
		return err
	}
	repo.SizeKB, repo.SizeKnown = 100, true
	if s, ok := f.sizes[repo.ID]; ok {
		repo.SizeKB = s
	}
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = fakeCreatedAt
	}
	return nil
}

type archiveCall struct {
	path string
	repo types.Repository
	logs []string
}

type fakeArchiver struct {
	mu    sync.Mutex
	calls []archiveCall
	err   error
}

func (a *fakeArchiver) Archive(workingCopy string, repo *types.Repository, logs []string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, archiveCall{path: workingCopy, repo: *repo, logs: logs})
	if a.err != nil {
		return "", a.err
	}
	// The real archiver removes the working copy on success.
	os.RemoveAll(workingCopy)
	return "/archive/" + repo.Name, nil
}

type fakeObserver struct {
	mu    sync.Mutex
	items []types.ArchivedItem
	err   error
}

func (o *fakeObserver) RepositoryArchived(ctx context.Context, item types.ArchivedItem) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, item)
	return o.err
}

type cloneRecorder struct {
	mu    sync.Mutex
	dests []string
	err   error
}

func (c *cloneRecorder) Clone(ctx context.Context, remoteURL, dest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dests = append(c.dests, dest)
	if c.err != nil {
		return c.err
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, "README.md"), []byte(remoteURL), 0644)
}

func repo(id int64) types.Repository {
	name := fmt.Sprintf("repo%d", id)
	return types.Repository{
		ID:       id,
		Name:     name,
		FullName: "octo/" + name,
		HTMLURL:  "https://github.com/octo/" + name,
		CloneURL: "https://github.com/octo/" + name + ".git",
	}
}

// newTestRunner builds a runner whose sleeps return immediately and are
// recorded instead.
func newTestRunner(t *testing.T, cfg *Config) (*Runner, *[]time.Duration) {
	t.Helper()
	if cfg.Session == nil {
		s := marker.NewSession(marker.Default(time.Now()))
		s.Begin(1000, time.Now().Add(-time.Minute))
		cfg.Session = s
	}
	r, err := New(cfg)
	require.NoError(t, err)

	var mu sync.Mutex
	var sleeps []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		if d > 0 {
			mu.Lock()
			sleeps = append(sleeps, d)
			mu.Unlock()
		}
		return ctx.Err()
	}
	return r, &sleeps
}

type countingHandler struct {
	mu    sync.Mutex
	calls int
	ids   []int64
	paths []string
	fn    func(call int, log handler.LogSink) (bool, error)
}

func (h *countingHandler) Name() string { return "counting" }

func (h *countingHandler) Run(ctx context.Context, localPath string, repo *types.Repository, log handler.LogSink) (bool, error) {
	h.mu.Lock()
	h.calls++
	call := h.calls
	h.ids = append(h.ids, repo.ID)
	h.paths = append(h.paths, localPath)
	h.mu.Unlock()
	return h.fn(call, log)
}

func TestNewValidation(t *testing.T) {
	session := marker.NewSession(marker.Default(time.Now()))
	h := &countingHandler{fn: func(int, handler.LogSink) (bool, error) { return false, nil }}

	_, err := New(&Config{Session: session})
	assert.Error(t, err)
	_, err = New(&Config{Feed: &fakeFeed{}})
	assert.Error(t, err)
	_, err = New(&Config{Feed: &fakeFeed{}, Session: session, Handler: h, Clone: true})
	assert.ErrorContains(t, err, "cloner")

	// Cloning without a handler is monitor mode and needs nothing else.
	r, err := New(&Config{Feed: &fakeFeed{}, Session: session, Clone: true})
	require.NoError(t, err)
	assert.True(t, r.monitorOnly)
	assert.False(t, r.clone)
}

func TestHandlerAlwaysFailingIsInvokedThreeTimes(t *testing.T) {
	h := &countingHandler{fn: func(int, handler.LogSink) (bool, error) {
		return false, errors.New("broken handler")
	}}
	feed := &fakeFeed{batches: [][]types.Repository{{repo(1001)}}}
	r, sleeps := newTestRunner(t, &Config{Feed: feed, Handler: h, MaxPolls: 1})

	require.NoError(t, r.Run(context.Background(), 1000))

	assert.Equal(t, 3, h.calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *sleeps)
	c := r.Counts()
	assert.Equal(t, int64(1), c.Failed)
	assert.Equal(t, int64(0), c.Matched)
}

func TestHandlerPanicsAreRetried(t *testing.T) {
	h := &countingHandler{fn: func(call int, log handler.LogSink) (bool, error) {
		if call == 1 {
			panic("first attempt explodes")
		}
		return true, nil
	}}
	feed := &fakeFeed{batches: [][]types.Repository{{repo(1001)}}}
	r, _ := newTestRunner(t, &Config{Feed: feed, Handler: h, MaxPolls: 1})

	require.NoError(t, r.Run(context.Background(), 1000))
	assert.Equal(t, 2, h.calls)
	assert.Equal(t, int64(1), r.Counts().Matched)
}

func TestSecondAttemptMatchArchivesOnlyItsLogs(t *testing.T) {
	h := &countingHandler{fn: func(call int, log handler.LogSink) (bool, error) {
		log.Log("attempt %d a", call)
		log.Log("attempt %d b", call)
		if call == 1 {
			return false, errors.New("transient")
		}
		return true, nil
	}}
	feed := &fakeFeed{batches: [][]types.Repository{{repo(1001)}}}
	archiver := &fakeArchiver{}
	observer := &fakeObserver{}
	workDir := t.TempDir()
	r, _ := newTestRunner(t, &Config{
		Feed:             feed,
		Handler:          h,
		Cloner:           &cloneRecorder{},
		Archiver:         archiver,
		Observers:        []Observer{observer},
		Clone:            true,
		WorkingDirectory: workDir,
		SessionID:        "session-1",
		MaxPolls:         1,
	})

	require.NoError(t, r.Run(context.Background(), 1000))

	require.Len(t, archiver.calls, 1)
	assert.Equal(t, []string{"attempt 2 a", "attempt 2 b"}, archiver.calls[0].logs)
	assert.Equal(t, filepath.Join(workDir, "1001", "repo1001"), archiver.calls[0].path)
	assert.Equal(t, int64(100), archiver.calls[0].repo.SizeKB)
	assert.Equal(t, fakeCreatedAt, archiver.calls[0].repo.CreatedAt)

	require.Len(t, observer.items, 1)
	item := observer.items[0]
	assert.Equal(t, int64(1001), item.RepoID)
	assert.Equal(t, "session-1", item.SessionID)
	assert.Equal(t, "counting", item.Handler)
	assert.Equal(t, "/archive/repo1001", item.ArchivePath)
	assert.Equal(t, fakeCreatedAt, item.CreatedAt)

	_, err := os.Stat(filepath.Join(workDir, "1001"))
	assert.True(t, os.IsNotExist(err), "per-ID directory should be cleaned up")
}

func TestScenarioEmptyRepoNeverAcquired(t *testing.T) {
	h := &countingHandler{fn: func(int, handler.LogSink) (bool, error) { return true, nil }}
	cloner := &cloneRecorder{}
	feed := &fakeFeed{
		batches: [][]types.Repository{{repo(1001)}},
		sizes:   map[int64]int64{1001: 0},
	}
	r, _ := newTestRunner(t, &Config{
		Feed:             feed,
		Handler:          h,
		Cloner:           cloner,
		Archiver:         &fakeArchiver{},
		Clone:            true,
		WorkingDirectory: t.TempDir(),
		Filter:           FilterConfig{SkipEmpty: true, MaxSizeKB: 20000},
		MaxPolls:         1,
	})

	require.NoError(t, r.Run(context.Background(), 1000))
	assert.Empty(t, cloner.dests)
	assert.Zero(t, h.calls)
	assert.Equal(t, int64(1), r.Counts().Skipped)
	assert.Equal(t, int64(1001), r.session.Stats().CurrentID)
}

func TestScenarioCloneDisabled(t *testing.T) {
	for _, verdict := range []bool{true, false} {
		t.Run(fmt.Sprintf("handler returns %v", verdict), func(t *testing.T) {
			h := &countingHandler{fn: func(int, handler.LogSink) (bool, error) { return verdict, nil }}
			cloner := &cloneRecorder{}
			archiver := &fakeArchiver{}
			feed := &fakeFeed{batches: [][]types.Repository{{repo(1001), repo(1002)}}}
			r, _ := newTestRunner(t, &Config{
				Feed:     feed,
				Handler:  h,
				Cloner:   cloner,
				Archiver: archiver,
				MaxPolls: 1,
			})

			require.NoError(t, r.Run(context.Background(), 1000))
			assert.Equal(t, []string{"", ""}, h.paths)
			assert.Empty(t, cloner.dests)
			assert.Empty(t, archiver.calls)
			assert.Zero(t, r.Counts().Discarded)
		})
	}
}

func TestDiscardRemovesWorkingCopy(t *testing.T) {
	h := &countingHandler{fn: func(int, handler.LogSink) (bool, error) { return false, nil }}
	archiver := &fakeArchiver{}
	workDir := t.TempDir()
	feed := &fakeFeed{batches: [][]types.Repository{{repo(1001)}}}
	r, _ := newTestRunner(t, &Config{
		Feed:             feed,
		Handler:          h,
		Cloner:           &cloneRecorder{},
		Archiver:         archiver,
		Clone:            true,
		WorkingDirectory: workDir,
		MaxPolls:         1,
	})

	require.NoError(t, r.Run(context.Background(), 1000))
	assert.Equal(t, []string{filepath.Join(workDir, "1001", "repo1001")}, h.paths)
	assert.Empty(t, archiver.calls)
	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int64(1), r.Counts().Discarded)
}

func TestArchiveFailureKeepsGoing(t *testing.T) {
	h := &countingHandler{fn: func(int, handler.LogSink) (bool, error) { return true, nil }}
	archiver := &fakeArchiver{err: errors.New("disk full")}
	observer := &fakeObserver{}
	feed := &fakeFeed{batches: [][]types.Repository{{repo(1001), repo(1002)}}}
	r, _ := newTestRunner(t, &Config{
		Feed:             feed,
		Handler:          h,
		Cloner:           &cloneRecorder{},
		Archiver:         archiver,
		Observers:        []Observer{observer},
		Clone:            true,
		WorkingDirectory: t.TempDir(),
		MaxPolls:         1,
	})

	require.NoError(t, r.Run(context.Background(), 1000))
	assert.Len(t, archiver.calls, 2)
	assert.Empty(t, observer.items)
	assert.Zero(t, r.Counts().Archived)
}

func TestObserverErrorIsNotFatal(t *testing.T) {
	h := &countingHandler{fn: func(int, handler.LogSink) (bool, error) { return true, nil }}
	observer := &fakeObserver{err: errors.New("kafka down")}
	feed := &fakeFeed{batches: [][]types.Repository{{repo(1001), repo(1002)}}}
	r, _ := newTestRunner(t, &Config{
		Feed:             feed,
		Handler:          h,
		Cloner:           &cloneRecorder{},
		Archiver:         &fakeArchiver{},
		Observers:        []Observer{observer},
		Clone:            true,
		WorkingDirectory: t.TempDir(),
		MaxPolls:         1,
	})

	require.NoError(t, r.Run(context.Background(), 1000))
	assert.Len(t, observer.items, 2)
	assert.Equal(t, int64(2), r.Counts().Archived)
}

func TestSoftSkips(t *testing.T) {
	h := &countingHandler{fn: func(int, handler.LogSink) (bool, error) { return false, nil }}
	cloner := &cloneRecorder{}
	feed := &fakeFeed{
		batches:  [][]types.Repository{{repo(1001), repo(1002), repo(1003)}},
		sizes:    map[int64]int64{1002: 50000},
		sizeErrs: map[int64]error{1001: errors.New("404")},
	}
	r, _ := newTestRunner(t, &Config{
		Feed:             feed,
		Handler:          h,
		Cloner:           cloner,
		Archiver:         &fakeArchiver{},
		Clone:            true,
		WorkingDirectory: t.TempDir(),
		Filter:           FilterConfig{SkipEmpty: true, MaxSizeKB: 20000},
		MaxPolls:         1,
	})

	require.NoError(t, r.Run(context.Background(), 1000))
	require.Len(t, cloner.dests, 1)
	assert.Contains(t, cloner.dests[0], "1003")
	assert.Equal(t, 1, h.calls)
	assert.Equal(t, int64(2), r.Counts().Skipped)
	assert.Equal(t, int64(1003), r.session.Stats().CurrentID)
}

func TestCloneFailureSkips(t *testing.T) {
	h := &countingHandler{fn: func(int, handler.LogSink) (bool, error) { return true, nil }}
	workDir := t.TempDir()
	var cloner git.ClonerFunc = func(ctx context.Context, remoteURL, dest string) error {
		return errors.New("repository not found")
	}
	feed := &fakeFeed{batches: [][]types.Repository{{repo(1001)}}}
	r, _ := newTestRunner(t, &Config{
		Feed:             feed,
		Handler:          h,
		Cloner:           cloner,
		Archiver:         &fakeArchiver{},
		Clone:            true,
		WorkingDirectory: workDir,
		MaxPolls:         1,
	})

	require.NoError(t, r.Run(context.Background(), 1000))
	assert.Zero(t, h.calls)
	assert.Equal(t, int64(1), r.Counts().Skipped)
}

func TestFeedErrorIsFatal(t *testing.T) {
	feed := &fakeFeed{listErr: errors.New("connection reset")}
	r, _ := newTestRunner(t, &Config{Feed: feed})

	err := r.Run(context.Background(), 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFeed)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPollingAdvancesFrontier(t *testing.T) {
	feed := &fakeFeed{batches: [][]types.Repository{
		{repo(1003), repo(1007)},
		nil,
		{repo(1010)},
	}}
	r, sleeps := newTestRunner(t, &Config{Feed: feed, PollDelay: 2 * time.Second, MaxPolls: 4})

	require.NoError(t, r.Run(context.Background(), 1000))

	assert.Equal(t, []int64{1000, 1007, 1007, 1010}, feed.calls)
	assert.Len(t, *sleeps, 4, "poll delay is honored even after empty polls")

	stats := r.session.Stats()
	assert.Equal(t, int64(1010), stats.NewestID)
	assert.Equal(t, int64(1010), stats.CurrentID)
	assert.Equal(t, int64(3), stats.ItemsSeen)
	assert.Equal(t, int64(3), r.Counts().Seen)
}

func TestCancellationFinishesInFlightItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &countingHandler{fn: func(call int, log handler.LogSink) (bool, error) {
		if call == 1 {
			cancel()
		}
		return true, nil
	}}
	archiver := &fakeArchiver{}
	feed := &fakeFeed{batches: [][]types.Repository{{repo(1001), repo(1002), repo(1003)}}}
	r, _ := newTestRunner(t, &Config{
		Feed:             feed,
		Handler:          h,
		Cloner:           &cloneRecorder{},
		Archiver:         archiver,
		Clone:            true,
		WorkingDirectory: t.TempDir(),
	})

	err := r.Run(ctx, 1000)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, h.calls)
	require.Len(t, archiver.calls, 1, "in-flight item must reach resolving")
	assert.Equal(t, int64(1001), r.session.Stats().CurrentID)
}

func TestCancellationWithWorkersResolvesBatchPrefix(t *testing.T) {
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())

		var batch []types.Repository
		for id := int64(1001); id <= 1012; id++ {
			batch = append(batch, repo(id))
		}
		h := &countingHandler{fn: func(call int, log handler.LogSink) (bool, error) {
			if call == 3 {
				cancel()
			}
			return false, nil
		}}
		feed := &fakeFeed{batches: [][]types.Repository{batch}}
		r, _ := newTestRunner(t, &Config{Feed: feed, Handler: h, Workers: 3})

		err := r.Run(ctx, 1000)
		cancel()
		require.ErrorIs(t, err, context.Canceled)

		// Whatever got started is exactly the head of the batch, so the
		// frontier lands on the last started item and nothing is skipped.
		require.GreaterOrEqual(t, len(h.ids), 3)
		started := make(map[int64]bool, len(h.ids))
		for _, id := range h.ids {
			started[id] = true
		}
		for id := int64(1001); id < 1001+int64(len(h.ids)); id++ {
			assert.True(t, started[id], "repo %d was skipped", id)
		}
		assert.Equal(t, int64(1000+len(h.ids)), r.session.Stats().CurrentID)
		assert.Less(t, len(h.ids), len(batch))
	}
}

func TestCancelledBeforeFirstPoll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	feed := &fakeFeed{}
	r, _ := newTestRunner(t, &Config{Feed: feed})

	assert.ErrorIs(t, r.Run(ctx, 1000), context.Canceled)
	assert.Empty(t, feed.calls)
}

func TestWorkersProcessWholeBatch(t *testing.T) {
	var batch []types.Repository
	for id := int64(1001); id <= 1020; id++ {
		batch = append(batch, repo(id))
	}
	h := &countingHandler{fn: func(int, handler.LogSink) (bool, error) { return false, nil }}
	feed := &fakeFeed{batches: [][]types.Repository{batch}}
	r, _ := newTestRunner(t, &Config{
		Feed:             feed,
		Handler:          h,
		Cloner:           &cloneRecorder{},
		Archiver:         &fakeArchiver{},
		Clone:            true,
		WorkingDirectory: t.TempDir(),
		Workers:          4,
		MaxPolls:         1,
	})

	require.NoError(t, r.Run(context.Background(), 1000))
	assert.Equal(t, 20, h.calls)
	assert.Equal(t, int64(20), r.Counts().Discarded)
	assert.Equal(t, int64(1020), r.session.Stats().CurrentID)
}

func TestMonitorOnly(t *testing.T) {
	h := &countingHandler{fn: func(int, handler.LogSink) (bool, error) { return true, nil }}
	feed := &fakeFeed{batches: [][]types.Repository{{repo(1001)}}}
	r, _ := newTestRunner(t, &Config{Feed: feed, Handler: h, MonitorOnly: true, MaxPolls: 1})

	require.NoError(t, r.Run(context.Background(), 1000))
	assert.Zero(t, h.calls)
	assert.Equal(t, int64(1), r.Counts().Seen)
	assert.Equal(t, int64(1001), r.session.Stats().CurrentID)
}
