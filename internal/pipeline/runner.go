// Package pipeline runs the steady-state discovery loop: poll the feed for
// repositories created after the frontier, filter them by size, clone,
// run the handler and archive or discard the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/poacher-dev/poacher/internal/console"
	"github.com/poacher-dev/poacher/internal/git"
	"github.com/poacher-dev/poacher/internal/handler"
	"github.com/poacher-dev/poacher/internal/marker"
	"github.com/poacher-dev/poacher/internal/types"
)

// ErrFeed wraps failures of the repository listing. They end the session.
var ErrFeed = errors.New("feed query failed")

// Feed is the source of newly created repositories.
type Feed interface {
	ListSince(ctx context.Context, id int64) ([]types.Repository, error)

	// Lookup fills in what listing entries omit: the size and the
	// creation time.
	Lookup(ctx context.Context, repo *types.Repository) error
}

// Archiver keeps a matched working copy.
type Archiver interface {
	Archive(workingCopy string, repo *types.Repository, logs []string) (string, error)
}

// Observer is told about every archived repository. Observer errors are
// logged and never stop the pipeline.
type Observer interface {
	RepositoryArchived(ctx context.Context, item types.ArchivedItem) error
}

// Config wires a Runner.
type Config struct {
	Feed     Feed            // required
	Session  *marker.Session // required
	Handler  handler.Handler // nil means monitor mode
	Cloner   git.Cloner      // required when Clone is set
	Archiver Archiver        // required when Clone is set

	Observers []Observer
	Log       *console.Logger

	Filter           FilterConfig
	Clone            bool
	MonitorOnly      bool
	PollDelay        time.Duration
	WorkingDirectory string
	Workers          int
	SessionID        string

	// MaxPolls stops the loop after that many feed queries (0 = run until
	// cancelled).
	MaxPolls int

	// Retry defaults to DefaultRetryPolicy when zero.
	Retry RetryPolicy
}

// Counts summarizes what happened to the repositories of a session.
type Counts struct {
	Seen      int64
	Skipped   int64
	Handled   int64
	Matched   int64
	Archived  int64
	Discarded int64
	Failed    int64 // handler exhausted its retries
}

// Runner drives the discovery loop.
type Runner struct {
	feed      Feed
	session   *marker.Session
	handler   handler.Handler
	cloner    git.Cloner
	archiver  Archiver
	observers []Observer
	log       *console.Logger

	filter      FilterConfig
	clone       bool
	monitorOnly bool
	pollDelay   time.Duration
	workDir     string
	workers     int
	sessionID   string
	maxPolls    int
	retry       RetryPolicy

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	seen, skipped, handled, matched, archived, discarded, failed atomic.Int64
}

// New validates cfg and builds a Runner.
func New(cfg *Config) (*Runner, error) {
	if cfg.Feed == nil {
		return nil, fmt.Errorf("feed is required")
	}
	if cfg.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	monitorOnly := cfg.MonitorOnly || cfg.Handler == nil
	clone := cfg.Clone && !monitorOnly
	if clone {
		if cfg.Cloner == nil {
			return nil, fmt.Errorf("cloner is required when cloning")
		}
		if cfg.Archiver == nil {
			return nil, fmt.Errorf("archiver is required when cloning")
		}
		if cfg.WorkingDirectory == "" {
			return nil, fmt.Errorf("working directory is required when cloning")
		}
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	retry := cfg.Retry
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}
	log := cfg.Log
	if log == nil {
		log = console.Discard()
	}

	return &Runner{
		feed:        cfg.Feed,
		session:     cfg.Session,
		handler:     cfg.Handler,
		cloner:      cfg.Cloner,
		archiver:    cfg.Archiver,
		observers:   cfg.Observers,
		log:         log,
		filter:      cfg.Filter,
		clone:       clone,
		monitorOnly: monitorOnly,
		pollDelay:   cfg.PollDelay,
		workDir:     cfg.WorkingDirectory,
		workers:     workers,
		sessionID:   cfg.SessionID,
		maxPolls:    cfg.MaxPolls,
		retry:       retry,
		sleep:       sleepContext,
		now:         time.Now,
	}, nil
}

// Counts returns a snapshot of the per-item counters.
func (r *Runner) Counts() Counts {
	return Counts{
		Seen:      r.seen.Load(),
		Skipped:   r.skipped.Load(),
		Handled:   r.handled.Load(),
		Matched:   r.matched.Load(),
		Archived:  r.archived.Load(),
		Discarded: r.discarded.Load(),
		Failed:    r.failed.Load(),
	}
}

// Run polls forward from frontier until ctx is cancelled, the feed fails
// or MaxPolls is reached. Cancellation returns ctx.Err() once the items
// in flight have resolved; a feed failure returns an error wrapping
// ErrFeed; reaching MaxPolls returns nil.
func (r *Runner) Run(ctx context.Context, frontier int64) error {
	if r.clone {
		if err := os.MkdirAll(r.workDir, 0755); err != nil {
			return fmt.Errorf("creating working directory %s: %w", r.workDir, err)
		}
	}

	for polls := 0; r.maxPolls <= 0 || polls < r.maxPolls; polls++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.sleep(ctx, r.pollDelay); err != nil {
			return err
		}

		repos, err := r.feed.ListSince(ctx, frontier)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrFeed, err)
		}
		if len(repos) == 0 {
			continue
		}

		newest := repos[len(repos)-1].ID
		r.session.RecordPoll(newest, len(repos), r.now())
		frontier = newest

		if err := r.processBatch(ctx, repos); err != nil {
			return err
		}
	}
	return nil
}

// processBatch runs one poll's repositories through the item states.
// Items are started in batch order and only while ctx is live, so the
// started items always form a prefix of the batch and the session
// frontier never skips over an unprocessed repository. Started items
// finish on a context that ignores cancellation so nothing is left
// cloned but unresolved.
func (r *Runner) processBatch(ctx context.Context, repos []types.Repository) error {
	itemCtx := context.WithoutCancel(ctx)
	slots := semaphore.NewWeighted(int64(r.workers))

	var g errgroup.Group
	for i := range repos {
		if err := slots.Acquire(ctx, 1); err != nil {
			break
		}
		// Acquire may succeed on an already cancelled context.
		if ctx.Err() != nil {
			slots.Release(1)
			break
		}
		repo := repos[i]
		g.Go(func() error {
			defer slots.Release(1)
			r.processItem(itemCtx, &repo)
			r.session.Advance(repo.ID)
			return nil
		})
	}
	g.Wait()
	return ctx.Err()
}

func (r *Runner) processItem(ctx context.Context, repo *types.Repository) {
	r.seen.Add(1)

	if r.monitorOnly {
		r.log.Log("%s", repo.HTMLURL)
		return
	}

	// Filtering
	if err := r.feed.Lookup(ctx, repo); err != nil {
		r.log.Log("Repo %s has unknown size: %v", repo.DisplayName(), err)
	}
	decision := Filter(repo.SizeKB, repo.SizeKnown, r.filter)
	switch decision {
	case Admit:
	case SkipTooLarge:
		r.log.Log("%.2fMB: Repo %s is too big, skipping", repo.SizeMB(), repo.DisplayName())
		r.skipped.Add(1)
		return
	default:
		r.log.Log("Skipping %s (%s)", repo.DisplayName(), decision)
		r.skipped.Add(1)
		return
	}
	r.log.Log("%s (%.2fMB)", repo.HTMLURL, repo.SizeMB())

	// Acquiring
	localPath := ""
	if r.clone {
		localPath = r.workingCopyPath(repo)
		r.log.Log("Cloning %s", repo.DisplayName())
		if err := r.cloner.Clone(ctx, repo.CloneURL, localPath); err != nil {
			r.log.Log("Unable to clone: %v: skipping...", err)
			r.removeIDDir(localPath)
			r.skipped.Add(1)
			return
		}
	}

	// Handling
	res := r.runHandler(ctx, localPath, repo)
	r.handled.Add(1)
	if res.failed {
		r.failed.Add(1)
	}
	if res.matched {
		r.matched.Add(1)
	}

	// Resolving
	if !r.clone {
		if res.matched {
			r.log.Write("Handler matched %s", repo.HTMLURL)
		}
		return
	}
	if res.matched {
		r.archive(ctx, localPath, repo, res.logs)
		return
	}
	git.RemoveWorkingCopy(localPath, r.log)
	r.removeIDDir(localPath)
	r.discarded.Add(1)
}

func (r *Runner) archive(ctx context.Context, localPath string, repo *types.Repository, logs []string) {
	dest, err := r.archiver.Archive(localPath, repo, logs)
	if err != nil {
		r.log.Error("Archiving %s failed: %v", repo.DisplayName(), err)
		return
	}
	r.removeIDDir(localPath)
	r.archived.Add(1)
	r.log.Success("Archived %s in %s", repo.DisplayName(), dest)

	item := types.ArchivedItem{
		RepoID:      repo.ID,
		FullName:    repo.DisplayName(),
		URL:         repo.HTMLURL,
		CreatedAt:   repo.CreatedAt,
		ArchivePath: dest,
		Handler:     r.handler.Name(),
		ArchivedAt:  r.now(),
		SessionID:   r.sessionID,
	}
	for _, o := range r.observers {
		if err := o.RepositoryArchived(ctx, item); err != nil {
			r.log.Warn("Recording archived repo %s: %v", repo.DisplayName(), err)
		}
	}
}

// workingCopyPath is <working_directory>/<id>/<name>. The ID level keeps
// concurrent clones of same-named repositories apart while the archive
// entry is still named after the repository.
func (r *Runner) workingCopyPath(repo *types.Repository) string {
	return filepath.Join(r.workDir, strconv.FormatInt(repo.ID, 10), repo.Name)
}

// removeIDDir drops the per-ID parent of a working copy once it is empty.
func (r *Runner) removeIDDir(localPath string) {
	os.Remove(filepath.Dir(localPath))
}
