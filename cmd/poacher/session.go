package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/poacher-dev/poacher/internal/config"
	"github.com/poacher-dev/poacher/internal/console"
	"github.com/poacher-dev/poacher/internal/frontier"
	"github.com/poacher-dev/poacher/internal/git"
	"github.com/poacher-dev/poacher/internal/handler"
	"github.com/poacher-dev/poacher/internal/marker"
	"github.com/poacher-dev/poacher/internal/pipeline"
	"github.com/poacher-dev/poacher/internal/storage"
	"github.com/poacher-dev/poacher/internal/types"
)

// discoveryClient is everything a session needs from the hosting service.
type discoveryClient interface {
	frontier.Prober
	pipeline.Feed
}

// sessionPublisher announces session results (Kafka in production).
type sessionPublisher interface {
	pipeline.Observer
	SessionEnded(ctx context.Context, rec types.SessionRecord) error
}

type sessionOptions struct {
	cfg       *config.Config
	client    discoveryClient
	store     marker.Store
	history   storage.History
	publisher sessionPublisher // optional
	handler   handler.Handler  // nil in monitor mode
	cloner    git.Cloner
	archiver  pipeline.Archiver
	log       *console.Logger
	maxPolls  int
	now       func() time.Time
}

type sessionResult struct {
	ID      string
	Reason  types.ExitReason
	Located bool
	Record  types.SessionRecord
	Marker  marker.Record
	Rate    int64
	Sampled bool
	Counts  pipeline.Counts
}

// runSession locates the frontier, runs the pipeline and saves the marker.
// The returned error is non-nil for fatal endings (the frontier could not
// be located, the feed failed, the marker could not be saved); an operator
// interrupt is a normal ending.
func runSession(ctx context.Context, o *sessionOptions) (*sessionResult, error) {
	now := o.now
	if now == nil {
		now = time.Now
	}
	log := o.log
	res := &sessionResult{ID: uuid.New().String()}

	loaded := marker.LoadOrDefault(ctx, o.store, log, now())
	guess := frontier.PredictGrowth(loaded.Timestamp, loaded.AveragesSum, loaded.NumSessions, now())
	if loaded.NumSessions > 0 {
		mean, _ := loaded.MeanRate()
		log.Log("last session ended at %s, latest repo ID was %d", console.Timestamp(loaded.Time()), loaded.RepoID)
		log.Log("at %d repos per minute, predicted current latest repo ID is at least %d", int64(mean), loaded.RepoID+guess)
	}

	newest, err := frontier.Locate(ctx, o.client, loaded.RepoID, guess, log)
	if err != nil {
		// Nothing was learned, so the marker stays as it was.
		if ctx.Err() != nil {
			res.Reason = types.ExitCancelled
			log.Write("Interrupted while locating the newest repository")
			return res, nil
		}
		res.Reason = types.ExitFatal
		return res, fmt.Errorf("locating newest repository: %w", err)
	}
	res.Located = true
	log.Log("Latest repo ID is %d", newest)

	session := marker.NewSession(loaded)
	session.Begin(newest, now())

	var observers []pipeline.Observer
	if o.history != nil {
		observers = append(observers, o.history)
	}
	if o.publisher != nil {
		observers = append(observers, o.publisher)
	}

	runner, err := pipeline.New(&pipeline.Config{
		Feed:      o.client,
		Session:   session,
		Handler:   o.handler,
		Cloner:    o.cloner,
		Archiver:  o.archiver,
		Observers: observers,
		Log:       log,
		Filter: pipeline.FilterConfig{
			SkipEmpty: o.cfg.SkipEmptyRepos,
			MaxSizeKB: o.cfg.MaxRepoSizeKB,
		},
		Clone:            o.cfg.Clone,
		MonitorOnly:      o.cfg.MonitorOnly,
		PollDelay:        o.cfg.PollDelay(),
		WorkingDirectory: o.cfg.WorkingDirectory,
		Workers:          o.cfg.Workers,
		SessionID:        res.ID,
		MaxPolls:         o.maxPolls,
	})
	if err != nil {
		res.Reason = types.ExitFatal
		return res, err
	}

	runErr := runner.Run(ctx, newest)
	var fatal error
	switch {
	case runErr == nil:
		res.Reason = types.ExitCompleted
	case errors.Is(runErr, pipeline.ErrFeed):
		res.Reason = types.ExitFatal
		log.Write("Error getting new repos from Github: %v", runErr)
		fatal = runErr
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		res.Reason = types.ExitCancelled
	default:
		res.Reason = types.ExitFatal
		log.Error("%v", runErr)
		fatal = runErr
	}

	log.Write("Finishing...")
	if err := finishSession(context.WithoutCancel(ctx), o, session, runner, res, now()); err != nil && fatal == nil {
		fatal = err
	}
	return res, fatal
}

// finishSession saves the marker, prints the summary and records the
// session in history and on the event stream.
func finishSession(ctx context.Context, o *sessionOptions, session *marker.Session, runner *pipeline.Runner, res *sessionResult, end time.Time) error {
	log := o.log

	rec, rate, sampled := session.Finish(end)
	res.Marker, res.Rate, res.Sampled = rec, rate, sampled
	res.Counts = runner.Counts()

	var saveErr error
	if err := o.store.Save(ctx, rec); err != nil {
		log.Error("Failed to save marker: %v", err)
		saveErr = fmt.Errorf("saving marker: %w", err)
	}

	stats := session.Stats()
	if sampled {
		elapsed := stats.LastPoll.Sub(stats.SessionStart)
		mean, _ := rec.MeanRate()
		log.Write("%d new repos (%d public) in %s.", stats.NewestID-stats.StartingID, stats.ItemsSeen, console.Walltime(elapsed, false))
		log.Write("Session average: %d new repos per minute", rate)
		log.Write("Running average: %d new repos per minute.", int64(mean))
	} else {
		log.Write("No completed poll this session, marker kept at repo ID %d", rec.RepoID)
	}
	if !o.cfg.MonitorOnly && o.handler != nil {
		c := res.Counts
		log.Write("%d handled, %d matched, %d archived, %d skipped", c.Handled, c.Matched, c.Archived, c.Skipped)
	}

	res.Record = types.SessionRecord{
		ID:         res.ID,
		StartedAt:  stats.SessionStart,
		EndedAt:    end,
		StartingID: stats.StartingID,
		NewestID:   stats.NewestID,
		ItemsSeen:  stats.ItemsSeen,
		RatePerMin: rate,
		ExitReason: res.Reason,
	}
	if o.history != nil {
		if err := o.history.RecordSession(ctx, &res.Record); err != nil {
			log.Warn("Recording session history: %v", err)
		}
	}
	if o.publisher != nil {
		if err := o.publisher.SessionEnded(ctx, res.Record); err != nil {
			log.Warn("Publishing session summary: %v", err)
		}
	}
	return saveErr
}
