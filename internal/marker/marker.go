// Package marker keeps the durable record of discovery progress and
// historical throughput across sessions.
//
// A Record is loaded once at startup, the Session mutates its in-memory
// counters while the pipeline runs, and Finish produces the single Record
// written back when the session ends.
package marker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/poacher-dev/poacher/internal/console"
)

const (
	// DefaultRepoID is the starting point for an installation with no
	// marker. Any ID known to exist works; the frontier search walks
	// forward from it.
	DefaultRepoID int64 = 10947291
)

// ErrNoMarker is returned by a Store that has never been written.
var ErrNoMarker = errors.New("no marker stored")

// Record is the persisted marker.
type Record struct {
	RepoID      int64   `json:"repo_id"`
	Timestamp   float64 `json:"timestamp"`
	AveragesSum float64 `json:"averages_sum"`
	NumSessions int     `json:"num_sessions"`
}

// Default returns the record used when nothing was persisted yet.
func Default(now time.Time) Record {
	return Record{
		RepoID:    DefaultRepoID,
		Timestamp: unixSeconds(now),
	}
}

// MeanRate returns the historical mean discovery rate in repositories per
// minute. ok is false when there is no history.
func (r Record) MeanRate() (rate float64, ok bool) {
	if r.NumSessions <= 0 {
		return 0, false
	}
	return r.AveragesSum / float64(r.NumSessions), true
}

// Time returns the moment the record was written.
func (r Record) Time() time.Time {
	sec, frac := math.Modf(r.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// WithSample folds one finished session into the record: the frontier
// moves to repoID (never backwards), the timestamp to now, and the
// session rate joins the running average.
func (r Record) WithSample(repoID int64, rate int64, now time.Time) Record {
	next := r.WithFrontier(repoID, now)
	next.AveragesSum = r.AveragesSum + float64(rate)
	next.NumSessions = r.NumSessions + 1
	return next
}

// WithFrontier advances only the frontier and timestamp. Used for sessions
// that never completed a poll and so produced no rate sample.
func (r Record) WithFrontier(repoID int64, now time.Time) Record {
	next := r
	if repoID > next.RepoID {
		next.RepoID = repoID
	}
	next.Timestamp = unixSeconds(now)
	return next
}

// Validate checks the record is usable as a search starting point.
func (r Record) Validate() error {
	if r.RepoID <= 0 {
		return fmt.Errorf("repo_id must be positive (got %d)", r.RepoID)
	}
	if r.NumSessions < 0 {
		return fmt.Errorf("num_sessions cannot be negative (got %d)", r.NumSessions)
	}
	if r.AveragesSum < 0 {
		return fmt.Errorf("averages_sum cannot be negative (got %v)", r.AveragesSum)
	}
	return nil
}

// Store persists a Record.
type Store interface {
	// Load returns ErrNoMarker when nothing has been saved yet.
	Load(ctx context.Context) (Record, error)

	// Save replaces the stored record atomically.
	Save(ctx context.Context, rec Record) error
}

// LoadOrDefault reads the marker, falling back to Default when it is
// missing or unusable. The fallback is logged but never fatal.
func LoadOrDefault(ctx context.Context, store Store, log *console.Logger, now time.Time) Record {
	rec, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoMarker) {
			log.Log("Marker %s doesn't exist, using defaults", describe(store))
		} else {
			log.Warn("Error reading marker %s: %v (using defaults)", describe(store), err)
		}
		return Default(now)
	}
	if err := rec.Validate(); err != nil {
		log.Warn("Error parsing marker %s: %v (using defaults)", describe(store), err)
		return Default(now)
	}
	return rec
}

func describe(store Store) string {
	if s, ok := store.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", store)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
