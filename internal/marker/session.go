package marker

import (
	"sync"
	"time"
)

// Session is the explicit per-run context for marker state. All methods
// are safe for concurrent use by pipeline workers.
type Session struct {
	mu sync.Mutex

	loaded Record

	currentID  int64
	startingID int64
	newestID   int64
	itemsSeen  int64

	sessionStart time.Time
	lastPoll     time.Time
	polled       bool
}

// Stats is a point-in-time copy of the session counters.
type Stats struct {
	CurrentID    int64
	StartingID   int64
	NewestID     int64
	ItemsSeen    int64
	SessionStart time.Time
	LastPoll     time.Time
}

// NewSession wraps the record loaded at startup.
func NewSession(loaded Record) *Session {
	return &Session{
		loaded:    loaded,
		currentID: loaded.RepoID,
		newestID:  loaded.RepoID,
	}
}

// Loaded returns the record the session started from.
func (s *Session) Loaded() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Begin pins the frontier the session starts polling from.
func (s *Session) Begin(frontier int64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentID = frontier
	s.startingID = frontier
	s.newestID = frontier
	s.sessionStart = now
	s.lastPoll = now
}

// Advance marks id as fully processed. Workers may finish out of order,
// so the current ID only moves forward.
func (s *Session) Advance(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.currentID {
		s.currentID = id
	}
}

// RecordPoll accounts for one completed poll that returned count
// repositories, the newest of which has ID newest.
func (s *Session) RecordPoll(newest int64, count int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newest > s.newestID {
		s.newestID = newest
	}
	s.itemsSeen += int64(count)
	s.lastPoll = now
	s.polled = true
}

// Stats returns a copy of the counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		CurrentID:    s.currentID,
		StartingID:   s.startingID,
		NewestID:     s.newestID,
		ItemsSeen:    s.itemsSeen,
		SessionStart: s.sessionStart,
		LastPoll:     s.lastPoll,
	}
}

// Rate returns the session's discovery rate in identifiers per minute,
// measured from session start to the last completed poll. ok is false
// when no poll completed or no time elapsed.
func (s *Session) Rate() (rate int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLocked()
}

func (s *Session) rateLocked() (int64, bool) {
	if !s.polled {
		return 0, false
	}
	delta := s.lastPoll.Sub(s.sessionStart).Seconds()
	if delta <= 0 {
		return 0, false
	}
	assigned := s.newestID - s.startingID
	if assigned < 0 {
		assigned = 0
	}
	return int64(float64(assigned) / delta * 60), true
}

// Finish produces the record to persist at session end. sampled reports
// whether the session contributed a rate sample to the running average.
func (s *Session) Finish(now time.Time) (rec Record, rate int64, sampled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate, sampled = s.rateLocked()
	if !sampled {
		return s.loaded.WithFrontier(s.currentID, now), 0, false
	}
	return s.loaded.WithSample(s.currentID, rate, now), rate, true
}
