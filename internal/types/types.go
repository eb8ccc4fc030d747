package types

import (
	"fmt"
	"strings"
	"time"
)

// Repository is one entry returned by a "list repositories created after ID"
// query. It only lives for the duration of its pass through the pipeline.
type Repository struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	FullName  string    `json:"full_name"`
	HTMLURL   string    `json:"html_url"`
	CloneURL  string    `json:"clone_url"`
	CreatedAt time.Time `json:"created_at"`

	// SizeKB is the size reported by the hosting service in kilobytes.
	// Listing endpoints usually omit it, in which case SizeKnown is false
	// and the size must be looked up separately.
	SizeKB    int64 `json:"size_kb"`
	SizeKnown bool  `json:"size_known"`
}

// Validate checks the fields the pipeline relies on.
func (r *Repository) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("repository id must be positive (got %d)", r.ID)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("repository %d has no name", r.ID)
	}
	if r.SizeKnown && r.SizeKB < 0 {
		return fmt.Errorf("repository %d has negative size %d", r.ID, r.SizeKB)
	}
	return nil
}

// DisplayName returns the full name when known, otherwise the short name.
func (r *Repository) DisplayName() string {
	if r.FullName != "" {
		return r.FullName
	}
	return r.Name
}

// SizeMB converts the reported size to megabytes the way it is shown in logs.
func (r *Repository) SizeMB() float64 {
	return float64(r.SizeKB) / 1000.0
}

// ExitReason describes why a discovery session ended.
type ExitReason string

const (
	ExitCancelled ExitReason = "cancelled" // operator interrupt
	ExitFatal     ExitReason = "fatal"     // feed or probe failure
	ExitCompleted ExitReason = "completed" // bounded run finished (tests, --max-polls)
)

// IsValid checks if the exit reason value is valid
func (r ExitReason) IsValid() bool {
	switch r {
	case ExitCancelled, ExitFatal, ExitCompleted:
		return true
	}
	return false
}

// SessionRecord is the history row written when a discovery session ends.
type SessionRecord struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    time.Time  `json:"ended_at"`
	StartingID int64      `json:"starting_id"`
	NewestID   int64      `json:"newest_id"`
	ItemsSeen  int64      `json:"items_seen"`
	RatePerMin int64      `json:"rate_per_min"`
	ExitReason ExitReason `json:"exit_reason"`
}

// Discovered returns how many identifiers were assigned during the session,
// which includes repositories the listing never showed (private ones).
func (s *SessionRecord) Discovered() int64 {
	if s.NewestID < s.StartingID {
		return 0
	}
	return s.NewestID - s.StartingID
}

// ArchivedItem records one repository that a handler matched and that was
// copied into the archive.
type ArchivedItem struct {
	RepoID      int64     `json:"repo_id"`
	FullName    string    `json:"full_name"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
	ArchivePath string    `json:"archive_path"`
	Handler     string    `json:"handler"`
	ArchivedAt  time.Time `json:"archived_at"`
	SessionID   string    `json:"session_id"`
}
