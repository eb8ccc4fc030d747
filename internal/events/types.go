// Package events publishes what a discovery session did to Kafka so
// downstream consumers can pick up archived repositories as they land.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/poacher-dev/poacher/internal/types"
)

// EventType identifies the kind of event.
type EventType string

const (
	// EventTypeRepositoryArchived is sent when a matched repository was
	// copied into the archive.
	EventTypeRepositoryArchived EventType = "repository_archived"
	// EventTypeSessionEnded is sent once per session after the marker was
	// saved.
	EventTypeSessionEnded EventType = "session_ended"
)

// Event is the message envelope. Exactly one payload is set.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`

	Repository *types.ArchivedItem  `json:"repository,omitempty"`
	Session    *types.SessionRecord `json:"session,omitempty"`
}

// NewArchivedEvent wraps an archived repository.
func NewArchivedEvent(item types.ArchivedItem) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Type:       EventTypeRepositoryArchived,
		Timestamp:  time.Now().UTC(),
		SessionID:  item.SessionID,
		Repository: &item,
	}
}

// NewSessionEndedEvent wraps a finished session.
func NewSessionEndedEvent(rec types.SessionRecord) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      EventTypeSessionEnded,
		Timestamp: time.Now().UTC(),
		SessionID: rec.ID,
		Session:   &rec,
	}
}

// Key is the partitioning key: the repository for archive events so all
// events for one repository stay ordered, the session otherwise.
func (e *Event) Key() string {
	if e.Repository != nil && e.Repository.FullName != "" {
		return e.Repository.FullName
	}
	return e.SessionID
}

// Validate checks that the envelope matches its type.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	switch e.Type {
	case EventTypeRepositoryArchived:
		if e.Repository == nil {
			return fmt.Errorf("%s event without repository", e.Type)
		}
		if e.Repository.RepoID <= 0 {
			return fmt.Errorf("%s event with invalid repo id %d", e.Type, e.Repository.RepoID)
		}
	case EventTypeSessionEnded:
		if e.Session == nil {
			return fmt.Errorf("%s event without session", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
