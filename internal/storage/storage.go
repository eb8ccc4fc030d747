// Package storage defines the session history backend and opens the
// configured implementation.
package storage

import (
	"context"
	"time"

	"github.com/poacher-dev/poacher/internal/storage/sqlite"
	"github.com/poacher-dev/poacher/internal/types"
)

// History records finished sessions and archived repositories.
type History interface {
	// Sessions
	RecordSession(ctx context.Context, rec *types.SessionRecord) error
	RecentSessions(ctx context.Context, limit int) ([]*types.SessionRecord, error)
	PruneSessions(ctx context.Context, cutoff time.Time) (int64, error)

	// Archived repositories
	RecordArchived(ctx context.Context, item *types.ArchivedItem) error
	RepositoryArchived(ctx context.Context, item types.ArchivedItem) error
	ArchivedCount(ctx context.Context, sessionID string) (total, session int64, err error)
	RecentArchived(ctx context.Context, limit int) ([]*types.ArchivedItem, error)

	// Reset drops all history and recreates the schema.
	Reset(ctx context.Context) error
	Close() error
}

// Open returns the history at path. An empty path disables history and
// returns a store that records nothing.
func Open(ctx context.Context, path string) (History, error) {
	if path == "" {
		return Disabled{}, nil
	}
	s, err := sqlite.New(ctx, path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Disabled is the History used when no database is configured.
type Disabled struct{}

func (Disabled) RecordSession(context.Context, *types.SessionRecord) error { return nil }
func (Disabled) RecentSessions(context.Context, int) ([]*types.SessionRecord, error) {
	return nil, nil
}
func (Disabled) PruneSessions(context.Context, time.Time) (int64, error)      { return 0, nil }
func (Disabled) RecordArchived(context.Context, *types.ArchivedItem) error    { return nil }
func (Disabled) RepositoryArchived(context.Context, types.ArchivedItem) error { return nil }
func (Disabled) ArchivedCount(context.Context, string) (int64, int64, error)  { return 0, 0, nil }
func (Disabled) RecentArchived(context.Context, int) ([]*types.ArchivedItem, error) {
	return nil, nil
}
func (Disabled) Reset(context.Context) error { return nil }
func (Disabled) Close() error                { return nil }

var (
	_ History = (*sqlite.HistoryStore)(nil)
	_ History = Disabled{}
)
