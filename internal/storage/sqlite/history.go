package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/poacher-dev/poacher/internal/types"
)

// RecordSession stores the summary of a finished session.
func (s *HistoryStore) RecordSession(ctx context.Context, rec *types.SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if !rec.ExitReason.IsValid() {
		return fmt.Errorf("invalid exit reason %q", rec.ExitReason)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, ended_at, starting_id, newest_id, items_seen, rate_per_min, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.StartedAt.UTC(), rec.EndedAt.UTC(), rec.StartingID, rec.NewestID, rec.ItemsSeen, rec.RatePerMin, string(rec.ExitReason))
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", rec.ID, err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *HistoryStore) RecentSessions(ctx context.Context, limit int) ([]*types.SessionRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, starting_id, newest_id, items_seen, rate_per_min, exit_reason
		FROM sessions
		ORDER BY ended_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.SessionRecord
	for rows.Next() {
		var rec types.SessionRecord
		var reason string
		if err := rows.Scan(&rec.ID, &rec.StartedAt, &rec.EndedAt, &rec.StartingID, &rec.NewestID,
			&rec.ItemsSeen, &rec.RatePerMin, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		rec.ExitReason = types.ExitReason(reason)
		sessions = append(sessions, &rec)
	}
	return sessions, rows.Err()
}

// RecordArchived indexes an archived repository. Archiving the same
// repository again replaces the row.
func (s *HistoryStore) RecordArchived(ctx context.Context, item *types.ArchivedItem) error {
	var createdAt interface{}
	if !item.CreatedAt.IsZero() {
		createdAt = item.CreatedAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archived_items (repo_id, full_name, url, created_at, archive_path, handler, archived_at, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET
			full_name = excluded.full_name,
			url = excluded.url,
			created_at = excluded.created_at,
			archive_path = excluded.archive_path,
			handler = excluded.handler,
			archived_at = excluded.archived_at,
			session_id = excluded.session_id
	`, item.RepoID, item.FullName, item.URL, createdAt, item.ArchivePath, item.Handler, item.ArchivedAt.UTC(), item.SessionID)
	if err != nil {
		return fmt.Errorf("failed to record archived repo %d: %w", item.RepoID, err)
	}
	return nil
}

// RepositoryArchived lets the store observe the pipeline directly.
func (s *HistoryStore) RepositoryArchived(ctx context.Context, item types.ArchivedItem) error {
	return s.RecordArchived(ctx, &item)
}

// ArchivedCount returns how many repositories have been archived, in
// total and within the given session ("" counts nothing for the session).
func (s *HistoryStore) ArchivedCount(ctx context.Context, sessionID string) (total, session int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN session_id = ? AND ? != '' THEN 1 ELSE 0 END), 0)
		FROM archived_items
	`, sessionID, sessionID).Scan(&total, &session)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count archived repos: %w", err)
	}
	return total, session, nil
}

// RecentArchived returns up to limit archived repositories, newest first.
func (s *HistoryStore) RecentArchived(ctx context.Context, limit int) ([]*types.ArchivedItem, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT repo_id, full_name, url, created_at, archive_path, handler, archived_at, session_id
		FROM archived_items
		ORDER BY archived_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived repos: %w", err)
	}
	defer rows.Close()

	var items []*types.ArchivedItem
	for rows.Next() {
		var item types.ArchivedItem
		var createdAt sql.NullTime
		if err := rows.Scan(&item.RepoID, &item.FullName, &item.URL, &createdAt, &item.ArchivePath,
			&item.Handler, &item.ArchivedAt, &item.SessionID); err != nil {
			return nil, fmt.Errorf("failed to scan archived repo: %w", err)
		}
		if createdAt.Valid {
			item.CreatedAt = createdAt.Time
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// PruneSessions deletes sessions that ended before cutoff and returns how
// many were removed. Archived items are kept.
func (s *HistoryStore) PruneSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE ended_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return res.RowsAffected()
}
