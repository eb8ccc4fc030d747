package sqlite

import "github.com/poacher-dev/poacher/internal/storage/migrations"

// schemaMigrations builds the history database. New columns or tables go in
// as new versions; released versions are never edited.
var schemaMigrations = []migrations.Migration{
	{
		Version:     1,
		Description: "sessions and archived items",
		Up: `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				started_at DATETIME NOT NULL,
				ended_at DATETIME NOT NULL,
				starting_id INTEGER NOT NULL,
				newest_id INTEGER NOT NULL,
				items_seen INTEGER NOT NULL DEFAULT 0,
				rate_per_min INTEGER NOT NULL DEFAULT 0,
				exit_reason TEXT NOT NULL CHECK (exit_reason IN ('cancelled', 'fatal', 'completed'))
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);

			CREATE TABLE IF NOT EXISTS archived_items (
				repo_id INTEGER PRIMARY KEY,
				full_name TEXT NOT NULL,
				url TEXT NOT NULL,
				created_at DATETIME,
				archive_path TEXT NOT NULL,
				handler TEXT NOT NULL,
				archived_at DATETIME NOT NULL,
				session_id TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_archived_items_session ON archived_items(session_id);
		`,
		Down: `
			DROP TABLE IF EXISTS archived_items;
			DROP TABLE IF EXISTS sessions;
		`,
	},
}
