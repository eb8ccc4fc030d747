// Package sqlite keeps the session history and the index of archived
// repositories in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/poacher-dev/poacher/internal/storage/migrations"
)

// HistoryStore implements storage.History on SQLite.
type HistoryStore struct {
	db   *sql.DB
	path string
}

// New opens (and creates or migrates) the database at path. ":memory:"
// opens a private in-memory database.
func New(ctx context.Context, path string) (*HistoryStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		// WAL lets `poacher status` read while a session writes.
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.NewManager(schemaMigrations...).Apply(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &HistoryStore{db: db, path: path}, nil
}

// Path returns the database location.
func (s *HistoryStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// Reset rolls the schema back to version 0, dropping every recorded
// session and archived item, and migrates it up again.
func (s *HistoryStore) Reset(ctx context.Context) error {
	m := migrations.NewManager(schemaMigrations...)
	for {
		version, err := migrations.Version(ctx, s.db)
		if err != nil {
			return fmt.Errorf("failed to get schema version: %w", err)
		}
		if version == 0 {
			break
		}
		if err := m.Rollback(ctx, s.db); err != nil {
			return err
		}
	}
	if err := m.Apply(ctx, s.db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
