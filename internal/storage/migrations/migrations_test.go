package migrations

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

var createWidgets = Migration{
	Version:     1,
	Description: "Add widgets table",
	Up:          `CREATE TABLE IF NOT EXISTS widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
	Down:        `DROP TABLE IF EXISTS widgets`,
}

var addWidgetColor = Migration{
	Version:     2,
	Description: "Add widget color",
	Up:          `ALTER TABLE widgets ADD COLUMN color TEXT NOT NULL DEFAULT ''`,
	Down:        `ALTER TABLE widgets DROP COLUMN color`,
}

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	// Every pooled connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplyAndRollback(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	// Registered out of order on purpose.
	m := NewManager(addWidgetColor, createWidgets)
	if err := m.Apply(ctx, db); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	v, err := Version(ctx, db)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}
	if _, err := db.Exec("INSERT INTO widgets (id, name, color) VALUES (1, 'a', 'red')"); err != nil {
		t.Fatalf("widgets table not migrated: %v", err)
	}

	if err := m.Rollback(ctx, db); err != nil {
		t.Fatalf("failed to rollback migration: %v", err)
	}
	v, _ = Version(ctx, db)
	if v != 1 {
		t.Errorf("expected version 1 after rollback, got %d", v)
	}
	if _, err := db.Exec("INSERT INTO widgets (id, name, color) VALUES (2, 'b', 'blue')"); err == nil {
		t.Error("color column should have been dropped")
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	m := NewManager(createWidgets)

	for i := 0; i < 3; i++ {
		if err := m.Apply(ctx, db); err != nil {
			t.Fatalf("apply #%d: %v", i+1, err)
		}
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 version row, got %d", n)
	}
}

func TestRollbackWithoutMigrations(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	m := NewManager()
	if err := m.Apply(ctx, db); err != nil {
		t.Fatal(err)
	}
	if err := m.Rollback(ctx, db); err == nil {
		t.Error("expected error rolling back an empty schema")
	}
}
