package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poacher-dev/poacher/internal/config"
	"github.com/poacher-dev/poacher/internal/console"
	"github.com/poacher-dev/poacher/internal/frontier"
	"github.com/poacher-dev/poacher/internal/marker"
	"github.com/poacher-dev/poacher/internal/types"
)

func TestResetMarker(t *testing.T) {
	store := &memStore{rec: &marker.Record{RepoID: 900, AveragesSum: 120, NumSessions: 3, Timestamp: 1}}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rec, err := resetMarker(context.Background(), store, 5000, now)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), rec.RepoID)
	assert.Zero(t, rec.NumSessions)
	assert.Zero(t, rec.AveragesSum)
	assert.Equal(t, float64(now.Unix()), rec.Timestamp)
	require.Len(t, store.saves, 1)
	assert.Equal(t, rec, store.saves[0])
}

func TestResetMarkerRejectsBadID(t *testing.T) {
	store := &memStore{}
	_, err := resetMarker(context.Background(), store, 0, time.Now())
	require.Error(t, err)
	assert.Empty(t, store.saves)
}

func TestLocateFromExplicitID(t *testing.T) {
	client := &fakeGitHub{newest: 5321}
	store := &memStore{rec: &marker.Record{RepoID: 10, Timestamp: float64(time.Now().Unix())}}
	counting := &frontier.CountingProber{Prober: client}

	id, err := locate(context.Background(), counting, store, 5000, console.Discard(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(5321), id)
	assert.Positive(t, counting.Calls)
	assert.Empty(t, store.saves, "locate never writes the marker")
}

func TestLocateFromMarker(t *testing.T) {
	client := &fakeGitHub{newest: 777}
	store := &memStore{rec: &marker.Record{RepoID: 700, Timestamp: float64(time.Now().Unix())}}

	id, err := locate(context.Background(), client, store, 0, console.Discard(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(777), id)
}

func TestStatusViewPrint(t *testing.T) {
	color.NoColor = true
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		statusView{Now: now, HistoryEnabled: true}.Print(&buf)
		out := buf.String()
		assert.Contains(t, out, "No marker saved yet")
		assert.Contains(t, out, "No sessions recorded")
		assert.Contains(t, out, "Archived repositories: 0")
	})

	t.Run("history disabled", func(t *testing.T) {
		var buf bytes.Buffer
		statusView{Now: now}.Print(&buf)
		assert.Contains(t, buf.String(), "History disabled")
		assert.NotContains(t, buf.String(), "Archived repositories")
	})

	t.Run("marker and sessions", func(t *testing.T) {
		saved := now.Add(-10 * time.Minute)
		view := statusView{
			Now: now,
			Marker: &marker.Record{
				RepoID:      1000,
				Timestamp:   float64(saved.Unix()),
				AveragesSum: 100,
				NumSessions: 2,
			},
			Sessions: []*types.SessionRecord{{
				ID:         "s1",
				StartedAt:  saved.Add(-5 * time.Minute),
				EndedAt:    saved,
				StartingID: 750,
				NewestID:   1000,
				ItemsSeen:  180,
				RatePerMin: 50,
				ExitReason: types.ExitCancelled,
			}},
			Archived:       4,
			HistoryEnabled: true,
		}

		var buf bytes.Buffer
		view.Print(&buf)
		out := buf.String()
		assert.Contains(t, out, "Repo ID:   1000")
		assert.Contains(t, out, "Sessions:  2")
		assert.Contains(t, out, "Average:   50 new repos per minute")
		assert.Contains(t, out, "250 new (180 public), 50/min  cancelled")
		assert.Contains(t, out, "Archived repositories: 4")
	})
}

func TestRunOverridesKeepCloneFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poacher.yaml")
	content := "repo_handler: \"\"\nmonitor_only: false\nclone: true\n" +
		"working_directory: " + filepath.Join(dir, "work") + "\n" +
		"archive_directory: " + filepath.Join(dir, "archive") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })

	cfg := loadConfig(runOverrides("secrets", false))
	assert.Equal(t, "secrets", cfg.RepoHandler)
	assert.False(t, cfg.MonitorOnly)
	assert.True(t, cfg.Clone, "--handler must not lose clone: true from the file")

	cfg = loadConfig(runOverrides("secrets", true))
	assert.True(t, cfg.MonitorOnly)
	assert.False(t, cfg.Clone)

	cfg = loadConfig(runOverrides("", false))
	assert.True(t, cfg.MonitorOnly, "no handler anywhere is monitor mode")
	assert.False(t, cfg.Clone)
}

func TestWithMarkerStoreClosesOnError(t *testing.T) {
	closed := 0
	old := openStore
	openStore = func(*config.Config, *console.Logger) (marker.Store, func()) {
		return &memStore{}, func() { closed++ }
	}
	t.Cleanup(func() { openStore = old })

	err := withMarkerStore(config.DefaultConfig(), console.Discard(), func(store marker.Store) error {
		_, err := store.Load(context.Background())
		return err
	})
	assert.ErrorIs(t, err, marker.ErrNoMarker)
	assert.Equal(t, 1, closed, "store must be released before the caller exits")
}

func TestLoadStatus(t *testing.T) {
	closed := 0
	old := openStore
	saved := marker.Record{RepoID: 321, Timestamp: float64(time.Now().Unix())}
	openStore = func(*config.Config, *console.Logger) (marker.Store, func()) {
		return &memStore{rec: &saved}, func() { closed++ }
	}
	t.Cleanup(func() { openStore = old })

	cfg := config.DefaultConfig()
	cfg.HistoryDB = filepath.Join(t.TempDir(), "history.db")

	view, err := loadStatus(context.Background(), cfg, console.Discard(), 5, time.Now())
	require.NoError(t, err)
	require.NotNil(t, view.Marker)
	assert.Equal(t, int64(321), view.Marker.RepoID)
	assert.True(t, view.HistoryEnabled)
	assert.Empty(t, view.Sessions)
	assert.Equal(t, 1, closed)
}
