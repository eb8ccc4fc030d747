package marker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps the marker as an indented JSON file.
type FileStore struct {
	Path string
}

// NewFileStore creates a store for the marker file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) String() string {
	return s.Path
}

// fileRecord uses pointers so a file missing one of the keys is reported
// instead of silently zeroing the field.
type fileRecord struct {
	RepoID      *int64   `json:"repo_id"`
	Timestamp   *float64 `json:"timestamp"`
	AveragesSum *float64 `json:"averages_sum"`
	NumSessions *int     `json:"num_sessions"`
}

// Load reads the marker file.
func (s *FileStore) Load(ctx context.Context) (Record, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNoMarker
		}
		return Record{}, fmt.Errorf("reading marker file: %w", err)
	}
	return decodeRecord(data)
}

// Save writes the marker to a temporary file next to the target and
// renames it into place, so a crash never leaves a half-written marker.
func (s *FileStore) Save(ctx context.Context, rec Record) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding marker: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary marker file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing marker file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("syncing marker file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing marker file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing marker file: %w", err)
	}
	return nil
}

func decodeRecord(data []byte) (Record, error) {
	var raw fileRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, fmt.Errorf("parsing marker: %w", err)
	}

	switch {
	case raw.RepoID == nil:
		return Record{}, fmt.Errorf("parsing marker: missing repo_id")
	case raw.Timestamp == nil:
		return Record{}, fmt.Errorf("parsing marker: missing timestamp")
	case raw.AveragesSum == nil:
		return Record{}, fmt.Errorf("parsing marker: missing averages_sum")
	case raw.NumSessions == nil:
		return Record{}, fmt.Errorf("parsing marker: missing num_sessions")
	}

	return Record{
		RepoID:      *raw.RepoID,
		Timestamp:   *raw.Timestamp,
		AveragesSum: *raw.AveragesSum,
		NumSessions: *raw.NumSessions,
	}, nil
}
