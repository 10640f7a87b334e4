package advice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sekimori-ai/sekimori/internal/model"
)

// FileStore persists one JSON file per run in a data directory. Writes go
// through a synced temp file plus rename so a crash never leaves a torn
// snapshot behind.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("advice: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("advice: create directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Put implements Store. Last write wins.
func (s *FileStore) Put(_ context.Context, a model.Advice) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("advice: marshal snapshot: %w", err)
	}

	path := s.path(a.RunID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("advice: write snapshot tmp: %w", err)
	}

	f, err := os.Open(tmp) //nolint:gosec // path is constructed from s.dir
	if err != nil {
		return fmt.Errorf("advice: open snapshot tmp for sync: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("advice: sync snapshot tmp: %w", err)
	}
	_ = f.Close()

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("advice: rename snapshot: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, runID uuid.UUID) (model.Advice, error) {
	data, err := os.ReadFile(s.path(runID)) //nolint:gosec // path is constructed from s.dir
	if errors.Is(err, os.ErrNotExist) {
		return model.Advice{}, ErrNotFound
	}
	if err != nil {
		return model.Advice{}, fmt.Errorf("advice: read snapshot: %w", err)
	}

	var a model.Advice
	if err := json.Unmarshal(data, &a); err != nil {
		return model.Advice{}, fmt.Errorf("advice: parse snapshot: %w", err)
	}
	return a, nil
}

func (s *FileStore) path(runID uuid.UUID) string {
	return filepath.Join(s.dir, fmt.Sprintf("advice_%s.json", runID))
}
