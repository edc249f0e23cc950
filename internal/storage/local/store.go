// Package local persists the ranking collection as a JSON file on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
)

// Config captures the parameters for the file store.
type Config struct {
	// Path is the JSON file holding the latest ranking collection.
	Path string `mapstructure:"path" yaml:"path"`
}

// Store writes the ranking collection to a single JSON array file. Each Save
// replaces the file atomically.
type Store struct {
	mu   sync.RWMutex
	path string
}

// New creates a file-backed store, creating the parent directory if needed.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("path is required")
	}
	dir := filepath.Dir(cfg.Path)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat data directory: %w", err)
		}
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("data directory path is not a directory")
	}

	testFile := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("data directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{path: cfg.Path}, nil
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}

// Save implements ranking.Store.
func (s *Store) Save(_ context.Context, snap ranking.Snapshot) error {
	data, err := ranking.MarshalBooks(snap.Books)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// Latest implements ranking.Store. The file carries no run metadata, so the
// snapshot's CrawledAt is the file modification time.
func (s *Store) Latest(_ context.Context) (ranking.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ranking.Snapshot{}, ranking.ErrNotFound
		}
		return ranking.Snapshot{}, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	books, err := ranking.UnmarshalBooks(data)
	if err != nil {
		return ranking.Snapshot{}, fmt.Errorf("%s: %w", s.path, err)
	}
	snap := ranking.Snapshot{Books: books}
	if info, err := os.Stat(s.path); err == nil {
		snap.CrawledAt = info.ModTime().UTC()
	}
	return snap, nil
}
