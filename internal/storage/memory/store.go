// Package memory keeps the latest ranking collection in-memory for development.
package memory

import (
	"context"
	"sync"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
)

// Store holds the most recent snapshot and a bounded history.
type Store struct {
	mu      sync.RWMutex
	history []ranking.Snapshot
	limit   int
}

// New creates an in-memory store keeping at most limit snapshots (minimum 1).
func New(limit int) *Store {
	if limit < 1 {
		limit = 1
	}
	return &Store{limit: limit}
}

// Save implements ranking.Store.
func (s *Store) Save(_ context.Context, snap ranking.Snapshot) error {
	snap.Books = append([]ranking.Book(nil), snap.Books...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, snap)
	if over := len(s.history) - s.limit; over > 0 {
		s.history = append([]ranking.Snapshot(nil), s.history[over:]...)
	}
	return nil
}

// Latest implements ranking.Store.
func (s *Store) Latest(_ context.Context) (ranking.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return ranking.Snapshot{}, ranking.ErrNotFound
	}
	snap := s.history[len(s.history)-1]
	snap.Books = append([]ranking.Book(nil), snap.Books...)
	return snap, nil
}

// History returns the retained snapshots, oldest first.
func (s *Store) History() []ranking.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ranking.Snapshot(nil), s.history...)
}
