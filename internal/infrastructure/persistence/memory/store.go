// Package memory provides an in-process progress store. It backs tests and
// single-process deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/shared"
)

// Store keeps one aggregate per user behind a mutex. Values are cloned on the
// way in and out so callers never share state with the store.
type Store struct {
	mu    sync.RWMutex
	items map[string]*progress.UserProgress
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{items: make(map[string]*progress.UserProgress)}
}

// Get implements progress.Store.
func (s *Store) Get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.items[userID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", userID, shared.ErrProgressNotFound)
	}
	return p.Clone(), nil
}

// Commit implements progress.Store.
func (s *Store) Commit(ctx context.Context, p *progress.UserProgress, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil || p.UserID == "" {
		return shared.ValidationError("Commit", "userId", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	if cur, ok := s.items[p.UserID]; ok {
		stored = cur.Version
	}
	if stored != expectedVersion {
		return fmt.Errorf("commit %s: stored version %d, expected %d: %w",
			p.UserID, stored, expectedVersion, shared.ErrVersionConflict)
	}

	next := p.Clone()
	next.Version = expectedVersion + 1
	s.items[p.UserID] = next
	p.Version = next.Version
	return nil
}

// Ping implements progress.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored aggregates.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
