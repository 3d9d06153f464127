package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// ProgressStore keeps BatchProgress in memory. Saves replace the whole value.
type ProgressStore struct {
	mu       sync.RWMutex
	progress *sourcing.BatchProgress
	saves    int
	// FailSaves makes the next n Save calls fail with sourcing.ErrPersistence.
	FailSaves int
}

// NewProgressStore constructs an empty ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{}
}

// Load returns a copy of the stored progress or sourcing.ErrNotFound.
func (s *ProgressStore) Load(_ context.Context) (sourcing.BatchProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.progress == nil {
		return sourcing.BatchProgress{}, sourcing.ErrNotFound
	}
	return s.progress.Clone(), nil
}

// Save stores a copy of progress.
func (s *ProgressStore) Save(_ context.Context, progress sourcing.BatchProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves > 0 {
		s.FailSaves--
		return sourcing.ErrPersistence
	}
	clone := progress.Clone()
	s.progress = &clone
	s.saves++
	return nil
}

// Reset forgets the stored progress.
func (s *ProgressStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = nil
	return nil
}

// Saves reports how many Save calls succeeded.
func (s *ProgressStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
