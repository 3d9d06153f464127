package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// ProgressStore keeps BatchProgress in a single JSON file.
type ProgressStore struct {
	mu   sync.Mutex
	path string
}

// NewProgressStore stores progress at name beneath dir.
func NewProgressStore(dir *Dir, name string) (*ProgressStore, error) {
	if dir == nil {
		return nil, fmt.Errorf("directory is required")
	}
	path, err := dir.Path(name)
	if err != nil {
		return nil, err
	}
	return &ProgressStore{path: path}, nil
}

// Path returns the progress file location.
func (s *ProgressStore) Path() string { return s.path }

// Load reads the progress file. A missing file yields sourcing.ErrNotFound.
func (s *ProgressStore) Load(_ context.Context) (sourcing.BatchProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- path is confined to the configured directory.
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return sourcing.BatchProgress{}, fmt.Errorf("progress file %s: %w", s.path, sourcing.ErrNotFound)
		}
		return sourcing.BatchProgress{}, fmt.Errorf("read progress file: %w", err)
	}
	var progress sourcing.BatchProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return sourcing.BatchProgress{}, fmt.Errorf("decode progress file: %w", err)
	}
	if progress.Items == nil {
		progress.Items = map[string]sourcing.ProgressEntry{}
	}
	return progress, nil
}

// Save atomically replaces the progress file.
func (s *ProgressStore) Save(_ context.Context, progress sourcing.BatchProgress) error {
	data, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path, data)
}

// Reset removes the progress file.
func (s *ProgressStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove progress file: %w", err)
	}
	return nil
}
