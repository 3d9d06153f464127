package gcs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// ProgressStore keeps BatchProgress in <prefix>/<runKey>/progress.json.
type ProgressStore struct {
	objects Objects
	name    string
}

// NewProgressStore builds a store for runKey.
func NewProgressStore(objects Objects, prefix, runKey string) (*ProgressStore, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if runKey == "" {
		return nil, fmt.Errorf("run key is required")
	}
	return &ProgressStore{objects: objects, name: objectPath(prefix, runKey, "progress.json")}, nil
}

// Load reads the progress object.
func (s *ProgressStore) Load(ctx context.Context) (sourcing.BatchProgress, error) {
	data, err := s.objects.Get(ctx, s.name)
	if err != nil {
		return sourcing.BatchProgress{}, err
	}
	var progress sourcing.BatchProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return sourcing.BatchProgress{}, fmt.Errorf("decode progress: %w", err)
	}
	if progress.Items == nil {
		progress.Items = map[string]sourcing.ProgressEntry{}
	}
	return progress, nil
}

// Save overwrites the progress object.
func (s *ProgressStore) Save(ctx context.Context, progress sourcing.BatchProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	_, err = s.objects.Put(ctx, s.name, "application/json", data)
	return err
}

// Reset deletes the progress object.
func (s *ProgressStore) Reset(ctx context.Context) error {
	return s.objects.Delete(ctx, s.name)
}
