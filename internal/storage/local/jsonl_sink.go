package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// JSONLSink appends one JSON-encoded ItemResult per line to <name>.jsonl.
type JSONLSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewJSONLSink opens (or creates) <name>.jsonl beneath dir for appending.
func NewJSONLSink(dir *Dir, name string) (*JSONLSink, error) {
	if dir == nil {
		return nil, fmt.Errorf("directory is required")
	}
	path, err := dir.Path(name + ".jsonl")
	if err != nil {
		return nil, err
	}
	s := &JSONLSink{path: path}
	if err := s.open(false); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the JSONL location.
func (s *JSONLSink) Path() string { return s.path }

func (s *JSONLSink) open(truncate bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	// #nosec G304 -- path is confined to the configured directory.
	f, err := os.OpenFile(s.path, flags, 0o600)
	if err != nil {
		return fmt.Errorf("open jsonl: %w", err)
	}
	s.file = f
	return nil
}

// Append writes one line and syncs it, reopening a closed sink.
func (s *JSONLSink) Append(_ context.Context, result sourcing.ItemResult) error {
	line, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		if err := s.open(false); err != nil {
			return err
		}
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write jsonl: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync jsonl: %w", err)
	}
	return nil
}

// Reset truncates the file.
func (s *JSONLSink) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("close jsonl: %w", err)
		}
	}
	return s.open(true)
}

// Close closes the file. The summary is written by the CSV sink.
func (s *JSONLSink) Close(_ context.Context, _ sourcing.BatchRunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close jsonl: %w", err)
	}
	return nil
}
