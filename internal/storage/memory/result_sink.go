package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// ResultSink collects item results and the final summary in memory. The HTTP
// API reads recent results from it.
type ResultSink struct {
	mu      sync.RWMutex
	results []sourcing.ItemResult
	byKey   map[string]int
	summary *sourcing.BatchRunSummary
	// FailAppends makes the next n Append calls fail with sourcing.ErrPersistence.
	FailAppends int
}

// NewResultSink constructs an empty ResultSink.
func NewResultSink() *ResultSink {
	return &ResultSink{byKey: make(map[string]int)}
}

// Append records result, replacing an earlier result for the same key.
func (s *ResultSink) Append(_ context.Context, result sourcing.ItemResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppends > 0 {
		s.FailAppends--
		return sourcing.ErrPersistence
	}
	if idx, ok := s.byKey[result.Key]; ok {
		s.results[idx] = result
		return nil
	}
	s.byKey[result.Key] = len(s.results)
	s.results = append(s.results, result)
	return nil
}

// Close stores the summary.
func (s *ResultSink) Close(_ context.Context, summary sourcing.BatchRunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = &summary
	return nil
}

// Reset clears results and summary.
func (s *ResultSink) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = nil
	s.byKey = make(map[string]int)
	s.summary = nil
	return nil
}

// Results returns a copy of the recorded results in append order.
func (s *ResultSink) Results() []sourcing.ItemResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]sourcing.ItemResult, len(s.results))
	copy(out, s.results)
	return out
}

// Get returns the result recorded for key.
func (s *ResultSink) Get(key string) (sourcing.ItemResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byKey[key]
	if !ok {
		return sourcing.ItemResult{}, false
	}
	return s.results[idx], true
}

// Summary returns the summary passed to Close, if any.
func (s *ResultSink) Summary() (sourcing.BatchRunSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.summary == nil {
		return sourcing.BatchRunSummary{}, false
	}
	return *s.summary, true
}
