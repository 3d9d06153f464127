package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// ResultSink writes one object per item under <prefix>/<runKey>/items/ and
// the run summary to <prefix>/<runKey>/summary.json.
type ResultSink struct {
	objects Objects
	prefix  string
	runKey  string
}

// NewResultSink builds a sink for runKey.
func NewResultSink(objects Objects, prefix, runKey string) (*ResultSink, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if runKey == "" {
		return nil, fmt.Errorf("run key is required")
	}
	return &ResultSink{objects: objects, prefix: prefix, runKey: runKey}, nil
}

// ItemObject returns the object name used for key.
func (s *ResultSink) ItemObject(key string) string {
	return objectPath(s.prefix, s.runKey, "items", url.PathEscape(key)+".json")
}

// Append writes (or replaces) the object for result.Key.
func (s *ResultSink) Append(ctx context.Context, result sourcing.ItemResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.objects.Put(ctx, s.ItemObject(result.Key), "application/json", data)
	return err
}

// Close writes the summary object.
func (s *ResultSink) Close(ctx context.Context, summary sourcing.BatchRunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = s.objects.Put(ctx, objectPath(s.prefix, s.runKey, "summary.json"), "application/json", data)
	return err
}

// Reset deletes every item object and the summary for this run key.
func (s *ResultSink) Reset(ctx context.Context) error {
	names, err := s.objects.List(ctx, objectPath(s.prefix, s.runKey, "items")+"/")
	if err != nil {
		return err
	}
	names = append(names, objectPath(s.prefix, s.runKey, "summary.json"))
	for _, name := range names {
		if err := s.objects.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
