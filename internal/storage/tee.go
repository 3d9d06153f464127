package storage

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// Tee fans every call out to all sinks. Each sink sees every call even when
// an earlier one fails; the failures are combined.
type Tee struct {
	sinks []sourcing.ResultSink
}

// NewTee combines sinks. Nil sinks are ignored.
func NewTee(sinks ...sourcing.ResultSink) *Tee {
	t := &Tee{}
	for _, s := range sinks {
		if s != nil {
			t.sinks = append(t.sinks, s)
		}
	}
	return t
}

// Len reports the number of sinks.
func (t *Tee) Len() int { return len(t.sinks) }

// Append forwards result to every sink.
func (t *Tee) Append(ctx context.Context, result sourcing.ItemResult) error {
	var err error
	for _, s := range t.sinks {
		err = errors.CombineErrors(err, s.Append(ctx, result))
	}
	return err
}

// Close forwards summary to every sink.
func (t *Tee) Close(ctx context.Context, summary sourcing.BatchRunSummary) error {
	var err error
	for _, s := range t.sinks {
		err = errors.CombineErrors(err, s.Close(ctx, summary))
	}
	return err
}

// Reset truncates every sink that supports it.
func (t *Tee) Reset(ctx context.Context) error {
	var err error
	for _, s := range t.sinks {
		if r, ok := s.(sourcing.Resetter); ok {
			err = errors.CombineErrors(err, r.Reset(ctx))
		}
	}
	return err
}
