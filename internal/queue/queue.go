// Package queue defines how submitted batches wait for the coordinator. The
// HTTP API enqueues; a single consumer drains the queue so batches sharing a
// progress store never overlap.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Batch is a submitted list of NSN inputs.
type Batch struct {
	ID          string
	Inputs      []string
	Resume      bool
	SubmittedAt time.Time
}

// Queue buffers batches between submission and execution.
type Queue interface {
	Enqueue(ctx context.Context, batch Batch) error
	Dequeue(ctx context.Context) (Batch, error)
	Close()
}
