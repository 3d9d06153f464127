package dispatcher

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/queue"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

const defaultKeepBatches = 100

// BatchState is the lifecycle position of a submitted batch.
type BatchState string

// Batch states reported by the API.
const (
	BatchQueued      BatchState = "queued"
	BatchRunning     BatchState = "running"
	BatchDone        BatchState = "done"
	BatchInterrupted BatchState = "interrupted"
	BatchFailed      BatchState = "failed"
)

// BatchStatus is the externally visible view of a submitted batch.
type BatchStatus struct {
	ID          string                    `json:"id"`
	State       BatchState                `json:"state"`
	Items       int                       `json:"items"`
	Resume      bool                      `json:"resume"`
	SubmittedAt time.Time                 `json:"submitted_at"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	FinishedAt  *time.Time                `json:"finished_at,omitempty"`
	Summary     *sourcing.BatchRunSummary `json:"summary,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

// Runner executes a batch under a given run identifier.
type Runner interface {
	RunWithID(ctx context.Context, runID string, inputs []string, resume bool) (sourcing.BatchRunSummary, error)
}

// Service accepts batches from the API and runs them one at a time.
type Service struct {
	queue  queue.Queue
	runner Runner
	ids    sourcing.IDGenerator
	clock  sourcing.Clock
	logger *zap.Logger
	keep   int

	mu      sync.RWMutex
	batches map[string]*BatchStatus
	order   []string
}

// NewService wires a Service. Only the most recent batches are remembered.
func NewService(
	q queue.Queue,
	runner Runner,
	ids sourcing.IDGenerator,
	clock sourcing.Clock,
	logger *zap.Logger,
) *Service {
	if clock == nil {
		clock = utcClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		queue:   q,
		runner:  runner,
		ids:     ids,
		clock:   clock,
		logger:  logger,
		keep:    defaultKeepBatches,
		batches: make(map[string]*BatchStatus),
	}
}

// Submit validates inputs and queues them as a new batch.
func (s *Service) Submit(ctx context.Context, inputs []string, resume bool) (BatchStatus, error) {
	entries := nsn.Dedupe(inputs)
	if len(entries) == 0 {
		return BatchStatus{}, errors.Wrap(sourcing.ErrInvalidInput, "no NSNs provided")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return BatchStatus{}, errors.Wrap(err, "generate batch id")
	}
	batch := queue.Batch{ID: id, Inputs: inputs, Resume: resume, SubmittedAt: s.clock.Now()}
	status := &BatchStatus{
		ID:          id,
		State:       BatchQueued,
		Items:       len(entries),
		Resume:      resume,
		SubmittedAt: batch.SubmittedAt,
	}

	s.mu.Lock()
	s.batches[id] = status
	s.order = append(s.order, id)
	s.evictLocked()
	s.mu.Unlock()

	if err := s.queue.Enqueue(ctx, batch); err != nil {
		s.mu.Lock()
		s.forgetLocked(id)
		s.mu.Unlock()
		return BatchStatus{}, errors.Wrap(err, "queue batch")
	}
	s.logger.Info("Batch queued", zap.String("batch_id", id), zap.Int("items", status.Items))
	return s.snapshot(id), nil
}

// Get returns the status of a batch.
func (s *Service) Get(id string) (BatchStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.batches[id]
	if !ok {
		return BatchStatus{}, false
	}
	return *st, true
}

// List returns remembered batches, newest first.
func (s *Service) List() []BatchStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BatchStatus, 0, len(s.batches))
	for _, st := range s.batches {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Serve drains the queue until ctx ends or the queue closes. A batch that is
// running when ctx ends is interrupted and keeps its progress for a resume.
func (s *Service) Serve(ctx context.Context) error {
	for {
		batch, err := s.queue.Dequeue(ctx)
		switch {
		case errors.Is(err, queue.ErrClosed):
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return errors.Wrap(err, "dequeue batch")
		}
		s.run(ctx, batch)
	}
}

func (s *Service) run(ctx context.Context, batch queue.Batch) {
	started := s.clock.Now()
	s.update(batch.ID, func(st *BatchStatus) {
		st.State = BatchRunning
		st.StartedAt = &started
	})

	summary, err := s.runner.RunWithID(ctx, batch.ID, batch.Inputs, batch.Resume)

	finished := s.clock.Now()
	s.update(batch.ID, func(st *BatchStatus) {
		st.FinishedAt = &finished
		st.Summary = &summary
		switch {
		case err != nil:
			st.State = BatchFailed
			st.Error = err.Error()
		case summary.Interrupted:
			st.State = BatchInterrupted
		default:
			st.State = BatchDone
		}
	})
	if err != nil {
		s.logger.Error("Batch failed", zap.String("batch_id", batch.ID), zap.Error(err))
	}
}

func (s *Service) update(id string, fn func(*BatchStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.batches[id]; ok {
		fn(st)
	}
}

func (s *Service) snapshot(id string) BatchStatus {
	st, _ := s.Get(id)
	return st
}

func (s *Service) forgetLocked(id string) {
	delete(s.batches, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
}

// evictLocked forgets the oldest finished batches beyond the keep limit.
func (s *Service) evictLocked() {
	for len(s.order) > s.keep {
		evicted := false
		for i, id := range s.order {
			st, ok := s.batches[id]
			if ok && (st.State == BatchQueued || st.State == BatchRunning) {
				continue
			}
			delete(s.batches, id)
			s.order = slices.Delete(s.order, i, i+1)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}
