// Package dispatcher coordinates batch runs: it fans items out to the worker,
// persists terminal results and progress, and produces the run summary.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/progress"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
	"github.com/JakeFAU/nsn-sourcing/internal/telemetry"
	"github.com/JakeFAU/nsn-sourcing/internal/worker"
)

const defaultMaxPersistenceFailures = 3

// Processor runs one item through the pipeline.
type Processor interface {
	Process(ctx context.Context, runID [16]byte, entry nsn.Entry) (sourcing.ItemResult, error)
}

// Config tunes the coordinator.
type Config struct {
	// Workers bounds how many items are in flight at once.
	Workers int
	// BatchDelay is slept between item dispatches.
	BatchDelay time.Duration
	// MaxPersistenceFailures aborts the run after this many consecutive
	// items fail to persist.
	MaxPersistenceFailures int
}

// Deps bundles the collaborators of a Dispatcher.
type Deps struct {
	Processor Processor
	Progress  sourcing.ProgressStore
	Sink      sourcing.ResultSink
	IDs       sourcing.IDGenerator
	Clock     sourcing.Clock
	Sleep     sourcing.Sleeper
	Events    progress.Emitter
	Logger    *zap.Logger
}

// Dispatcher runs batches of NSNs.
type Dispatcher struct {
	processor Processor
	store     sourcing.ProgressStore
	sink      sourcing.ResultSink
	ids       sourcing.IDGenerator
	clock     sourcing.Clock
	sleep     sourcing.Sleeper
	events    progress.Emitter
	logger    *zap.Logger
	cfg       Config
}

// New validates deps and returns a Dispatcher.
func New(deps Deps, cfg Config) (*Dispatcher, error) {
	if deps.Processor == nil {
		return nil, errors.New("dispatcher: processor is required")
	}
	if deps.Progress == nil {
		return nil, errors.New("dispatcher: progress store is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("dispatcher: result sink is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("dispatcher: id generator is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxPersistenceFailures <= 0 {
		cfg.MaxPersistenceFailures = defaultMaxPersistenceFailures
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.Sleep == nil {
		deps.Sleep = sourcing.SleepContext
	}
	if deps.Events == nil {
		deps.Events = progress.NopEmitter{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Dispatcher{
		processor: deps.Processor,
		store:     deps.Progress,
		sink:      deps.Sink,
		ids:       deps.IDs,
		clock:     deps.Clock,
		sleep:     deps.Sleep,
		events:    deps.Events,
		logger:    deps.Logger,
		cfg:       cfg,
	}, nil
}

// Run processes inputs as a new batch. With resume set, items already
// recorded in the progress store are reported as skipped and the run
// continues under the stored run id; otherwise the store and resettable sinks
// are cleared first.
func (d *Dispatcher) Run(ctx context.Context, inputs []string, resume bool) (sourcing.BatchRunSummary, error) {
	runID, err := d.ids.NewID()
	if err != nil {
		return sourcing.BatchRunSummary{}, errors.Wrap(err, "generate run id")
	}
	r := d.newRun(runID, inputs)
	r.adoptID = true
	return r.execute(ctx, resume)
}

// RunWithID is Run with a caller-chosen run identifier. A resumed progress
// record is re-labelled with runID.
func (d *Dispatcher) RunWithID(
	ctx context.Context,
	runID string,
	inputs []string,
	resume bool,
) (sourcing.BatchRunSummary, error) {
	return d.newRun(runID, inputs).execute(ctx, resume)
}

func (d *Dispatcher) newRun(runID string, inputs []string) *run {
	r := &run{Dispatcher: d, entries: nsn.Dedupe(inputs)}
	r.setID(runID)
	return r
}

type run struct {
	*Dispatcher
	id      string
	rawID   [16]byte
	adoptID bool
	entries []nsn.Entry
	logger  *zap.Logger

	mu          sync.Mutex
	progress    sourcing.BatchProgress
	results     []sourcing.ItemResult
	fatal       error
	consecutive int
	warned      bool
}

func (r *run) setID(id string) {
	r.id = id
	r.rawID = progress.ParseRunID(id)
	r.logger = r.Dispatcher.logger.With(zap.String("run_id", id))
}

func (r *run) execute(ctx context.Context, resume bool) (sourcing.BatchRunSummary, error) {
	started := r.clock.Now()
	summary := sourcing.BatchRunSummary{RunID: r.id, StartedAt: started}

	if err := r.prepare(ctx, resume); err != nil {
		r.emit(progress.Event{Stage: progress.StageRunError, Note: err.Error()})
		summary.FinishedAt = r.clock.Now()
		return summary, err
	}
	summary.RunID = r.id
	r.emit(progress.Event{Stage: progress.StageRunStart})
	r.logger.Info("Batch started",
		zap.Int("items", len(r.entries)),
		zap.Bool("resume", resume),
		zap.Int("already_done", len(r.progress.Items)),
	)

	r.results = make([]sourcing.ItemResult, len(r.entries))
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	p := pool.New().WithMaxGoroutines(r.cfg.Workers)
	dispatched := make([]bool, len(r.entries))
	first := true
	for i, entry := range r.entries {
		if r.progress.Done(entry.Key()) {
			status := r.progress.Items[entry.Key()].Status
			r.results[i] = worker.Skipped(entry, fmt.Sprintf("already %s", status), r.clock.Now())
			dispatched[i] = true
			continue
		}
		if runCtx.Err() != nil {
			break
		}
		if !first && r.cfg.BatchDelay > 0 {
			if err := r.sleep(runCtx, r.cfg.BatchDelay); err != nil {
				break
			}
		}
		first = false
		dispatched[i] = true
		p.Go(func() {
			r.process(runCtx, cancel, i, entry)
		})
	}
	p.Wait()

	now := r.clock.Now()
	for i, entry := range r.entries {
		if !dispatched[i] {
			r.results[i] = worker.Skipped(entry, worker.ReasonInterrupted, now)
		}
	}

	for _, result := range r.results {
		summary.Add(result)
		if result.Status == sourcing.ItemSkipped && result.Reason == worker.ReasonInterrupted {
			summary.Interrupted = true
		}
	}
	summary.PersistenceWarning = r.warned
	summary.FinishedAt = r.clock.Now()

	closeCtx := context.WithoutCancel(ctx)
	if err := r.sink.Close(closeCtx, summary); err != nil {
		r.logger.Warn("Closing result sink failed", zap.Error(err))
		telemetry.ObservePersistenceFailure("close")
		summary.PersistenceWarning = true
	}

	r.finish(summary)
	return summary, r.fatal
}

func (r *run) prepare(ctx context.Context, resume bool) error {
	if !resume {
		if err := r.store.Reset(ctx); err != nil {
			return errors.Mark(errors.Wrap(err, "reset progress"), sourcing.ErrPersistence)
		}
		if rs, ok := r.sink.(sourcing.Resetter); ok {
			if err := rs.Reset(ctx); err != nil {
				return errors.Mark(errors.Wrap(err, "reset results"), sourcing.ErrPersistence)
			}
		}
		r.progress = sourcing.NewBatchProgress(r.id)
		return nil
	}
	loaded, err := r.store.Load(ctx)
	switch {
	case errors.Is(err, sourcing.ErrNotFound):
		r.progress = sourcing.NewBatchProgress(r.id)
	case err != nil:
		return errors.Mark(errors.Wrap(err, "load progress"), sourcing.ErrPersistence)
	default:
		r.progress = loaded
		if r.progress.Items == nil {
			r.progress.Items = map[string]sourcing.ProgressEntry{}
		}
		if r.adoptID && loaded.RunID != "" {
			r.setID(loaded.RunID)
		}
		r.progress.RunID = r.id
	}
	return nil
}

func (r *run) process(ctx context.Context, cancel context.CancelCauseFunc, i int, entry nsn.Entry) {
	result, err := r.processor.Process(ctx, r.rawID, entry)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[i] = result

	switch {
	case errors.Is(err, sourcing.ErrRateLimiterBreach):
		r.setFatal(err)
		cancel(err)
		return
	case errors.Is(err, sourcing.ErrInterrupted):
		return
	case err != nil:
		r.logger.Error("Item processing failed", zap.String("item", entry.Key()), zap.Error(err))
		return
	}
	r.persist(ctx, result)
	if r.consecutive >= r.cfg.MaxPersistenceFailures {
		err := errors.Wrapf(sourcing.ErrPersistence, "%d consecutive items failed to persist", r.consecutive)
		r.setFatal(err)
		cancel(err)
	}
}

// persist writes the result then the progress entry. The caller holds r.mu so
// progress snapshots are saved in completion order.
func (r *run) persist(ctx context.Context, result sourcing.ItemResult) {
	saveCtx := context.WithoutCancel(ctx)
	if err := r.sink.Append(saveCtx, result); err != nil {
		r.persistFailed("append", result.Key, err)
		return
	}
	r.progress.Record(result)
	if err := r.store.Save(saveCtx, r.progress.Clone()); err != nil {
		r.persistFailed("save_progress", result.Key, err)
		return
	}
	r.consecutive = 0
}

func (r *run) persistFailed(op, key string, err error) {
	r.consecutive++
	r.warned = true
	r.progress.PersistenceWarning = true
	telemetry.ObservePersistenceFailure(op)
	r.logger.Warn("Persisting item failed",
		zap.String("op", op),
		zap.String("item", key),
		zap.Int("consecutive", r.consecutive),
		zap.Error(err),
	)
}

func (r *run) setFatal(err error) {
	if r.fatal == nil {
		r.fatal = err
	}
}

func (r *run) finish(summary sourcing.BatchRunSummary) {
	dur := summary.FinishedAt.Sub(summary.StartedAt)
	fields := []zap.Field{
		zap.Int("complete", summary.Complete),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("suppliers", summary.Suppliers),
		zap.Int("high_confidence", summary.HighConfidence),
		zap.Duration("duration", dur),
	}
	if r.fatal != nil {
		r.emit(progress.Event{Stage: progress.StageRunError, Note: r.fatal.Error(), Dur: dur})
		r.logger.Error("Batch aborted", append(fields, zap.Error(r.fatal))...)
		return
	}
	status := "success"
	if summary.Interrupted {
		status = "interrupted"
	}
	r.emit(progress.Event{Stage: progress.StageRunDone, Status: status, Dur: dur})
	r.logger.Info("Batch finished", append(fields, zap.String("status", status))...)
}

func (r *run) emit(evt progress.Event) {
	evt.RunID = r.rawID
	evt.TS = r.clock.Now().UTC()
	r.events.Emit(evt)
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
