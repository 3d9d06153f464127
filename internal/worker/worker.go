// Package worker runs one NSN through the item state machine: validate,
// scrape every source, merge, enrich, score.
package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/nsn-sourcing/internal/clock/system"
	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/progress"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
	"github.com/JakeFAU/nsn-sourcing/internal/telemetry"
)

// ReasonInterrupted marks items stopped by batch cancellation.
const ReasonInterrupted = "interrupted"

// Config controls Worker behavior.
type Config struct {
	// ScrapeConcurrency bounds how many items scrape at once.
	ScrapeConcurrency int
	// MaxSuppliers caps suppliers kept per item; zero keeps all.
	MaxSuppliers int
	// CallTimeout bounds each connector, enricher and drafter call.
	CallTimeout time.Duration
}

// Deps are the collaborators a Worker drives. Enricher and Drafter are
// optional; an Enricher requires the shared Limiter.
type Deps struct {
	Connectors []sourcing.SourceConnector
	Enricher   sourcing.ContactEnricher
	Limiter    sourcing.Limiter
	Drafter    sourcing.Drafter
	Retry      sourcing.RetryPolicy
	Sleep      sourcing.Sleeper
	Clock      sourcing.Clock
	Events     progress.Emitter
	Logger     *zap.Logger
}

// Worker executes the item pipeline. It is safe for concurrent use; the
// scrape gate is shared by every caller.
type Worker struct {
	connectors []sourcing.SourceConnector
	enricher   sourcing.ContactEnricher
	limiter    sourcing.Limiter
	drafter    sourcing.Drafter
	retry      sourcing.RetryPolicy
	sleep      sourcing.Sleeper
	clock      sourcing.Clock
	events     progress.Emitter
	gate       *semaphore.Weighted
	cfg        Config
	logger     *zap.Logger
}

// New validates deps and cfg and constructs a Worker.
func New(deps Deps, cfg Config) (*Worker, error) {
	if len(deps.Connectors) == 0 {
		return nil, errors.New("worker: at least one source connector is required")
	}
	if deps.Enricher != nil && deps.Limiter == nil {
		return nil, errors.New("worker: enricher requires a limiter")
	}
	if cfg.ScrapeConcurrency <= 0 {
		return nil, errors.Newf("worker: scrape concurrency must be > 0, got %d", cfg.ScrapeConcurrency)
	}
	if cfg.MaxSuppliers < 0 {
		return nil, errors.Newf("worker: max suppliers must be >= 0, got %d", cfg.MaxSuppliers)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 90 * time.Second
	}
	w := &Worker{
		connectors: append([]sourcing.SourceConnector(nil), deps.Connectors...),
		enricher:   deps.Enricher,
		limiter:    deps.Limiter,
		drafter:    deps.Drafter,
		retry:      deps.Retry,
		sleep:      deps.Sleep,
		clock:      deps.Clock,
		events:     deps.Events,
		gate:       semaphore.NewWeighted(int64(cfg.ScrapeConcurrency)),
		cfg:        cfg,
		logger:     deps.Logger,
	}
	if w.retry == nil {
		w.retry = sourcing.NewExponentialRetryPolicy(sourcing.RetryConfig{})
	}
	if w.sleep == nil {
		w.sleep = sourcing.SleepContext
	}
	if w.clock == nil {
		w.clock = system.New()
	}
	if w.events == nil {
		w.events = progress.NopEmitter{}
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w, nil
}

// Sources lists the connector names in registration order.
func (w *Worker) Sources() []sourcing.Source {
	out := make([]sourcing.Source, 0, len(w.connectors))
	for _, c := range w.connectors {
		out = append(out, c.Name())
	}
	return out
}

// item carries the mutable state of one Process call.
type item struct {
	runID   [16]byte
	entry   nsn.Entry
	machine *sourcing.Machine
	result  sourcing.ItemResult
	partial bool
	logger  *zap.Logger
}

// Process runs entry to a terminal state. The returned error is nil for
// complete, partial and failed items. It wraps sourcing.ErrInterrupted when
// ctx ended before the item finished, in which case the result is skipped;
// and sourcing.ErrRateLimiterBreach when the enrichment limiter reported a
// breach, which must abort the batch.
func (w *Worker) Process(ctx context.Context, runID [16]byte, entry nsn.Entry) (sourcing.ItemResult, error) {
	it := &item{
		runID:   runID,
		entry:   entry,
		machine: sourcing.NewMachine(),
		result: sourcing.ItemResult{
			Key:       entry.Key(),
			Input:     entry.Raw,
			NSN:       entry.NSN,
			StartedAt: w.clock.Now(),
		},
		logger: w.logger.With(zap.String("nsn", entry.Key())),
	}

	ctx, span := telemetry.Tracer().Start(ctx, "item.process",
		trace.WithAttributes(attribute.String("nsn", entry.Key())))
	defer span.End()

	telemetry.IncActiveItems()
	defer telemetry.DecActiveItems()

	w.emit(it, progress.Event{Stage: progress.StageItemStart})

	err := w.run(ctx, it)
	switch {
	case errors.Is(err, sourcing.ErrInterrupted):
		it.result.Status = sourcing.ItemSkipped
		it.result.Reason = ReasonInterrupted
		it.logger.Info("item interrupted", zap.String("stage", string(it.machine.State())))
	case err != nil:
		it.result.Status = sourcing.ItemFailed
		if it.result.Reason == "" {
			it.result.Reason = err.Error()
		}
		_ = it.machine.To(sourcing.StateFailed)
	}
	it.result.State = it.machine.State()
	it.result.FinishedAt = w.clock.Now()

	if it.result.Status == sourcing.ItemFailed {
		span.SetStatus(codes.Error, it.result.Reason)
	}
	span.SetAttributes(attribute.String("status", string(it.result.Status)))
	telemetry.ObserveItem(string(it.result.Status))
	w.emit(it, progress.Event{
		Stage:     progress.StageItemDone,
		Status:    string(it.result.Status),
		Suppliers: int64(len(it.result.Suppliers)),
		Dur:       it.result.FinishedAt.Sub(it.result.StartedAt),
		Note:      it.result.Reason,
	})
	it.logger.Info("item finished",
		zap.String("status", string(it.result.Status)),
		zap.String("reason", it.result.Reason),
		zap.Int("suppliers", len(it.result.Suppliers)),
		zap.Int("opportunities", len(it.result.Opportunities)),
	)

	if errors.Is(err, sourcing.ErrInterrupted) || errors.Is(err, sourcing.ErrRateLimiterBreach) {
		return it.result, err
	}
	return it.result, nil
}

// Skipped builds the result for an item that a previous run already finished.
func Skipped(entry nsn.Entry, reason string, now time.Time) sourcing.ItemResult {
	m := sourcing.NewMachine()
	_ = m.To(sourcing.StateSkipped)
	return sourcing.ItemResult{
		Key:        entry.Key(),
		Input:      entry.Raw,
		NSN:        entry.NSN,
		Status:     sourcing.ItemSkipped,
		State:      m.State(),
		Reason:     reason,
		StartedAt:  now,
		FinishedAt: now,
	}
}

// errFailed marks a stage failure whose reason is already on the result.
var errFailed = errors.New("item failed")

func (w *Worker) run(ctx context.Context, it *item) error {
	if err := w.advance(ctx, it, sourcing.StateValidating); err != nil {
		return err
	}
	if it.entry.Err != nil {
		it.result.Reason = fmt.Sprintf("invalid NSN %q: %v", strings.TrimSpace(it.entry.Raw), it.entry.Err)
		return errors.Mark(errFailed, sourcing.ErrInvalidInput)
	}

	if err := w.advance(ctx, it, sourcing.StateScraping); err != nil {
		return err
	}
	records, err := w.scrape(ctx, it)
	if err != nil {
		return err
	}

	if err := w.advance(ctx, it, sourcing.StateMerging); err != nil {
		return err
	}
	suppliers := sourcing.RankSuppliers(sourcing.Merge(records), w.cfg.MaxSuppliers)
	it.result.Opportunities = sourcing.CollectOpportunities(records)
	it.result.HasOpenRFQ = sourcing.AnyOpen(it.result.Opportunities)

	if err := w.advance(ctx, it, sourcing.StateEnriching); err != nil {
		return err
	}
	if err := w.enrich(ctx, it, suppliers); err != nil {
		return err
	}

	if err := w.advance(ctx, it, sourcing.StateScoring); err != nil {
		return err
	}
	for _, s := range suppliers {
		telemetry.ObserveSupplier(string(s.Tier()))
	}
	w.draft(ctx, it, suppliers)
	it.result.Suppliers = suppliers

	if err := it.machine.To(sourcing.StateComplete); err != nil {
		return err
	}
	it.result.Status = sourcing.ItemComplete
	if it.partial {
		it.result.Status = sourcing.ItemPartial
	}
	return nil
}

// advance moves to next after checking for cancellation. Stage boundaries are
// the only points where an item notices the batch ending.
func (w *Worker) advance(ctx context.Context, it *item, next sourcing.State) error {
	if ctx.Err() != nil {
		return errors.Wrapf(sourcing.ErrInterrupted, "before %s", next)
	}
	if err := it.machine.To(next); err != nil {
		return err
	}
	it.logger.Debug("item stage", zap.String("stage", string(next)))
	return nil
}

type fetchResult struct {
	record  sourcing.RawSourceRecord
	outcome sourcing.SourceOutcome
}

// scrape launches every connector together and waits for all of them. Calls
// are detached from ctx so a batch interruption lets them finish.
func (w *Worker) scrape(ctx context.Context, it *item) ([]sourcing.RawSourceRecord, error) {
	if err := w.gate.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(sourcing.ErrInterrupted, "waiting for scrape slot")
	}
	defer w.gate.Release(1)

	callCtx := context.WithoutCancel(ctx)
	p := pool.NewWithResults[fetchResult]()
	for _, conn := range w.connectors {
		p.Go(func() fetchResult {
			return w.fetch(callCtx, it, conn)
		})
	}
	results := p.Wait()
	sort.Slice(results, func(i, j int) bool {
		return results[i].outcome.Source < results[j].outcome.Source
	})

	var (
		records []sourcing.RawSourceRecord
		failed  []string
	)
	for _, r := range results {
		it.result.Sources = append(it.result.Sources, r.outcome)
		if r.outcome.OK {
			records = append(records, r.record)
			continue
		}
		failed = append(failed, fmt.Sprintf("%s=%s", r.outcome.Source, r.outcome.Kind))
	}
	if len(records) == 0 {
		it.result.Reason = "all sources failed: " + strings.Join(failed, ", ")
		return nil, errFailed
	}
	if len(failed) > 0 {
		it.partial = true
	}
	return records, nil
}

func (w *Worker) fetch(ctx context.Context, it *item, conn sourcing.SourceConnector) fetchResult {
	source := conn.Name()
	ctx, span := telemetry.Tracer().Start(ctx, "source.fetch",
		trace.WithAttributes(attribute.String("source", string(source))))
	defer span.End()

	start := w.clock.Now()
	record, attempts, err := sourcing.Retry(ctx, w.retry, w.sleep, func(ctx context.Context) (sourcing.RawSourceRecord, error) {
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
		defer cancel()
		return conn.Fetch(callCtx, it.entry.NSN)
	})
	dur := w.clock.Now().Sub(start)
	if dur < 0 {
		dur = 0
	}

	out := sourcing.SourceOutcome{Source: source, Attempts: attempts, Duration: dur}
	outcome := progress.OutcomeOK
	if err != nil {
		out.Kind = sourcing.KindOf(err)
		out.Error = err.Error()
		outcome = string(out.Kind)
		span.SetStatus(codes.Error, err.Error())
		it.logger.Warn("source fetch failed",
			zap.String("source", string(source)),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
	} else {
		record.OK = true
		if record.Source == "" {
			record.Source = source
		}
		out.OK = true
		out.Suppliers = len(record.Suppliers)
		out.Opportunities = len(record.Opportunities)
		it.logger.Debug("source fetch done",
			zap.String("source", string(source)),
			zap.Int("attempt", attempts),
			zap.Int("suppliers", out.Suppliers),
			zap.Int("opportunities", out.Opportunities),
		)
	}
	telemetry.ObserveSourceFetch(string(source), outcome, dur)
	w.emit(it, progress.Event{
		Stage:     progress.StageSourceDone,
		Source:    string(source),
		Outcome:   outcome,
		Suppliers: int64(out.Suppliers),
		Dur:       dur,
		Note:      out.Error,
	})
	return fetchResult{record: record, outcome: out}
}

// enrich fills contact details one supplier at a time. Every call takes a
// permit from the shared limiter; a failure only affects that supplier.
func (w *Worker) enrich(ctx context.Context, it *item, suppliers []sourcing.Supplier) error {
	if w.enricher == nil {
		return nil
	}
	callCtx := context.WithoutCancel(ctx)
	for i := range suppliers {
		s := &suppliers[i]
		if s.Contact.Complete() {
			continue
		}
		contact, attempts, err := sourcing.Retry(callCtx, w.retry, w.sleep, func(rctx context.Context) (sourcing.ContactRecord, error) {
			// Permits are awaited on the batch context so an interruption
			// does not sit behind the limiter.
			if err := w.limiter.Wait(ctx); err != nil {
				return sourcing.ContactRecord{}, err
			}
			cctx, cancel := context.WithTimeout(rctx, w.cfg.CallTimeout)
			defer cancel()
			return w.enricher.Discover(cctx, s.Name, s.PrimaryCAGE())
		})
		switch {
		case errors.Is(err, sourcing.ErrRateLimiterBreach):
			it.result.Reason = err.Error()
			return err
		case err != nil && ctx.Err() != nil:
			return errors.Wrap(sourcing.ErrInterrupted, "waiting for enrichment permit")
		}

		outcome := progress.OutcomeOK
		if err != nil {
			outcome = enrichOutcome(err)
			s.EnrichError = err.Error()
			it.partial = true
			it.logger.Warn("enrichment failed",
				zap.String("supplier", s.Name),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
		} else {
			s.Contact = s.Contact.Union(contact)
		}
		telemetry.ObserveEnrich(outcome)
		w.emit(it, progress.Event{
			Stage:   progress.StageEnrichDone,
			Outcome: outcome,
			Note:    s.Name,
		})
	}
	return nil
}

func enrichOutcome(err error) string {
	var ee *sourcing.EnricherError
	if errors.As(err, &ee) {
		return string(ee.Kind)
	}
	return string(sourcing.EnricherUnknown)
}

// draft writes outreach emails for suppliers with an email address. Drafting
// failures are logged and never change the item status.
func (w *Worker) draft(ctx context.Context, it *item, suppliers []sourcing.Supplier) {
	if w.drafter == nil {
		return
	}
	callCtx := context.WithoutCancel(ctx)
	for i := range suppliers {
		s := &suppliers[i]
		if !s.Contact.HasEmail() {
			continue
		}
		cctx, cancel := context.WithTimeout(callCtx, w.cfg.CallTimeout)
		text, err := w.drafter.Draft(cctx, it.entry.NSN, *s)
		cancel()
		if err != nil {
			it.logger.Warn("email draft failed", zap.String("supplier", s.Name), zap.Error(err))
			continue
		}
		s.EmailDraft = text
	}
}

func (w *Worker) emit(it *item, evt progress.Event) {
	evt.RunID = it.runID
	evt.TS = w.clock.Now().UTC()
	evt.Item = it.result.Key
	w.events.Emit(evt)
}
