package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/nsn-sourcing/internal/progress"
)

// PrometheusSink exports batch progress via Prometheus: run lifecycle, terminal
// item statuses, and per-source call outcomes.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	itemsDone    *prometheus.CounterVec
	itemDuration prometheus.Histogram
	suppliers    prometheus.Counter

	sourceCalls    *prometheus.CounterVec
	sourceDuration *prometheus.HistogramVec
	enrichCalls    *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sourcing_runs_started_total",
			Help: "Total batch runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcing_runs_completed_total",
			Help: "Total batch runs completed partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sourcing_runs_active",
			Help: "Current number of running batches.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sourcing_run_runtime_seconds",
			Help:    "Wall time per completed batch run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		itemsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcing_items_done_total",
			Help: "Items that reached a terminal status.",
		}, []string{"status"}),
		itemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sourcing_item_duration_seconds",
			Help:    "Time from item start to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		suppliers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sourcing_item_suppliers_total",
			Help: "Suppliers kept across finished items.",
		}),
		sourceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcing_source_calls_total",
			Help: "Connector calls partitioned by source and outcome.",
		}, []string{"source", "outcome"}),
		sourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sourcing_source_duration_seconds",
			Help:    "Connector call duration including retries.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 90},
		}, []string{"source"}),
		enrichCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcing_enrich_calls_total",
			Help: "Contact discovery calls partitioned by outcome.",
		}, []string{"outcome"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runRuntime,
		s.itemsDone,
		s.itemDuration,
		s.suppliers,
		s.sourceCalls,
		s.sourceDuration,
		s.enrichCalls,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			s.handleRunEvent(evt)
		case progress.StageItemDone:
			s.itemsDone.WithLabelValues(evt.Status).Inc()
			s.suppliers.Add(float64(evt.Suppliers))
			if evt.Dur > 0 {
				s.itemDuration.Observe(evt.Dur.Seconds())
			}
		case progress.StageSourceDone:
			s.sourceCalls.WithLabelValues(evt.Source, evt.Outcome).Inc()
			if evt.Dur > 0 {
				s.sourceDuration.WithLabelValues(evt.Source).Observe(evt.Dur.Seconds())
			}
		case progress.StageEnrichDone:
			s.enrichCalls.WithLabelValues(evt.Outcome).Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	result := "success"
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
		return
	case progress.StageRunError:
		result = "error"
	}
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
