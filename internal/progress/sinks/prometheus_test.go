package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nsn-sourcing/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.ParseRunID("run-1")
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{
			RunID:   runID,
			TS:      now.Add(time.Second),
			Stage:   progress.StageSourceDone,
			Item:    "5306003733291",
			Source:  "dibbs",
			Outcome: progress.OutcomeOK,
			Dur:     800 * time.Millisecond,
		},
		{
			RunID:   runID,
			TS:      now.Add(time.Second),
			Stage:   progress.StageSourceDone,
			Item:    "5306003733291",
			Source:  "wbparts",
			Outcome: "timeout",
		},
		{RunID: runID, TS: now, Stage: progress.StageEnrichDone, Outcome: progress.OutcomeOK},
		{
			RunID:     runID,
			TS:        now.Add(2 * time.Second),
			Stage:     progress.StageItemDone,
			Item:      "5306003733291",
			Status:    "partial",
			Suppliers: 4,
			Dur:       2 * time.Second,
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sourceCalls.WithLabelValues("dibbs", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sourceCalls.WithLabelValues("wbparts", "timeout")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.enrichCalls.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.itemsDone.WithLabelValues("partial")))
	require.Equal(t, 4.0, testutil.ToFloat64(sink.suppliers))
	require.Equal(t, 1, testutil.CollectAndCount(sink.sourceDuration, "sourcing_source_duration_seconds"))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now.Add(time.Minute), Stage: progress.StageRunError, Dur: time.Minute},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
