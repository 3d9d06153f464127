package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/nsn-sourcing/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.ParseRunID("r")
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageSourceDone, Item: "k", Source: "dibbs", Outcome: "ok"},
		{RunID: runID, TS: now, Stage: progress.StageRunError, Note: "boom"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
	require.Equal(t, "dibbs", entries[1].ContextMap()["source"])
	require.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	require.Equal(t, "boom", entries[2].ContextMap()["note"])
}
