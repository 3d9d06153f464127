package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/nsn-sourcing/internal/progress"
)

// LogSink emits one structured log line per event. Item and source events are
// logged at debug level so that long batches stay readable at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Item != "" {
			fields = append(fields, zap.String("nsn", evt.Item))
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", evt.Source))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", evt.Outcome))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		if evt.Suppliers > 0 {
			fields = append(fields, zap.Int64("suppliers", evt.Suppliers))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt.Stage), "progress event", fields...)
	}
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageRunStart, progress.StageRunDone:
		return zapcore.InfoLevel
	case progress.StageRunError:
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
