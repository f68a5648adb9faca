package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/progress"
)

// LogSink writes one structured log line per run milestone.
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

// Consume logs each event in the batch. Failed runs and unit timeouts log at
// warn so they stand out in production output.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Label != "" {
			fields = append(fields, zap.String("label", evt.Label))
		}
		if evt.Stage == progress.StageUnitDone {
			fields = append(fields,
				zap.String("term", evt.Term),
				zap.String("region", evt.Region),
				zap.String("outcome", string(evt.Outcome)),
				zap.Int("candidates", evt.Candidates),
				zap.Int("skipped", evt.Skipped),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageRunError || evt.Outcome == progress.UnitTimeout || evt.Outcome == progress.UnitFailed {
			s.logger.Warn("run progress", fields...)
			continue
		}
		s.logger.Info("run progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
