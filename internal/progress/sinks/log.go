package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/progress"
)

// LogSink writes job events as structured logs. Unit events are logged at
// debug level so long jobs stay quiet at info.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("work", evt.Work),
			zap.Int("completed", evt.Completed),
			zap.Int("total", evt.Total),
		}
		switch evt.Stage {
		case progress.StageUnitDone:
			s.logger.Debug("unit done", append(fields, zap.String("outcome", evt.Outcome))...)
		case progress.StageJobError:
			s.logger.Warn("job failed", append(fields, zap.Duration("dur", evt.Dur), zap.String("note", evt.Note))...)
		case progress.StageJobDone:
			s.logger.Info("job done", append(fields, zap.Duration("dur", evt.Dur))...)
		default:
			s.logger.Info("job started", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
