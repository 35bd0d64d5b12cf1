package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/tradewatch/sentinel/internal/progress"
)

// LogSink emits structured logs for debugging scan event streams. It is
// useful during development or audits where a durable store is unavailable.
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
			zap.String("job_id", evt.JobID),
			zap.String("type", string(evt.Type)),
			zap.String("status", string(evt.Status)),
			zap.Int("current", evt.Progress.Current),
			zap.Int("total", evt.Progress.Total),
		}
		if evt.Item != nil {
			fields = append(fields,
				zap.String("item_id", evt.Item.ID),
				zap.String("risk_level", string(evt.Item.RiskLevel)),
				zap.Float64("final_score", evt.Item.FinalScore),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("scan event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
