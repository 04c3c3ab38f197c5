// Package sinks holds the progress.Sink implementations bundled with the
// crawler.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/businessdata-uk/endole-crawler/internal/progress"
)

// LogSink writes progress events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs one event. Task errors log at warn, everything else at info.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	fields := []zap.Field{
		zap.String("run_id", evt.RunID.String()),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.Key != "" {
		fields = append(fields, zap.String("key", evt.Key))
	}
	if evt.Records > 0 {
		fields = append(fields, zap.Int("records", evt.Records))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("took", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}

	if evt.Stage == progress.StageTaskError {
		s.logger.Warn("crawl progress", fields...)
		return nil
	}
	s.logger.Info("crawl progress", fields...)
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
