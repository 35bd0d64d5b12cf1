package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tradewatch/sentinel/internal/pipeline"
	"github.com/tradewatch/sentinel/internal/progress"
	"github.com/tradewatch/sentinel/internal/storage"
)

// ArchiveSink persists the scan audit trail via a storage.ArchiveRepository.
// Run rows are written on start and terminal events; flagged posts are
// archived as they arrive.
type ArchiveSink struct {
	repo   storage.ArchiveRepository
	logger *zap.Logger
}

// NewArchiveSink constructs an ArchiveSink for the provided repository.
func NewArchiveSink(repo storage.ArchiveRepository, logger *zap.Logger) *ArchiveSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSink{repo: repo, logger: logger}
}

// Consume forwards events to the repository. It respects ctx deadlines and
// returns repository errors verbatim so the hub can log them.
func (s *ArchiveSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		switch evt.Type {
		case progress.TypeStart:
			var params pipeline.JobParams
			if evt.Params != nil {
				params = *evt.Params
			}
			if err := s.repo.RecordRunStart(ctx, evt.JobID, params, evt.TS); err != nil {
				return fmt.Errorf("record run start: %w", err)
			}
		case progress.TypePost:
			if evt.Item == nil {
				continue
			}
			if err := s.repo.InsertFlaggedItem(ctx, evt.JobID, *evt.Item); err != nil {
				return fmt.Errorf("insert flagged item: %w", err)
			}
		case progress.TypeComplete:
			summary := evt.Summary
			if summary == nil {
				continue
			}
			if err := s.repo.RecordRunFinish(ctx, evt.JobID, evt.Status, *summary, nil, evt.TS); err != nil {
				return fmt.Errorf("record run finish: %w", err)
			}
		case progress.TypeError:
			note := evt.Note
			var errText *string
			if note != "" {
				errText = &note
			}
			var summary pipeline.Summary
			if evt.Summary != nil {
				summary = *evt.Summary
			}
			if err := s.repo.RecordRunFinish(ctx, evt.JobID, evt.Status, summary, errText, evt.TS); err != nil {
				return fmt.Errorf("record run failure: %w", err)
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *ArchiveSink) Close(context.Context) error {
	return nil
}
