// Package storage defines the archive repository used to persist an audit
// trail of scan runs and flagged items. The live registry stays in memory;
// the archive is written off the hot path by a progress sink and survives
// restarts, though running jobs do not.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tradewatch/sentinel/internal/pipeline"
)

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("scan run not found")

// RunRecord is one archived scan run.
type RunRecord struct {
	ID         string
	Params     pipeline.JobParams
	Status     pipeline.JobStatus
	Summary    pipeline.Summary
	Error      *string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// ArchiveRepository persists scan runs and flagged items.
type ArchiveRepository interface {
	// RecordRunStart inserts a run row when a job starts.
	RecordRunStart(ctx context.Context, runID string, params pipeline.JobParams, at time.Time) error
	// RecordRunFinish marks a run terminal with its summary and optional error text.
	RecordRunFinish(ctx context.Context, runID string, status pipeline.JobStatus, summary pipeline.Summary, errText *string, at time.Time) error
	// InsertFlaggedItem archives one item that met the emission floor.
	InsertFlaggedItem(ctx context.Context, runID string, item pipeline.AnalyzedItem) error
	// GetRun returns one archived run or ErrNotFound.
	GetRun(ctx context.Context, runID string) (RunRecord, error)
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
