// Package memory provides an in-memory archive repository for development
// and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tradewatch/sentinel/internal/pipeline"
	"github.com/tradewatch/sentinel/internal/storage"
)

// Archive implements storage.ArchiveRepository in process memory.
type Archive struct {
	mu      sync.RWMutex
	runs    map[string]storage.RunRecord
	flagged map[string][]pipeline.AnalyzedItem
}

// NewArchive constructs an empty Archive.
func NewArchive() *Archive {
	return &Archive{
		runs:    make(map[string]storage.RunRecord),
		flagged: make(map[string][]pipeline.AnalyzedItem),
	}
}

// RecordRunStart stores a new run in collecting state.
func (a *Archive) RecordRunStart(_ context.Context, runID string, params pipeline.JobParams, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.runs[runID]; exists {
		return nil
	}
	a.runs[runID] = storage.RunRecord{
		ID:        runID,
		Params:    params,
		Status:    pipeline.JobStatusCollecting,
		StartedAt: at,
	}
	return nil
}

// RecordRunFinish marks a run terminal.
func (a *Archive) RecordRunFinish(_ context.Context, runID string, status pipeline.JobStatus, summary pipeline.Summary, errText *string, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.runs[runID]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Status = status
	rec.Summary = summary
	rec.Error = errText
	finished := at
	rec.FinishedAt = &finished
	a.runs[runID] = rec
	return nil
}

// InsertFlaggedItem appends one flagged item for a run.
func (a *Archive) InsertFlaggedItem(_ context.Context, runID string, item pipeline.AnalyzedItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flagged[runID] = append(a.flagged[runID], item)
	return nil
}

// GetRun fetches one run by ID.
func (a *Archive) GetRun(_ context.Context, runID string) (storage.RunRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.runs[runID]
	if !ok {
		return storage.RunRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

// FlaggedItems returns a copy of the archived items for a run.
func (a *Archive) FlaggedItems(runID string) []pipeline.AnalyzedItem {
	a.mu.RLock()
	defer a.mu.RUnlock()
	items := a.flagged[runID]
	out := make([]pipeline.AnalyzedItem, len(items))
	copy(out, items)
	return out
}

// Ping always succeeds.
func (a *Archive) Ping(context.Context) error { return nil }
