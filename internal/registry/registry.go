// Package registry tracks scan jobs through their lifecycle. Jobs live in
// process memory; the registry hands each new job to a runner goroutine and
// is the only place job state is read or written.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradewatch/sentinel/internal/pipeline"
)

const (
	// DefaultLimit applies when a start request omits the item limit.
	DefaultLimit = 25
	// MaxLimit bounds how many items one job may request.
	MaxLimit = 100
	// DefaultRetention keeps terminal jobs visible before the sweeper
	// removes them.
	DefaultRetention = time.Hour
)

// Runner executes one scan job. Implementations must drive the job to a
// terminal state before returning, including on context cancellation.
type Runner interface {
	Run(ctx context.Context, job *Handle)
}

// Registry owns all job state. Reads return snapshots; writes go through a
// job's Handle, whose sole user is the job's worker goroutine.
type Registry struct {
	runner    Runner
	clock     pipeline.Clock
	ids       pipeline.IDGenerator
	retention time.Duration
	logger    *zap.Logger

	mu   sync.RWMutex
	jobs map[string]*jobState
}

type jobState struct {
	snapshot pipeline.JobSnapshot
	cancel   context.CancelFunc
}

// Config carries registry collaborators.
type Config struct {
	Runner    Runner
	Clock     pipeline.Clock
	IDs       pipeline.IDGenerator
	Retention time.Duration
	Logger    *zap.Logger
}

// New constructs a Registry.
func New(cfg Config) *Registry {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		runner:    cfg.Runner,
		clock:     cfg.Clock,
		ids:       cfg.IDs,
		retention: cfg.Retention,
		logger:    logger,
		jobs:      make(map[string]*jobState),
	}
}

// Create validates params, registers a pending job, and starts its worker
// goroutine. The job context derives from the background context, not the
// caller's: an HTTP request ending must not cancel the scan.
func (r *Registry) Create(params pipeline.JobParams) (pipeline.JobSnapshot, error) {
	if err := validate(&params); err != nil {
		return pipeline.JobSnapshot{}, err
	}
	id, err := r.ids.NewID()
	if err != nil {
		return pipeline.JobSnapshot{}, fmt.Errorf("generate job id: %w", err)
	}

	now := r.clock.Now()
	jobCtx, cancel := context.WithCancel(context.Background())
	state := &jobState{
		snapshot: pipeline.JobSnapshot{
			ID:        id,
			Params:    params,
			Status:    pipeline.JobStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
	}

	r.mu.Lock()
	r.jobs[id] = state
	r.mu.Unlock()

	r.logger.Info("scan job created",
		zap.String("job_id", id),
		zap.Strings("sources", params.Sources),
		zap.Int("limit", params.Limit))

	go r.runner.Run(jobCtx, &Handle{registry: r, id: id})
	return snapshotCopy(state.snapshot), nil
}

func validate(params *pipeline.JobParams) error {
	if len(params.Sources) == 0 {
		return &pipeline.ValidationError{Field: "sources", Reason: "at least one source is required"}
	}
	for _, src := range params.Sources {
		if src == "" {
			return &pipeline.ValidationError{Field: "sources", Reason: "source names must be non-empty"}
		}
	}
	if params.Limit < 0 {
		return &pipeline.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if params.Limit == 0 {
		params.Limit = DefaultLimit
	}
	if params.Limit > MaxLimit {
		return &pipeline.ValidationError{Field: "limit", Reason: fmt.Sprintf("must not exceed %d", MaxLimit)}
	}
	return nil
}

// Get returns a snapshot of one job.
func (r *Registry) Get(id string) (pipeline.JobSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.jobs[id]
	if !ok {
		return pipeline.JobSnapshot{}, pipeline.ErrJobNotFound
	}
	return snapshotCopy(state.snapshot), nil
}

// Cancel requests cooperative cancellation. Cancelling a terminal job is a
// no-op; the job stops at its next item boundary.
func (r *Registry) Cancel(id string) error {
	r.mu.RLock()
	state, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return pipeline.ErrJobNotFound
	}
	state.cancel()
	return nil
}

// Current returns the most recently created non-terminal job, if any.
func (r *Registry) Current() (pipeline.JobSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best  *jobState
		found bool
	)
	for _, state := range r.jobs {
		if state.snapshot.Status.Terminal() {
			continue
		}
		if !found || state.snapshot.CreatedAt.After(best.snapshot.CreatedAt) {
			best = state
			found = true
		}
	}
	if !found {
		return pipeline.JobSnapshot{}, false
	}
	return snapshotCopy(best.snapshot), true
}

// List returns snapshots of all tracked jobs, newest first.
func (r *Registry) List() []pipeline.JobSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pipeline.JobSnapshot, 0, len(r.jobs))
	for _, state := range r.jobs {
		out = append(out, snapshotCopy(state.snapshot))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// StartSweeper removes terminal jobs older than the retention window. It
// blocks until ctx is done and is meant to run in its own goroutine.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	cutoff := r.clock.Now().Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, state := range r.jobs {
		if state.snapshot.Status.Terminal() && state.snapshot.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			r.logger.Debug("swept terminal job", zap.String("job_id", id))
		}
	}
}

func snapshotCopy(s pipeline.JobSnapshot) pipeline.JobSnapshot {
	out := s
	out.Posts = append([]pipeline.AnalyzedItem(nil), s.Posts...)
	return out
}
