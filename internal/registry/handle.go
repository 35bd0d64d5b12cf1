package registry

import (
	"github.com/tradewatch/sentinel/internal/pipeline"
)

// Handle is the write side of one job. It is held only by the job's worker
// goroutine; every mutation stamps UpdatedAt and respects the lifecycle
// rules (no transitions out of a terminal status, total fixed once set,
// current monotone).
type Handle struct {
	registry *Registry
	id       string
}

// ID returns the job ID.
func (h *Handle) ID() string { return h.id }

// Params returns the validated scan parameters.
func (h *Handle) Params() pipeline.JobParams {
	snap, _ := h.registry.Get(h.id)
	return snap.Params
}

// Snapshot returns the job's current state.
func (h *Handle) Snapshot() pipeline.JobSnapshot {
	snap, _ := h.registry.Get(h.id)
	return snap
}

func (h *Handle) mutate(fn func(s *pipeline.JobSnapshot)) {
	r := h.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.jobs[h.id]
	if !ok {
		return
	}
	if state.snapshot.Status.Terminal() {
		return
	}
	fn(&state.snapshot)
	state.snapshot.UpdatedAt = r.clock.Now()
}

// SetStatus moves the job to a non-terminal status with an optional phase
// message.
func (h *Handle) SetStatus(status pipeline.JobStatus, phaseMessage string) {
	h.mutate(func(s *pipeline.JobSnapshot) {
		s.Status = status
		s.PhaseMessage = phaseMessage
	})
}

// SetPhaseMessage updates the phase message without changing status.
func (h *Handle) SetPhaseMessage(msg string) {
	h.mutate(func(s *pipeline.JobSnapshot) {
		s.PhaseMessage = msg
	})
}

// FixTotal records the item total at the collecting->analyzing transition.
// The total never changes afterwards.
func (h *Handle) FixTotal(total int) {
	h.mutate(func(s *pipeline.JobSnapshot) {
		if s.Progress.Total == 0 {
			s.Progress.Total = total
		}
	})
}

// RecordItem folds one analyzed item into the job: current advances, the
// summary updates, and flagged items join the visible posts.
func (h *Handle) RecordItem(item pipeline.AnalyzedItem, flagged bool) {
	h.mutate(func(s *pipeline.JobSnapshot) {
		if s.Progress.Current < s.Progress.Total {
			s.Progress.Current++
		}
		s.Summary.Add(item)
		if flagged {
			s.Posts = append(s.Posts, item)
		}
	})
}

// Finish moves the job to a terminal status. errText is recorded for failed
// jobs; the phase message is cleared.
func (h *Handle) Finish(status pipeline.JobStatus, errText string) {
	h.mutate(func(s *pipeline.JobSnapshot) {
		s.Status = status
		s.Error = errText
		s.PhaseMessage = ""
	})
}
