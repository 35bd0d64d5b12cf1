// Package progress defines the typed event stream emitted by scan jobs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/tradewatch/sentinel/internal/pipeline"
)

// Type denotes the kind of milestone an Event represents.
type Type string

// Supported event types, in the order a job emits them: one start, then any
// mix of phase/post/progress, then exactly one complete or error.
const (
	TypeStart    Type = "start"
	TypePhase    Type = "phase"
	TypePost     Type = "post"
	TypeProgress Type = "progress"
	TypeComplete Type = "complete"
	TypeError    Type = "error"
)

// Terminal reports whether the type ends a job's stream.
func (t Type) Terminal() bool { return t == TypeComplete || t == TypeError }

// Event is one milestone in a scan job's lifecycle. Events for a single job
// are emitted in order by the job's worker goroutine.
type Event struct {
	// Type denotes which milestone occurred.
	Type Type `json:"type"`
	// JobID identifies the emitting job run.
	JobID string `json:"job_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Status carries the job status for start/phase/complete/error events.
	Status pipeline.JobStatus `json:"status,omitempty"`
	// Params carries the requested scan parameters on start events.
	Params *pipeline.JobParams `json:"params,omitempty"`
	// Progress carries current/total counters for progress events; Total is
	// also set on the phase event that fixes it.
	Progress pipeline.Progress `json:"progress"`
	// Item is the analyzed post for post events, nil otherwise.
	Item *pipeline.AnalyzedItem `json:"item,omitempty"`
	// Summary is set on complete events only.
	Summary *pipeline.Summary `json:"summary,omitempty"`
	// Note carries the phase message or error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeStart, TypePhase, TypeProgress:
	case TypePost:
		if e.Item == nil {
			return errors.New("post event requires an item")
		}
	case TypeComplete:
		if e.Summary == nil {
			return errors.New("complete event requires a summary")
		}
	case TypeError:
		if e.Note == "" {
			return errors.New("error event requires a note")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Progress.Current < 0 || e.Progress.Total < 0 {
		return errors.New("progress counters must be >= 0")
	}
	return nil
}
