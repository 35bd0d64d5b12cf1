package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tradewatch/sentinel/internal/pipeline"
	"github.com/tradewatch/sentinel/internal/progress"
)

// PrometheusSink exports scan progress metrics via Prometheus. It owns all
// collectors for jobs started/completed/running and per-level post counters.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge

	postsFlagged   *prometheus.CounterVec
	postScores     prometheus.Histogram
	stagesDegraded *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_jobs_started_total",
			Help: "Total scan jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_jobs_completed_total",
			Help: "Total scan jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_jobs_running",
			Help: "Current number of running scan jobs.",
		}),
		postsFlagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_posts_flagged_total",
			Help: "Flagged posts partitioned by source and risk level.",
		}, []string{"source", "level"}),
		postScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_post_final_score",
			Help:    "Fused risk score distribution of flagged posts.",
			Buckets: []float64{0.25, 0.35, 0.45, 0.55, 0.65, 0.75, 0.85, 0.95, 1},
		}),
		stagesDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_classifier_degraded_total",
			Help: "Posts whose classifier stage returned a degraded result.",
		}, []string{"stage"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.postsFlagged,
		s.postScores,
		s.stagesDegraded,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Type {
	case progress.TypeStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.TypePost:
		s.handlePostEvent(evt)
	case progress.TypeComplete:
		s.jobsCompleted.WithLabelValues(string(evt.Status)).Inc()
		if s.tracker.complete(evt.JobID) {
			s.jobsRunning.Dec()
		}
	case progress.TypeError:
		s.jobsCompleted.WithLabelValues(string(pipeline.JobStatusFailed)).Inc()
		if s.tracker.complete(evt.JobID) {
			s.jobsRunning.Dec()
		}
	}
}

func (s *PrometheusSink) handlePostEvent(evt progress.Event) {
	item := evt.Item
	if item == nil {
		return
	}
	source := item.Source
	if source == "" {
		source = "unknown"
	}
	s.postsFlagged.WithLabelValues(source, string(item.RiskLevel)).Inc()
	s.postScores.Observe(item.FinalScore)
	if item.TextResult != nil && item.TextResult.Degraded() {
		s.stagesDegraded.WithLabelValues("text").Inc()
	}
	if item.ImageResult != nil && item.ImageResult.Degraded() {
		s.stagesDegraded.WithLabelValues("image").Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
