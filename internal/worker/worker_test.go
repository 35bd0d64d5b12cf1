package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradewatch/sentinel/internal/fetcher"
	"github.com/tradewatch/sentinel/internal/fusion"
	"github.com/tradewatch/sentinel/internal/pipeline"
	"github.com/tradewatch/sentinel/internal/progress"
	"github.com/tradewatch/sentinel/internal/registry"
	"github.com/tradewatch/sentinel/internal/scorer"
)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type fakeSource struct {
	mu    sync.Mutex
	items map[string][]pipeline.RawItem
	err   error
	delay time.Duration
}

func (f *fakeSource) Fetch(ctx context.Context, source string, limit int) ([]pipeline.RawItem, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	items := f.items[source]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Event, len(r.events))
	copy(out, r.events)
	return out
}

type scriptedTextClassifier struct {
	result pipeline.TextClassification
	delay  time.Duration
}

func (c *scriptedTextClassifier) ClassifyText(ctx context.Context, _, _, _ string) pipeline.TextClassification {
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return pipeline.TextClassification{Err: ctx.Err().Error()}
		case <-time.After(c.delay):
		}
	}
	return c.result
}

func quickFetch() fetcher.Config {
	return fetcher.Config{MinInterval: time.Millisecond, MaxRetries: 1, BaseBackoff: time.Millisecond}
}

func newTestRegistry(t *testing.T, w *Worker) *registry.Registry {
	t.Helper()
	return registry.New(registry.Config{
		Runner: w,
		Clock:  fakeClock{},
		IDs:    &seqIDs{},
	})
}

func waitTerminal(t *testing.T, reg *registry.Registry, id string) pipeline.JobSnapshot {
	t.Helper()
	var snap pipeline.JobSnapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = reg.Get(id)
		require.NoError(t, err)
		return snap.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return snap
}

func TestRunCompletesAndFlagsRiskyItems(t *testing.T) {
	t.Parallel()

	src := &fakeSource{items: map[string][]pipeline.RawItem{
		"guns": {
			{ID: "risky", Title: "glock 19", Text: "want to buy glock 19, cash only", Source: "guns"},
			{ID: "benign", Title: "boots", Text: "selling my hiking boots, barely used", Source: "guns"},
		},
	}}
	emitter := &recordingEmitter{}
	sc, err := scorer.New(scorer.DefaultLexicon())
	require.NoError(t, err)

	w := New(src, sc, nil, nil, fusion.Default(), nil, emitter, fakeClock{},
		Config{Fetch: quickFetch()}, nil)
	reg := newTestRegistry(t, w)

	created, err := reg.Create(pipeline.JobParams{Sources: []string{"guns"}, Limit: 10})
	require.NoError(t, err)

	snap := waitTerminal(t, reg, created.ID)
	require.Equal(t, pipeline.JobStatusCompleted, snap.Status)
	require.Equal(t, 2, snap.Progress.Total)
	require.Equal(t, 2, snap.Progress.Current)
	require.Equal(t, 2, snap.Summary.Total)
	require.Equal(t, 1, snap.Summary.HighCount)

	// Only the item above the emission floor surfaces as a post.
	require.Len(t, snap.Posts, 1)
	require.Equal(t, "risky", snap.Posts[0].ID)
	require.Equal(t, pipeline.RiskHigh, snap.Posts[0].RiskLevel)
}

func TestRunEmitsOrderedEventStream(t *testing.T) {
	t.Parallel()

	src := &fakeSource{items: map[string][]pipeline.RawItem{
		"guns": {{ID: "p1", Text: "want to buy glock, cash only", Source: "guns"}},
	}}
	emitter := &recordingEmitter{}
	sc, err := scorer.New(scorer.DefaultLexicon())
	require.NoError(t, err)

	w := New(src, sc, nil, nil, fusion.Default(), nil, emitter, fakeClock{},
		Config{Fetch: quickFetch()}, nil)
	reg := newTestRegistry(t, w)

	created, err := reg.Create(pipeline.JobParams{Sources: []string{"guns"}})
	require.NoError(t, err)
	waitTerminal(t, reg, created.ID)

	events := emitter.Events()
	require.GreaterOrEqual(t, len(events), 4)
	require.Equal(t, progress.TypeStart, events[0].Type)
	require.Equal(t, progress.TypePhase, events[1].Type)
	require.Equal(t, 1, events[1].Progress.Total)
	require.Equal(t, progress.TypeComplete, events[len(events)-1].Type)

	// The phase event fixing the total precedes every post event.
	for i, evt := range events {
		if evt.Type == progress.TypePost {
			require.Greater(t, i, 1)
		}
	}
}

func TestRunFailsOnConfigurationError(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: &pipeline.ConfigurationError{Collaborator: "board source", Reason: "no base url"}}
	emitter := &recordingEmitter{}
	sc, err := scorer.New(scorer.DefaultLexicon())
	require.NoError(t, err)

	w := New(src, sc, nil, nil, fusion.Default(), nil, emitter, fakeClock{},
		Config{Fetch: quickFetch()}, nil)
	reg := newTestRegistry(t, w)

	created, err := reg.Create(pipeline.JobParams{Sources: []string{"guns"}})
	require.NoError(t, err)

	snap := waitTerminal(t, reg, created.ID)
	require.Equal(t, pipeline.JobStatusFailed, snap.Status)
	require.Contains(t, snap.Error, "not configured")

	events := emitter.Events()
	require.Equal(t, progress.TypeError, events[len(events)-1].Type)
}

func TestRunCancelStopsAtItemBoundary(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		delay: 50 * time.Millisecond,
		items: map[string][]pipeline.RawItem{
			"a": {{ID: "a1", Text: "x", Source: "a"}},
			"b": {{ID: "b1", Text: "x", Source: "b"}},
		},
	}
	emitter := &recordingEmitter{}
	sc, err := scorer.New(scorer.DefaultLexicon())
	require.NoError(t, err)

	w := New(src, sc, nil, nil, fusion.Default(), nil, emitter, fakeClock{},
		Config{Fetch: quickFetch()}, nil)
	reg := newTestRegistry(t, w)

	created, err := reg.Create(pipeline.JobParams{Sources: []string{"a", "b"}})
	require.NoError(t, err)
	require.NoError(t, reg.Cancel(created.ID))

	snap := waitTerminal(t, reg, created.ID)
	require.Equal(t, pipeline.JobStatusCancelled, snap.Status)

	events := emitter.Events()
	last := events[len(events)-1]
	require.Equal(t, progress.TypeComplete, last.Type)
	require.Equal(t, pipeline.JobStatusCancelled, last.Status)
}

func TestRunDegradedTextClassifierStillCompletes(t *testing.T) {
	t.Parallel()

	items := make([]pipeline.RawItem, 5)
	for i := range items {
		items[i] = pipeline.RawItem{ID: fmt.Sprintf("p%d", i), Text: "want to buy glock, cash only", Source: "guns"}
	}
	src := &fakeSource{items: map[string][]pipeline.RawItem{"guns": items}}
	emitter := &recordingEmitter{}
	sc, err := scorer.New(scorer.DefaultLexicon())
	require.NoError(t, err)

	text := &scriptedTextClassifier{result: pipeline.TextClassification{Err: "model timeout"}}
	w := New(src, sc, text, nil, fusion.Default(), nil, emitter, fakeClock{},
		Config{Fetch: quickFetch(), BreakerThreshold: 3}, nil)
	reg := newTestRegistry(t, w)

	created, err := reg.Create(pipeline.JobParams{
		Sources: []string{"guns"}, Limit: 10, UseTextClassifier: true,
	})
	require.NoError(t, err)

	snap := waitTerminal(t, reg, created.ID)
	require.Equal(t, pipeline.JobStatusCompleted, snap.Status)
	require.Equal(t, 5, snap.Summary.Total)
	// Breaker opens after three consecutive failures; only those three carry
	// degraded markers.
	require.Equal(t, 3, snap.Summary.TextDegraded)

	var sawTrip bool
	for _, evt := range emitter.Events() {
		if evt.Type == progress.TypePhase && evt.Note == "text classifier disabled after repeated failures" {
			sawTrip = true
		}
	}
	require.True(t, sawTrip)
}

func TestRunArchivesEvidenceForHighRiskMedia(t *testing.T) {
	t.Parallel()

	src := &fakeSource{items: map[string][]pipeline.RawItem{
		"guns": {{
			ID: "p1", Text: "want to buy glock, cash only", Source: "guns",
			MediaURL: "http://example.invalid/p1.jpg", Media: []byte{0xFF, 0xD8},
		}},
	}}
	emitter := &recordingEmitter{}
	sc, err := scorer.New(scorer.DefaultLexicon())
	require.NoError(t, err)
	store := &capturingEvidence{}

	w := New(src, sc, nil, nil, fusion.Default(), store, emitter, fakeClock{},
		Config{Fetch: quickFetch()}, nil)
	reg := newTestRegistry(t, w)

	created, err := reg.Create(pipeline.JobParams{Sources: []string{"guns"}})
	require.NoError(t, err)

	snap := waitTerminal(t, reg, created.ID)
	require.Equal(t, pipeline.JobStatusCompleted, snap.Status)
	require.Len(t, snap.Posts, 1)
	require.NotEmpty(t, snap.Posts[0].EvidenceURI)
	require.Equal(t, 1, store.count())
}

type capturingEvidence struct {
	mu   sync.Mutex
	puts int
}

func (c *capturingEvidence) Put(_ context.Context, path string, _ string, _ []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	return "memory://" + path, nil
}

func (c *capturingEvidence) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}
