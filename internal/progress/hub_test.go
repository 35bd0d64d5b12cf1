package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/tradewatch/sentinel/internal/pipeline"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(TypeStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(TypeStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without sinks.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
		subs:   make(map[string]map[int]chan Event),
	}
	start := time.Now()
	hub.Emit(sampleEvent(TypeStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(TypeStart))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

func TestHubSubscriberReceivesJobEventsInOrder(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{MaxBatchWait: time.Minute})
	defer hub.Close(context.Background())

	jobID := uuid.NewString()
	ch, cancel := hub.Subscribe(jobID)
	defer cancel()

	hub.Emit(Event{Type: TypeStart, JobID: jobID, TS: time.Now(), Status: pipeline.JobStatusCollecting})
	hub.Emit(Event{Type: TypeProgress, JobID: jobID, TS: time.Now(), Progress: pipeline.Progress{Current: 1, Total: 2}})
	// Another job's event must not leak into this subscription.
	hub.Emit(Event{Type: TypeStart, JobID: uuid.NewString(), TS: time.Now()})

	first := <-ch
	require.Equal(t, TypeStart, first.Type)
	second := <-ch
	require.Equal(t, TypeProgress, second.Type)
	require.Equal(t, 1, second.Progress.Current)

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubTerminalEventClosesSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{MaxBatchWait: time.Minute})
	defer hub.Close(context.Background())

	jobID := uuid.NewString()
	ch, cancel := hub.Subscribe(jobID)
	defer cancel()

	hub.Emit(Event{
		Type: TypeComplete, JobID: jobID, TS: time.Now(),
		Status: pipeline.JobStatusCompleted, Summary: &pipeline.Summary{},
	})

	evt, ok := <-ch
	require.True(t, ok)
	require.Equal(t, TypeComplete, evt.Type)
	_, ok = <-ch
	require.False(t, ok)
}

func TestHubSlowSubscriberLosesEventsNotOrder(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{MaxBatchWait: time.Minute, SubscriberBuffer: 1})
	defer hub.Close(context.Background())

	jobID := uuid.NewString()
	ch, cancel := hub.Subscribe(jobID)
	defer cancel()

	for i := 0; i < 5; i++ {
		hub.Emit(Event{
			Type: TypeProgress, JobID: jobID, TS: time.Now(),
			Progress: pipeline.Progress{Current: i + 1, Total: 5},
		})
	}

	// The buffer holds one event; the rest were dropped without blocking.
	evt := <-ch
	require.Equal(t, 1, evt.Progress.Current)
	select {
	case <-ch:
		t.Fatal("expected remaining events to be dropped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubCancelledSubscriptionStopsDelivery(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{MaxBatchWait: time.Minute})
	defer hub.Close(context.Background())

	jobID := uuid.NewString()
	ch, cancel := hub.Subscribe(jobID)
	cancel()

	_, ok := <-ch
	require.False(t, ok)

	// Emitting after cancel must not panic.
	hub.Emit(Event{Type: TypeStart, JobID: jobID, TS: time.Now()})
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(typ Type) Event {
	return Event{
		Type:  typ,
		JobID: uuid.NewString(),
		TS:    time.Now(),
	}
}
