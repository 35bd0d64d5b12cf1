package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradewatch/sentinel/internal/fusion"
	"github.com/tradewatch/sentinel/internal/pipeline"
	"github.com/tradewatch/sentinel/internal/progress"
	"github.com/tradewatch/sentinel/internal/registry"
	"github.com/tradewatch/sentinel/internal/scorer"
	"github.com/tradewatch/sentinel/internal/storage"
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

// parkedRunner keeps jobs alive until cancelled so handlers can observe a
// running job.
type parkedRunner struct{}

func (parkedRunner) Run(ctx context.Context, job *registry.Handle) {
	job.SetStatus(pipeline.JobStatusCollecting, "collecting items")
	<-ctx.Done()
	job.Finish(pipeline.JobStatusCancelled, "")
}

func newTestServer(t *testing.T, hub *progress.Hub, archive storage.ArchiveRepository, cfg Config) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.Config{
		Runner: parkedRunner{},
		Clock:  fakeClock{},
		IDs:    &seqIDs{},
	})
	sc, err := scorer.New(scorer.DefaultLexicon())
	require.NoError(t, err)
	srv := NewServer(reg, hub, sc, scorer.DefaultLexicon(), fusion.Default(), archive, cfg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, reg
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeJob(t *testing.T, resp *http.Response) pipeline.JobSnapshot {
	t.Helper()
	defer resp.Body.Close()
	var payload struct {
		Job pipeline.JobSnapshot `json:"job"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.Job
}

func TestStartScanValidatesRequest(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil, nil, Config{})

	resp := postJSON(t, ts.URL+"/v1/scans", "{not json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/scans", `{"sources": []}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	require.Contains(t, payload["error"], "sources")
}

func TestScanLifecycleEndpoints(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil, nil, Config{})

	resp := postJSON(t, ts.URL+"/v1/scans", `{"sources": ["guns"], "limit": 5}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	job := decodeJob(t, resp)
	require.NotEmpty(t, job.ID)
	require.Equal(t, pipeline.JobStatusPending, job.Status)
	require.Equal(t, 5, job.Params.Limit)

	resp, err := http.Get(ts.URL + "/v1/scans/" + job.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, job.ID, decodeJob(t, resp).ID)

	resp, err = http.Get(ts.URL + "/v1/scans/current")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, job.ID, decodeJob(t, resp).ID)

	resp, err = http.Get(ts.URL + "/v1/scans")
	require.NoError(t, err)
	var list struct {
		Jobs []pipeline.JobSnapshot `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Jobs, 1)

	resp = postJSON(t, ts.URL+"/v1/scans/"+job.ID+"/cancel", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/v1/scans/" + job.ID)
		require.NoError(t, err)
		return decodeJob(t, resp).Status == pipeline.JobStatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Get(ts.URL + "/v1/scans/current")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestScanNotFound(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil, nil, Config{})

	resp, err := http.Get(ts.URL + "/v1/scans/missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/scans/missing/cancel", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAnalyzeScoresText(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil, nil, Config{})

	resp := postJSON(t, ts.URL+"/v1/analyze", `{"text": "want to buy glock 19, cash only"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		Analysis  pipeline.RiskAnalysis `json:"analysis"`
		RiskLevel pipeline.RiskLevel    `json:"risk_level"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	require.Equal(t, pipeline.RiskHigh, payload.RiskLevel)
	require.True(t, payload.Analysis.WeaponMatch)
	require.NotEmpty(t, payload.Analysis.Flags)

	resp = postJSON(t, ts.URL+"/v1/analyze", `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestKeywordsExposesLexicon(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil, nil, Config{})

	resp, err := http.Get(ts.URL + "/v1/keywords")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		Categories    map[string][]string `json:"categories"`
		DirectWeapons []string            `json:"direct_weapons"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	require.Contains(t, payload.Categories, scorer.CategoryFirearms)
	require.NotEmpty(t, payload.DirectWeapons)
}

type unreachableArchive struct{}

func (unreachableArchive) RecordRunStart(context.Context, string, pipeline.JobParams, time.Time) error {
	return nil
}
func (unreachableArchive) RecordRunFinish(context.Context, string, pipeline.JobStatus, pipeline.Summary, *string, time.Time) error {
	return nil
}
func (unreachableArchive) InsertFlaggedItem(context.Context, string, pipeline.AnalyzedItem) error {
	return nil
}
func (unreachableArchive) GetRun(context.Context, string) (storage.RunRecord, error) {
	return storage.RunRecord{}, storage.ErrNotFound
}
func (unreachableArchive) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil, nil, Config{})
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	down, _ := newTestServer(t, nil, unreachableArchive{}, Config{})
	resp, err = http.Get(down.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil, nil, Config{APIKey: "secret"})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/healthz?api_key=secret")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

// readSSEEvent consumes one "event:"/"data:" pair from the stream.
func readSSEEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestStreamScanRelaysEvents(t *testing.T) {
	t.Parallel()

	hub := progress.NewHub(progress.Config{})
	t.Cleanup(func() { _ = hub.Close(context.Background()) })
	ts, _ := newTestServer(t, hub, nil, Config{})

	resp := postJSON(t, ts.URL+"/v1/scans", `{"sources": ["guns"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	job := decodeJob(t, resp)

	stream, err := http.Get(ts.URL + "/v1/scans/" + job.ID + "/events")
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	reader := bufio.NewReader(stream.Body)

	// The snapshot arrives first; once it has, the subscription is live.
	event, data := readSSEEvent(t, reader)
	require.Equal(t, "snapshot", event)
	var snap pipeline.JobSnapshot
	require.NoError(t, json.Unmarshal([]byte(data), &snap))
	require.Equal(t, job.ID, snap.ID)

	hub.Emit(progress.Event{
		Type:     progress.TypeProgress,
		JobID:    job.ID,
		TS:       time.Now(),
		Progress: pipeline.Progress{Current: 1, Total: 2},
	})
	event, data = readSSEEvent(t, reader)
	require.Equal(t, string(progress.TypeProgress), event)
	var evt progress.Event
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	require.Equal(t, 1, evt.Progress.Current)

	summary := pipeline.Summary{Total: 2}
	hub.Emit(progress.Event{
		Type:    progress.TypeComplete,
		JobID:   job.ID,
		TS:      time.Now(),
		Status:  pipeline.JobStatusCompleted,
		Summary: &summary,
	})
	event, _ = readSSEEvent(t, reader)
	require.Equal(t, string(progress.TypeComplete), event)

	// The terminal event ends the stream.
	_, err = reader.ReadString('\n')
	require.Error(t, err)
}

func TestStreamScanUnknownJob(t *testing.T) {
	t.Parallel()

	hub := progress.NewHub(progress.Config{})
	t.Cleanup(func() { _ = hub.Close(context.Background()) })
	ts, _ := newTestServer(t, hub, nil, Config{})

	resp, err := http.Get(ts.URL + "/v1/scans/missing/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
