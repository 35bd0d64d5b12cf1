package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tradewatch/sentinel/internal/pipeline"
)

type startScanRequest struct {
	Sources            []string `json:"sources"`
	Limit              int      `json:"limit"`
	UseTextClassifier  bool     `json:"use_text_classifier"`
	UseImageClassifier bool     `json:"use_image_classifier"`
}

// startScan handles POST /v1/scans. It returns 202 with the pending job
// snapshot, 400 for invalid parameters, or 500 when job creation fails.
func (s *Server) startScan(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	snap, err := s.registry.Create(pipeline.JobParams{
		Sources:            req.Sources,
		Limit:              req.Limit,
		UseTextClassifier:  req.UseTextClassifier,
		UseImageClassifier: req.UseImageClassifier,
	})
	if err != nil {
		var ve *pipeline.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
			return
		}
		s.logger.Error("scan create failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create scan")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": snap})
}

// listScans handles GET /v1/scans and returns all tracked jobs newest first.
func (s *Server) listScans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.registry.List()})
}

// currentScan handles GET /v1/scans/current. It returns the most recently
// created non-terminal job or 404 when nothing is running.
func (s *Server) currentScan(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.registry.Current()
	if !ok {
		writeError(w, http.StatusNotFound, "no scan running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": snap})
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Get(chi.URLParam(r, "scan_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": snap})
}

// cancelScan handles POST /v1/scans/{scan_id}/cancel. Cancellation is
// cooperative: 202 means the job will stop at its next item boundary.
func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scan_id")
	if err := s.registry.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	snap, err := s.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": snap})
}

type analyzeRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// analyzeText handles POST /v1/analyze: synchronous rules-only scoring of a
// single text, without classifiers or job machinery.
func (s *Server) analyzeText(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	text := strings.TrimSpace(req.Title + " " + req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	rules := s.scorer.Score(text)
	writeJSON(w, http.StatusOK, map[string]any{
		"analysis":   rules,
		"risk_level": s.policy.Level(rules.Score),
	})
}

// keywords handles GET /v1/keywords and exposes the active lexicon.
func (s *Server) keywords(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"categories":        s.lexicon.Categories,
		"direct_weapons":    s.lexicon.DirectWeapons,
		"transaction_terms": s.lexicon.TransactionTerms,
	})
}

// streamScan handles GET /v1/scans/{scan_id}/events. It sends one snapshot
// SSE event, then relays live job events until the job reaches a terminal
// state or the client disconnects. Slow clients lose events, never stall
// the job.
func (s *Server) streamScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scan_id")
	if _, err := s.registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events, cancel := s.hub.Subscribe(id)
	defer cancel()

	// Snapshot read after subscribing so no event between the two is lost.
	snap, err := s.registry.Get(id)
	if err != nil {
		return
	}
	writeSSE(w, "snapshot", snap)
	flusher.Flush()
	if snap.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-events:
			if !open {
				return
			}
			writeSSE(w, string(evt.Type), evt)
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
