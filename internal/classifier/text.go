// Package classifier implements the remote text and image classification
// clients. Classification failures are returned as degraded results, never
// as errors: a broken classifier must not be able to fail a job.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/tradewatch/sentinel/internal/pipeline"
)

// DefaultTimeout bounds a single classification call.
const DefaultTimeout = 30 * time.Second

const maxPromptText = 2000
const maxPromptTitle = 500

// Config holds connection settings for the model server (Ollama-compatible
// /api/generate endpoint).
type Config struct {
	BaseURL     string
	TextModel   string
	VisionModel string
	Timeout     time.Duration
}

const textPrompt = `You are an expert analyst specializing in detecting illegal weapons trade activity online.
Determine whether the post below is weapons related, trade related, and potentially ILLEGAL
(unlicensed sales, ghost guns, no-background-check sales, stolen weapons, trafficking),
as opposed to legal activity (licensed stores, reviews, hunting, sport shooting, collecting).

POST TO ANALYZE:
Title: %s
Source: %s
Content: %s

Respond ONLY with a JSON object:
{
  "is_weapon_related": true/false,
  "is_trade_related": true/false,
  "is_potentially_illegal": true/false,
  "illegality_reason": "explanation if illegal, null otherwise",
  "risk_assessment": "CRITICAL/HIGH/MEDIUM/LOW/NONE",
  "confidence": 0.0-1.0,
  "summary": "brief 1-2 sentence summary",
  "recommendation": "INVESTIGATE/FLAG/MONITOR/IGNORE"
}`

// TextClient calls the text model for weapons-trade classification.
type TextClient struct {
	httpc   *http.Client
	baseURL string
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewTextClient constructs a TextClient.
func NewTextClient(cfg Config, logger *zap.Logger) *TextClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TextClient{
		httpc:   &http.Client{},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.TextModel,
		timeout: timeout,
		logger:  logger,
	}
}

// ClassifyText runs one bounded classification call. All failure modes
// (timeout, transport error, malformed response) come back as a degraded
// marker.
func (c *TextClient) ClassifyText(ctx context.Context, title, text, source string) pipeline.TextClassification {
	prompt := fmt.Sprintf(textPrompt, truncate(title, maxPromptTitle), source, truncate(text, maxPromptText))
	raw, err := generate(ctx, c.httpc, c.baseURL, c.model, prompt, nil, c.timeout)
	if err != nil {
		c.logger.Debug("text classification degraded", zap.Error(err))
		return pipeline.TextClassification{Err: err.Error()}
	}

	var wire struct {
		WeaponRelated      bool    `json:"is_weapon_related"`
		TradeRelated       bool    `json:"is_trade_related"`
		PotentiallyIllegal bool    `json:"is_potentially_illegal"`
		IllegalityReason   string  `json:"illegality_reason"`
		RiskAssessment     string  `json:"risk_assessment"`
		Confidence         float64 `json:"confidence"`
		Summary            string  `json:"summary"`
		Recommendation     string  `json:"recommendation"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		c.logger.Debug("text classification returned malformed JSON", zap.Error(err))
		return pipeline.TextClassification{Err: fmt.Sprintf("malformed response: %v", err)}
	}
	return pipeline.TextClassification{
		WeaponRelated:      wire.WeaponRelated,
		TradeRelated:       wire.TradeRelated,
		PotentiallyIllegal: wire.PotentiallyIllegal,
		IllegalityReason:   wire.IllegalityReason,
		RiskAssessment:     parseAssessment(wire.RiskAssessment),
		Confidence:         wire.Confidence,
		Summary:            wire.Summary,
		Recommendation:     wire.Recommendation,
	}
}

// generate posts a prompt (plus optional base64 images) to /api/generate and
// returns the raw JSON text of the model's response field.
func generate(
	ctx context.Context,
	httpc *http.Client,
	baseURL, model, prompt string,
	images []string,
	timeout time.Duration,
) ([]byte, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("classifier base URL is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}
	if len(images) > 0 {
		payload["images"] = images
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call model: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if strings.TrimSpace(envelope.Response) == "" {
		return nil, fmt.Errorf("empty model response")
	}
	return []byte(envelope.Response), nil
}

func parseAssessment(s string) pipeline.Assessment {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(pipeline.AssessmentCritical):
		return pipeline.AssessmentCritical
	case string(pipeline.AssessmentHigh):
		return pipeline.AssessmentHigh
	case string(pipeline.AssessmentMedium):
		return pipeline.AssessmentMedium
	case string(pipeline.AssessmentLow):
		return pipeline.AssessmentLow
	default:
		return pipeline.AssessmentNone
	}
}

// truncate cuts s to at most limit bytes without splitting a rune, so the
// prompt stays valid UTF-8.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
