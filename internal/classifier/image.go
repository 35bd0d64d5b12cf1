package classifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tradewatch/sentinel/internal/pipeline"
)

const visionPrompt = `You are a weapons detection expert. Analyze this image carefully and identify ANY weapons present:
handguns/pistols, rifles, shotguns, knives, explosives, or other dangerous objects.
Avoid common false positives (toy guns, camera gear, tools, umbrellas, game controllers).

Respond ONLY in JSON format:
{
  "contains_weapons": true/false,
  "weapons_detected": [
    {"type": "handgun/rifle/shotgun/knife/explosive/other",
     "description": "detailed description including brand if visible",
     "location": "center/left/right/top/bottom",
     "confidence": 0.0-1.0}
  ],
  "risk_assessment": "HIGH/MEDIUM/LOW",
  "verified_safe": true/false
}`

// ImageClient calls the vision model for weapon detection in media bytes.
type ImageClient struct {
	httpc   *http.Client
	baseURL string
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewImageClient constructs an ImageClient.
func NewImageClient(cfg Config, logger *zap.Logger) *ImageClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ImageClient{
		httpc:   &http.Client{},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.VisionModel,
		timeout: timeout,
		logger:  logger,
	}
}

// ClassifyImage runs one bounded detection call against the vision model.
func (c *ImageClient) ClassifyImage(ctx context.Context, image []byte) pipeline.ImageClassification {
	if len(image) == 0 {
		return pipeline.ImageClassification{Err: "no image bytes"}
	}
	encoded := base64.StdEncoding.EncodeToString(image)
	raw, err := generate(ctx, c.httpc, c.baseURL, c.model, visionPrompt, []string{encoded}, c.timeout)
	if err != nil {
		c.logger.Debug("image classification degraded", zap.Error(err))
		return pipeline.ImageClassification{Err: err.Error()}
	}

	var wire struct {
		ContainsWeapons bool `json:"contains_weapons"`
		WeaponsDetected []struct {
			Type        string  `json:"type"`
			Description string  `json:"description"`
			Location    string  `json:"location"`
			Confidence  float64 `json:"confidence"`
		} `json:"weapons_detected"`
		RiskAssessment string `json:"risk_assessment"`
		VerifiedSafe   bool   `json:"verified_safe"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		c.logger.Debug("image classification returned malformed JSON", zap.Error(err))
		return pipeline.ImageClassification{Err: fmt.Sprintf("malformed response: %v", err)}
	}

	result := pipeline.ImageClassification{
		ContainsWeapons: wire.ContainsWeapons,
		WeaponCount:     len(wire.WeaponsDetected),
		OverallRisk:     strings.ToUpper(strings.TrimSpace(wire.RiskAssessment)),
		VerifiedSafe:    wire.VerifiedSafe && !wire.ContainsWeapons,
	}
	for _, d := range wire.WeaponsDetected {
		result.Detections = append(result.Detections, pipeline.Detection{
			Type:        d.Type,
			Description: d.Description,
			Location:    d.Location,
			Confidence:  d.Confidence,
		})
	}
	return result
}
