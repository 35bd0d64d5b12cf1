// Package fusion combines independent per-item risk signals into one final
// classification.
package fusion

import (
	"github.com/tradewatch/sentinel/internal/pipeline"
)

// Policy holds the precedence constants. The precedence order itself is
// fixed; the constants are fields so operators can re-tune thresholds
// without touching the combination logic.
type Policy struct {
	// Level thresholds applied to the final score.
	HighThreshold   float64
	MediumThreshold float64
	LowThreshold    float64

	// Score floors forced by classifier verdicts.
	IllegalFloor  float64
	CriticalFloor float64
	WeaponFloor   float64

	// Multiplier applied when an image is verified safe and no other
	// signal found a weapon.
	SafeDiscount float64
}

// Default returns the standard policy. The low threshold doubles as the
// emission floor: items below it never surface on the event stream.
func Default() Policy {
	return Policy{
		HighThreshold:   0.75,
		MediumThreshold: 0.45,
		LowThreshold:    0.25,
		IllegalFloor:    0.75,
		CriticalFloor:   0.90,
		WeaponFloor:     0.75,
		SafeDiscount:    0.80,
	}
}

// EmissionFloor is the minimum final score for an item to be pushed to
// observers.
func (p Policy) EmissionFloor() float64 { return p.LowThreshold }

// Fuse combines the rule result with optional classifier results. Degraded
// classifier results are ignored, exactly as if the stage was skipped.
// Precedence, first match wins:
//  1. text says potentially illegal: score floored at IllegalFloor
//     (CriticalFloor when the assessment is CRITICAL)
//  2. image contains weapons: score floored at WeaponFloor
//  3. image verified safe and nothing found a weapon: score discounted
//  4. rule score stands
//
// The risk level is always derived from the final score, so it can never
// disagree with the thresholds.
func (p Policy) Fuse(
	rules pipeline.RiskAnalysis,
	text *pipeline.TextClassification,
	image *pipeline.ImageClassification,
) (float64, pipeline.RiskLevel) {
	if text != nil && text.Degraded() {
		text = nil
	}
	if image != nil && image.Degraded() {
		image = nil
	}

	score := rules.Score
	switch {
	case text != nil && text.PotentiallyIllegal:
		floor := p.IllegalFloor
		if text.RiskAssessment == pipeline.AssessmentCritical {
			floor = p.CriticalFloor
		}
		score = max(score, floor)
	case image != nil && image.ContainsWeapons:
		score = max(score, p.WeaponFloor)
	case image != nil && image.VerifiedSafe && !weaponSeen(rules, text):
		score *= p.SafeDiscount
	}

	score = clamp(score)
	return score, p.Level(score)
}

// Level maps a final score to its risk level via the fixed thresholds.
func (p Policy) Level(score float64) pipeline.RiskLevel {
	switch {
	case score >= p.HighThreshold:
		return pipeline.RiskHigh
	case score >= p.MediumThreshold:
		return pipeline.RiskMedium
	case score >= p.LowThreshold:
		return pipeline.RiskLow
	default:
		return pipeline.RiskNone
	}
}

// weaponSeen reports whether any non-image signal found a weapon, which
// blocks the verified-safe discount.
func weaponSeen(rules pipeline.RiskAnalysis, text *pipeline.TextClassification) bool {
	if text != nil && text.WeaponRelated {
		return true
	}
	return rules.WeaponMatch
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
