// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"time"
)

// JobStatus represents the lifecycle state of a scan job.
type JobStatus string

// Job status values held by the registry.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusCollecting JobStatus = "collecting"
	JobStatusAnalyzing  JobStatus = "analyzing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// RiskLevel classifies an analyzed item.
type RiskLevel string

// Risk levels in ascending severity.
const (
	RiskNone   RiskLevel = "NONE"
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Assessment is the risk vocabulary returned by the text classifier. It is a
// superset of RiskLevel: the classifier may answer CRITICAL, which fusion
// maps back into the HIGH band.
type Assessment string

// Text classifier assessments.
const (
	AssessmentNone     Assessment = "NONE"
	AssessmentLow      Assessment = "LOW"
	AssessmentMedium   Assessment = "MEDIUM"
	AssessmentHigh     Assessment = "HIGH"
	AssessmentCritical Assessment = "CRITICAL"
)

// JobParams captures per-scan configuration requested by the client.
type JobParams struct {
	Sources           []string `json:"sources"`
	Limit             int      `json:"limit"`
	UseTextClassifier bool     `json:"use_text_classifier"`
	UseImageClassifier bool    `json:"use_image_classifier"`
}

// Progress tracks item throughput for a running job. Total is zero until
// collection finishes, after which it never changes; Current never exceeds
// Total and never decreases.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// RawItem is one fetched unit before analysis. It never leaves the worker.
type RawItem struct {
	ID       string
	Title    string
	Text     string
	MediaURL string
	Media    []byte
	Source   string
	Author   string
	Posted   time.Time
}

// RiskAnalysis is the deterministic rule-based result, reproducible from the
// item text alone.
type RiskAnalysis struct {
	Score           float64  `json:"score"`
	Confidence      float64  `json:"confidence"`
	Flags           []string `json:"flags,omitempty"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
	// WeaponMatch is true when a weapon-class (firearm/explosive) keyword
	// matched; fusion uses it to veto the verified-safe discount.
	WeaponMatch bool `json:"weapon_match"`
}

// TextClassification is the structured answer from the text classifier.
// Err is set on timeout or malformed responses; a non-empty Err means every
// other field is meaningless and the stage counts as skipped.
type TextClassification struct {
	WeaponRelated      bool       `json:"weapon_related"`
	TradeRelated       bool       `json:"trade_related"`
	PotentiallyIllegal bool       `json:"potentially_illegal"`
	IllegalityReason   string     `json:"illegality_reason,omitempty"`
	RiskAssessment     Assessment `json:"risk_assessment"`
	Confidence         float64    `json:"confidence"`
	Summary            string     `json:"summary,omitempty"`
	Recommendation     string     `json:"recommendation,omitempty"`
	Err                string     `json:"error,omitempty"`
}

// Degraded reports whether the classification carries an error marker.
func (c TextClassification) Degraded() bool { return c.Err != "" }

// Detection describes one weapon found in an image.
type Detection struct {
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Location    string  `json:"location,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// ImageClassification is the structured answer from the image classifier.
// The same Err convention as TextClassification applies.
type ImageClassification struct {
	ContainsWeapons bool        `json:"contains_weapons"`
	WeaponCount     int         `json:"weapon_count"`
	Detections      []Detection `json:"detections,omitempty"`
	OverallRisk     string      `json:"overall_risk,omitempty"`
	VerifiedSafe    bool        `json:"verified_safe"`
	Err             string      `json:"error,omitempty"`
}

// Degraded reports whether the classification carries an error marker.
func (c ImageClassification) Degraded() bool { return c.Err != "" }

// AnalyzedItem is a fully processed item. Text and Image are nil when the
// corresponding stage was skipped or degraded; RiskLevel is always derived
// from FinalScore by the fusion thresholds, never set independently.
type AnalyzedItem struct {
	ID         string               `json:"id"`
	Title      string               `json:"title,omitempty"`
	Text       string               `json:"text"`
	MediaURL   string               `json:"media_url,omitempty"`
	Source     string               `json:"source"`
	Author     string               `json:"author,omitempty"`
	Posted     time.Time            `json:"posted_at,omitempty"`
	Rules      RiskAnalysis         `json:"rules"`
	TextResult *TextClassification  `json:"text_result,omitempty"`
	ImageResult *ImageClassification `json:"image_result,omitempty"`
	FinalScore float64              `json:"final_score"`
	RiskLevel  RiskLevel            `json:"risk_level"`
	AnalyzedAt time.Time            `json:"analyzed_at"`
	EvidenceURI string              `json:"evidence_uri,omitempty"`
}

// Summary aggregates a finished job for the complete event and snapshots.
type Summary struct {
	Total         int `json:"total"`
	HighCount     int `json:"high_count"`
	MediumCount   int `json:"medium_count"`
	LowCount      int `json:"low_count"`
	NoneCount     int `json:"none_count"`
	TextDegraded  int `json:"text_degraded"`
	ImageDegraded int `json:"image_degraded"`
}

// Add folds one analyzed item into the summary.
func (s *Summary) Add(item AnalyzedItem) {
	s.Total++
	switch item.RiskLevel {
	case RiskHigh:
		s.HighCount++
	case RiskMedium:
		s.MediumCount++
	case RiskLow:
		s.LowCount++
	default:
		s.NoneCount++
	}
	if item.TextResult != nil && item.TextResult.Degraded() {
		s.TextDegraded++
	}
	if item.ImageResult != nil && item.ImageResult.Degraded() {
		s.ImageDegraded++
	}
}

// JobSnapshot is an immutable point-in-time copy of a job, safe to hand to
// concurrent observers.
type JobSnapshot struct {
	ID           string         `json:"id"`
	Params       JobParams      `json:"params"`
	Status       JobStatus      `json:"status"`
	Progress     Progress       `json:"progress"`
	PhaseMessage string         `json:"phase_message,omitempty"`
	Posts        []AnalyzedItem `json:"posts"`
	Summary      Summary        `json:"summary"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
