package sinks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tradewatch/sentinel/internal/pipeline"
	"github.com/tradewatch/sentinel/internal/progress"
)

// Alert is the payload published for each high-risk post.
type Alert struct {
	JobID       string    `json:"job_id"`
	ItemID      string    `json:"item_id"`
	Source      string    `json:"source"`
	Author      string    `json:"author,omitempty"`
	Title       string    `json:"title,omitempty"`
	FinalScore  float64   `json:"final_score"`
	RiskLevel   string    `json:"risk_level"`
	Flags       []string  `json:"flags,omitempty"`
	EvidenceURI string    `json:"evidence_uri,omitempty"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
}

// AlertSink publishes high-risk post events to an alert topic. Publish
// failures are logged and swallowed; alerting is best effort and must never
// stall the event pipeline.
type AlertSink struct {
	publisher pipeline.Publisher
	topic     string
	logger    *zap.Logger
}

// NewAlertSink constructs an AlertSink for the given topic.
func NewAlertSink(publisher pipeline.Publisher, topic string, logger *zap.Logger) *AlertSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes one alert per HIGH-risk post event in the batch.
func (s *AlertSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Type != progress.TypePost || evt.Item == nil {
			continue
		}
		item := evt.Item
		if item.RiskLevel != pipeline.RiskHigh {
			continue
		}
		alert := Alert{
			JobID:       evt.JobID,
			ItemID:      item.ID,
			Source:      item.Source,
			Author:      item.Author,
			Title:       item.Title,
			FinalScore:  item.FinalScore,
			RiskLevel:   string(item.RiskLevel),
			Flags:       item.Rules.Flags,
			EvidenceURI: item.EvidenceURI,
			AnalyzedAt:  item.AnalyzedAt,
		}
		if _, err := s.publisher.Publish(ctx, s.topic, alert); err != nil {
			s.logger.Warn("alert publish failed",
				zap.String("job_id", evt.JobID),
				zap.String("item_id", item.ID),
				zap.Error(err))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *AlertSink) Close(context.Context) error {
	return nil
}
