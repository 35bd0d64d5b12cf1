package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	alertmem "github.com/tradewatch/sentinel/internal/alert/memory"
	"github.com/tradewatch/sentinel/internal/pipeline"
	"github.com/tradewatch/sentinel/internal/progress"
)

// TestAlertSinkPublishesHighRiskPostsOnly filters by risk level.
func TestAlertSinkPublishesHighRiskPostsOnly(t *testing.T) {
	t.Parallel()

	pub := alertmem.New()
	sink := NewAlertSink(pub, "weapon-alerts", nil)
	jobID := uuid.NewString()
	now := time.Now()

	batch := []progress.Event{
		{JobID: jobID, TS: now, Type: progress.TypeStart},
		{
			JobID: jobID, TS: now, Type: progress.TypePost,
			Item: &pipeline.AnalyzedItem{ID: "low", Source: "guns", FinalScore: 0.3, RiskLevel: pipeline.RiskLow},
		},
		{
			JobID: jobID, TS: now, Type: progress.TypePost,
			Item: &pipeline.AnalyzedItem{
				ID: "high", Source: "guns", FinalScore: 0.92, RiskLevel: pipeline.RiskHigh,
				Rules: pipeline.RiskAnalysis{Flags: []string{"CRITICAL: weapon sale with transaction intent"}},
			},
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "weapon-alerts", msgs[0].Topic)
	alert, ok := msgs[0].Payload.(Alert)
	require.True(t, ok)
	require.Equal(t, "high", alert.ItemID)
	require.Equal(t, jobID, alert.JobID)
	require.NotEmpty(t, alert.Flags)
}

// TestAlertSinkSwallowsPublishFailures never propagates publisher errors.
func TestAlertSinkSwallowsPublishFailures(t *testing.T) {
	t.Parallel()

	sink := NewAlertSink(failingPublisher{}, "weapon-alerts", nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{
			JobID: uuid.NewString(), TS: time.Now(), Type: progress.TypePost,
			Item: &pipeline.AnalyzedItem{ID: "high", RiskLevel: pipeline.RiskHigh},
		},
	})
	require.NoError(t, err)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", context.DeadlineExceeded
}
