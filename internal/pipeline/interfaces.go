package pipeline

import (
	"context"
	"time"
)

// Source fetches up to limit raw items from one platform source (a channel,
// board, or subreddit-style identifier). Implementations surface
// *ConfigurationError for unusable credentials and *TransientError for
// retryable network failures.
type Source interface {
	Fetch(ctx context.Context, source string, limit int) ([]RawItem, error)
}

// TextClassifier analyzes item text for weapons-trade indicators. It must
// never return an error for classification failures; those come back as a
// TextClassification with Err set so the job can treat the stage as skipped.
type TextClassifier interface {
	ClassifyText(ctx context.Context, title, text, source string) TextClassification
}

// ImageClassifier analyzes media bytes for weapons. The same degraded-marker
// contract as TextClassifier applies.
type ImageClassifier interface {
	ClassifyImage(ctx context.Context, image []byte) ImageClassification
}

// EvidenceStore archives media bytes for flagged items and returns a URI.
type EvidenceStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes alert payloads to a topic (Pub/Sub or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
