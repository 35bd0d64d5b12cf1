// Package fetcher wraps a content source with pacing, retries, and in-run
// deduplication.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tradewatch/sentinel/internal/pipeline"
	"github.com/tradewatch/sentinel/internal/telemetry"
)

// Config controls pacing and the transient-retry budget.
type Config struct {
	// MinInterval is the minimum delay between consecutive source calls.
	MinInterval time.Duration
	// MaxRetries bounds retries per source call for transient errors.
	MaxRetries uint64
	// BaseBackoff seeds the exponential backoff between retries.
	BaseBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 250 * time.Millisecond
	}
	return c
}

// Session is a per-job fetch session. It is created fresh for every run so
// the dedup set and pacing state never leak between jobs. Not safe for
// concurrent use; the job worker is its only caller.
type Session struct {
	src        pipeline.Source
	limiter    *rate.Limiter
	cfg        Config
	seen       map[string]struct{}
	duplicates int
	logger     *zap.Logger
}

// NewSession constructs a Session over the given source.
func NewSession(src pipeline.Source, cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Session{
		src:     src,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		cfg:     cfg,
		seen:    make(map[string]struct{}),
		logger:  logger,
	}
}

// Fetch retrieves up to limit items from one source. Transient failures are
// retried with exponential backoff until the budget is exhausted, at which
// point the error escalates to a fatal one; configuration errors fail
// immediately. Items already seen in this session are silently dropped.
func (s *Session) Fetch(ctx context.Context, source string, limit int) ([]pipeline.RawItem, error) {
	start := time.Now()
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pacing wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveFetchPacingDelay(source, waited)
	}

	var items []pipeline.RawItem
	backoff := retry.NewExponential(s.cfg.BaseBackoff)
	err := retry.Do(ctx, retry.WithMaxRetries(s.cfg.MaxRetries, backoff), func(ctx context.Context) error {
		fetched, err := s.src.Fetch(ctx, source, limit)
		if err != nil {
			if pipeline.IsTransient(err) {
				s.logger.Warn("transient fetch failure, will retry",
					zap.String("source", source), zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		}
		items = fetched
		return nil
	})
	if err != nil {
		if pipeline.IsTransient(err) {
			// Budget exhausted; the caller treats this as fatal.
			return nil, fmt.Errorf("retry budget exhausted for %s: %w", source, err)
		}
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}

	fresh := items[:0]
	for _, item := range items {
		if _, dup := s.seen[item.ID]; dup {
			s.duplicates++
			continue
		}
		s.seen[item.ID] = struct{}{}
		fresh = append(fresh, item)
	}
	return fresh, nil
}

// Duplicates reports how many items were dropped as duplicates in this run.
func (s *Session) Duplicates() int { return s.duplicates }
