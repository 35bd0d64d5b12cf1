// Package worker executes scan jobs: collect, score, classify, fuse, emit.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tradewatch/sentinel/internal/classifier"
	"github.com/tradewatch/sentinel/internal/fetcher"
	"github.com/tradewatch/sentinel/internal/fusion"
	"github.com/tradewatch/sentinel/internal/pipeline"
	"github.com/tradewatch/sentinel/internal/progress"
	"github.com/tradewatch/sentinel/internal/registry"
	"github.com/tradewatch/sentinel/internal/scorer"
	"github.com/tradewatch/sentinel/internal/telemetry"
)

// Config controls Worker behavior.
type Config struct {
	Fetch            fetcher.Config
	BreakerThreshold int
	EvidencePrefix   string
}

// Worker drives one scan job per Run call. The registry spawns a goroutine
// per job; within that goroutine the worker is the job's sole mutator.
type Worker struct {
	source   pipeline.Source
	scorer   *scorer.Scorer
	text     pipeline.TextClassifier
	image    pipeline.ImageClassifier
	policy   fusion.Policy
	evidence pipeline.EvidenceStore
	emitter  progress.Emitter
	clock    pipeline.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. The text/image classifiers and evidence store may
// be nil; the corresponding stages are then skipped.
func New(
	source pipeline.Source,
	sc *scorer.Scorer,
	text pipeline.TextClassifier,
	image pipeline.ImageClassifier,
	policy fusion.Policy,
	evidence pipeline.EvidenceStore,
	emitter progress.Emitter,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = classifier.DefaultBreakerThreshold
	}
	return &Worker{
		source:   source,
		scorer:   sc,
		text:     text,
		image:    image,
		policy:   policy,
		evidence: evidence,
		emitter:  emitter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes the job to a terminal state. Cancellation is honored at item
// boundaries; classifier failures degrade the job but never fail it.
func (w *Worker) Run(ctx context.Context, job *registry.Handle) {
	telemetry.JobStarted()
	defer telemetry.JobStopped()

	params := job.Params()
	logger := w.logger.With(zap.String("job_id", job.ID()))

	job.SetStatus(pipeline.JobStatusCollecting, "collecting items")
	w.emit(progress.Event{
		Type:   progress.TypeStart,
		JobID:  job.ID(),
		Status: pipeline.JobStatusCollecting,
		Params: &params,
	})

	items, err := w.collect(ctx, params, logger)
	if err != nil {
		if ctx.Err() != nil {
			w.finishCancelled(job, logger)
			return
		}
		w.finishFailed(job, err, logger)
		return
	}

	// The total is fixed here and never changes for the rest of the run.
	job.FixTotal(len(items))
	job.SetStatus(pipeline.JobStatusAnalyzing, "analyzing items")
	w.emit(progress.Event{
		Type:     progress.TypePhase,
		JobID:    job.ID(),
		Status:   pipeline.JobStatusAnalyzing,
		Progress: pipeline.Progress{Total: len(items)},
		Note:     "analyzing items",
	})

	textBreaker := classifier.NewBreaker(w.cfg.BreakerThreshold)
	imageBreaker := classifier.NewBreaker(w.cfg.BreakerThreshold)

	for _, raw := range items {
		if ctx.Err() != nil {
			w.finishCancelled(job, logger)
			return
		}
		analyzed := w.analyze(ctx, job, raw, params, textBreaker, imageBreaker)

		flagged := analyzed.FinalScore >= w.policy.EmissionFloor()
		job.RecordItem(analyzed, flagged)
		telemetry.IncItemAnalyzed(string(analyzed.RiskLevel))

		if flagged {
			item := analyzed
			w.emit(progress.Event{
				Type:  progress.TypePost,
				JobID: job.ID(),
				Item:  &item,
			})
		}
		snap := job.Snapshot()
		w.emit(progress.Event{
			Type:     progress.TypeProgress,
			JobID:    job.ID(),
			Progress: snap.Progress,
		})
	}

	if ctx.Err() != nil {
		w.finishCancelled(job, logger)
		return
	}

	job.Finish(pipeline.JobStatusCompleted, "")
	snap := job.Snapshot()
	summary := snap.Summary
	w.emit(progress.Event{
		Type:    progress.TypeComplete,
		JobID:   job.ID(),
		Status:  pipeline.JobStatusCompleted,
		Summary: &summary,
	})
	telemetry.IncJobFinished(string(pipeline.JobStatusCompleted))
	logger.Info("scan job completed",
		zap.Int("total", summary.Total),
		zap.Int("high", summary.HighCount))
}

func (w *Worker) collect(ctx context.Context, params pipeline.JobParams, logger *zap.Logger) ([]pipeline.RawItem, error) {
	session := fetcher.NewSession(w.source, w.cfg.Fetch, logger)
	var items []pipeline.RawItem
	for _, source := range params.Sources {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fetched, err := session.Fetch(ctx, source, params.Limit)
		if err != nil {
			return nil, fmt.Errorf("collect from %s: %w", source, err)
		}
		items = append(items, fetched...)
	}
	return items, nil
}

func (w *Worker) analyze(
	ctx context.Context,
	job *registry.Handle,
	raw pipeline.RawItem,
	params pipeline.JobParams,
	textBreaker, imageBreaker *classifier.Breaker,
) pipeline.AnalyzedItem {
	rules := w.scorer.Score(raw.Title + " " + raw.Text)

	var (
		textResult  *pipeline.TextClassification
		imageResult *pipeline.ImageClassification
	)

	runText := params.UseTextClassifier && w.text != nil && textBreaker.Allow()
	runImage := params.UseImageClassifier && w.image != nil && len(raw.Media) > 0 && imageBreaker.Allow()

	if runText || runImage {
		g, gctx := errgroup.WithContext(ctx)
		if runText {
			g.Go(func() error {
				start := time.Now()
				res := w.text.ClassifyText(gctx, raw.Title, raw.Text, raw.Source)
				telemetry.ObserveClassifierCall("text", outcome(res.Degraded()), time.Since(start))
				textResult = &res
				return nil
			})
		}
		if runImage {
			g.Go(func() error {
				start := time.Now()
				res := w.image.ClassifyImage(gctx, raw.Media)
				telemetry.ObserveClassifierCall("image", outcome(res.Degraded()), time.Since(start))
				imageResult = &res
				return nil
			})
		}
		_ = g.Wait()
	}

	if runText && textResult != nil {
		if textBreaker.Record(!textResult.Degraded()) {
			w.noteBreakerTrip(job, "text")
		}
	}
	if runImage && imageResult != nil {
		if imageBreaker.Record(!imageResult.Degraded()) {
			w.noteBreakerTrip(job, "image")
		}
	}

	score, level := w.policy.Fuse(rules, textResult, imageResult)

	analyzed := pipeline.AnalyzedItem{
		ID:          raw.ID,
		Title:       raw.Title,
		Text:        raw.Text,
		MediaURL:    raw.MediaURL,
		Source:      raw.Source,
		Author:      raw.Author,
		Posted:      raw.Posted,
		Rules:       rules,
		TextResult:  textResult,
		ImageResult: imageResult,
		FinalScore:  score,
		RiskLevel:   level,
		AnalyzedAt:  w.clock.Now(),
	}

	if level == pipeline.RiskHigh && len(raw.Media) > 0 && w.evidence != nil {
		analyzed.EvidenceURI = w.archiveEvidence(ctx, job.ID(), raw)
	}
	return analyzed
}

// archiveEvidence is best effort; a storage failure never affects the item.
func (w *Worker) archiveEvidence(ctx context.Context, jobID string, raw pipeline.RawItem) string {
	path := fmt.Sprintf("%s/%s.jpg", jobID, raw.ID)
	if w.cfg.EvidencePrefix != "" {
		path = fmt.Sprintf("%s/%s", w.cfg.EvidencePrefix, path)
	}
	uri, err := w.evidence.Put(ctx, path, "image/jpeg", raw.Media)
	if err != nil {
		w.logger.Warn("evidence archive failed",
			zap.String("job_id", jobID),
			zap.String("item_id", raw.ID),
			zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) noteBreakerTrip(job *registry.Handle, stage string) {
	msg := fmt.Sprintf("%s classifier disabled after repeated failures", stage)
	job.SetPhaseMessage(msg)
	w.emit(progress.Event{
		Type:   progress.TypePhase,
		JobID:  job.ID(),
		Status: pipeline.JobStatusAnalyzing,
		Note:   msg,
	})
	w.logger.Warn("classifier circuit opened",
		zap.String("job_id", job.ID()),
		zap.String("stage", stage))
}

func (w *Worker) finishCancelled(job *registry.Handle, logger *zap.Logger) {
	job.Finish(pipeline.JobStatusCancelled, "")
	snap := job.Snapshot()
	summary := snap.Summary
	w.emit(progress.Event{
		Type:    progress.TypeComplete,
		JobID:   job.ID(),
		Status:  pipeline.JobStatusCancelled,
		Summary: &summary,
	})
	telemetry.IncJobFinished(string(pipeline.JobStatusCancelled))
	logger.Info("scan job cancelled", zap.Int("analyzed", summary.Total))
}

func (w *Worker) finishFailed(job *registry.Handle, err error, logger *zap.Logger) {
	job.Finish(pipeline.JobStatusFailed, err.Error())
	w.emit(progress.Event{
		Type:   progress.TypeError,
		JobID:  job.ID(),
		Status: pipeline.JobStatusFailed,
		Note:   err.Error(),
	})
	telemetry.IncJobFinished(string(pipeline.JobStatusFailed))
	logger.Error("scan job failed", zap.Error(err))
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	evt.TS = w.clock.Now()
	w.emitter.Emit(evt)
}

func outcome(degraded bool) string {
	if degraded {
		return "degraded"
	}
	return "ok"
}
