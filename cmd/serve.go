package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"

	gcpubsub "cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	alertpubsub "github.com/tradewatch/sentinel/internal/alert/pubsub"
	"github.com/tradewatch/sentinel/internal/api"
	"github.com/tradewatch/sentinel/internal/classifier"
	"github.com/tradewatch/sentinel/internal/clock/system"
	"github.com/tradewatch/sentinel/internal/config"
	evidencegcs "github.com/tradewatch/sentinel/internal/evidence/gcs"
	evidencelocal "github.com/tradewatch/sentinel/internal/evidence/local"
	evidencememory "github.com/tradewatch/sentinel/internal/evidence/memory"
	"github.com/tradewatch/sentinel/internal/fetcher"
	"github.com/tradewatch/sentinel/internal/fusion"
	"github.com/tradewatch/sentinel/internal/id/uuid"
	"github.com/tradewatch/sentinel/internal/logging"
	"github.com/tradewatch/sentinel/internal/pipeline"
	"github.com/tradewatch/sentinel/internal/progress"
	"github.com/tradewatch/sentinel/internal/progress/sinks"
	"github.com/tradewatch/sentinel/internal/registry"
	"github.com/tradewatch/sentinel/internal/scorer"
	"github.com/tradewatch/sentinel/internal/source/board"
	"github.com/tradewatch/sentinel/internal/source/memory"
	"github.com/tradewatch/sentinel/internal/storage"
	storagememory "github.com/tradewatch/sentinel/internal/storage/memory"
	"github.com/tradewatch/sentinel/internal/storage/postgres"
	"github.com/tradewatch/sentinel/internal/worker"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scan API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	lex := scorer.DefaultLexicon()
	if cfg.Scorer.LexiconPath != "" {
		lex, err = scorer.LoadLexicon(cfg.Scorer.LexiconPath)
		if err != nil {
			return err
		}
		logger.Info("lexicon override loaded", zap.String("path", cfg.Scorer.LexiconPath))
	}
	sc, err := scorer.New(lex)
	if err != nil {
		return err
	}

	var source pipeline.Source
	switch cfg.Source.Kind {
	case config.SourceBoard:
		source = board.NewSource(board.Config{
			BaseURL:    cfg.Source.BaseURL,
			UserAgent:  cfg.Source.UserAgent,
			Timeout:    cfg.SourceTimeout(),
			FetchMedia: cfg.Source.FetchMedia,
		}, logger)
	default:
		source = memory.NewSource(cfg.Source.Seed)
	}

	var (
		text  pipeline.TextClassifier
		image pipeline.ImageClassifier
	)
	if cfg.Classifier.Enabled() {
		ccfg := classifier.Config{
			BaseURL:     cfg.Classifier.BaseURL,
			TextModel:   cfg.Classifier.TextModel,
			VisionModel: cfg.Classifier.VisionModel,
			Timeout:     cfg.ClassifierTimeout(),
		}
		text = classifier.NewTextClient(ccfg, logger)
		image = classifier.NewImageClient(ccfg, logger)
		logger.Info("classifiers enabled", zap.String("base_url", cfg.Classifier.BaseURL))
	}

	var evidence pipeline.EvidenceStore
	switch cfg.Evidence.Kind {
	case config.EvidenceGCS:
		client, cerr := gcstorage.NewClient(ctx)
		if cerr != nil {
			return fmt.Errorf("gcs client: %w", cerr)
		}
		defer func() { _ = client.Close() }()
		evidence, err = evidencegcs.New(client, evidencegcs.Config{Bucket: cfg.Evidence.GCSBucket})
		if err != nil {
			return err
		}
	case config.EvidenceLocal:
		evidence, err = evidencelocal.New(evidencelocal.Config{BaseDir: cfg.Evidence.BaseDir})
		if err != nil {
			return err
		}
	default:
		evidence = evidencememory.New()
	}

	var archive storage.ArchiveRepository
	if cfg.DB.DSN != "" {
		pg, perr := postgres.NewArchive(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.ConnLifetime(),
		})
		if perr != nil {
			return fmt.Errorf("archive store: %w", perr)
		}
		defer pg.Close()
		archive = pg
	} else {
		logger.Warn("db.dsn not set, archived runs will not survive restarts")
		archive = storagememory.NewArchive()
	}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	sinkList := []progress.Sink{
		sinks.NewLogSink(logger),
		promSink,
		sinks.NewArchiveSink(archive, logger),
	}
	if cfg.PubSub.ProjectID != "" {
		psClient, perr := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if perr != nil {
			return fmt.Errorf("pubsub client: %w", perr)
		}
		defer func() { _ = psClient.Close() }()
		sinkList = append(sinkList, sinks.NewAlertSink(alertpubsub.New(psClient), cfg.PubSub.TopicName, logger))
	}

	hub := progress.NewHub(progress.Config{Logger: logger}, sinkList...)

	clk := system.New()
	policy := fusion.Default()
	w := worker.New(source, sc, text, image, policy, evidence, hub, clk, worker.Config{
		Fetch: fetcher.Config{
			MinInterval: cfg.MinFetchInterval(),
			MaxRetries:  uint64(cfg.Scan.MaxRetries),
			BaseBackoff: cfg.BackoffInitial(),
		},
		BreakerThreshold: cfg.Classifier.BreakerThreshold,
		EvidencePrefix:   cfg.Scan.EvidencePrefix,
	}, logger)

	reg := registry.New(registry.Config{
		Runner:    w,
		Clock:     clk,
		IDs:       uuid.New(),
		Retention: cfg.Retention(),
		Logger:    logger,
	})

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go reg.StartSweeper(sweepCtx, cfg.SweepInterval())

	apiCfg := api.Config{
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	srv := api.NewServer(reg, hub, sc, lex, policy, archive, apiCfg, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("source", cfg.Source.Kind))
		if serveErr := httpSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case serveErr := <-errCh:
		return fmt.Errorf("http server: %w", serveErr)
	case <-ctx.Done():
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	stopSweeper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("progress hub close incomplete", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
