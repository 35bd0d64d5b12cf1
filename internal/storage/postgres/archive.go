// Package postgres provides the Postgres-backed archive repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewatch/sentinel/internal/pipeline"
	"github.com/tradewatch/sentinel/internal/storage"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Archive implements storage.ArchiveRepository on Postgres.
type Archive struct {
	pool querier
	sb   sq.StatementBuilderType
}

// NewArchive connects a pool and returns an Archive.
func NewArchive(ctx context.Context, cfg Config) (*Archive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newArchiveWithPool(pool), nil
}

// NewArchiveWithPool constructs an Archive from an existing pool (primarily
// for testing with pgxmock).
func NewArchiveWithPool(pool querier) (*Archive, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newArchiveWithPool(pool), nil
}

func newArchiveWithPool(pool querier) *Archive {
	return &Archive{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Close releases the underlying pool resources.
func (a *Archive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

// Ping verifies connectivity for readiness checks.
func (a *Archive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// RecordRunStart inserts a scan run row in running state.
func (a *Archive) RecordRunStart(ctx context.Context, runID string, params pipeline.JobParams, at time.Time) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	query, args, err := a.sb.
		Insert("scan_runs").
		Columns("id", "params", "status", "started_at").
		Values(runID, paramsJSON, string(pipeline.JobStatusCollecting), at).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build run start insert: %w", err)
	}
	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert scan run: %w", err)
	}
	return nil
}

// RecordRunFinish marks a run terminal with its summary counters.
func (a *Archive) RecordRunFinish(ctx context.Context, runID string, status pipeline.JobStatus, summary pipeline.Summary, errText *string, at time.Time) error {
	query, args, err := a.sb.
		Update("scan_runs").
		Set("status", string(status)).
		Set("finished_at", at).
		Set("error_message", errText).
		Set("total_items", summary.Total).
		Set("high_count", summary.HighCount).
		Set("medium_count", summary.MediumCount).
		Set("low_count", summary.LowCount).
		Set("none_count", summary.NoneCount).
		Where(sq.Eq{"id": runID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run finish update: %w", err)
	}
	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update scan run: %w", err)
	}
	return nil
}

// InsertFlaggedItem archives one flagged item with its fused result.
func (a *Archive) InsertFlaggedItem(ctx context.Context, runID string, item pipeline.AnalyzedItem) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	rulesJSON, err := json.Marshal(item.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	query, args, err := a.sb.
		Insert("flagged_items").
		Columns(
			"item_id", "run_id", "source", "author", "title", "body",
			"media_url", "rules", "final_score", "risk_level",
			"evidence_uri", "posted_at", "analyzed_at",
		).
		Values(
			item.ID, runID, item.Source, item.Author, item.Title, item.Text,
			item.MediaURL, rulesJSON, item.FinalScore, string(item.RiskLevel),
			item.EvidenceURI, item.Posted, item.AnalyzedAt,
		).
		Suffix("ON CONFLICT (item_id, run_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build flagged item insert: %w", err)
	}
	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert flagged item: %w", err)
	}
	return nil
}

// GetRun retrieves one archived run by ID.
func (a *Archive) GetRun(ctx context.Context, runID string) (storage.RunRecord, error) {
	query, args, err := a.sb.
		Select(
			"id", "params", "status", "error_message", "started_at",
			"finished_at", "total_items", "high_count", "medium_count",
			"low_count", "none_count",
		).
		From("scan_runs").
		Where(sq.Eq{"id": runID}).
		ToSql()
	if err != nil {
		return storage.RunRecord{}, fmt.Errorf("build run select: %w", err)
	}

	var (
		rec        storage.RunRecord
		paramsJSON []byte
		status     string
	)
	err = a.pool.QueryRow(ctx, query, args...).Scan(
		&rec.ID,
		&paramsJSON,
		&status,
		&rec.Error,
		&rec.StartedAt,
		&rec.FinishedAt,
		&rec.Summary.Total,
		&rec.Summary.HighCount,
		&rec.Summary.MediumCount,
		&rec.Summary.LowCount,
		&rec.Summary.NoneCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.RunRecord{}, storage.ErrNotFound
		}
		return storage.RunRecord{}, fmt.Errorf("get scan run: %w", err)
	}
	rec.Status = pipeline.JobStatus(status)
	if err := json.Unmarshal(paramsJSON, &rec.Params); err != nil {
		return storage.RunRecord{}, fmt.Errorf("unmarshal params: %w", err)
	}
	return rec, nil
}
