// Package store provides Postgres-backed persistence for normalized report rows.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/iceout-archive/report-listener/internal/report"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	SourceURL       string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the subset of pgxpool.Pool the store uses, extracted so tests
// can substitute pgxmock.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store writes report rows into the ice_reports / ice_report_details tables.
type Store struct {
	pool      pgxPool
	sourceURL string
	logger    *zap.Logger
}

// Result summarizes one persist call.
type Result struct {
	UpsertedRows int
	GeoRows      int
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, sourceURL: cfg.SourceURL, logger: logger}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, sourceURL string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, sourceURL: sourceURL, logger: logger}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertReportSQL = `
insert into public.ice_reports (
  source_id,
  source_created_at,
  incident_time,
  approved,
  archived,
  report_type,
  location_description,
  source_url,
  lon,
  lat,
  updated_at
) values (
  $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now()
)
on conflict (source_id, source_created_at)
do update set
  incident_time = excluded.incident_time,
  approved = excluded.approved,
  archived = excluded.archived,
  report_type = excluded.report_type,
  location_description = excluded.location_description,
  source_url = excluded.source_url,
  lon = excluded.lon,
  lat = excluded.lat,
  updated_at = now()
`

const upsertDetailSQL = `
insert into public.ice_report_details (
  source_id,
  source_created_at,
  activity_description,
  clothing_description,
  source_link,
  submitted_by,
  num_officials,
  num_vehicles,
  media_count,
  comment_count,
  small_thumbnail,
  activity_tags,
  enforcement_tags,
  category_tags,
  media,
  comments,
  vehicle_reports,
  raw_summary,
  raw_detail,
  ingested_at,
  updated_at
) values (
  $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
  $12::jsonb, $13::jsonb, $14::jsonb, $15::jsonb, $16::jsonb, $17::jsonb,
  $18::jsonb, $19::jsonb, now(), now()
)
on conflict (source_id, source_created_at)
do update set
  activity_description = excluded.activity_description,
  clothing_description = excluded.clothing_description,
  source_link = excluded.source_link,
  submitted_by = excluded.submitted_by,
  num_officials = excluded.num_officials,
  num_vehicles = excluded.num_vehicles,
  media_count = excluded.media_count,
  comment_count = excluded.comment_count,
  small_thumbnail = excluded.small_thumbnail,
  activity_tags = excluded.activity_tags,
  enforcement_tags = excluded.enforcement_tags,
  category_tags = excluded.category_tags,
  media = excluded.media,
  comments = excluded.comments,
  vehicle_reports = excluded.vehicle_reports,
  raw_summary = excluded.raw_summary,
  raw_detail = excluded.raw_detail,
  updated_at = now()
`

// Persist upserts the batch inside a single transaction. Repeated
// observations of the same (source_id, source_created_at) key are
// idempotent, with the latest scrape's values authoritative. Any failure
// rolls the whole batch back.
func (s *Store) Persist(ctx context.Context, rows []report.Row) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	geoRows := 0
	for _, row := range rows {
		if row.HasGeo() {
			geoRows++
		}
		if err := s.upsertRow(ctx, tx, row); err != nil {
			return Result{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit transaction: %w", err)
	}
	return Result{UpsertedRows: len(rows), GeoRows: geoRows}, nil
}

func (s *Store) upsertRow(ctx context.Context, tx pgx.Tx, row report.Row) error {
	if _, err := tx.Exec(ctx, upsertReportSQL,
		row.SourceID,
		row.SourceCreatedAt,
		row.IncidentTime,
		row.Approved,
		row.Archived,
		row.ReportType,
		row.LocationDescription,
		s.sourceURL,
		row.Lon,
		row.Lat,
	); err != nil {
		return fmt.Errorf("upsert report %s: %w", row.SourceID, err)
	}

	lists, err := marshalJSONValues(
		row.ActivityTags, row.EnforcementTags, row.CategoryTags,
		row.Media, row.Comments, row.VehicleReports,
		row.RawSummary, row.RawDetail,
	)
	if err != nil {
		return fmt.Errorf("marshal row %s: %w", row.SourceID, err)
	}

	args := []any{
		row.SourceID,
		row.SourceCreatedAt,
		row.ActivityDescription,
		row.ClothingDescription,
		row.SourceLink,
		row.SubmittedBy,
		row.NumOfficials,
		row.NumVehicles,
		row.MediaCount,
		row.CommentCount,
		row.SmallThumbnail,
	}
	for _, l := range lists {
		args = append(args, l)
	}
	if _, err := tx.Exec(ctx, upsertDetailSQL, args...); err != nil {
		return fmt.Errorf("upsert report detail %s: %w", row.SourceID, err)
	}
	return nil
}

func marshalJSONValues(values ...any) ([][]byte, error) {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
