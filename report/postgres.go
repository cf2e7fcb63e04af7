package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nci/s2cloudless/metrics"
	"github.com/nci/s2cloudless/utils"
)

const schemaSQL = `
create table if not exists s2mask_runs (
	run_id             uuid primary key,
	start_time         timestamptz not null,
	duration_ms        bigint not null,
	config_file        text,
	reflectance_source text not null,
	probability_source text not null,
	params             jsonb not null,
	num_scenes         integer not null,
	num_filtered       integer not null,
	num_unmatched      integer not null,
	num_succeeded      integer not null,
	num_failed         integer not null,
	num_cached         integer not null
);

create table if not exists s2mask_images (
	run_id          uuid not null references s2mask_runs(run_id) on delete cascade,
	position        integer not null,
	index           text not null,
	status          text not null,
	failed_stage    text,
	error           text,
	cloud_pixels    integer not null,
	shadow_pixels   integer not null,
	masked_pixels   integer not null,
	total_pixels    integer not null,
	masked_fraction double precision not null,
	duration_ms     bigint not null,
	primary key (run_id, position)
);
`

// PostgresSink stores run records alongside the scene catalogue.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// WriteRun inserts the run and all its images in one transaction.
func (s *PostgresSink) WriteRun(ctx context.Context, info *metrics.RunInfo) (err error) {
	params, err := json.Marshal(info.Params)
	if err != nil {
		return err
	}
	start, err := time.Parse(utils.ISOFormat, info.StartTime)
	if err != nil {
		return fmt.Errorf("run start time: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`insert into s2mask_runs (run_id, start_time, duration_ms, config_file,
			reflectance_source, probability_source, params, num_scenes, num_filtered,
			num_unmatched, num_succeeded, num_failed, num_cached)
		values ($1, $2, $3, nullif($4,''), $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13)`,
		info.RunID, start, info.Duration.Milliseconds(), info.ConfigFile,
		info.ReflectanceSource, info.ProbabilitySource, string(params),
		info.NumScenes, info.NumFiltered, info.NumUnmatched,
		info.NumSucceeded, info.NumFailed, info.NumCached,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("s2mask_images",
		"run_id", "position", "index", "status", "failed_stage", "error",
		"cloud_pixels", "shadow_pixels", "masked_pixels", "total_pixels",
		"masked_fraction", "duration_ms"))
	if err != nil {
		return err
	}
	for _, row := range NewImageRows(info) {
		_, err = stmt.ExecContext(ctx,
			row.RunID, row.Position, row.Index, row.Status,
			nullString(row.FailedStage), nullString(row.Error),
			row.CloudPixels, row.ShadowPixels, row.MaskedPixels, row.TotalPixels,
			row.MaskedFraction, row.DurationMS)
		if err != nil {
			stmt.Close()
			return fmt.Errorf("copy image %s: %w", row.Index, err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("copy images: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
