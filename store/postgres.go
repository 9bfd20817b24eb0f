package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jupark12/deck-viewer/models"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS conversion_jobs (
	id              TEXT PRIMARY KEY,
	source_name     TEXT NOT NULL,
	source_file     TEXT NOT NULL,
	output_file     TEXT NOT NULL,
	page_count      INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	error_message   TEXT NOT NULL DEFAULT '',
	processing_node TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ
)`

const upsertJob = `
INSERT INTO conversion_jobs (
	id, source_name, source_file, output_file, page_count, status,
	error_message, processing_node, created_at, updated_at, started_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
	page_count      = EXCLUDED.page_count,
	status          = EXCLUDED.status,
	error_message   = EXCLUDED.error_message,
	processing_node = EXCLUDED.processing_node,
	updated_at      = EXCLUDED.updated_at,
	started_at      = EXCLUDED.started_at,
	completed_at    = EXCLUDED.completed_at`

const selectJobs = `
SELECT id, source_name, source_file, output_file, page_count, status,
       error_message, processing_node, created_at, updated_at, started_at, completed_at
FROM conversion_jobs
ORDER BY created_at`

// PostgresStore keeps job records in a conversion_jobs table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createJobsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create conversion_jobs table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Save upserts the job record.
func (s *PostgresStore) Save(ctx context.Context, job *models.ConversionJob) error {
	_, err := s.pool.Exec(ctx, upsertJob,
		job.ID, job.SourceName, job.SourceFile, job.OutputFile, job.PageCount, string(job.Status),
		job.ErrorMessage, job.ProcessingNode, job.CreatedAt, job.UpdatedAt,
		nullTime(job.StartedAt), nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// LoadAll returns every job ordered by creation time.
func (s *PostgresStore) LoadAll(ctx context.Context) ([]*models.ConversionJob, error) {
	rows, err := s.pool.Query(ctx, selectJobs)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.ConversionJob, error) {
		var (
			job                  models.ConversionJob
			status               string
			startedAt, completed *time.Time
		)
		if err := row.Scan(
			&job.ID, &job.SourceName, &job.SourceFile, &job.OutputFile, &job.PageCount, &status,
			&job.ErrorMessage, &job.ProcessingNode, &job.CreatedAt, &job.UpdatedAt, &startedAt, &completed,
		); err != nil {
			return nil, err
		}
		job.Status = models.JobStatus(status)
		if startedAt != nil {
			job.StartedAt = *startedAt
		}
		if completed != nil {
			job.CompletedAt = *completed
		}
		return &job, nil
	})
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	return jobs, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
