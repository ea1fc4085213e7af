package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openshelf/catalogd/internal/catalog"
)

// JobStore persists ingestion jobs, their sources, and the per-job event
// timeline.
type JobStore struct {
	pool Pool
}

// NewJobStore constructs a store from an existing pool.
func NewJobStore(pool Pool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

const jobColumns = "id, source_id, status, started_at, completed_at, error_message, created_at, updated_at"

// CreateJob inserts a pending job for the source.
func (s *JobStore) CreateJob(ctx context.Context, sourceID string) (catalog.IngestionJob, error) {
	job := catalog.IngestionJob{
		ID:       uuid.NewString(),
		SourceID: sourceID,
		Status:   catalog.JobStatusPending,
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO ingestion_jobs (id, source_id, status)
VALUES ($1, $2, 'pending')
RETURNING created_at, updated_at`,
		job.ID, sourceID)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return catalog.IngestionJob{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob returns the job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (catalog.IngestionJob, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+jobColumns+" FROM ingestion_jobs WHERE id = $1", jobID)
	return scanJob(row)
}

// GetJobStatus returns only the job's status, the cheap cancellation poll.
func (s *JobStore) GetJobStatus(ctx context.Context, jobID string) (catalog.JobStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		"SELECT status FROM ingestion_jobs WHERE id = $1", jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", catalog.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get job status: %w", err)
	}
	return catalog.JobStatus(status), nil
}

// ClaimJob moves a pending job to running. The WHERE clause is the claim:
// zero rows affected means another runner got there first.
func (s *JobStore) ClaimJob(ctx context.Context, jobID string, startedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE ingestion_jobs
SET status = 'running', started_at = $2, updated_at = now()
WHERE id = $1 AND status = 'pending'`,
		jobID, startedAt)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinishJob moves the job to a terminal status.
func (s *JobStore) FinishJob(ctx context.Context, jobID string, status catalog.JobStatus, completedAt time.Time, errorMessage string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE ingestion_jobs
SET status = $2, completed_at = $3, error_message = NULLIF($4, ''), updated_at = now()
WHERE id = $1`,
		jobID, string(status), completedAt, errorMessage)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// FindActiveJob returns the source's pending or running job, if any.
func (s *JobStore) FindActiveJob(ctx context.Context, sourceID string) (catalog.IngestionJob, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+jobColumns+` FROM ingestion_jobs
WHERE source_id = $1 AND status IN ('pending', 'running')
ORDER BY created_at DESC LIMIT 1`, sourceID)
	return scanJob(row)
}

// ListPendingJobIDs returns pending jobs for enabled sources, oldest first.
func (s *JobStore) ListPendingJobIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT j.id
FROM ingestion_jobs j
JOIN sources s ON s.id = j.source_id
WHERE j.status = 'pending' AND s.enabled
ORDER BY j.created_at
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	return ids, nil
}

// GetSource returns the source row by id.
func (s *JobStore) GetSource(ctx context.Context, sourceID string) (catalog.Source, error) {
	var (
		source        catalog.Source
		connectorType *string
	)
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, base_url, connector_type, enabled FROM sources WHERE id = $1",
		sourceID).Scan(&source.ID, &source.Name, &source.BaseURL, &connectorType, &source.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Source{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Source{}, fmt.Errorf("get source: %w", err)
	}
	if connectorType != nil {
		source.ConnectorType = catalog.ConnectorType(*connectorType)
	}
	return source, nil
}

// AppendEvent inserts one timeline event.
func (s *JobStore) AppendEvent(ctx context.Context, event catalog.JobEvent) error {
	var detailJSON any
	if event.Detail != nil {
		encoded, err := json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("marshal event detail: %w", err)
		}
		detailJSON = encoded
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO ingestion_job_events (id, job_id, event_type, message, detail, created_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		event.ID, event.JobID, event.EventType, event.Message, detailJSON, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

// PruneEvents deletes all but the newest keep events for the job.
func (s *JobStore) PruneEvents(ctx context.Context, jobID string, keep int) error {
	_, err := s.pool.Exec(ctx, `
DELETE FROM ingestion_job_events
WHERE job_id = $1 AND id NOT IN (
    SELECT id FROM ingestion_job_events
    WHERE job_id = $1
    ORDER BY created_at DESC
    LIMIT $2
)`, jobID, keep)
	if err != nil {
		return fmt.Errorf("prune job events: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (catalog.IngestionJob, error) {
	var (
		job          catalog.IngestionJob
		status       string
		errorMessage *string
	)
	err := row.Scan(&job.ID, &job.SourceID, &status, &job.StartedAt, &job.CompletedAt,
		&errorMessage, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.IngestionJob{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.IngestionJob{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = catalog.JobStatus(status)
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}
	return job, nil
}
