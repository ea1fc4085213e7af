package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/catalogd/internal/catalog"
)

func newJobStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewJobStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCreateJobInsertsPendingRow(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("INSERT INTO ingestion_jobs").
		WithArgs(pgxmock.AnyArg(), "src-1").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	job, err := store.CreateJob(context.Background(), "src-1")
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	require.Equal(t, catalog.JobStatusPending, job.Status)
	require.Equal(t, "src-1", job.SourceID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansOptionalColumns(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	now := time.Unix(1700000000, 0).UTC()
	started := now.Add(time.Minute)

	mock.ExpectQuery("FROM ingestion_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(jobRows().
			AddRow("job-1", "src-1", "running", &started, (*time.Time)(nil), (*string)(nil), now, now))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusRunning, job.Status)
	require.Equal(t, started, *job.StartedAt)
	require.Nil(t, job.CompletedAt)
	require.Empty(t, job.ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobMapsNoRows(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)

	mock.ExpectQuery("FROM ingestion_jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobStatusReturnsStatusOnly(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)

	mock.ExpectQuery("SELECT status FROM ingestion_jobs").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("cancelled"))

	status, err := store.GetJobStatus(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusCancelled, status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJobWinsWhenPending(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	startedAt := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE ingestion_jobs").
		WithArgs("job-1", startedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	claimed, err := store.ClaimJob(context.Background(), "job-1", startedAt)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJobLosesWhenAlreadyClaimed(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	startedAt := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE ingestion_jobs").
		WithArgs("job-1", startedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	claimed, err := store.ClaimJob(context.Background(), "job-1", startedAt)
	require.NoError(t, err)
	require.False(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJobStoresErrorMessage(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	completedAt := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE ingestion_jobs").
		WithArgs("job-1", "failed", completedAt, "source has no connector_type").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.FinishJob(context.Background(), "job-1", catalog.JobStatusFailed, completedAt, "source has no connector_type")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveJobReturnsPendingOrRunning(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("FROM ingestion_jobs").
		WithArgs("src-1").
		WillReturnRows(jobRows().
			AddRow("job-1", "src-1", "pending", (*time.Time)(nil), (*time.Time)(nil), (*string)(nil), now, now))

	job, err := store.FindActiveJob(context.Background(), "src-1")
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, catalog.JobStatusPending, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveJobMapsNoRows(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)

	mock.ExpectQuery("FROM ingestion_jobs").
		WithArgs("src-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindActiveJob(context.Background(), "src-1")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingJobIDsJoinsEnabledSources(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)

	mock.ExpectQuery("JOIN sources s ON").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("job-1").AddRow("job-2"))

	ids, err := store.ListPendingJobIDs(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"job-1", "job-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSourceScansConnectorType(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)

	mock.ExpectQuery("FROM sources WHERE id").
		WithArgs("src-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "base_url", "connector_type", "enabled"}).
			AddRow("src-1", "Project Gutenberg", "https://www.gutenberg.org", strPtr("gutenberg"), true))

	source, err := store.GetSource(context.Background(), "src-1")
	require.NoError(t, err)
	require.Equal(t, catalog.ConnectorGutenberg, source.ConnectorType)
	require.True(t, source.Enabled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSourceAllowsNullConnectorType(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)

	mock.ExpectQuery("FROM sources WHERE id").
		WithArgs("src-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "base_url", "connector_type", "enabled"}).
			AddRow("src-1", "Unconfigured", "https://example.com", (*string)(nil), true))

	source, err := store.GetSource(context.Background(), "src-1")
	require.NoError(t, err)
	require.Empty(t, source.ConnectorType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventMarshalsDetail(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO ingestion_job_events").
		WithArgs("event-1", "job-1", "progress", "Scraped: Moby Dick",
			[]byte(`{"count":1,"last_title":"Moby Dick"}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.AppendEvent(context.Background(), catalog.JobEvent{
		ID:        "event-1",
		JobID:     "job-1",
		EventType: "progress",
		Message:   "Scraped: Moby Dick",
		Detail:    map[string]any{"count": 1, "last_title": "Moby Dick"},
		CreatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventSendsNullForNilDetail(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO ingestion_job_events").
		WithArgs("event-1", "job-1", "started", "Ingestion started", nil, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.AppendEvent(context.Background(), catalog.JobEvent{
		ID:        "event-1",
		JobID:     "job-1",
		EventType: "started",
		Message:   "Ingestion started",
		CreatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPruneEventsKeepsNewest(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)

	mock.ExpectExec("DELETE FROM ingestion_job_events").
		WithArgs("job-1", 500).
		WillReturnResult(pgxmock.NewResult("DELETE", 100))

	err := store.PruneEvents(context.Background(), "job-1", 500)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func jobRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "source_id", "status", "started_at", "completed_at",
		"error_message", "created_at", "updated_at",
	})
}
