package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// Connector produces the lazy catalog sequence for one source. FetchCatalog
// returns a single-pass, non-restartable stream; the producer stops when the
// source signals end-of-catalog or the context finishes.
type Connector interface {
	FetchCatalog(ctx context.Context, sourceID string) *RecordStream
	HealthCheck(ctx context.Context) bool
}

// CatalogStore persists canonical authors, works, and editions.
type CatalogStore interface {
	FindAuthorByName(ctx context.Context, name string) (Author, error)
	FindAuthorByAlias(ctx context.Context, name string) (Author, error)
	CreateAuthor(ctx context.Context, name string, aliases []string) (Author, error)

	FindWorkExact(ctx context.Context, title, authorID, language string) (Work, error)
	ListWorksByAuthor(ctx context.Context, authorID, language string, limit int) ([]Work, error)
	CreateWork(ctx context.Context, work Work) (Work, error)
	// RefreshWorkMetadata non-destructively updates title/description/subjects;
	// empty values leave the existing columns untouched.
	RefreshWorkMetadata(ctx context.Context, workID, title, description string, subjects []string) error

	FindEdition(ctx context.Context, workID, sourceID, downloadURL string) (Edition, error)
	CreateEdition(ctx context.Context, edition Edition) (Edition, error)
	UpdateEdition(ctx context.Context, editionID, coverURL string, fileSize *int64, qualityScore float64) error

	LoadWorkComposite(ctx context.Context, workID string) (WorkComposite, error)
}

// JobStore persists ingestion jobs and their event timelines.
type JobStore interface {
	CreateJob(ctx context.Context, sourceID string) (IngestionJob, error)
	GetJob(ctx context.Context, jobID string) (IngestionJob, error)
	GetJobStatus(ctx context.Context, jobID string) (JobStatus, error)
	// ClaimJob atomically moves a pending job to running. It returns false
	// without error when another runner won the claim.
	ClaimJob(ctx context.Context, jobID string, startedAt time.Time) (bool, error)
	FinishJob(ctx context.Context, jobID string, status JobStatus, completedAt time.Time, errorMessage string) error
	// FindActiveJob returns the pending or running job for the source, or
	// ErrNotFound when none exists.
	FindActiveJob(ctx context.Context, sourceID string) (IngestionJob, error)
	// ListPendingJobIDs returns ids of pending jobs whose source is enabled.
	ListPendingJobIDs(ctx context.Context, limit int) ([]string, error)
	GetSource(ctx context.Context, sourceID string) (Source, error)

	AppendEvent(ctx context.Context, event JobEvent) error
	// PruneEvents deletes the oldest events beyond keep for the job.
	PruneEvents(ctx context.Context, jobID string, keep int) error
}

// SearchIndex syncs canonical works into the external full-text index.
type SearchIndex interface {
	IndexWork(ctx context.Context, workID string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
