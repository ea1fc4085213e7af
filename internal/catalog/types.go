// Package catalog defines core types shared across the ingestion subsystems.
package catalog

import (
	"time"
)

// ConnectorType identifies which scraper implementation serves a Source.
type ConnectorType string

// Closed set of connector implementations.
const (
	ConnectorGutenberg      ConnectorType = "gutenberg"
	ConnectorStandardEbooks ConnectorType = "standard_ebooks"
	ConnectorOpenLibrary    ConnectorType = "open_library"
	ConnectorEpubGratis     ConnectorType = "epub_gratis"
	ConnectorEpublibre      ConnectorType = "epublibre"
	ConnectorEpubbooks      ConnectorType = "epubbooks"
)

// ConnectorTypes lists every supported connector type.
func ConnectorTypes() []ConnectorType {
	return []ConnectorType{
		ConnectorGutenberg,
		ConnectorStandardEbooks,
		ConnectorOpenLibrary,
		ConnectorEpubGratis,
		ConnectorEpublibre,
		ConnectorEpubbooks,
	}
}

// SupportedLicenses is the allow-list applied by the pipeline; records whose
// normalized license is not in this set are dropped.
var SupportedLicenses = []string{
	"public-domain",
	"cc0",
	"cc-by",
	"cc-by-sa",
	"cc-by-nc",
	"cc-by-nc-sa",
	"pd",
	"gutenberg",
}

// LicenseSupported reports whether the pipeline accepts the license value.
func LicenseSupported(license string) bool {
	for _, l := range SupportedLicenses {
		if l == license {
			return true
		}
	}
	return false
}

// RawRecord is one catalog entry as discovered by a connector. It is
// ephemeral; only its normalized form reaches storage.
type RawRecord struct {
	SourceID      string
	ExternalID    string
	Title         string
	Authors       []string
	Language      string
	Description   string
	Subjects      []string
	License       string
	DownloadURL   string
	FileSize      *int64
	PublishedDate string
	CoverURL      string
}

// NormalizedRecord has the same shape as RawRecord with values cleaned,
// code-mapped, and truncated to schema limits.
type NormalizedRecord struct {
	SourceID      string
	ExternalID    string
	Title         string
	Authors       []string
	Language      string
	Description   string
	Subjects      []string
	License       string
	DownloadURL   string
	FileSize      *int64
	PublishedDate string
	CoverURL      string
}

// Author is a canonical author row. Never deleted by this subsystem.
type Author struct {
	ID            string
	CanonicalName string
	Aliases       []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Work is a canonical literary work: one row per (title, author, language)
// identity or its fuzzy equivalent.
type Work struct {
	ID              string
	CanonicalTitle  string
	AuthorID        string
	Language        string
	Description     string
	Subjects        []string
	PopularityScore float64
	ViewCount       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Edition is one downloadable instance of a Work from one Source, unique per
// (work_id, source_id, download_url).
type Edition struct {
	ID           string
	WorkID       string
	SourceID     string
	License      string
	DownloadURL  string
	CoverURL     string
	FileSize     *int64
	QualityScore float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Source is external configuration consumed read-only by the ingestion core.
type Source struct {
	ID            string
	Name          string
	BaseURL       string
	ConnectorType ConnectorType
	Enabled       bool
}

// JobStatus represents the lifecycle state of an ingestion job.
type JobStatus string

// Job status values persisted in the job store. Transitions are monotonic:
// pending -> running -> one of the terminal states.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IngestionJob tracks one execution of a full catalog scan for one Source.
type IngestionJob struct {
	ID           string
	SourceID     string
	Status       JobStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobEvent is one append-only entry in a job's event timeline. The store
// retains at most MaxEventsPerJob rows per job, pruning oldest first.
type JobEvent struct {
	ID        string
	JobID     string
	EventType string
	Message   string
	Detail    map[string]any
	CreatedAt time.Time
}

// Event types emitted by the job runner.
const (
	EventStarted   = "started"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventCancelled = "cancelled"
	EventFailed    = "failed"
)

// WorkComposite bundles a work with its author name and editions for search
// indexing.
type WorkComposite struct {
	Work       Work
	AuthorName string
	Editions   []Edition
}

// WorkSearchDocument is the denormalized document pushed to the search index,
// one per Work, keyed by the work id.
type WorkSearchDocument struct {
	ID              string   `json:"id"`
	CanonicalTitle  string   `json:"canonical_title"`
	AuthorName      string   `json:"author_name"`
	AuthorID        string   `json:"author_id"`
	Language        string   `json:"language"`
	Description     string   `json:"description,omitempty"`
	Subjects        []string `json:"subjects"`
	Licenses        []string `json:"licenses"`
	SourceIDs       []string `json:"source_ids"`
	CoverURL        string   `json:"cover_url,omitempty"`
	PopularityScore float64  `json:"popularity_score"`
	UpdatedAt       int64    `json:"updated_at"`
}
