package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openshelf/catalogd/internal/catalog"
)

// CatalogStore persists authors, works, and editions.
type CatalogStore struct {
	pool Pool
}

// NewCatalogStore constructs a store from an existing pool.
func NewCatalogStore(pool Pool) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const authorColumns = "id, canonical_name, aliases, created_at, updated_at"

// FindAuthorByName returns the author whose canonical name matches exactly.
func (s *CatalogStore) FindAuthorByName(ctx context.Context, name string) (catalog.Author, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+authorColumns+" FROM authors WHERE canonical_name = $1 LIMIT 1", name)
	return scanAuthor(row)
}

// FindAuthorByAlias returns the author whose alias list contains the name.
func (s *CatalogStore) FindAuthorByAlias(ctx context.Context, name string) (catalog.Author, error) {
	needle, err := json.Marshal([]string{name})
	if err != nil {
		return catalog.Author{}, fmt.Errorf("marshal alias: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		"SELECT "+authorColumns+" FROM authors WHERE aliases @> $1::jsonb LIMIT 1", needle)
	return scanAuthor(row)
}

// CreateAuthor inserts a new author row. When a concurrent runner creates the
// same name first, the insert is a no-op and the winner's row is returned.
func (s *CatalogStore) CreateAuthor(ctx context.Context, name string, aliases []string) (catalog.Author, error) {
	if aliases == nil {
		aliases = []string{}
	}
	aliasesJSON, err := json.Marshal(aliases)
	if err != nil {
		return catalog.Author{}, fmt.Errorf("marshal aliases: %w", err)
	}
	author := catalog.Author{ID: uuid.NewString(), CanonicalName: name, Aliases: aliases}
	row := s.pool.QueryRow(ctx, `
INSERT INTO authors (id, canonical_name, aliases)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (canonical_name) DO NOTHING
RETURNING created_at, updated_at`,
		author.ID, name, aliasesJSON)
	err = row.Scan(&author.CreatedAt, &author.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.FindAuthorByName(ctx, name)
	}
	if err != nil {
		return catalog.Author{}, fmt.Errorf("insert author: %w", err)
	}
	return author, nil
}

const workColumns = "id, canonical_title, author_id, language, description, subjects, popularity_score, created_at, updated_at"

// FindWorkExact returns the work matching the (title, author, language)
// identity.
func (s *CatalogStore) FindWorkExact(ctx context.Context, title, authorID, language string) (catalog.Work, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+workColumns+" FROM works WHERE canonical_title = $1 AND author_id = $2 AND language = $3 LIMIT 1",
		title, authorID, language)
	return scanWork(row)
}

// ListWorksByAuthor returns up to limit works sharing the author and
// language, the fuzzy-match candidate set.
func (s *CatalogStore) ListWorksByAuthor(ctx context.Context, authorID, language string, limit int) ([]catalog.Work, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+workColumns+" FROM works WHERE author_id = $1 AND language = $2 LIMIT $3",
		authorID, language, limit)
	if err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	defer rows.Close()

	var works []catalog.Work
	for rows.Next() {
		work, err := scanWork(rows)
		if err != nil {
			return nil, err
		}
		works = append(works, work)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	return works, nil
}

// CreateWork inserts a new work row. A concurrent insert of the same
// (title, author, language) identity loses cleanly and the existing row is
// returned.
func (s *CatalogStore) CreateWork(ctx context.Context, work catalog.Work) (catalog.Work, error) {
	if work.Subjects == nil {
		work.Subjects = []string{}
	}
	subjectsJSON, err := json.Marshal(work.Subjects)
	if err != nil {
		return catalog.Work{}, fmt.Errorf("marshal subjects: %w", err)
	}
	work.ID = uuid.NewString()
	row := s.pool.QueryRow(ctx, `
INSERT INTO works (id, canonical_title, author_id, language, description, subjects)
VALUES ($1, $2, $3, $4, $5, $6::jsonb)
ON CONFLICT (canonical_title, author_id, language) DO NOTHING
RETURNING created_at, updated_at`,
		work.ID, work.CanonicalTitle, work.AuthorID, work.Language, work.Description, subjectsJSON)
	err = row.Scan(&work.CreatedAt, &work.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.FindWorkExact(ctx, work.CanonicalTitle, work.AuthorID, work.Language)
	}
	if err != nil {
		return catalog.Work{}, fmt.Errorf("insert work: %w", err)
	}
	return work, nil
}

// RefreshWorkMetadata updates title, description, and subjects without
// clobbering existing values: empty inputs leave the columns untouched.
func (s *CatalogStore) RefreshWorkMetadata(ctx context.Context, workID, title, description string, subjects []string) error {
	var subjectsJSON any
	if len(subjects) > 0 {
		encoded, err := json.Marshal(subjects)
		if err != nil {
			return fmt.Errorf("marshal subjects: %w", err)
		}
		subjectsJSON = encoded
	}
	_, err := s.pool.Exec(ctx, `
UPDATE works
SET canonical_title = COALESCE(NULLIF($2, ''), canonical_title),
    description = COALESCE(NULLIF($3, ''), description),
    subjects = COALESCE($4::jsonb, subjects),
    updated_at = now()
WHERE id = $1`,
		workID, title, description, subjectsJSON)
	if err != nil {
		return fmt.Errorf("refresh work metadata: %w", err)
	}
	return nil
}

const editionColumns = "id, work_id, source_id, license, download_url, cover_url, file_size, quality_score, created_at, updated_at"

// FindEdition returns the edition for the (work, source, download_url) key.
func (s *CatalogStore) FindEdition(ctx context.Context, workID, sourceID, downloadURL string) (catalog.Edition, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+editionColumns+" FROM editions WHERE work_id = $1 AND source_id = $2 AND download_url = $3 LIMIT 1",
		workID, sourceID, downloadURL)
	return scanEdition(row)
}

// CreateEdition inserts a new edition row.
func (s *CatalogStore) CreateEdition(ctx context.Context, edition catalog.Edition) (catalog.Edition, error) {
	edition.ID = uuid.NewString()
	row := s.pool.QueryRow(ctx, `
INSERT INTO editions (id, work_id, source_id, license, download_url, cover_url, file_size, quality_score)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
RETURNING created_at, updated_at`,
		edition.ID, edition.WorkID, edition.SourceID, edition.License,
		edition.DownloadURL, edition.CoverURL, edition.FileSize, edition.QualityScore)
	if err := row.Scan(&edition.CreatedAt, &edition.UpdatedAt); err != nil {
		return catalog.Edition{}, fmt.Errorf("insert edition: %w", err)
	}
	return edition, nil
}

// UpdateEdition refreshes the mutable edition columns. Empty cover and nil
// file size keep the stored values.
func (s *CatalogStore) UpdateEdition(ctx context.Context, editionID, coverURL string, fileSize *int64, qualityScore float64) error {
	_, err := s.pool.Exec(ctx, `
UPDATE editions
SET cover_url = COALESCE(NULLIF($2, ''), cover_url),
    file_size = COALESCE($3, file_size),
    quality_score = $4,
    updated_at = now()
WHERE id = $1`,
		editionID, coverURL, fileSize, qualityScore)
	if err != nil {
		return fmt.Errorf("update edition: %w", err)
	}
	return nil
}

// LoadWorkComposite loads the work, its author name, and its editions for
// search indexing.
func (s *CatalogStore) LoadWorkComposite(ctx context.Context, workID string) (catalog.WorkComposite, error) {
	var composite catalog.WorkComposite
	row := s.pool.QueryRow(ctx, `
SELECT w.id, w.canonical_title, w.author_id, w.language, w.description, w.subjects,
       w.popularity_score, w.created_at, w.updated_at, a.canonical_name
FROM works w
JOIN authors a ON a.id = w.author_id
WHERE w.id = $1`, workID)

	var description *string
	err := row.Scan(
		&composite.Work.ID, &composite.Work.CanonicalTitle, &composite.Work.AuthorID,
		&composite.Work.Language, &description, &composite.Work.Subjects,
		&composite.Work.PopularityScore, &composite.Work.CreatedAt, &composite.Work.UpdatedAt,
		&composite.AuthorName)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.WorkComposite{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.WorkComposite{}, fmt.Errorf("load work: %w", err)
	}
	if description != nil {
		composite.Work.Description = *description
	}

	rows, err := s.pool.Query(ctx,
		"SELECT "+editionColumns+" FROM editions WHERE work_id = $1 ORDER BY created_at", workID)
	if err != nil {
		return catalog.WorkComposite{}, fmt.Errorf("load editions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		edition, err := scanEdition(rows)
		if err != nil {
			return catalog.WorkComposite{}, err
		}
		composite.Editions = append(composite.Editions, edition)
	}
	if err := rows.Err(); err != nil {
		return catalog.WorkComposite{}, fmt.Errorf("load editions: %w", err)
	}
	return composite, nil
}

func scanAuthor(row pgx.Row) (catalog.Author, error) {
	var author catalog.Author
	err := row.Scan(&author.ID, &author.CanonicalName, &author.Aliases, &author.CreatedAt, &author.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Author{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Author{}, fmt.Errorf("scan author: %w", err)
	}
	return author, nil
}

func scanWork(row pgx.Row) (catalog.Work, error) {
	var (
		work        catalog.Work
		description *string
	)
	err := row.Scan(&work.ID, &work.CanonicalTitle, &work.AuthorID, &work.Language,
		&description, &work.Subjects, &work.PopularityScore, &work.CreatedAt, &work.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Work{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Work{}, fmt.Errorf("scan work: %w", err)
	}
	if description != nil {
		work.Description = *description
	}
	return work, nil
}

func scanEdition(row pgx.Row) (catalog.Edition, error) {
	var (
		edition  catalog.Edition
		coverURL *string
	)
	err := row.Scan(&edition.ID, &edition.WorkID, &edition.SourceID, &edition.License,
		&edition.DownloadURL, &coverURL, &edition.FileSize, &edition.QualityScore,
		&edition.CreatedAt, &edition.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Edition{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Edition{}, fmt.Errorf("scan edition: %w", err)
	}
	if coverURL != nil {
		edition.CoverURL = *coverURL
	}
	return edition, nil
}
