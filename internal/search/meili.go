// Package search syncs canonical works into a Meilisearch index.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meilisearch/meilisearch-go"

	"github.com/openshelf/catalogd/internal/catalog"
)

// Config holds Meilisearch connection settings.
type Config struct {
	Host      string
	APIKey    string
	IndexName string
}

// Meili pushes one denormalized document per work, keyed by work id so
// re-indexing replaces instead of duplicating.
type Meili struct {
	client    *meilisearch.Client
	indexName string
	store     catalog.CatalogStore

	mu           sync.Mutex
	indexEnsured bool
}

// New builds the Meilisearch-backed index.
func New(cfg Config, store catalog.CatalogStore) *Meili {
	return &Meili{
		client: meilisearch.NewClient(meilisearch.ClientConfig{
			Host:   cfg.Host,
			APIKey: cfg.APIKey,
		}),
		indexName: cfg.IndexName,
		store:     store,
	}
}

// IndexWork loads the work composite and pushes its document, waiting for
// the index task so failures surface to the caller. A missing work is a
// no-op.
func (m *Meili) IndexWork(ctx context.Context, workID string) error {
	composite, err := m.store.LoadWorkComposite(ctx, workID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading work composite: %w", err)
	}

	if err := m.ensureIndex(ctx); err != nil {
		return err
	}

	doc := BuildDocument(composite)
	index := m.client.Index(m.indexName)
	enqueued, err := index.AddDocuments([]catalog.WorkSearchDocument{doc}, "id")
	if err != nil {
		return fmt.Errorf("adding document: %w", err)
	}
	task, err := index.WaitForTask(enqueued.TaskUID, meilisearch.WaitParams{
		Context:  ctx,
		Interval: 100 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("waiting for index task: %w", err)
	}
	if task.Status == meilisearch.TaskStatusFailed {
		return fmt.Errorf("index task failed: %s", task.Error.Message)
	}
	return nil
}

// DeleteWork removes the work's document from the index.
func (m *Meili) DeleteWork(_ context.Context, workID string) error {
	if _, err := m.client.Index(m.indexName).DeleteDocument(workID); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// ensureIndex creates the index with the id primary key on first use.
func (m *Meili) ensureIndex(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexEnsured {
		return nil
	}
	if _, err := m.client.GetRawIndex(m.indexName); err != nil {
		created, err := m.client.CreateIndex(&meilisearch.IndexConfig{
			Uid:        m.indexName,
			PrimaryKey: "id",
		})
		if err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
		if _, err := m.client.WaitForTask(created.TaskUID, meilisearch.WaitParams{
			Context:  ctx,
			Interval: 200 * time.Millisecond,
		}); err != nil {
			return fmt.Errorf("waiting for index creation: %w", err)
		}
	}
	m.indexEnsured = true
	return nil
}

// BuildDocument flattens a work composite into its search document. Licenses
// and source ids are distinct in edition order; the cover comes from the
// first edition that has one.
func BuildDocument(composite catalog.WorkComposite) catalog.WorkSearchDocument {
	work := composite.Work

	authorName := composite.AuthorName
	if authorName == "" {
		authorName = "Unknown"
	}

	licenses := make([]string, 0, len(composite.Editions))
	sourceIDs := make([]string, 0, len(composite.Editions))
	seenLicense := make(map[string]bool)
	seenSource := make(map[string]bool)
	coverURL := ""
	for _, edition := range composite.Editions {
		if !seenLicense[edition.License] {
			seenLicense[edition.License] = true
			licenses = append(licenses, edition.License)
		}
		if !seenSource[edition.SourceID] {
			seenSource[edition.SourceID] = true
			sourceIDs = append(sourceIDs, edition.SourceID)
		}
		if coverURL == "" && edition.CoverURL != "" {
			coverURL = edition.CoverURL
		}
	}

	subjects := work.Subjects
	if subjects == nil {
		subjects = []string{}
	}

	return catalog.WorkSearchDocument{
		ID:              work.ID,
		CanonicalTitle:  work.CanonicalTitle,
		AuthorName:      authorName,
		AuthorID:        work.AuthorID,
		Language:        work.Language,
		Description:     work.Description,
		Subjects:        subjects,
		Licenses:        licenses,
		SourceIDs:       sourceIDs,
		CoverURL:        coverURL,
		PopularityScore: work.PopularityScore,
		UpdatedAt:       work.UpdatedAt.UnixMilli(),
	}
}
