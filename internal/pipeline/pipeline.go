// Package pipeline pushes one raw record through normalization,
// deduplication, edition upsert, and search indexing.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/openshelf/catalogd/internal/catalog"
	"github.com/openshelf/catalogd/internal/dedup"
	"github.com/openshelf/catalogd/internal/metrics"
	"github.com/openshelf/catalogd/internal/normalize"
)

// A work refresh carries at most this many subjects.
const maxRefreshSubjects = 500

// Result reports what happened to one record. Skipped records failed the
// license allow-list and touched no storage. IndexErr is non-fatal: the
// edition is persisted even when the search push fails.
type Result struct {
	WorkID   string
	Skipped  bool
	IndexErr error
}

// Pipeline processes records for the job runner.
type Pipeline struct {
	store    catalog.CatalogStore
	resolver *dedup.Resolver
	index    catalog.SearchIndex
	logger   *zap.Logger
}

// New builds a Pipeline.
func New(store catalog.CatalogStore, resolver *dedup.Resolver, index catalog.SearchIndex, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		resolver: resolver,
		index:    index,
		logger:   logger,
	}
}

// Process runs one record end to end. Storage errors abort the record;
// indexing errors are returned in the Result for counting.
func (p *Pipeline) Process(ctx context.Context, raw catalog.RawRecord) (Result, error) {
	record := normalize.Record(raw)
	if !catalog.LicenseSupported(record.License) {
		return Result{Skipped: true}, nil
	}

	resolution, err := p.resolver.Resolve(ctx, record)
	if err != nil {
		return Result{}, err
	}
	if err := p.upsertEdition(ctx, resolution, record); err != nil {
		return Result{}, err
	}

	if err := p.index.IndexWork(ctx, resolution.WorkID); err != nil {
		p.logger.Warn("failed to index work",
			zap.String("work_id", resolution.WorkID),
			zap.Error(err))
		metrics.IndexFailed(record.SourceID)
		return Result{WorkID: resolution.WorkID, IndexErr: err}, nil
	}
	return Result{WorkID: resolution.WorkID}, nil
}

// upsertEdition creates or updates the (work, source, download_url) edition
// and refreshes the work's metadata from the incoming record. An existing
// edition refreshes title, description, and subjects; a new edition only
// confirms the title.
func (p *Pipeline) upsertEdition(ctx context.Context, resolution dedup.Resolution, record catalog.NormalizedRecord) error {
	subjects := record.Subjects
	if len(subjects) > maxRefreshSubjects {
		subjects = subjects[:maxRefreshSubjects]
	}

	existing, err := p.store.FindEdition(ctx, resolution.WorkID, record.SourceID, record.DownloadURL)
	switch {
	case err == nil:
		if err := p.store.UpdateEdition(ctx, existing.ID, record.CoverURL, record.FileSize, resolution.Confidence); err != nil {
			return fmt.Errorf("updating edition: %w", err)
		}
		if err := p.store.RefreshWorkMetadata(ctx, resolution.WorkID, record.Title, record.Description, subjects); err != nil {
			return fmt.Errorf("refreshing work metadata: %w", err)
		}
		return nil
	case errors.Is(err, catalog.ErrNotFound):
		edition := catalog.Edition{
			WorkID:       resolution.WorkID,
			SourceID:     record.SourceID,
			License:      record.License,
			DownloadURL:  record.DownloadURL,
			CoverURL:     record.CoverURL,
			FileSize:     record.FileSize,
			QualityScore: resolution.Confidence,
		}
		if _, err := p.store.CreateEdition(ctx, edition); err != nil {
			return fmt.Errorf("creating edition: %w", err)
		}
		if err := p.store.RefreshWorkMetadata(ctx, resolution.WorkID, record.Title, "", nil); err != nil {
			return fmt.Errorf("refreshing work metadata: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("finding edition: %w", err)
	}
}
