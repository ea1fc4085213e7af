// Package dedup resolves normalized records onto canonical author and work
// rows, creating them when no match exists.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openshelf/catalogd/internal/catalog"
)

const (
	// Similarity threshold for fuzzy title matches.
	fuzzyThreshold = 0.85
	// At most this many same-author, same-language works are scored.
	fuzzyCandidateLimit = 50
)

// Match confidences per resolution path.
const (
	exactConfidence = 1.0
	aliasConfidence = 0.9
	fuzzyConfidence = 0.85
)

// Resolution is the outcome of resolving one record: canonical ids plus the
// combined match confidence (the weaker of the author and work matches).
type Resolution struct {
	AuthorID   string
	WorkID     string
	Confidence float64
}

// Resolver deduplicates authors and works against the catalog store.
type Resolver struct {
	store catalog.CatalogStore
}

// NewResolver builds a Resolver.
func NewResolver(store catalog.CatalogStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve maps the record to canonical author and work ids.
func (r *Resolver) Resolve(ctx context.Context, record catalog.NormalizedRecord) (Resolution, error) {
	authorID, authorConfidence, err := r.resolveAuthor(ctx, record.Authors)
	if err != nil {
		return Resolution{}, err
	}
	workID, workConfidence, err := r.resolveWork(ctx, record, authorID)
	if err != nil {
		return Resolution{}, err
	}
	confidence := authorConfidence
	if workConfidence < confidence {
		confidence = workConfidence
	}
	return Resolution{AuthorID: authorID, WorkID: workID, Confidence: confidence}, nil
}

// resolveAuthor matches the record's primary author: exact canonical name,
// then alias, then a new row.
func (r *Resolver) resolveAuthor(ctx context.Context, authors []string) (string, float64, error) {
	name := "Unknown"
	if len(authors) > 0 {
		if trimmed := strings.TrimSpace(authors[0]); trimmed != "" {
			name = trimmed
		}
	}

	author, err := r.store.FindAuthorByName(ctx, name)
	if err == nil {
		return author.ID, exactConfidence, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return "", 0, fmt.Errorf("finding author by name: %w", err)
	}

	author, err = r.store.FindAuthorByAlias(ctx, name)
	if err == nil {
		return author.ID, aliasConfidence, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return "", 0, fmt.Errorf("finding author by alias: %w", err)
	}

	author, err = r.store.CreateAuthor(ctx, name, nil)
	if err != nil {
		return "", 0, fmt.Errorf("creating author: %w", err)
	}
	return author.ID, exactConfidence, nil
}

// resolveWork matches the record's title under the resolved author: exact
// (title, author, language) identity, then fuzzy title similarity, then a
// new row.
func (r *Resolver) resolveWork(ctx context.Context, record catalog.NormalizedRecord, authorID string) (string, float64, error) {
	work, err := r.store.FindWorkExact(ctx, record.Title, authorID, record.Language)
	if err == nil {
		return work.ID, exactConfidence, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return "", 0, fmt.Errorf("finding work: %w", err)
	}

	workID, found, err := r.findWorkFuzzy(ctx, record.Title, authorID, record.Language)
	if err != nil {
		return "", 0, err
	}
	if found {
		return workID, fuzzyConfidence, nil
	}

	work, err = r.store.CreateWork(ctx, catalog.Work{
		CanonicalTitle: record.Title,
		AuthorID:       authorID,
		Language:       record.Language,
		Description:    record.Description,
		Subjects:       record.Subjects,
	})
	if err != nil {
		return "", 0, fmt.Errorf("creating work: %w", err)
	}
	return work.ID, exactConfidence, nil
}

func (r *Resolver) findWorkFuzzy(ctx context.Context, title, authorID, language string) (string, bool, error) {
	candidates, err := r.store.ListWorksByAuthor(ctx, authorID, language, fuzzyCandidateLimit)
	if err != nil {
		return "", false, fmt.Errorf("listing candidate works: %w", err)
	}
	lowered := strings.ToLower(title)
	for _, candidate := range candidates {
		if TitleSimilarity(lowered, strings.ToLower(candidate.CanonicalTitle)) >= fuzzyThreshold {
			return candidate.ID, true, nil
		}
	}
	return "", false, nil
}

// TitleSimilarity scores two lowercased titles in [0, 1]: 1 for equal
// strings, otherwise the Jaccard ratio of their word sets.
func TitleSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	match := 0
	for w := range wordsA {
		if wordsB[w] {
			match++
		}
	}
	union := len(wordsB)
	for w := range wordsA {
		if !wordsB[w] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(match) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}
