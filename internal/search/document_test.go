package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openshelf/catalogd/internal/catalog"
)

func TestBuildDocumentFlattensComposite(t *testing.T) {
	t.Parallel()

	updatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	size := int64(1024)
	composite := catalog.WorkComposite{
		Work: catalog.Work{
			ID:              "work-1",
			CanonicalTitle:  "Moby Dick",
			AuthorID:        "author-1",
			Language:        "en",
			Description:     "A whaling voyage.",
			Subjects:        []string{"Whaling", "Adventure"},
			PopularityScore: 0.7,
			UpdatedAt:       updatedAt,
		},
		AuthorName: "Herman Melville",
		Editions: []catalog.Edition{
			{SourceID: "src-pg", License: "public-domain", FileSize: &size},
			{SourceID: "src-se", License: "public-domain", CoverURL: "https://example.com/cover.svg"},
			{SourceID: "src-pg", License: "gutenberg"},
		},
	}

	doc := BuildDocument(composite)
	require.Equal(t, "work-1", doc.ID)
	require.Equal(t, "Moby Dick", doc.CanonicalTitle)
	require.Equal(t, "Herman Melville", doc.AuthorName)
	require.Equal(t, "author-1", doc.AuthorID)
	require.Equal(t, []string{"public-domain", "gutenberg"}, doc.Licenses)
	require.Equal(t, []string{"src-pg", "src-se"}, doc.SourceIDs)
	require.Equal(t, "https://example.com/cover.svg", doc.CoverURL)
	require.Equal(t, 0.7, doc.PopularityScore)
	require.Equal(t, updatedAt.UnixMilli(), doc.UpdatedAt)
}

func TestBuildDocumentDefaults(t *testing.T) {
	t.Parallel()

	doc := BuildDocument(catalog.WorkComposite{
		Work: catalog.Work{ID: "work-2", CanonicalTitle: "Anonymous Verses"},
	})
	require.Equal(t, "Unknown", doc.AuthorName)
	require.NotNil(t, doc.Subjects)
	require.Empty(t, doc.Subjects)
	require.Empty(t, doc.Licenses)
	require.Empty(t, doc.CoverURL)
}
