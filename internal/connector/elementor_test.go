package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func epubGratisListingHTML(baseURL string) string {
	return fmt.Sprintf(`<html><body>
		<article class="elementor-post">
			<a href="%[1]s/book/don-quijote/"><img src="%[1]s/wp-content/uploads/don-quijote.jpg"></a>
			<h3 class="elementor-post__title"><a href="%[1]s/book/don-quijote/">Don Quijote</a></h3>
		</article>
		<article class="elementor-post">
			<a href="%[1]s/category/novela/">Novela</a>
		</article>
		<article class="elementor-post">
			<a href="%[1]s/book/don-quijote/">duplicate</a>
		</article>
	</body></html>`, baseURL)
}

const elementorBookPageHTML = `<html><body>
	<div class="mbm-book-details-editors-data">
		<a href="/editor/cervantes">Miguel de Cervantes</a>
		<a href="/editor/cervantes">Miguel de Cervantes</a>
	</div>
	<span class="mbm-book-details-genres-label">Genres</span>
	<a class="mbm-book-download-links-link" href="https://cdn.example.com/don-quijote.pdf">PDF</a>
	<a class="mbm-book-download-links-link" href="https://cdn.example.com/don-quijote.epub">EPUB</a>
</body></html>`

func TestParseElementorBookPage(t *testing.T) {
	t.Parallel()

	authors, downloadURL := parseElementorBookPage([]byte(elementorBookPageHTML), "https://epub.gratis/book/don-quijote/")
	require.Equal(t, []string{"Miguel de Cervantes"}, authors)
	require.Equal(t, "https://cdn.example.com/don-quijote.epub", downloadURL, "epub link wins over other formats")
}

func TestParseElementorBookPageFallsBackToBookURL(t *testing.T) {
	t.Parallel()

	authors, downloadURL := parseElementorBookPage([]byte("<html><body></body></html>"), "https://epub.gratis/book/x/")
	require.Equal(t, []string{"Unknown"}, authors)
	require.Equal(t, "https://epub.gratis/book/x/", downloadURL)
}

func TestEpubGratisCrawlsListingAndDetailPages(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/" && r.URL.Query().Has("s"):
			_, _ = w.Write([]byte(strings.ReplaceAll(epubGratisListingHTML(epubGratisBaseURL), epubGratisBaseURL, srvURL)))
		case strings.HasPrefix(r.URL.Path, "/page/"):
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Path == "/book/don-quijote/":
			_, _ = w.Write([]byte(elementorBookPageHTML))
		default:
			t.Errorf("unexpected request %s", r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	conn := NewEpubGratis(newTestClient(t))
	conn.crawler.site.baseURL = srv.URL
	conn.crawler.site.parseListing = func(body []byte) []elementorListItem {
		// The production parser matches the epub.gratis origin; rewrite the
		// test server origin back before parsing.
		rewritten := strings.ReplaceAll(string(body), srv.URL, epubGratisBaseURL)
		items := parseEpubGratisListing([]byte(rewritten))
		for i := range items {
			items[i].url = strings.ReplaceAll(items[i].url, epubGratisBaseURL, srv.URL)
			items[i].coverURL = strings.ReplaceAll(items[i].coverURL, epubGratisBaseURL, srv.URL)
		}
		return items
	}
	conn.crawler.pages = NewThrottle(0)
	conn.crawler.details = NewThrottle(0)

	records := drainStream(t, conn.FetchCatalog(context.Background(), "src-eg"))
	require.Len(t, records, 1)

	record := records[0]
	require.Equal(t, "don-quijote", record.ExternalID)
	require.Equal(t, "Don Quijote", record.Title)
	require.Equal(t, []string{"Miguel de Cervantes"}, record.Authors)
	require.Equal(t, "es", record.Language)
	require.Equal(t, "public-domain", record.License)
	require.Equal(t, "https://cdn.example.com/don-quijote.epub", record.DownloadURL)
	require.Equal(t, srv.URL+"/wp-content/uploads/don-quijote.jpg", record.CoverURL)
}

func TestParseEpubGratisListingFiltersNonBookLinks(t *testing.T) {
	t.Parallel()

	items := parseEpubGratisListing([]byte(epubGratisListingHTML(epubGratisBaseURL)))
	require.Len(t, items, 1)
	require.Equal(t, "don-quijote", items[0].slug)
	require.Equal(t, "Don Quijote", items[0].title)
	require.Equal(t, epubGratisBaseURL+"/book/don-quijote/", items[0].url)
	require.Equal(t, epubGratisBaseURL+"/wp-content/uploads/don-quijote.jpg", items[0].coverURL)
}

func TestParseEpublibreListingRichAndBareLayouts(t *testing.T) {
	t.Parallel()

	rich := `<html><body>
		<article class="elementor-post">
			<a href="https://epublibre.bid/la-regenta/"><img src="https://epublibre.bid/covers/la-regenta.jpg"></a>
			<h3 class="elementor-post__title"><a href="https://epublibre.bid/la-regenta/">La Regenta</a></h3>
			<span class="elementor-post-author"><a href="#">Leopoldo Alas</a></span>
		</article>
	</body></html>`
	items := parseEpublibreListing([]byte(rich))
	require.Len(t, items, 1)
	require.Equal(t, "la-regenta", items[0].slug)
	require.Equal(t, "La Regenta", items[0].title)
	require.Equal(t, "Leopoldo Alas", items[0].author)
	require.Equal(t, "https://epublibre.bid/covers/la-regenta.jpg", items[0].coverURL)

	bare := `<html><body>
		<div class="elementor-post">
			<a href="https://epublibre.bid/fortunata-y-jacinta/">Fortunata y Jacinta</a>
		</div>
	</body></html>`
	items = parseEpublibreListing([]byte(bare))
	require.Len(t, items, 1)
	require.Equal(t, "fortunata-y-jacinta", items[0].slug)
	require.Equal(t, "Fortunata y Jacinta", items[0].title)
	require.Empty(t, items[0].author)
}

func TestElementorListingStopsOnNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	conn := NewEpublibre(newTestClient(t))
	conn.crawler.site.baseURL = srv.URL
	conn.crawler.pages = NewThrottle(0)
	conn.crawler.details = NewThrottle(0)

	records := drainStream(t, conn.FetchCatalog(context.Background(), "src-el"))
	require.Empty(t, records)
}
