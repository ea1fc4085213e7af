package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func epubbooksMediaItem(id int, slug, title, author string) string {
	return fmt.Sprintf(`<li class="media">
		<a class="media-left" href="/book/%d-%s"><img src="/covers/%s.jpg"></a>
		<div class="media-body">
			<h2 class="media-heading"><a href="/book/%d-%s">%s</a> <span class="small">%s</span></h2>
			<p>A fine classic novel. <a href="/book/%d-%s">read more</a></p>
		</div>
	</li>`, id, slug, slug, id, slug, title, author, id, slug)
}

func newTestEpubbooks(t *testing.T, srvURL string) *Epubbooks {
	t.Helper()
	e := NewEpubbooks(newTestClient(t))
	e.baseURL = srvURL
	e.pages = NewThrottle(0)
	return e
}

func TestEpubbooksWalksSubjectsAndPagination(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/subjects", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div class="row">
			<a href="/subject/classics">Classics</a>
			<a href="/subject/romance/">Romance</a>
		</div></body></html>`))
	})
	mux.HandleFunc("/subject/classics", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = fmt.Fprintf(w, `<html><body><ul class="media-list">%s</ul></body></html>`,
				epubbooksMediaItem(2, "emma", "Emma", "Jane Austen"))
			return
		}
		_, _ = fmt.Fprintf(w, `<html><body><ul class="media-list">%s</ul>
			<ul class="pagination"><a rel="next" href="/subject/classics?page=2">Next</a></ul>
			</body></html>`,
			epubbooksMediaItem(1, "dracula", "Dracula", "Bram Stoker"))
	})
	mux.HandleFunc("/subject/romance", func(w http.ResponseWriter, _ *http.Request) {
		// emma shows up under both subjects and must be deduped by id.
		_, _ = fmt.Fprintf(w, `<html><body><ul class="media-list">%s</ul></body></html>`,
			epubbooksMediaItem(2, "emma", "Emma", "Jane Austen"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	records := drainStream(t, newTestEpubbooks(t, srv.URL).FetchCatalog(context.Background(), "src-eb"))
	require.Len(t, records, 2)

	dracula := records[0]
	require.Equal(t, "1", dracula.ExternalID)
	require.Equal(t, "Dracula", dracula.Title)
	require.Equal(t, []string{"Bram Stoker"}, dracula.Authors)
	require.Equal(t, "en", dracula.Language)
	require.Equal(t, "public-domain", dracula.License)
	require.Equal(t, srv.URL+"/book/1-dracula", dracula.DownloadURL)
	require.Equal(t, srv.URL+"/covers/dracula.jpg", dracula.CoverURL)
	require.Equal(t, "A fine classic novel.", dracula.Description)

	require.Equal(t, "2", records[1].ExternalID)
	require.Equal(t, "Emma", records[1].Title)
}

func TestEpubbooksSkipsMissingSubjectPages(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/subjects", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<a href="/subject/missing">Missing</a>
			<a href="/subject/classics">Classics</a>
		</body></html>`))
	})
	mux.HandleFunc("/subject/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/subject/classics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `<html><body><ul class="media-list">%s</ul></body></html>`,
			epubbooksMediaItem(1, "dracula", "Dracula", "Bram Stoker"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	records := drainStream(t, newTestEpubbooks(t, srv.URL).FetchCatalog(context.Background(), "src-eb"))
	require.Len(t, records, 1)
}

func TestParseEpubbooksListingExtractsNextLink(t *testing.T) {
	t.Parallel()

	html := fmt.Sprintf(`<html><body><ul class="media-list">%s</ul>
		<a rel="next" href="/subject/classics?page=3">Next</a></body></html>`,
		epubbooksMediaItem(7, "ivanhoe", "Ivanhoe", "Walter Scott"))

	books, next := parseEpubbooksListing([]byte(html), epubbooksBaseURL)
	require.Len(t, books, 1)
	require.Equal(t, "7", books[0].id)
	require.Equal(t, "ivanhoe", books[0].slug)
	require.Equal(t, epubbooksBaseURL+"/subject/classics?page=3", next)
}

func TestParseEpubbooksSubjectPaths(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="/subject/classics">Classics</a>
		<a href="/subject/classics">dup</a>
		<a href="/subjects">not a subject</a>
	</body></html>`
	require.Equal(t, []string{"/subject/classics"}, parseEpubbooksSubjectPaths([]byte(html)))
}
