package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/openshelf/catalogd/internal/catalog"
)

const (
	openLibraryBaseURL  = "https://openlibrary.org"
	openLibraryCoverURL = "https://covers.openlibrary.org/b/id"
	archiveDownloadURL  = "https://archive.org/download"

	openLibraryDelay       = 200 * time.Millisecond
	openLibraryPageSize    = 100
	openLibraryMaxPages    = 100
	openLibrarySearchLimit = openLibraryPageSize
)

// OpenLibrary discovers subject keys from the subjects page, then pages
// through the JSON search API per subject. Only works with a fulltext
// download (Internet Archive or Project Gutenberg) are emitted, deduped by
// work key across subjects.
type OpenLibrary struct {
	client   *Client
	requests *Throttle
	baseURL  string
	coverURL string
}

// NewOpenLibrary builds the connector.
func NewOpenLibrary(client *Client) *OpenLibrary {
	return &OpenLibrary{
		client:   client,
		requests: NewThrottle(openLibraryDelay),
		baseURL:  openLibraryBaseURL,
		coverURL: openLibraryCoverURL,
	}
}

// FetchCatalog starts the lazy catalog scan.
func (o *OpenLibrary) FetchCatalog(ctx context.Context, sourceID string) *catalog.RecordStream {
	stream := catalog.NewRecordStream(streamBuffer)
	go func() {
		stream.CloseWithError(o.crawl(ctx, sourceID, stream))
	}()
	return stream
}

func (o *OpenLibrary) crawl(ctx context.Context, sourceID string, stream *catalog.RecordStream) error {
	if err := o.requests.Wait(ctx); err != nil {
		return err
	}
	resp, err := o.client.GetWithRetry(ctx, o.baseURL+"/subjects")
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("open library subjects error: %d", resp.StatusCode)
	}

	subjectKeys := parseSubjectKeys(resp.Body)
	seenWorkKeys := make(map[string]bool)

	for _, subjectKey := range subjectKeys {
		for page := 1; page <= openLibraryMaxPages; page++ {
			if err := o.requests.Wait(ctx); err != nil {
				return err
			}
			data, err := o.searchPage(ctx, subjectKey, page)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// A broken page for one subject does not fail the scan.
				break
			}
			if len(data.Docs) == 0 {
				break
			}
			for _, doc := range data.Docs {
				record, ok := o.recordFromDoc(sourceID, subjectKey, doc, seenWorkKeys)
				if !ok {
					continue
				}
				if !stream.Send(ctx, record) {
					return ctx.Err()
				}
			}
			if len(data.Docs) < openLibraryPageSize {
				break
			}
		}
	}
	return nil
}

func (o *OpenLibrary) searchPage(ctx context.Context, subjectKey string, page int) (*openLibrarySearchResponse, error) {
	params := url.Values{}
	params.Set("q", "subject_key:"+subjectKey)
	params.Set("page", fmt.Sprintf("%d", page))
	params.Set("limit", fmt.Sprintf("%d", openLibrarySearchLimit))
	resp, err := o.client.Get(ctx, o.baseURL+"/search.json?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("open library search error: %d", resp.StatusCode)
	}
	var data openLibrarySearchResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, fmt.Errorf("decoding open library search response: %w", err)
	}
	return &data, nil
}

func (o *OpenLibrary) recordFromDoc(
	sourceID, subjectKey string,
	doc openLibrarySearchDoc,
	seenWorkKeys map[string]bool,
) (catalog.RawRecord, bool) {
	if doc.Key == "" || seenWorkKeys[doc.Key] {
		return catalog.RawRecord{}, false
	}
	hasIA := len(doc.IA) > 0
	hasPG := len(doc.ProjectGutenbergIDs) > 0
	if !doc.HasFulltext || (!hasIA && !hasPG) {
		return catalog.RawRecord{}, false
	}
	seenWorkKeys[doc.Key] = true

	downloadURL := ""
	if hasPG {
		downloadURL = fmt.Sprintf("https://www.gutenberg.org/ebooks/%s.epub.images", doc.ProjectGutenbergIDs[0])
	} else {
		downloadURL = fmt.Sprintf("%s/%s/%s.epub", archiveDownloadURL, doc.IA[0], doc.IA[0])
	}

	title := doc.Title
	if title == "" {
		title = "Unknown"
	}
	authors := doc.AuthorNames
	if len(authors) == 0 {
		authors = []string{"Unknown"}
	}
	language := "en"
	if len(doc.Languages) > 0 {
		language = doc.Languages[0]
	}
	coverURL := ""
	if doc.CoverID != nil {
		coverURL = fmt.Sprintf("%s/%d-M.jpg", o.coverURL, *doc.CoverID)
	}
	publishedDate := ""
	if doc.FirstPublishYear != nil {
		publishedDate = fmt.Sprintf("%d", *doc.FirstPublishYear)
	}

	return catalog.RawRecord{
		SourceID:      sourceID,
		ExternalID:    strings.TrimPrefix(doc.Key, "/works/"),
		Title:         title,
		Authors:       authors,
		Language:      language,
		Subjects:      []string{subjectKey},
		License:       "public-domain",
		DownloadURL:   downloadURL,
		PublishedDate: publishedDate,
		CoverURL:      coverURL,
	}, true
}

// HealthCheck runs a one-result search and checks the docs array decodes.
func (o *OpenLibrary) HealthCheck(ctx context.Context) bool {
	resp, err := o.client.GetWithRetry(ctx, o.baseURL+"/search.json?q=subject_key:architecture&limit=1")
	if err != nil || !resp.OK() {
		return false
	}
	var data openLibrarySearchResponse
	return json.Unmarshal(resp.Body, &data) == nil && data.Docs != nil
}

type openLibrarySearchResponse struct {
	NumFound int                    `json:"num_found"`
	Start    int                    `json:"start"`
	Docs     []openLibrarySearchDoc `json:"docs"`
}

type openLibrarySearchDoc struct {
	Key                 string   `json:"key"`
	Title               string   `json:"title"`
	AuthorNames         []string `json:"author_name"`
	FirstPublishYear    *int     `json:"first_publish_year"`
	CoverID             *int     `json:"cover_i"`
	IA                  []string `json:"ia"`
	ProjectGutenbergIDs []string `json:"id_project_gutenberg"`
	HasFulltext         bool     `json:"has_fulltext"`
	Languages           []string `json:"language"`
}

// parseSubjectKeys collects subject keys from /subjects/KEY links and
// subject_key search links. The "Books by Language" section is skipped so
// language pages are not treated as subjects.
func parseSubjectKeys(body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var keys []string
	add := func(raw string) {
		key, err := url.QueryUnescape(strings.TrimSpace(raw))
		if err != nil || key == "" || key == "languages" || seen[key] {
			return
		}
		seen[key] = true
		keys = append(keys, key)
	}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		switch {
		case strings.HasPrefix(href, "/subjects/"):
			key := strings.TrimPrefix(href, "/subjects/")
			if i := strings.IndexAny(key, "?#"); i >= 0 {
				key = key[:i]
			}
			add(key)
		case strings.HasPrefix(href, "/search?q=subject_key%3A%22"):
			key := strings.TrimPrefix(href, "/search?q=subject_key%3A%22")
			if i := strings.Index(key, "%22"); i >= 0 {
				add(key[:i])
			}
		}
	})
	return keys
}
