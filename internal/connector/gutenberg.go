package connector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/openshelf/catalogd/internal/catalog"
)

const (
	gutenbergBaseURL  = "https://www.gutenberg.org"
	gutenbergPageSize = 25
)

var (
	ebookLinkRe     = regexp.MustCompile(`/ebooks/(\d+)(?:\?|$)`)
	downloadCountRe = regexp.MustCompile(`(?i)\s+\d+\s*downloads?\s*$`)
)

// Gutenberg scrapes the Project Gutenberg search listing, paginated by
// start_index, sorted by downloads.
type Gutenberg struct {
	client  *Client
	pages   *Throttle
	baseURL string
}

// NewGutenberg builds the connector.
func NewGutenberg(client *Client) *Gutenberg {
	return &Gutenberg{
		client:  client,
		pages:   NewThrottle(pageDelay),
		baseURL: gutenbergBaseURL,
	}
}

// FetchCatalog starts the lazy catalog scan.
func (g *Gutenberg) FetchCatalog(ctx context.Context, sourceID string) *catalog.RecordStream {
	stream := catalog.NewRecordStream(streamBuffer)
	go func() {
		stream.CloseWithError(g.crawl(ctx, sourceID, stream))
	}()
	return stream
}

func (g *Gutenberg) crawl(ctx context.Context, sourceID string, stream *catalog.RecordStream) error {
	startIndex := 0
	firstPage := true
	for {
		if !firstPage {
			if err := g.pages.Wait(ctx); err != nil {
				return err
			}
		}
		firstPage = false

		resp, err := g.client.GetWithRetry(ctx, g.searchURL(startIndex))
		if err != nil {
			return err
		}
		if !resp.OK() {
			if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
				return nil
			}
			return fmt.Errorf("gutenberg search error: %d", resp.StatusCode)
		}

		books := parseGutenbergResults(resp.Body)
		if len(books) == 0 {
			return nil
		}
		for _, book := range books {
			record := catalog.RawRecord{
				SourceID:    sourceID,
				ExternalID:  book.id,
				Title:       book.title,
				Authors:     book.authors,
				Language:    "en",
				License:     "public-domain",
				DownloadURL: fmt.Sprintf("%s/cache/epub/%s/pg%s-images.epub", g.baseURL, book.id, book.id),
				CoverURL:    fmt.Sprintf("%s/cache/epub/%s/pg%s.cover.medium.jpg", g.baseURL, book.id, book.id),
			}
			if !stream.Send(ctx, record) {
				return ctx.Err()
			}
		}
		if len(books) < gutenbergPageSize {
			return nil
		}
		startIndex += gutenbergPageSize
	}
}

// HealthCheck probes the first search page.
func (g *Gutenberg) HealthCheck(ctx context.Context) bool {
	resp, err := g.client.GetWithRetry(ctx, g.searchURL(0))
	return err == nil && resp.OK()
}

func (g *Gutenberg) searchURL(startIndex int) string {
	params := url.Values{}
	params.Set("query", "")
	params.Set("sort_order", "downloads")
	params.Set("start_index", fmt.Sprintf("%d", startIndex))
	return g.baseURL + "/ebooks/search/?" + params.Encode()
}

type gutenbergBook struct {
	id      string
	title   string
	authors []string
}

// parseGutenbergResults extracts one book per link to /ebooks/N. Titled spans
// are preferred; bare link text carries "Title Author NNN downloads", which is
// cleaned so re-ingestion keeps titles stable.
func parseGutenbergResults(body []byte) []gutenbergBook {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var books []gutenbergBook
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		m := ebookLinkRe.FindStringSubmatch(href)
		if m == nil || seen[m[1]] {
			return
		}
		id := m[1]

		author := strings.TrimSpace(sel.Find("span.subtitle").First().Text())
		title := strings.TrimSpace(sel.Find("span.title").First().Text())
		if title == "" {
			title = cleanGutenbergLinkText(sel.Text(), author)
		}
		if title == "" {
			return
		}
		seen[id] = true
		authors := []string{"Unknown"}
		if author != "" {
			authors = []string{author}
		}
		books = append(books, gutenbergBook{id: id, title: title, authors: authors})
	})
	return books
}

// cleanGutenbergLinkText strips the trailing download count and author name
// from combined link text, keeping only the title.
func cleanGutenbergLinkText(text, author string) string {
	cleaned := downloadCountRe.ReplaceAllString(strings.Join(strings.Fields(text), " "), "")
	cleaned = strings.TrimSpace(cleaned)
	if author != "" && author != "Unknown" {
		if trimmed := strings.TrimSpace(strings.TrimSuffix(cleaned, author)); trimmed != "" {
			cleaned = trimmed
		}
	}
	return cleaned
}
