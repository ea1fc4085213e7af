package connector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/openshelf/catalogd/internal/catalog"
)

const (
	epubbooksBaseURL     = "https://www.epubbooks.com"
	epubbooksSnippetSize = 500
)

var epubbooksBookRe = regexp.MustCompile(`^/book/(\d+)-(.+)$`)

// Epubbooks walks the subject directory, then each subject's media-list
// pages via rel=next pagination. Books are deduped by numeric id across
// subjects.
type Epubbooks struct {
	client  *Client
	pages   *Throttle
	baseURL string
}

// NewEpubbooks builds the connector.
func NewEpubbooks(client *Client) *Epubbooks {
	return &Epubbooks{
		client:  client,
		pages:   NewThrottle(pageDelay),
		baseURL: epubbooksBaseURL,
	}
}

// FetchCatalog starts the lazy catalog scan.
func (e *Epubbooks) FetchCatalog(ctx context.Context, sourceID string) *catalog.RecordStream {
	stream := catalog.NewRecordStream(streamBuffer)
	go func() {
		stream.CloseWithError(e.crawl(ctx, sourceID, stream))
	}()
	return stream
}

func (e *Epubbooks) crawl(ctx context.Context, sourceID string, stream *catalog.RecordStream) error {
	resp, err := e.client.GetWithRetry(ctx, e.baseURL+"/subjects")
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("epubbooks subjects error: %d", resp.StatusCode)
	}
	subjectPaths := parseEpubbooksSubjectPaths(resp.Body)
	if len(subjectPaths) == 0 {
		return nil
	}

	seenIDs := make(map[string]bool)
	firstPage := true
	for _, subjectPath := range subjectPaths {
		pageURL := e.baseURL + subjectPath
		for pageURL != "" {
			if !firstPage {
				if err := e.pages.Wait(ctx); err != nil {
					return err
				}
			}
			firstPage = false

			pageResp, err := e.client.GetWithRetry(ctx, pageURL)
			if err != nil {
				return err
			}
			if !pageResp.OK() {
				if pageResp.StatusCode == http.StatusNotFound {
					break
				}
				return fmt.Errorf("epubbooks listing error: %d %s", pageResp.StatusCode, pageURL)
			}

			books, nextURL := parseEpubbooksListing(pageResp.Body, e.baseURL)
			for _, book := range books {
				if seenIDs[book.id] {
					continue
				}
				seenIDs[book.id] = true
				record := catalog.RawRecord{
					SourceID:    sourceID,
					ExternalID:  book.id,
					Title:       book.title,
					Authors:     []string{book.author},
					Language:    "en",
					Description: book.snippet,
					License:     "public-domain",
					DownloadURL: book.bookURL,
					CoverURL:    book.coverURL,
				}
				if !stream.Send(ctx, record) {
					return ctx.Err()
				}
			}
			pageURL = nextURL
		}
	}
	return nil
}

// HealthCheck probes the subject directory.
func (e *Epubbooks) HealthCheck(ctx context.Context) bool {
	resp, err := e.client.GetWithRetry(ctx, e.baseURL+"/subjects")
	return err == nil && resp.OK()
}

func parseEpubbooksSubjectPaths(body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var paths []string
	doc.Find(`a[href^="/subject/"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		path := strings.TrimSuffix(href, "/")
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		paths = append(paths, path)
	})
	return paths
}

type epubbooksBook struct {
	id       string
	slug     string
	title    string
	author   string
	bookURL  string
	coverURL string
	snippet  string
}

// parseEpubbooksListing reads li.media items from the subject listing and
// the rel=next pagination link.
func parseEpubbooksListing(body []byte, baseURL string) ([]epubbooksBook, string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, ""
	}

	var books []epubbooksBook
	doc.Find("li.media").Each(func(_ int, item *goquery.Selection) {
		href, _ := item.Find("a.media-left").First().Attr("href")
		m := epubbooksBookRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		book := epubbooksBook{
			id:      m[1],
			slug:    m[2],
			bookURL: baseURL + href,
		}

		heading := item.Find("h2.media-heading").First()
		book.title = strings.TrimSpace(heading.Find("a").First().Text())
		if book.title == "" {
			book.title = book.slug
		}
		book.author = strings.TrimSpace(heading.Find("span.small").First().Text())
		if book.author == "" {
			book.author = "Unknown"
		}

		if src, ok := item.Find("img[src]").First().Attr("src"); ok {
			if strings.HasPrefix(src, "http") {
				book.coverURL = src
			} else {
				book.coverURL = baseURL + src
			}
		}

		snippet := strings.Join(strings.Fields(item.Find("p").First().Text()), " ")
		snippet = strings.TrimSpace(strings.TrimSuffix(snippet, "read more"))
		if len(snippet) > epubbooksSnippetSize {
			snippet = snippet[:epubbooksSnippetSize]
		}
		book.snippet = snippet

		books = append(books, book)
	})

	nextURL := ""
	if href, ok := doc.Find(`a[rel="next"]`).First().Attr("href"); ok && href != "" {
		if strings.HasPrefix(href, "http") {
			nextURL = href
		} else {
			nextURL = baseURL + href
		}
	}
	return books, nextURL
}
