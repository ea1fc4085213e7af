package connector

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/openshelf/catalogd/internal/catalog"
)

const (
	standardEbooksBaseURL = "https://standardebooks.org"

	// The full OPDS catalog sits behind the Patrons Circle; when it answers
	// 401/403 the connector falls back to the public new-releases feed plus
	// the HTML browse listing.
	browseMaxPages            = 80
	browseMaxConsecutiveFails = 3
	browsePageTimeout         = 15 * time.Second
	browsePageOuterTimeout    = 20 * time.Second
)

// StandardEbooks reads the OPDS catalog feed, degrading to the public Atom
// feed and browse-page scraping when feed access is unauthorized.
type StandardEbooks struct {
	client  *Client
	browse  *Throttle
	baseURL string
}

// NewStandardEbooks builds the connector.
func NewStandardEbooks(client *Client) *StandardEbooks {
	return &StandardEbooks{
		client:  client,
		browse:  NewThrottle(detailDelay),
		baseURL: standardEbooksBaseURL,
	}
}

// FetchCatalog starts the lazy catalog scan.
func (s *StandardEbooks) FetchCatalog(ctx context.Context, sourceID string) *catalog.RecordStream {
	stream := catalog.NewRecordStream(streamBuffer)
	go func() {
		stream.CloseWithError(s.crawl(ctx, sourceID, stream))
	}()
	return stream
}

func (s *StandardEbooks) crawl(ctx context.Context, sourceID string, stream *catalog.RecordStream) error {
	opdsResp, err := s.client.GetWithRetry(ctx, s.opdsURL())
	if err != nil {
		return err
	}

	var entries []feedEntry
	unauthorized := opdsResp.StatusCode == http.StatusUnauthorized || opdsResp.StatusCode == http.StatusForbidden
	switch {
	case opdsResp.OK():
		entries = parseFeedEntries(opdsResp.Body, s.opdsURL())
	case unauthorized:
		atomResp, atomErr := s.client.GetWithRetry(ctx, s.atomURL())
		if atomErr != nil {
			return atomErr
		}
		if !atomResp.OK() {
			return fmt.Errorf(
				"standard ebooks error: OPDS %d, public Atom feed %d",
				opdsResp.StatusCode, atomResp.StatusCode,
			)
		}
		entries = parseFeedEntries(atomResp.Body, s.atomURL())
	default:
		return fmt.Errorf("standard ebooks OPDS error: %d", opdsResp.StatusCode)
	}

	seenPaths := make(map[string]bool)
	for _, entry := range entries {
		if path := bookPathFromEpubURL(entry.epubURL); path != "" {
			seenPaths[path] = true
		}
		record := catalog.RawRecord{
			SourceID:      sourceID,
			ExternalID:    entry.id,
			Title:         entry.title,
			Authors:       entry.authors,
			Language:      "en",
			Description:   entry.summary,
			Subjects:      entry.subjects,
			License:       "public-domain",
			DownloadURL:   entry.epubURL,
			PublishedDate: entry.updated,
			CoverURL:      entry.coverURL,
		}
		if !stream.Send(ctx, record) {
			return ctx.Err()
		}
	}

	if unauthorized {
		return s.crawlBrowse(ctx, sourceID, stream, seenPaths)
	}
	return nil
}

// crawlBrowse scrapes the public browse pages for the full catalog when the
// OPDS feed is behind auth.
func (s *StandardEbooks) crawlBrowse(
	ctx context.Context,
	sourceID string,
	stream *catalog.RecordStream,
	seenPaths map[string]bool,
) error {
	consecutiveFailures := 0
	for page := 1; page <= browseMaxPages; page++ {
		if err := s.browse.Wait(ctx); err != nil {
			return err
		}
		pageURL := fmt.Sprintf("%s/ebooks?page=%d&per_page=48", s.baseURL, page)
		body, err := s.fetchBrowsePage(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecutiveFailures++
			if consecutiveFailures >= browseMaxConsecutiveFails {
				return nil
			}
			continue
		}
		consecutiveFailures = 0
		if body == nil {
			return nil
		}
		paths := parseBrowseBookPaths(body)
		if len(paths) == 0 {
			return nil
		}
		for _, path := range paths {
			if seenPaths[path] {
				continue
			}
			seenPaths[path] = true
			if !stream.Send(ctx, s.recordFromBookPath(sourceID, path)) {
				return ctx.Err()
			}
		}
	}
	return nil
}

// fetchBrowsePage loads one browse page under both an inner request timeout
// and an outer hard timeout that fires even if the transport ignores
// cancellation. A nil body with nil error means a non-2xx page.
func (s *StandardEbooks) fetchBrowsePage(ctx context.Context, pageURL string) ([]byte, error) {
	innerCtx, cancel := context.WithTimeout(ctx, browsePageTimeout)
	defer cancel()

	type fetchResult struct {
		body []byte
		err  error
	}
	done := make(chan fetchResult, 1)
	go func() {
		resp, err := s.client.Get(innerCtx, pageURL)
		if err != nil {
			done <- fetchResult{err: err}
			return
		}
		if !resp.OK() {
			done <- fetchResult{}
			return
		}
		done <- fetchResult{body: resp.Body}
	}()

	outer := time.NewTimer(browsePageOuterTimeout)
	defer outer.Stop()
	select {
	case res := <-done:
		return res.body, res.err
	case <-outer.C:
		cancel()
		return nil, fmt.Errorf("browse page timeout: %s", pageURL)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *StandardEbooks) recordFromBookPath(sourceID, path string) catalog.RawRecord {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	epubSlug := strings.Join(segments, "_")
	title := slugToTitle(segments[len(segments)-1])
	authors := []string{"Unknown"}
	if len(segments) >= 1 && segments[0] != "" {
		authors = []string{slugToTitle(segments[0])}
	}
	return catalog.RawRecord{
		SourceID:    sourceID,
		ExternalID:  path,
		Title:       title,
		Authors:     authors,
		Language:    "en",
		License:     "public-domain",
		DownloadURL: fmt.Sprintf("%s/ebooks/%s/downloads/%s.epub", s.baseURL, path, epubSlug),
		CoverURL:    fmt.Sprintf("%s/ebooks/%s/images/cover.svg", s.baseURL, path),
	}
}

// HealthCheck probes the OPDS feed, accepting the public Atom feed when the
// catalog feed requires auth.
func (s *StandardEbooks) HealthCheck(ctx context.Context) bool {
	resp, err := s.client.GetWithRetry(ctx, s.opdsURL())
	if err != nil {
		return false
	}
	if resp.OK() {
		return true
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		atomResp, atomErr := s.client.GetWithRetry(ctx, s.atomURL())
		return atomErr == nil && atomResp.OK()
	}
	return false
}

func (s *StandardEbooks) opdsURL() string {
	return s.baseURL + "/feeds/opds"
}

func (s *StandardEbooks) atomURL() string {
	return s.baseURL + "/feeds/atom/new-releases"
}

type feedEntry struct {
	id       string
	title    string
	authors  []string
	summary  string
	subjects []string
	epubURL  string
	coverURL string
	updated  string
}

type xmlFeed struct {
	Entries []xmlFeedEntry `xml:"entry"`
}

type xmlFeedEntry struct {
	ID         string          `xml:"id"`
	Title      string          `xml:"title"`
	Updated    string          `xml:"updated"`
	Summary    string          `xml:"summary"`
	Content    string          `xml:"content"`
	Authors    []xmlFeedAuthor `xml:"author"`
	Categories []xmlCategory   `xml:"category"`
	Links      []xmlFeedLink   `xml:"link"`
}

type xmlFeedAuthor struct {
	Name string `xml:"name"`
}

type xmlCategory struct {
	Term string `xml:"term,attr"`
}

type xmlFeedLink struct {
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
	Href string `xml:"href,attr"`
}

// parseFeedEntries handles both OPDS and plain Atom documents; entries
// without an epub link are skipped.
func parseFeedEntries(body []byte, baseURL string) []feedEntry {
	var feed xmlFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil
	}
	entries := make([]feedEntry, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		epubURL := ""
		coverURL := ""
		for _, link := range e.Links {
			switch {
			case link.Type == "application/epub+zip" && epubURL == "":
				epubURL = resolveHref(link.Href, baseURL)
			case coverURL == "" && (strings.Contains(strings.ToLower(link.Rel), "image") ||
				strings.Contains(strings.ToLower(link.Rel), "cover") ||
				strings.HasPrefix(link.Type, "image/")):
				coverURL = resolveHref(link.Href, baseURL)
			}
		}
		if epubURL == "" {
			continue
		}
		if coverURL == "" {
			coverURL = coverURLFromEpubURL(epubURL)
		}
		authors := make([]string, 0, len(e.Authors))
		for _, a := range e.Authors {
			if name := strings.TrimSpace(a.Name); name != "" {
				authors = append(authors, name)
			}
		}
		if len(authors) == 0 {
			authors = []string{"Unknown"}
		}
		subjects := make([]string, 0, len(e.Categories))
		for _, c := range e.Categories {
			if c.Term != "" {
				subjects = append(subjects, c.Term)
			}
		}
		summary := strings.TrimSpace(e.Content)
		if summary == "" {
			summary = strings.TrimSpace(e.Summary)
		}
		id := strings.TrimSpace(e.ID)
		if id == "" {
			id = epubURL
		}
		entries = append(entries, feedEntry{
			id:       id,
			title:    strings.TrimSpace(e.Title),
			authors:  authors,
			summary:  summary,
			subjects: subjects,
			epubURL:  epubURL,
			coverURL: coverURL,
			updated:  strings.TrimSpace(e.Updated),
		})
	}
	return entries
}

// parseBrowseBookPaths extracts unique book paths from /ebooks/... links.
func parseBrowseBookPaths(body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var paths []string
	doc.Find(`a[href*="/ebooks/"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		idx := strings.Index(href, "/ebooks/")
		if idx < 0 {
			return
		}
		path := strings.Trim(href[idx+len("/ebooks/"):], "/")
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}
		// Book pages are author/title (optionally /translator); single
		// segments are browse filters.
		if path == "" || !strings.Contains(path, "/") || seen[path] {
			return
		}
		seen[path] = true
		paths = append(paths, path)
	})
	return paths
}

// bookPathFromEpubURL recovers "author/title" from a downloads URL for
// dedupe between the feed and the browse fallback.
func bookPathFromEpubURL(epubURL string) string {
	u, err := url.Parse(epubURL)
	if err != nil {
		return ""
	}
	path := u.Path
	if !strings.HasPrefix(path, "/ebooks/") {
		return ""
	}
	rest := strings.TrimPrefix(path, "/ebooks/")
	if i := strings.Index(rest, "/downloads/"); i >= 0 {
		return rest[:i]
	}
	return ""
}

// coverURLFromEpubURL derives the book page cover location when the feed has
// no cover link.
func coverURLFromEpubURL(epubURL string) string {
	u, err := url.Parse(epubURL)
	if err != nil {
		return ""
	}
	path := u.Path
	if i := strings.Index(path, "/downloads/"); i >= 0 {
		path = path[:i]
	}
	return u.Scheme + "://" + u.Host + path + "/images/cover.svg"
}

// slugToTitle renders "the-cheyne-mystery" as "The Cheyne Mystery".
func slugToTitle(slug string) string {
	words := strings.Split(strings.ReplaceAll(slug, "-", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func resolveHref(href, baseURL string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
