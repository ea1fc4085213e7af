package connector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/openshelf/catalogd/internal/catalog"
)

// Several Spanish catalog sites run the same WordPress Elementor theme with
// the "My Book Media" book plugin. The listing and detail markup is shared,
// so one crawler drives both connectors; only the listing extraction differs.

const elementorMaxPages = 100

type elementorListItem struct {
	url      string
	slug     string
	title    string
	author   string
	coverURL string
}

// elementorSite captures the per-site bits of an Elementor catalog.
type elementorSite struct {
	name         string
	baseURL      string
	parseListing func(body []byte) []elementorListItem
}

// elementorCrawler pages through listing pages, visiting each book's detail
// page for authors and the epub download link.
type elementorCrawler struct {
	client  *Client
	pages   *Throttle
	details *Throttle
	site    elementorSite
}

func newElementorCrawler(client *Client, site elementorSite) *elementorCrawler {
	return &elementorCrawler{
		client:  client,
		pages:   NewThrottle(pageDelay),
		details: NewThrottle(detailDelay),
		site:    site,
	}
}

func (c *elementorCrawler) fetchCatalog(ctx context.Context, sourceID string) *catalog.RecordStream {
	stream := catalog.NewRecordStream(streamBuffer)
	go func() {
		stream.CloseWithError(c.crawl(ctx, sourceID, stream))
	}()
	return stream
}

func (c *elementorCrawler) crawl(ctx context.Context, sourceID string, stream *catalog.RecordStream) error {
	seenSlugs := make(map[string]bool)
	firstPage := true
	for page := 1; page <= elementorMaxPages; page++ {
		if !firstPage {
			if err := c.pages.Wait(ctx); err != nil {
				return err
			}
		}
		firstPage = false

		resp, err := c.client.GetWithRetry(ctx, c.listingURL(page))
		if err != nil {
			return err
		}
		if !resp.OK() {
			if resp.StatusCode == http.StatusNotFound {
				return nil
			}
			return fmt.Errorf("%s listing error: %d", c.site.name, resp.StatusCode)
		}

		items := c.site.parseListing(resp.Body)
		if len(items) == 0 {
			return nil
		}
		for _, item := range items {
			if seenSlugs[item.slug] {
				continue
			}
			seenSlugs[item.slug] = true

			if err := c.details.Wait(ctx); err != nil {
				return err
			}
			authors := []string{"Unknown"}
			if item.author != "" {
				authors = []string{item.author}
			}
			downloadURL := item.url
			if detailResp, detailErr := c.client.GetWithRetry(ctx, item.url); detailErr == nil && detailResp.OK() {
				parsedAuthors, parsedDownload := parseElementorBookPage(detailResp.Body, item.url)
				authors = parsedAuthors
				downloadURL = parsedDownload
			}

			record := catalog.RawRecord{
				SourceID:    sourceID,
				ExternalID:  item.slug,
				Title:       item.title,
				Authors:     authors,
				Language:    "es",
				License:     "public-domain",
				DownloadURL: downloadURL,
				CoverURL:    item.coverURL,
			}
			if !stream.Send(ctx, record) {
				return ctx.Err()
			}
		}
	}
	return nil
}

func (c *elementorCrawler) healthCheck(ctx context.Context) bool {
	resp, err := c.client.GetWithRetry(ctx, c.listingURL(1))
	return err == nil && resp.OK()
}

func (c *elementorCrawler) listingURL(page int) string {
	if page <= 1 {
		return c.site.baseURL + "/?s="
	}
	return fmt.Sprintf("%s/page/%d/?s=", c.site.baseURL, page)
}

// parseElementorBookPage extracts authors from the book plugin's editors
// block and picks the epub download link, preferring hrefs mentioning epub.
// Falls back to the book page itself when no download link exists.
func parseElementorBookPage(body []byte, bookURL string) ([]string, string) {
	authors := []string{}
	downloadURL := bookURL

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return []string{"Unknown"}, downloadURL
	}

	seen := make(map[string]bool)
	addAuthor := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		authors = append(authors, name)
	}
	doc.Find(".mbm-book-details-editors-data a").Each(func(_ int, sel *goquery.Selection) {
		addAuthor(sel.Text())
	})
	doc.Find(`a[class*="author"]`).Each(func(_ int, sel *goquery.Selection) {
		addAuthor(sel.Text())
	})
	if len(authors) == 0 {
		authors = []string{"Unknown"}
	}

	var hrefs []string
	doc.Find("a.mbm-book-download-links-link").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && href != "" {
			hrefs = append(hrefs, href)
		}
	})
	if len(hrefs) == 0 {
		doc.Find(`a[href$=".epub"]`).Each(func(_ int, sel *goquery.Selection) {
			if len(hrefs) > 0 {
				return
			}
			if href, ok := sel.Attr("href"); ok && href != "" {
				hrefs = append(hrefs, href)
			}
		})
	}
	for _, href := range hrefs {
		if strings.Contains(href, "epub") {
			return authors, href
		}
	}
	if len(hrefs) > 0 {
		return authors, hrefs[0]
	}
	return authors, downloadURL
}

// elementorSlug derives the last path segment of a same-origin book URL.
func elementorSlug(rawURL, baseURL string) string {
	path := strings.TrimPrefix(rawURL, baseURL)
	path = strings.Trim(path, "/")
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	return segments[len(segments)-1]
}
