package connector

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/openshelf/catalogd/internal/catalog"
)

const epubGratisBaseURL = "https://epub.gratis"

// EpubGratis scrapes the epub.gratis Elementor archive. Listing articles
// link to /book/ pages; the detail page carries authors and the epub link.
type EpubGratis struct {
	crawler *elementorCrawler
}

// NewEpubGratis builds the connector.
func NewEpubGratis(client *Client) *EpubGratis {
	return &EpubGratis{
		crawler: newElementorCrawler(client, elementorSite{
			name:         "epub.gratis",
			baseURL:      epubGratisBaseURL,
			parseListing: parseEpubGratisListing,
		}),
	}
}

// FetchCatalog starts the lazy catalog scan.
func (e *EpubGratis) FetchCatalog(ctx context.Context, sourceID string) *catalog.RecordStream {
	return e.crawler.fetchCatalog(ctx, sourceID)
}

// HealthCheck probes the first listing page.
func (e *EpubGratis) HealthCheck(ctx context.Context) bool {
	return e.crawler.healthCheck(ctx)
}

// parseEpubGratisListing keeps only same-origin /book/ links, pairing each
// with the article's title heading and uploads-hosted cover image.
func parseEpubGratisListing(body []byte) []elementorListItem {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var items []elementorListItem
	doc.Find("article.elementor-post").Each(func(_ int, art *goquery.Selection) {
		var bookURL string
		art.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, _ := sel.Attr("href")
			if strings.HasPrefix(href, epubGratisBaseURL+"/book/") {
				if i := strings.IndexAny(href, "?#"); i >= 0 {
					href = href[:i]
				}
				bookURL = strings.TrimSuffix(href, "/") + "/"
				return false
			}
			return true
		})
		if bookURL == "" {
			return
		}
		slug := elementorSlug(bookURL, epubGratisBaseURL+"/book")
		if slug == "" || seen[slug] {
			return
		}
		seen[slug] = true

		title := strings.TrimSpace(art.Find("h3.elementor-post__title a").First().Text())
		if title == "" {
			title = slug
		}
		coverURL := ""
		art.Find("img[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			src, _ := sel.Attr("src")
			if strings.HasPrefix(src, epubGratisBaseURL+"/wp-content/uploads/") {
				coverURL = src
				return false
			}
			return true
		})

		items = append(items, elementorListItem{
			url:      bookURL,
			slug:     slug,
			title:    title,
			coverURL: coverURL,
		})
	})
	return items
}
