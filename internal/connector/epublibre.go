package connector

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/openshelf/catalogd/internal/catalog"
)

const epublibreBaseURL = "https://epublibre.bid"

// Epublibre scrapes the epublibre.bid Elementor archive. Unlike epub.gratis
// the listing links have no /book/ prefix, and some themes render posts as
// divs instead of articles, so a div fallback covers both layouts.
type Epublibre struct {
	crawler *elementorCrawler
}

// NewEpublibre builds the connector.
func NewEpublibre(client *Client) *Epublibre {
	return &Epublibre{
		crawler: newElementorCrawler(client, elementorSite{
			name:         "epublibre",
			baseURL:      epublibreBaseURL,
			parseListing: parseEpublibreListing,
		}),
	}
}

// FetchCatalog starts the lazy catalog scan.
func (e *Epublibre) FetchCatalog(ctx context.Context, sourceID string) *catalog.RecordStream {
	return e.crawler.fetchCatalog(ctx, sourceID)
}

// HealthCheck probes the first listing page.
func (e *Epublibre) HealthCheck(ctx context.Context) bool {
	return e.crawler.healthCheck(ctx)
}

func parseEpublibreListing(body []byte) []elementorListItem {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	items := collectEpublibreItems(doc.Find("article.elementor-post"), seen, true)
	if len(items) > 0 {
		return items
	}
	return collectEpublibreItems(doc.Find("div.elementor-post"), seen, false)
}

// collectEpublibreItems extracts one item per post block. The rich article
// layout carries a title heading, author span and cover image; the bare div
// layout only has the link text.
func collectEpublibreItems(posts *goquery.Selection, seen map[string]bool, rich bool) []elementorListItem {
	var items []elementorListItem
	posts.Each(func(_ int, post *goquery.Selection) {
		var bookURL string
		post.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, _ := sel.Attr("href")
			if strings.HasPrefix(href, epublibreBaseURL+"/") {
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
		slug := elementorSlug(bookURL, epublibreBaseURL)
		if slug == "" || seen[slug] {
			return
		}
		seen[slug] = true

		item := elementorListItem{url: bookURL, slug: slug, title: slug}
		if rich {
			title := strings.TrimSpace(post.Find("h3.elementor-post__title a").First().Text())
			if title == "" {
				title = strings.TrimSpace(post.Find("h2 a, h3 a").First().Text())
			}
			if title != "" {
				item.title = title
			}
			item.author = strings.TrimSpace(post.Find("span.elementor-post-author a").First().Text())
			if item.author == "" {
				item.author = strings.TrimSpace(post.Find(`[class*="author"] a`).First().Text())
			}
			if src, ok := post.Find("img[src]").First().Attr("src"); ok {
				item.coverURL = src
			}
		} else if text := strings.TrimSpace(post.Find("a[href]").First().Text()); text != "" {
			item.title = text
		}
		items = append(items, item)
	})
	return items
}
