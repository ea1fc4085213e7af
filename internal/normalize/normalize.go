// Package normalize turns raw connector records into canonical, length-bounded
// records. It is a pure transformation with no I/O and no persisted state, and
// is idempotent on already-normalized input.
package normalize

import (
	"strings"

	"github.com/openshelf/catalogd/internal/catalog"
)

// Schema limits applied to every text field.
const (
	maxTitleLen         = 1000
	maxAuthorLen        = 500
	maxDescriptionLen   = 10000
	maxSubjectLen       = 200
	maxURLLen           = 2048
	maxPublishedDateLen = 50
	maxLanguageKeyLen   = 20
	maxLicenseLen       = 100
)

var languageMap = map[string]string{
	"en": "en", "eng": "en", "english": "en",
	"fr": "fr", "fra": "fr", "french": "fr",
	"de": "de", "ger": "de", "german": "de",
	"es": "es", "spa": "es", "spanish": "es",
	"it": "it", "ita": "it", "italian": "it",
	"pt": "pt", "por": "pt", "portuguese": "pt",
}

// Keys are lowercased with hyphens replaced by spaces before lookup.
var licenseMap = map[string]string{
	"public domain": "public-domain",
	"pd":            "public-domain",
	"cc0":           "cc0",
	"cc 0":          "cc0",
	"cc by":         "cc-by",
	"cc by sa":      "cc-by-sa",
	"gutenberg":     "gutenberg",
}

// Record produces the normalized form of a raw record.
func Record(raw catalog.RawRecord) catalog.NormalizedRecord {
	authors := make([]string, 0, len(raw.Authors))
	for _, a := range raw.Authors {
		authors = append(authors, AuthorName(a))
	}
	subjects := make([]string, 0, len(raw.Subjects))
	for _, s := range raw.Subjects {
		if trimmed := truncate(strings.TrimSpace(s), maxSubjectLen); trimmed != "" {
			subjects = append(subjects, trimmed)
		}
	}
	return catalog.NormalizedRecord{
		SourceID:      raw.SourceID,
		ExternalID:    raw.ExternalID,
		Title:         Title(raw.Title),
		Authors:       authors,
		Language:      Language(raw.Language),
		Description:   Description(raw.Description),
		Subjects:      subjects,
		License:       License(raw.License),
		DownloadURL:   truncate(strings.TrimSpace(raw.DownloadURL), maxURLLen),
		FileSize:      raw.FileSize,
		PublishedDate: truncate(strings.TrimSpace(raw.PublishedDate), maxPublishedDateLen),
		CoverURL:      truncate(strings.TrimSpace(raw.CoverURL), maxURLLen),
	}
}

// Title trims, collapses whitespace, and caps the title.
func Title(title string) string {
	return truncate(collapseWhitespace(title), maxTitleLen)
}

// AuthorName cleans a single author name: whitespace collapsed, commas
// removed, capped.
func AuthorName(name string) string {
	cleaned := strings.ReplaceAll(collapseWhitespace(name), ",", "")
	return truncate(cleaned, maxAuthorLen)
}

// Language maps a language string to a two-letter code via the lookup table,
// falling back to the first two characters, defaulting to "en".
func Language(lang string) string {
	key := truncate(strings.ToLower(strings.TrimSpace(lang)), maxLanguageKeyLen)
	if mapped, ok := languageMap[key]; ok {
		return mapped
	}
	if runes := []rune(key); len(runes) >= 2 {
		return string(runes[:2])
	}
	if key != "" {
		return key
	}
	return "en"
}

// License maps a license string through the lookup table. Unmapped values
// pass through lowercased when they are themselves supported licenses;
// everything else falls back to "public-domain".
func License(license string) string {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(license)), "-", " ")
	if mapped, ok := licenseMap[key]; ok {
		return mapped
	}
	lower := truncate(strings.ToLower(strings.TrimSpace(license)), maxLicenseLen)
	if catalog.LicenseSupported(lower) {
		return lower
	}
	return "public-domain"
}

// Description strips HTML markup, decodes entities, collapses whitespace, and
// caps free-text descriptions.
func Description(desc string) string {
	if desc == "" {
		return ""
	}
	plain := StripHTML(desc)
	return truncate(collapseWhitespace(plain), maxDescriptionLen)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate caps s at limit runes so multibyte text is never cut mid-rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
