package normalize

import (
	stdhtml "html"
	"strings"

	"golang.org/x/net/html"
)

// Tags whose close (or occurrence, for br) marks a visual break.
var breakTags = map[string]bool{
	"p": true, "div": true, "li": true, "br": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// StripHTML renders markup-bearing text as plain text: paragraph, break, and
// list-item tags become newlines, anchors become "text (href)", and all other
// tags are removed. Entities are decoded.
func StripHTML(s string) string {
	decoded := stdhtml.UnescapeString(s)
	if !strings.ContainsRune(decoded, '<') {
		return decoded
	}

	var out strings.Builder
	z := html.NewTokenizer(strings.NewReader(decoded))
	var anchorHref string
	var anchorText strings.Builder
	inAnchor := false

	flushAnchor := func() {
		text := strings.TrimSpace(anchorText.String())
		if text != "" && anchorHref != "" {
			out.WriteString(text + " (" + anchorHref + ")")
		} else if text != "" {
			out.WriteString(text)
		}
		anchorHref = ""
		anchorText.Reset()
		inAnchor = false
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if inAnchor {
				flushAnchor()
			}
			return strings.TrimSpace(collapseNewlines(out.String()))
		case html.TextToken:
			text := string(z.Text())
			if inAnchor {
				anchorText.WriteString(text)
			} else {
				out.WriteString(text)
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tag == "a" && tt == html.StartTagToken {
				inAnchor = true
				anchorHref = ""
				for hasAttr {
					var key, val []byte
					key, val, hasAttr = z.TagAttr()
					if string(key) == "href" {
						anchorHref = string(val)
					}
				}
				continue
			}
			if tag == "br" {
				out.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "a" && inAnchor {
				flushAnchor()
				continue
			}
			if breakTags[tag] {
				out.WriteByte('\n')
			}
		}
	}
}

func collapseNewlines(s string) string {
	for strings.Contains(s, "\n\n") {
		s = strings.ReplaceAll(s, "\n\n", "\n")
	}
	return s
}
