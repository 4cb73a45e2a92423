package content

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	// @media blocks sometimes leak out of <style> elements in bank mailers.
	mediaBlockPattern = regexp.MustCompile(`(?is)@media[^{]*\{(?:[^{}]*\{[^{}]*\})*[^{}]*\}`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// HTMLToText reduces an HTML document to a single line of text: style and
// script elements are dropped, @media blocks removed, remaining tags
// stripped, entities decoded and whitespace collapsed.
func HTMLToText(doc string) string {
	if strings.TrimSpace(doc) == "" {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(doc))

	var (
		b    strings.Builder
		skip int
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed input; keep what was collected.
			return normalize(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if isRawText(name) {
				skip++
			}
			breakAfter(&b, name)
		case html.EndTagToken:
			name, _ := z.TagName()
			if isRawText(name) && skip > 0 {
				skip--
			}
			breakAfter(&b, name)
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			breakAfter(&b, name)
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawText(tag []byte) bool {
	switch string(tag) {
	case "style", "script":
		return true
	}
	return false
}

// breakAfter separates the text of block elements; inline tags such as
// <b> or <span> are removed without adding a gap.
func breakAfter(b *strings.Builder, tag []byte) {
	switch string(tag) {
	case "br", "p", "div", "li", "tr", "td", "th", "table", "tbody",
		"h1", "h2", "h3", "h4", "h5", "h6", "hr", "ul", "ol", "title":
		b.WriteByte(' ')
	}
}

func normalize(s string) string {
	s = mediaBlockPattern.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
