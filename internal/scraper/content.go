package scraper

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// extractDocument runs the content extraction algorithm over a parsed
// document: pick the densest known container (or the body), strip
// non-content subtrees, collapse whitespace and collect outbound links.
func extractDocument(doc *goquery.Document, base *url.URL) *Content {
	root := doc.Find("body").First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	for _, sel := range contentSelectors {
		candidate := doc.Find(sel).First()
		if candidate.Length() == 0 {
			continue
		}
		if utf8.RuneCountInString(strings.TrimSpace(candidate.Text())) >= minContentChars {
			root = candidate
			break
		}
	}

	clone := root.Clone()
	clone.Find(strings.Join(stripSelectors, ", ")).Remove()

	html, _ := clone.Html()

	return &Content{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  collapseWhitespace(clone.Text()),
		HTML:  html,
		Links: collectLinks(doc, base),
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// collectLinks returns absolute http(s) hrefs in document order without
// duplicates. Fragment-only, javascript: and mailto: hrefs are skipped.
func collectLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	links := make([]string, 0)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
			return
		}

		linkURL, err := url.Parse(href)
		if err != nil {
			return
		}
		if base != nil && !linkURL.IsAbs() {
			linkURL = base.ResolveReference(linkURL)
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return
		}

		final := linkURL.String()
		if _, ok := seen[final]; ok {
			return
		}
		seen[final] = struct{}{}
		links = append(links, final)
	})

	return links
}
