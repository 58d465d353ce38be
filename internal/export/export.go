package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/nao1215/markdown"

	"doccrawl/internal/crawl"
)

// Format is an export document type.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat accepts "markdown", "md" and "json". Empty means markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Ext is the file extension used in download names.
func (f Format) Ext() string {
	if f == FormatJSON {
		return "json"
	}
	return "md"
}

// ContentType is the MIME type served for the format.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

// Render dispatches to Markdown or JSON.
func Render(f Format, snap crawl.Snapshot, now time.Time) ([]byte, error) {
	switch f {
	case FormatJSON:
		return JSON(snap, now)
	case FormatMarkdown:
		s, err := Markdown(snap, now)
		return []byte(s), err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}

// Pages returns the done pages of snap ordered by depth, then URL.
func Pages(snap crawl.Snapshot) []crawl.Page {
	pages := snap.DonePages()
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].Depth != pages[j].Depth {
			return pages[i].Depth < pages[j].Depth
		}
		return pages[i].URL < pages[j].URL
	})
	return pages
}

type jsonDocument struct {
	Source     string     `json:"source"`
	ExportedAt time.Time  `json:"exportedAt"`
	Mode       string     `json:"mode"`
	PageCount  int        `json:"pageCount"`
	Pages      []jsonPage `json:"pages"`
}

type jsonPage struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Depth   int    `json:"depth"`
}

// JSON renders the done pages with crawl metadata as indented JSON.
func JSON(snap crawl.Snapshot, now time.Time) ([]byte, error) {
	pages := Pages(snap)
	doc := jsonDocument{
		Source:     snap.Config.SeedURL,
		ExportedAt: now.UTC(),
		Mode:       string(snap.Config.Mode),
		PageCount:  len(pages),
		Pages:      make([]jsonPage, 0, len(pages)),
	}
	for _, p := range pages {
		doc.Pages = append(doc.Pages, jsonPage{
			URL:     p.URL,
			Title:   pageTitle(p),
			Content: p.Content(),
			Depth:   p.Depth,
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Markdown renders a title, source metadata, a depth-indented table of
// contents and one section per done page.
func Markdown(snap crawl.Snapshot, now time.Time) (string, error) {
	pages := Pages(snap)
	anchors := newAnchorSet()

	var buf bytes.Buffer
	md := markdown.NewMarkdown(&buf)

	md.H1("Documentation: " + siteLabel(snap.Config.SeedURL))
	md.PlainText("")
	md.PlainTextf("**Source:** %s  ", snap.Config.SeedURL)
	md.PlainTextf("**Exported:** %s  ", now.UTC().Format(time.RFC3339))
	md.PlainTextf("**Mode:** %s  ", string(snap.Config.Mode))
	md.PlainTextf("**Pages:** %s", strconv.Itoa(len(pages)))
	md.PlainText("")
	md.HorizontalRule()
	md.PlainText("")

	ids := make([]string, len(pages))
	md.H2("Table of Contents")
	md.PlainText("")
	for i, p := range pages {
		ids[i] = anchors.add(pageTitle(p))
		indent := strings.Repeat("  ", p.Depth)
		md.PlainTextf("%s- [%s](#%s)", indent, pageTitle(p), ids[i])
	}
	md.PlainText("")
	md.HorizontalRule()

	for i, p := range pages {
		md.PlainText("")
		md.PlainTextf(`<a id="%s"></a>`, ids[i])
		md.H2(pageTitle(p))
		md.PlainText("")
		md.PlainTextf("**Source:** [%s](%s)", p.URL, p.URL)
		md.PlainText("")
		md.PlainText(strings.TrimSpace(p.Content()))
		md.PlainText("")
		md.HorizontalRule()
	}

	if err := md.Build(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Filename is <host>-<yyyy-mm-dd>.<ext>.
func Filename(seedURL, ext string, now time.Time) string {
	host := "crawl"
	if u, err := url.Parse(seedURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return fmt.Sprintf("%s-%s.%s", host, now.Format("2006-01-02"), ext)
}

func pageTitle(p crawl.Page) string {
	if t := strings.TrimSpace(p.Title); t != "" {
		return t
	}
	return p.URL
}

func siteLabel(seedURL string) string {
	u, err := url.Parse(seedURL)
	if err != nil || u.Host == "" {
		return seedURL
	}
	if u.Path == "" || u.Path == "/" {
		return u.Host
	}
	return u.Host + u.Path
}

type anchorSet map[string]int

func newAnchorSet() anchorSet { return anchorSet{} }

// add returns a unique slug for title, suffixing repeats with -1, -2, ...
func (a anchorSet) add(title string) string {
	base := slug(title)
	n, seen := a[base]
	a[base] = n + 1
	if !seen {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case r == ' ' || r == '-' || r == '_':
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "page"
	}
	return out
}
