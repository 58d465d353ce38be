package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"doccrawl/internal/crawl"
	"doccrawl/internal/scraper"
)

var exportTime = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

func sampleSnapshot() crawl.Snapshot {
	return crawl.Snapshot{
		ID:     "s1",
		Config: crawl.Config{SeedURL: "https://example.com/docs", MaxPages: 10, MaxDepth: 2, Mode: "raw"},
		State:  crawl.StateCompleted,
		Pages: []crawl.Page{
			{URL: "https://example.com/docs", Title: "Docs", RawContent: "welcome", Depth: 0, Status: crawl.StatusDone},
			{URL: "https://example.com/docs/z", Title: "Zeta", RawContent: "raw z", ExtractedContent: "clean z", Depth: 1, Status: crawl.StatusDone},
			{URL: "https://example.com/docs/a", Title: "Alpha", RawContent: "raw a", Depth: 1, Status: crawl.StatusDone},
			{URL: "https://example.com/docs/a/deep", Title: "Alpha", RawContent: "deep", Depth: 2, Status: crawl.StatusDone},
			{URL: "https://example.com/docs/broken", Depth: 1, Status: crawl.StatusFailed, Error: "timeout"},
			{URL: "https://example.com/docs/later", Depth: 1, Status: crawl.StatusPending},
		},
	}
}

func TestPages_FilterAndOrder(t *testing.T) {
	pages := Pages(sampleSnapshot())
	got := make([]string, 0, len(pages))
	for _, p := range pages {
		got = append(got, p.URL)
	}
	want := []string{
		"https://example.com/docs",
		"https://example.com/docs/a",
		"https://example.com/docs/z",
		"https://example.com/docs/a/deep",
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("pages = %v, want %v", got, want)
	}
}

func TestJSON(t *testing.T) {
	out, err := JSON(sampleSnapshot(), exportTime)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var doc struct {
		Source     string    `json:"source"`
		ExportedAt time.Time `json:"exportedAt"`
		Mode       string    `json:"mode"`
		PageCount  int       `json:"pageCount"`
		Pages      []struct {
			URL     string `json:"url"`
			Title   string `json:"title"`
			Content string `json:"content"`
			Depth   int    `json:"depth"`
		} `json:"pages"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Source != "https://example.com/docs" || doc.Mode != "raw" || !doc.ExportedAt.Equal(exportTime) {
		t.Fatalf("unexpected metadata %+v", doc)
	}
	if doc.PageCount != 4 || len(doc.Pages) != 4 {
		t.Fatalf("expected 4 pages, got %d/%d", doc.PageCount, len(doc.Pages))
	}
	if doc.Pages[2].URL != "https://example.com/docs/z" || doc.Pages[2].Content != "clean z" {
		t.Fatalf("extracted content should win over raw: %+v", doc.Pages[2])
	}
	if doc.Pages[1].Content != "raw a" {
		t.Fatalf("raw content should be used when nothing was extracted: %+v", doc.Pages[1])
	}
}

func TestMarkdown(t *testing.T) {
	out, err := Markdown(sampleSnapshot(), exportTime)
	if err != nil {
		t.Fatalf("Markdown: %v", err)
	}

	for _, want := range []string{
		"# Documentation: example.com/docs",
		"**Source:** https://example.com/docs",
		"**Pages:** 4",
		"## Table of Contents",
		"- [Docs](#docs)",
		"  - [Alpha](#alpha)",
		"    - [Alpha](#alpha-1)",
		`<a id="alpha-1"></a>`,
		"## Zeta",
		"**Source:** [https://example.com/docs/z](https://example.com/docs/z)",
		"clean z",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("markdown missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "broken") || strings.Contains(out, "later") {
		t.Fatalf("only done pages belong in the export:\n%s", out)
	}
	if strings.Index(out, "## Alpha") > strings.Index(out, "## Zeta") {
		t.Fatalf("sections not ordered by depth then url")
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatMarkdown, "MD": FormatMarkdown, "markdown": FormatMarkdown, "json": FormatJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("pdf"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("https://docs.example.com/guide", FormatJSON.Ext(), exportTime); got != "docs.example.com-2026-03-09.json" {
		t.Fatalf("unexpected filename %q", got)
	}
	if got := Filename("::", "md", exportTime); got != "crawl-2026-03-09.md" {
		t.Fatalf("unexpected fallback filename %q", got)
	}
}

type stubFetcher struct{ links []string }

func (f stubFetcher) Fetch(_ context.Context, u string) (*scraper.Result, error) {
	if u == "https://example.com/docs" {
		return &scraper.Result{URL: u, Title: "Docs", Content: "seed", Links: f.links}, nil
	}
	return &scraper.Result{URL: u, Title: u, Content: "body of " + u}, nil
}

func TestJSON_AbortedCrawlExportsDonePagesOnly(t *testing.T) {
	links := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		links = append(links, fmt.Sprintf("/docs/p%d", i))
	}

	var s *crawl.Session
	obs := crawl.ObserverFunc(func(e crawl.Event) {
		if e.Page != nil && e.Page.Status == crawl.StatusDone && e.Stats.Processed == 5 {
			_ = s.Abort()
		}
	})
	var err error
	s, err = crawl.NewSession("abort", crawl.Config{SeedURL: "https://example.com/docs", MaxPages: 20, MaxDepth: 1},
		stubFetcher{links: links}, nil, crawl.WithDelay(0), crawl.WithObserver(obs))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	s.Run(context.Background())

	out, err := JSON(s.Snapshot(), exportTime)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var doc struct {
		PageCount int               `json:"pageCount"`
		Pages     []json.RawMessage `json:"pages"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.PageCount != 5 || len(doc.Pages) != 5 {
		t.Fatalf("expected exactly 5 exported pages, got %d/%d", doc.PageCount, len(doc.Pages))
	}
}
