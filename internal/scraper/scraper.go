package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
)

// ErrLoadTimeout is returned by Fetch when the render target does not
// reach load-complete within the configured timeout.
var ErrLoadTimeout = errors.New("page load timed out")

const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// DefaultLoadTimeout bounds WaitLoad when no timeout is configured.
const DefaultLoadTimeout = 20 * time.Second

// Content is what the extraction step pulls out of a loaded page.
type Content struct {
	Title string   `json:"title"`
	Text  string   `json:"text"`
	HTML  string   `json:"html"`
	Links []string `json:"links"`
}

// Browser opens render targets. Implementations must be safe to reuse
// across sequential Open calls.
type Browser interface {
	Open(ctx context.Context, url string) (RenderTarget, error)
	Close() error
}

// RenderTarget is one loaded page instance.
type RenderTarget interface {
	WaitLoad(ctx context.Context) error
	Extract(ctx context.Context) (*Content, error)
	Close() error
}

// Result is the fetched portion of a crawl page.
type Result struct {
	URL     string
	Title   string
	Content string
	Links   []string
}

// Fetcher drives a Browser through open, wait, extract and close for a
// single URL.
type Fetcher struct {
	browser     Browser
	loadTimeout time.Duration
	format      string
}

func NewFetcher(browser Browser, loadTimeout time.Duration, format string) *Fetcher {
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	if format == "" {
		format = FormatText
	}
	return &Fetcher{browser: browser, loadTimeout: loadTimeout, format: format}
}

// Fetch loads pageURL and returns its title, text content and links. The
// render target is closed before Fetch returns, whatever the outcome.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	target, err := f.browser.Open(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("open render target: %w", err)
	}
	defer func() { _ = target.Close() }()

	loadCtx, cancel := context.WithTimeout(ctx, f.loadTimeout)
	err = target.WaitLoad(loadCtx)
	timedOut := errors.Is(loadCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	if err != nil {
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrLoadTimeout, f.loadTimeout)
		}
		return nil, fmt.Errorf("wait for load: %w", err)
	}

	content, err := target.Extract(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}

	text := content.Text
	if f.format == FormatMarkdown && strings.TrimSpace(content.HTML) != "" {
		if md, err := toMarkdown(content.HTML, pageURL); err == nil && strings.TrimSpace(md) != "" {
			text = md
		}
	}

	return &Result{
		URL:     pageURL,
		Title:   strings.TrimSpace(content.Title),
		Content: text,
		Links:   content.Links,
	}, nil
}

func toMarkdown(html, pageURL string) (string, error) {
	domain := ""
	if u, err := url.Parse(pageURL); err == nil {
		domain = u.Hostname()
	}
	converter := htmlmd.NewConverter(domain, true, nil)
	return converter.ConvertString(html)
}

// decodeContent parses the JSON string returned by the injected extractor.
func decodeContent(raw string) (*Content, error) {
	if raw == "" {
		return nil, errors.New("extractor returned no data")
	}
	var c Content
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode extractor result: %w", err)
	}
	return &c, nil
}
