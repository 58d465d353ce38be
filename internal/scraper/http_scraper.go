package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTTPBrowser is a Browser without JavaScript: a page is loaded with a
// plain GET and extracted with goquery.
type HTTPBrowser struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

func NewHTTPBrowser(client *http.Client, userAgent string, maxBodyBytes int64) *HTTPBrowser {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPBrowser{client: client, userAgent: userAgent, maxBodyBytes: maxBodyBytes}
}

func (b *HTTPBrowser) Open(_ context.Context, pageURL string) (RenderTarget, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("url %q is not absolute", pageURL)
	}
	return &httpTarget{browser: b, url: u}, nil
}

func (b *HTTPBrowser) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

type httpTarget struct {
	browser *HTTPBrowser
	url     *url.URL
	doc     *goquery.Document
}

// WaitLoad performs the request; the page counts as loaded once the body
// has been read and parsed.
func (t *httpTarget) WaitLoad(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if t.browser.userAgent != "" {
		req.Header.Set("User-Agent", t.browser.userAgent)
	}

	resp, err := t.browser.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil && !strings.Contains(mediaType, "html") {
			return fmt.Errorf("unsupported content type %q", mediaType)
		}
	}

	var body io.Reader = resp.Body
	if t.browser.maxBodyBytes > 0 {
		body = io.LimitReader(resp.Body, t.browser.maxBodyBytes)
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	if resp.Request != nil && resp.Request.URL != nil {
		t.url = resp.Request.URL
	}
	t.doc = doc
	return nil
}

func (t *httpTarget) Extract(_ context.Context) (*Content, error) {
	if t.doc == nil {
		return nil, errors.New("page not loaded")
	}
	return extractDocument(t.doc, t.url), nil
}

func (t *httpTarget) Close() error {
	t.doc = nil
	return nil
}
