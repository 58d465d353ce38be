package crawler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	robotstxt "github.com/temoto/robotstxt"
)

// RobotsPolicy answers robots.txt questions for a single origin.
type RobotsPolicy struct {
	group *robotstxt.Group
}

// Allowed reports whether the URL may be fetched. A nil policy allows all.
func (p *RobotsPolicy) Allowed(target string) bool {
	if p == nil || p.group == nil {
		return true
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return p.group.Test(path)
}

// ParseRobots builds a policy from a robots.txt status code and body.
func ParseRobots(statusCode int, body []byte, userAgent string) (*RobotsPolicy, error) {
	data, err := robotstxt.FromStatusAndBytes(statusCode, body)
	if err != nil {
		return nil, err
	}
	return &RobotsPolicy{group: data.FindGroup(userAgent)}, nil
}

// FetchRobots fetches and parses robots.txt for the origin of seedURL.
func FetchRobots(ctx context.Context, client *http.Client, seedURL, userAgent string) (*RobotsPolicy, error) {
	base, err := url.Parse(seedURL)
	if err != nil {
		return nil, err
	}
	if !base.IsAbs() {
		return nil, errors.New("seed url must be absolute")
	}

	robotsURL := &url.URL{
		Scheme: base.Scheme,
		Host:   base.Host,
		Path:   "/robots.txt",
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, err
	}

	return ParseRobots(resp.StatusCode, body, userAgent)
}
