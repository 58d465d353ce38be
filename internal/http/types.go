package http

import "doccrawl/internal/crawl"

// CrawlRequest starts a crawl. Omitted limits and mode use the configured
// defaults.
type CrawlRequest struct {
	URL        string `json:"url"`
	PathFilter string `json:"pathFilter,omitempty"`
	MaxPages   *int   `json:"maxPages,omitempty"`
	MaxDepth   *int   `json:"maxDepth,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

// CrawlResponse is returned by the start and control endpoints.
type CrawlResponse struct {
	Success bool        `json:"success"`
	ID      string      `json:"id,omitempty"`
	URL     string      `json:"url,omitempty"`
	State   crawl.State `json:"state,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CrawlStatusResponse carries a full session snapshot.
type CrawlStatusResponse struct {
	Success bool            `json:"success"`
	Data    *crawl.Snapshot `json:"data,omitempty"`
}

// CrawlListResponse lists sessions without pages.
type CrawlListResponse struct {
	Success bool             `json:"success"`
	Data    []crawl.Snapshot `json:"data"`
}

// ErrorResponse is the error envelope shared by every endpoint.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}
