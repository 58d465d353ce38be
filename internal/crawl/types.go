package crawl

import (
	"context"
	"errors"
	"time"

	"doccrawl/internal/extract"
	"doccrawl/internal/scraper"
)

var (
	// ErrInvalidSeed is returned when the seed URL cannot be used.
	ErrInvalidSeed = errors.New("invalid seed url")
	// ErrInvalidConfig is returned for non-positive limits.
	ErrInvalidConfig = errors.New("invalid crawl config")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("crawl session not found")
	// ErrNotRunning is returned when controlling a finished session.
	ErrNotRunning = errors.New("crawl session is not running")
	// ErrSessionRunning is returned when forgetting a session that has not finished.
	ErrSessionRunning = errors.New("crawl session is still running")
)

// PageStatus is the lifecycle state of one page.
type PageStatus string

const (
	StatusPending    PageStatus = "pending"
	StatusCrawling   PageStatus = "crawling"
	StatusProcessing PageStatus = "processing"
	StatusDone       PageStatus = "done"
	StatusFailed     PageStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s PageStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// State is the lifecycle state of a crawl session.
type State string

const (
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Finished reports whether the session loop has stopped.
func (s State) Finished() bool {
	return s == StateCompleted || s == StateAborted
}

// Config is fixed for the lifetime of a crawl.
type Config struct {
	SeedURL    string       `json:"seedUrl"`
	PathFilter string       `json:"pathFilter,omitempty"`
	MaxPages   int          `json:"maxPages"`
	MaxDepth   int          `json:"maxDepth"`
	Mode       extract.Mode `json:"mode"`
}

// Page is one canonical URL within a crawl.
type Page struct {
	URL              string     `json:"url"`
	Title            string     `json:"title"`
	RawContent       string     `json:"rawContent,omitempty"`
	ExtractedContent string     `json:"extractedContent,omitempty"`
	Links            []string   `json:"links,omitempty"`
	Depth            int        `json:"depth"`
	Status           PageStatus `json:"status"`
	Error            string     `json:"error,omitempty"`
	Timestamp        time.Time  `json:"timestamp,omitzero"`
}

// Content returns the extracted content, or the raw content when no
// extraction result exists.
func (p Page) Content() string {
	if p.ExtractedContent != "" {
		return p.ExtractedContent
	}
	return p.RawContent
}

func (p Page) clone() Page {
	if p.Links != nil {
		p.Links = append([]string(nil), p.Links...)
	}
	return p
}

// Stats is recomputed from the page map after every change.
type Stats struct {
	Discovered  int `json:"discovered"`
	Crawled     int `json:"crawled"`
	Processed   int `json:"processed"`
	Failed      int `json:"failed"`
	OutputChars int `json:"outputChars"`
}

// Snapshot is a read-only copy of a session. Pages are in discovery order.
type Snapshot struct {
	ID            string     `json:"id"`
	Config        Config     `json:"config"`
	State         State      `json:"state"`
	CurrentAction string     `json:"currentAction"`
	Stats         Stats      `json:"stats"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	Pages         []Page     `json:"pages,omitempty"`
}

// DonePages returns the pages that reached StatusDone.
func (s *Snapshot) DonePages() []Page {
	out := make([]Page, 0, len(s.Pages))
	for _, p := range s.Pages {
		if p.Status == StatusDone {
			out = append(out, p)
		}
	}
	return out
}

// Event is delivered to observers after every page transition and session
// state change. Page is nil for session-level events.
type Event struct {
	SessionID  string
	Config     Config
	State      State
	Action     string
	Stats      Stats
	Page       *Page
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Observer receives events synchronously on the crawl loop goroutine. It
// must not block for long and must not call back into the loop other than
// through Pause, Resume and Abort.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// PageFetcher loads one URL. *scraper.Fetcher implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*scraper.Result, error)
}

// Extractor turns raw page text into stored content. *extract.Pipeline
// implements it.
type Extractor interface {
	Extract(ctx context.Context, rawContent, title, url string, mode extract.Mode) string
}

// LinkPolicy is an extra admission check run after the scope filter.
// *crawler.RobotsPolicy implements it.
type LinkPolicy interface {
	Allowed(url string) bool
}
