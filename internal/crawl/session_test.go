package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"doccrawl/internal/extract"
	"doccrawl/internal/llm"
	"doccrawl/internal/scraper"
)

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]*scraper.Result
	errs    map[string]error
	fetched []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]*scraper.Result{}, errs: map[string]error{}}
}

func (f *fakeFetcher) add(url, title, content string, links ...string) {
	f.pages[url] = &scraper.Result{URL: url, Title: title, Content: content, Links: links}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*scraper.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if res, ok := f.pages[url]; ok {
		return res, nil
	}
	return &scraper.Result{URL: url, Title: url, Content: "content of " + url}, nil
}

func (f *fakeFetcher) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func runSession(t *testing.T, cfg Config, f PageFetcher, x Extractor, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithDelay(0)}, opts...)
	s, err := NewSession("test", cfg, f, x, opts...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("crawl did not finish")
	}
	return s
}

// gateFetcher holds the first fetch until release is closed and fails it if
// its context was cancelled meanwhile.
type gateFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateFetcher() *gateFetcher {
	return &gateFetcher{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateFetcher) Fetch(ctx context.Context, url string) (*scraper.Result, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &scraper.Result{URL: url, Title: "Docs", Content: "seed"}, nil
}

func pageByURL(snap Snapshot, url string) (Page, bool) {
	for _, p := range snap.Pages {
		if p.URL == url {
			return p, true
		}
	}
	return Page{}, false
}

func TestNewSession_ConfigErrors(t *testing.T) {
	f := newFakeFetcher()
	cases := map[string]Config{
		"relative seed": {SeedURL: "/docs", MaxPages: 1},
		"bad scheme":    {SeedURL: "ftp://example.com/docs", MaxPages: 1},
		"malformed":     {SeedURL: "http://[::1", MaxPages: 1},
	}
	for name, cfg := range cases {
		if _, err := NewSession("x", cfg, f, nil); !errors.Is(err, ErrInvalidSeed) {
			t.Fatalf("%s: expected ErrInvalidSeed, got %v", name, err)
		}
	}
	if _, err := NewSession("x", Config{SeedURL: "https://example.com", MaxPages: 0}, f, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewSession("x", Config{SeedURL: "https://example.com", MaxPages: 1, Mode: "fancy"}, f, nil); !errors.Is(err, extract.ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}

func TestSession_ScopeAndFragmentDedupe(t *testing.T) {
	f := newFakeFetcher()
	f.add("https://example.com/docs", "Docs", "seed",
		"https://example.com/docs/a",
		"https://example.com/blog/x",
		"https://example.com/docs/a#section",
	)

	s := runSession(t, Config{SeedURL: "https://example.com/docs", MaxPages: 10, MaxDepth: 1}, f, nil)
	snap := s.Snapshot()

	if snap.State != StateCompleted {
		t.Fatalf("expected completed, got %s", snap.State)
	}
	if len(snap.Pages) != 2 || snap.Pages[1].URL != "https://example.com/docs/a" {
		t.Fatalf("unexpected pages: %+v", snap.Pages)
	}
	if snap.Stats.Discovered != 2 || snap.Stats.Processed != 2 {
		t.Fatalf("unexpected stats: %+v", snap.Stats)
	}
	if snap.CurrentAction != "Completed: 2 pages" {
		t.Fatalf("unexpected action %q", snap.CurrentAction)
	}
}

func TestSession_DotSegmentLinks(t *testing.T) {
	f := newFakeFetcher()
	f.add("https://example.com/docs", "Docs", "seed",
		"https://example.com/docs/../admin/panel",
		"https://example.com/docs/./a",
		"https://example.com/docs/a",
	)

	s := runSession(t, Config{SeedURL: "https://example.com/docs", MaxPages: 10, MaxDepth: 1}, f, nil)

	got := f.order()
	want := []string{"https://example.com/docs", "https://example.com/docs/a"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("fetched %v, want %v", got, want)
	}
	if _, ok := pageByURL(s.Snapshot(), "https://example.com/admin/panel"); ok {
		t.Fatalf("link outside the seed path was queued")
	}
}

func TestSession_CancelDuringFetchKeepsPage(t *testing.T) {
	g := newGateFetcher()
	s, err := NewSession("cancel", Config{SeedURL: "https://example.com/docs", MaxPages: 5}, g, nil, WithDelay(0))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	<-g.started
	cancel()
	close(g.release)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("crawl did not stop")
	}

	snap := s.Snapshot()
	if snap.State != StateAborted {
		t.Fatalf("expected aborted, got %s", snap.State)
	}
	p, ok := pageByURL(snap, "https://example.com/docs")
	if !ok || p.Status != StatusDone || p.Error != "" {
		t.Fatalf("in-flight page should finish, got %+v", p)
	}
}

func TestSession_FIFOOrder(t *testing.T) {
	f := newFakeFetcher()
	f.add("https://example.com/docs", "Docs", "seed",
		"/docs/c", "/docs/a", "/docs/b",
	)
	f.add("https://example.com/docs/c", "C", "c", "/docs/c/deep")

	runSession(t, Config{SeedURL: "https://example.com/docs", MaxPages: 10, MaxDepth: 2}, f, nil)

	want := []string{
		"https://example.com/docs",
		"https://example.com/docs/c",
		"https://example.com/docs/a",
		"https://example.com/docs/b",
		"https://example.com/docs/c/deep",
	}
	got := f.order()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("fetch order = %v, want %v", got, want)
	}
}

func TestSession_Limits(t *testing.T) {
	f := newFakeFetcher()
	links := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		links = append(links, fmt.Sprintf("/docs/p%d", i))
	}
	f.add("https://example.com/docs", "Docs", "seed", links...)
	f.add("https://example.com/docs/p0", "P0", "p0", "/docs/p0/deeper")

	s := runSession(t, Config{SeedURL: "https://example.com/docs", MaxPages: 3, MaxDepth: 1}, f, nil)
	snap := s.Snapshot()

	if snap.Stats.Crawled != 3 {
		t.Fatalf("expected 3 crawled pages, got %+v", snap.Stats)
	}
	for _, p := range snap.Pages {
		if p.Depth > 1 {
			t.Fatalf("page %s exceeds max depth", p.URL)
		}
	}
	if _, ok := pageByURL(snap, "https://example.com/docs/p0/deeper"); ok {
		t.Fatalf("links of a max-depth page must not be queued")
	}
	pending := 0
	for _, p := range snap.Pages {
		if p.Status == StatusPending {
			pending++
		}
	}
	if pending != 6 {
		t.Fatalf("expected 6 pending pages, got %d", pending)
	}
}

func TestSession_DepthZeroCrawlsOnlySeed(t *testing.T) {
	f := newFakeFetcher()
	f.add("https://example.com/docs", "Docs", "seed", "/docs/a")

	s := runSession(t, Config{SeedURL: "https://example.com/docs", MaxPages: 10, MaxDepth: 0}, f, nil)
	if snap := s.Snapshot(); len(snap.Pages) != 1 {
		t.Fatalf("expected only the seed, got %d pages", len(snap.Pages))
	}
}

func TestSession_FailedPageContinues(t *testing.T) {
	f := newFakeFetcher()
	f.add("https://example.com/docs", "Docs", "seed", "/docs/slow", "/docs/ok")
	f.errs["https://example.com/docs/slow"] = fmt.Errorf("fetch: %w", scraper.ErrLoadTimeout)

	s := runSession(t, Config{SeedURL: "https://example.com/docs", MaxPages: 10, MaxDepth: 3}, f, nil)
	snap := s.Snapshot()

	slow, _ := pageByURL(snap, "https://example.com/docs/slow")
	if slow.Status != StatusFailed || slow.Error == "" {
		t.Fatalf("expected failed page with error, got %+v", slow)
	}
	ok, _ := pageByURL(snap, "https://example.com/docs/ok")
	if ok.Status != StatusDone {
		t.Fatalf("expected crawl to continue past the failure, got %+v", ok)
	}
	if snap.Stats.Failed != 1 || snap.Stats.Processed != 2 || snap.State != StateCompleted {
		t.Fatalf("unexpected final state %s %+v", snap.State, snap.Stats)
	}
}

func TestSession_ObserverSeesTransitions(t *testing.T) {
	f := newFakeFetcher()
	var mu sync.Mutex
	var statuses []PageStatus
	obs := ObserverFunc(func(e Event) {
		if e.Page != nil && e.Page.URL == "https://example.com/docs" {
			mu.Lock()
			statuses = append(statuses, e.Page.Status)
			mu.Unlock()
		}
	})

	runSession(t, Config{SeedURL: "https://example.com/docs", MaxPages: 1, MaxDepth: 0}, f, nil, WithObserver(obs))

	want := []PageStatus{StatusCrawling, StatusProcessing, StatusDone}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(statuses) != fmt.Sprint(want) {
		t.Fatalf("transitions = %v, want %v", statuses, want)
	}
}

type failingLLM struct{}

func (failingLLM) Generate(context.Context, llm.GenerateRequest) (string, error) {
	return "", errors.New("service unavailable")
}

func TestSession_ExtractionFallback(t *testing.T) {
	long := strings.Repeat("word ", 4000)
	f := newFakeFetcher()
	f.add("https://example.com/docs", "Docs", long, "/docs/a")
	f.add("https://example.com/docs/a", "A", long)

	pipeline := extract.NewPipeline(failingLLM{}, extract.Options{})
	s := runSession(t, Config{SeedURL: "https://example.com/docs", MaxPages: 5, MaxDepth: 1, Mode: extract.ModeSmart}, f, pipeline)
	snap := s.Snapshot()

	if snap.State != StateCompleted {
		t.Fatalf("expected completed, got %s", snap.State)
	}
	for _, p := range snap.DonePages() {
		if p.ExtractedContent != extract.Fallback(p.RawContent) {
			t.Fatalf("page %s did not fall back to truncated raw content", p.URL)
		}
		if utf8.RuneCountInString(p.ExtractedContent) != extract.FallbackChars {
			t.Fatalf("unexpected fallback length %d", utf8.RuneCountInString(p.ExtractedContent))
		}
	}
	if snap.Stats.OutputChars != 2*extract.FallbackChars {
		t.Fatalf("unexpected output chars %d", snap.Stats.OutputChars)
	}
}

func TestSession_AbortLeavesPendingPages(t *testing.T) {
	f := newFakeFetcher()
	links := []string{"/docs/a", "/docs/b", "/docs/c", "/docs/d", "/docs/e", "/docs/f", "/docs/g"}
	f.add("https://example.com/docs", "Docs", "seed", links...)

	var s *Session
	obs := ObserverFunc(func(e Event) {
		if e.Page != nil && e.Page.Status == StatusDone && e.Stats.Processed == 5 {
			_ = s.Abort()
		}
	})
	var err error
	s, err = NewSession("abort", Config{SeedURL: "https://example.com/docs", MaxPages: 20, MaxDepth: 1}, f, nil, WithDelay(0), WithObserver(obs))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	s.Run(context.Background())

	snap := s.Snapshot()
	if snap.State != StateAborted || snap.CurrentAction != "Aborted" {
		t.Fatalf("expected aborted, got %s %q", snap.State, snap.CurrentAction)
	}
	done, pending := 0, 0
	for _, p := range snap.Pages {
		switch p.Status {
		case StatusDone:
			done++
		case StatusPending:
			pending++
		default:
			t.Fatalf("unexpected status %s for %s", p.Status, p.URL)
		}
	}
	if done != 5 || pending != 3 {
		t.Fatalf("expected 5 done and 3 pending, got %d and %d", done, pending)
	}
	if len(f.order()) != 5 {
		t.Fatalf("expected 5 fetches, got %d", len(f.order()))
	}
	if err := s.Abort(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after finish, got %v", err)
	}
}

func TestSession_PauseResume(t *testing.T) {
	f := newFakeFetcher()
	f.add("https://example.com/docs", "Docs", "seed", "/docs/a", "/docs/b")

	var s *Session
	obs := ObserverFunc(func(e Event) {
		if e.Page != nil && e.Page.URL == "https://example.com/docs" && e.Page.Status == StatusDone {
			_ = s.Pause()
		}
	})
	var err error
	s, err = NewSession("pause", Config{SeedURL: "https://example.com/docs", MaxPages: 10, MaxDepth: 1}, f, nil, WithDelay(0), WithObserver(obs))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	go s.Run(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, _ := s.State(); st == StatePaused {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never paused")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, action := s.State(); action != "Paused" {
		t.Fatalf("expected Paused action, got %q", action)
	}
	if n := len(f.order()); n != 1 {
		t.Fatalf("expected no fetches while paused, got %d", n)
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish after resume")
	}
	if snap := s.Snapshot(); snap.State != StateCompleted || snap.Stats.Processed != 3 {
		t.Fatalf("unexpected final snapshot %s %+v", snap.State, snap.Stats)
	}
}

func TestSession_AbortWhilePaused(t *testing.T) {
	f := newFakeFetcher()
	s, err := NewSession("x", Config{SeedURL: "https://example.com/docs", MaxPages: 10}, f, nil, WithDelay(0))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	go s.Run(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, _ := s.State(); st == StatePaused {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never paused")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	<-s.Done()
	if st, _ := s.State(); st != StateAborted {
		t.Fatalf("expected aborted, got %s", st)
	}
	if len(f.order()) != 0 {
		t.Fatalf("no page should be fetched")
	}
}

type denyPolicy string

func (d denyPolicy) Allowed(url string) bool { return !strings.Contains(url, string(d)) }

func TestSession_LinkPolicy(t *testing.T) {
	f := newFakeFetcher()
	f.add("https://example.com/docs", "Docs", "seed", "/docs/private", "/docs/public")

	s := runSession(t, Config{SeedURL: "https://example.com/docs", MaxPages: 10, MaxDepth: 1}, f, nil, WithLinkPolicy(denyPolicy("private")))
	if _, ok := pageByURL(s.Snapshot(), "https://example.com/docs/private"); ok {
		t.Fatalf("policy-denied link was queued")
	}
	if _, ok := pageByURL(s.Snapshot(), "https://example.com/docs/public"); !ok {
		t.Fatalf("allowed link was not queued")
	}
}
