package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"doccrawl/internal/crawler"
	"doccrawl/internal/extract"
	"doccrawl/internal/metrics"
)

type frontierEntry struct {
	url   string
	depth int
}

// Session is one crawl: its frontier, visited set, page map and control
// state. The loop in Run is the only writer of the crawl data; other
// goroutines read it through Snapshot and steer it with Pause, Resume and
// Abort.
type Session struct {
	id        string
	cfg       Config
	base      string
	fetcher   PageFetcher
	extractor Extractor
	settings  settings
	logger    *slog.Logger

	abortCtx context.Context
	abort    context.CancelFunc
	started  sync.Once
	done     chan struct{}

	mu         sync.Mutex
	state      State
	action     string
	paused     bool
	resumeCh   chan struct{}
	pages      map[string]*Page
	order      []string
	visited    map[string]struct{}
	frontier   []frontierEntry
	stats      Stats
	startedAt  time.Time
	finishedAt *time.Time
}

// NewSession validates cfg and seeds the frontier with the canonical seed
// URL. Only configuration problems are returned as errors.
func NewSession(id string, cfg Config, fetcher PageFetcher, extractor Extractor, opts ...Option) (*Session, error) {
	seed, ok := crawler.Canonicalize(cfg.SeedURL, "")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSeed, cfg.SeedURL)
	}
	if cfg.MaxPages <= 0 {
		return nil, fmt.Errorf("%w: maxPages must be positive", ErrInvalidConfig)
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("%w: maxDepth must not be negative", ErrInvalidConfig)
	}
	mode, err := extract.ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode
	cfg.SeedURL = seed
	if fetcher == nil {
		return nil, errors.New("crawl: nil fetcher")
	}

	st := defaultSettings()
	for _, opt := range opts {
		opt(&st)
	}

	abortCtx, abort := context.WithCancel(context.Background())

	s := &Session{
		id:        id,
		cfg:       cfg,
		base:      seed,
		fetcher:   fetcher,
		extractor: extractor,
		settings:  st,
		logger:    st.logger.With("session_id", id),
		abortCtx:  abortCtx,
		abort:     abort,
		done:      make(chan struct{}),
		state:     StateRunning,
		action:    "Starting",
		resumeCh:  make(chan struct{}),
		pages:     make(map[string]*Page),
		visited:   make(map[string]struct{}),
		startedAt: time.Now().UTC(),
	}

	s.visited[seed] = struct{}{}
	s.pages[seed] = &Page{URL: seed, Depth: 0, Status: StatusPending}
	s.order = append(s.order, seed)
	s.frontier = append(s.frontier, frontierEntry{url: seed, depth: 0})
	s.recomputeStats()

	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Config() Config { return s.cfg }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run executes the crawl loop until the frontier is exhausted, the page cap
// is reached or the session is aborted. Cancelling ctx counts as an abort.
// Both take effect at the next iteration boundary: an in-flight fetch is
// never cancelled and is bounded by the fetcher's load timeout. Extraction
// runs under ctx and falls back to raw content when ctx ends. Run only
// executes once per session.
func (s *Session) Run(ctx context.Context) {
	ran := false
	s.started.Do(func() {
		ran = true
		s.run(ctx)
	})
	if !ran {
		<-s.done
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.abort()

	s.logger.Info("crawl started",
		"seed", s.cfg.SeedURL,
		"max_pages", s.cfg.MaxPages,
		"max_depth", s.cfg.MaxDepth,
		"mode", string(s.cfg.Mode),
	)
	s.emit(s.sessionEvent())

	for {
		if s.aborted(ctx) {
			s.finish(StateAborted)
			return
		}

		if !s.waitWhilePaused(ctx) {
			s.finish(StateAborted)
			return
		}

		entry, ok := s.next()
		if !ok {
			s.finish(StateCompleted)
			return
		}

		s.crawlPage(ctx, entry)
		s.politeDelay(ctx)
	}
}

func (s *Session) aborted(ctx context.Context) bool {
	return s.abortCtx.Err() != nil || ctx.Err() != nil
}

// next dequeues the head of the frontier, honouring the page cap. Entries
// whose page already settled are skipped.
func (s *Session) next() (frontierEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.stats.Crawled >= s.cfg.MaxPages {
			return frontierEntry{}, false
		}
		if len(s.frontier) == 0 {
			return frontierEntry{}, false
		}
		entry := s.frontier[0]
		s.frontier[0] = frontierEntry{}
		s.frontier = s.frontier[1:]

		if p, ok := s.pages[entry.url]; ok && p.Status.Terminal() {
			continue
		}
		return entry, true
	}
}

func (s *Session) crawlPage(ctx context.Context, entry frontierEntry) {
	s.transition(entry.url, "Crawling "+entry.url, func(p *Page) {
		p.Status = StatusCrawling
	})

	res, err := s.fetcher.Fetch(context.WithoutCancel(ctx), entry.url)
	if err != nil {
		s.logger.Warn("page failed", "url", entry.url, "depth", entry.depth, "error", err)
		metrics.RecordPage(string(StatusFailed))
		s.transition(entry.url, "Failed "+entry.url, func(p *Page) {
			p.Status = StatusFailed
			p.Error = err.Error()
		})
		return
	}

	links := dedupe(res.Links)
	s.transition(entry.url, "Extracting "+entry.url, func(p *Page) {
		p.Status = StatusProcessing
		p.Title = res.Title
		p.RawContent = res.Content
		p.Links = links
	})

	extracted := res.Content
	if s.cfg.Mode.UsesLLM() {
		if s.extractor != nil {
			extracted = s.extractor.Extract(ctx, res.Content, res.Title, entry.url, s.cfg.Mode)
		} else {
			extracted = extract.Fallback(res.Content)
		}
	}

	metrics.RecordPage(string(StatusDone))
	s.transition(entry.url, "Processed "+entry.url, func(p *Page) {
		p.Status = StatusDone
		p.ExtractedContent = extracted
		p.Timestamp = time.Now().UTC()
	})
	s.logger.Debug("page done", "url", entry.url, "depth", entry.depth, "links", len(links))

	if entry.depth < s.cfg.MaxDepth {
		s.enqueue(entry.url, entry.depth+1, links)
	}
}

// transition mutates one page under the lock, recomputes stats and emits
// the resulting event.
func (s *Session) transition(url, action string, mutate func(*Page)) {
	s.mu.Lock()
	p := s.pages[url]
	mutate(p)
	s.action = action
	s.recomputeStats()
	ev := s.eventLocked(p)
	s.mu.Unlock()

	s.emit(ev)
}

// enqueue admits discovered links in order. Each link is canonicalized
// against the page it was found on, then checked against the visited set,
// the scope filter and the optional link policy.
func (s *Session) enqueue(pageURL string, depth int, links []string) {
	var events []Event

	s.mu.Lock()
	for _, raw := range links {
		u, ok := crawler.Canonicalize(raw, pageURL)
		if !ok {
			continue
		}
		if _, seen := s.visited[u]; seen {
			continue
		}
		if !crawler.InScope(u, s.base, s.cfg.PathFilter) {
			continue
		}
		if s.settings.policy != nil && !s.settings.policy.Allowed(u) {
			continue
		}

		s.visited[u] = struct{}{}
		p := &Page{URL: u, Depth: depth, Status: StatusPending}
		s.pages[u] = p
		s.order = append(s.order, u)
		s.frontier = append(s.frontier, frontierEntry{url: u, depth: depth})
		s.recomputeStats()
		events = append(events, s.eventLocked(p))
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.emit(ev)
	}
}

// waitWhilePaused blocks while a pause is requested. It returns false when
// the session is aborted while waiting.
func (s *Session) waitWhilePaused(ctx context.Context) bool {
	for {
		s.mu.Lock()
		if !s.paused {
			resumed := s.state == StatePaused
			if resumed {
				s.state = StateRunning
				s.action = "Resumed"
			}
			ev := s.eventLocked(nil)
			s.mu.Unlock()
			if resumed {
				s.logger.Info("crawl resumed")
				s.emit(ev)
			}
			return true
		}

		ch := s.resumeCh
		entered := s.state != StatePaused
		if entered {
			s.state = StatePaused
			s.action = "Paused"
		}
		ev := s.eventLocked(nil)
		s.mu.Unlock()

		if entered {
			s.logger.Info("crawl paused")
			s.emit(ev)
		}

		select {
		case <-s.abortCtx.Done():
			return false
		case <-ctx.Done():
			return false
		case <-ch:
		}
	}
}

func (s *Session) politeDelay(ctx context.Context) {
	if s.settings.delay <= 0 {
		return
	}
	t := time.NewTimer(s.settings.delay)
	defer t.Stop()
	select {
	case <-s.abortCtx.Done():
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *Session) finish(state State) {
	s.mu.Lock()
	now := time.Now().UTC()
	s.state = state
	s.finishedAt = &now
	s.paused = false
	if state == StateCompleted {
		s.action = fmt.Sprintf("Completed: %d pages", s.stats.Processed)
	} else {
		s.action = "Aborted"
	}
	stats := s.stats
	ev := s.eventLocked(nil)
	s.mu.Unlock()

	metrics.RecordSession(string(state))
	s.logger.Info("crawl finished",
		"state", string(state),
		"processed", stats.Processed,
		"failed", stats.Failed,
		"discovered", stats.Discovered,
	)
	s.emit(ev)
}

// Pause asks the loop to stop after the current page.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Finished() {
		return ErrNotRunning
	}
	s.paused = true
	return nil
}

// Resume releases a paused loop. Resuming a running session is a no-op.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Finished() {
		return ErrNotRunning
	}
	if !s.paused {
		return nil
	}
	s.paused = false
	close(s.resumeCh)
	s.resumeCh = make(chan struct{})
	return nil
}

// Abort stops the loop at the next iteration boundary. Pending pages stay
// pending.
func (s *Session) Abort() error {
	s.mu.Lock()
	finished := s.state.Finished()
	s.mu.Unlock()
	if finished {
		return ErrNotRunning
	}
	s.abort()
	return nil
}

// Snapshot returns a copy of the session with pages in discovery order.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	pages := make([]Page, 0, len(s.order))
	for _, u := range s.order {
		pages = append(pages, s.pages[u].clone())
	}

	return Snapshot{
		ID:            s.id,
		Config:        s.cfg,
		State:         s.state,
		CurrentAction: s.action,
		Stats:         s.stats,
		StartedAt:     s.startedAt,
		FinishedAt:    s.finishedAt,
		Pages:         pages,
	}
}

// State returns the session state and current action.
func (s *Session) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.action
}

// FinishedAt is nil until the loop has stopped.
func (s *Session) FinishedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt
}

func (s *Session) recomputeStats() {
	st := Stats{Discovered: len(s.visited)}
	for _, p := range s.pages {
		switch p.Status {
		case StatusDone:
			st.Processed++
			st.OutputChars += utf8.RuneCountInString(p.Content())
		case StatusFailed:
			st.Failed++
		}
	}
	st.Crawled = st.Processed + st.Failed
	s.stats = st
}

func (s *Session) sessionEvent() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventLocked(nil)
}

func (s *Session) eventLocked(p *Page) Event {
	ev := Event{
		SessionID:  s.id,
		Config:     s.cfg,
		State:      s.state,
		Action:     s.action,
		Stats:      s.stats,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
	}
	if p != nil {
		cp := p.clone()
		ev.Page = &cp
	}
	return ev
}

func (s *Session) emit(ev Event) {
	for _, o := range s.settings.observers {
		o.Observe(ev)
	}
}

func dedupe(links []string) []string {
	if len(links) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, l := range links {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
