package crawl

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns the crawl sessions of a process. Every Start builds a fresh
// Session with its own loop goroutine.
type Manager struct {
	fetcher   PageFetcher
	extractor Extractor
	opts      []Option
	settings  settings

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewManager applies opts to every session it starts.
func NewManager(fetcher PageFetcher, extractor Extractor, opts ...Option) *Manager {
	st := defaultSettings()
	for _, opt := range opts {
		opt(&st)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		fetcher:   fetcher,
		extractor: extractor,
		opts:      opts,
		settings:  st,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
	}
}

// Start validates cfg, registers a new session and launches its loop. ctx
// only bounds setup work such as loading robots.txt; the loop itself runs
// until it finishes or the manager is closed.
func (m *Manager) Start(ctx context.Context, cfg Config, extra ...Option) (*Session, error) {
	opts := append(append([]Option(nil), m.opts...), extra...)

	s, err := NewSession(uuidMustV7().String(), cfg, m.fetcher, m.extractor, opts...)
	if err != nil {
		return nil, err
	}

	// The loop has not started yet, so the policy can still be swapped in.
	if m.settings.robotsLoader != nil {
		seed := s.Config().SeedURL
		policy, err := m.settings.robotsLoader(ctx, seed)
		if err != nil {
			m.settings.logger.Warn("robots.txt unavailable, crawling without it", "seed", seed, "error", err)
		} else if policy != nil {
			s.settings.policy = policy
		}
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.Run(m.ctx)
	}()

	return s, nil
}

// Get returns the in-memory session for id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns snapshots without page bodies, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snap := s.Snapshot()
		snap.Pages = nil
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (m *Manager) Pause(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Pause()
}

func (m *Manager) Resume(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Resume()
}

func (m *Manager) Abort(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Abort()
}

// Forget drops a finished session from memory. Running sessions are kept.
func (m *Manager) Forget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if st, _ := s.State(); !st.Finished() {
		return ErrSessionRunning
	}
	delete(m.sessions, id)
	return nil
}

// ForgetFinishedBefore drops finished sessions that ended before cutoff and
// returns how many were removed.
func (m *Manager) ForgetFinishedBefore(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if at := s.FinishedAt(); at != nil && at.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Close aborts every running session and waits for their loops to exit or
// ctx to expire. A page that is being fetched finishes before its loop
// stops.
func (m *Manager) Close(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func uuidMustV7() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
