package crawl

import (
	"context"
	"log/slog"
	"time"
)

// DefaultDelay is the pause between two page fetches.
const DefaultDelay = 300 * time.Millisecond

// RobotsLoader builds a LinkPolicy for a seed URL. Manager calls it once per
// session when configured.
type RobotsLoader func(ctx context.Context, seedURL string) (LinkPolicy, error)

type settings struct {
	delay        time.Duration
	observers    []Observer
	policy       LinkPolicy
	robotsLoader RobotsLoader
	logger       *slog.Logger
}

func defaultSettings() settings {
	return settings{
		delay:  DefaultDelay,
		logger: slog.New(slog.DiscardHandler),
	}
}

// Option customizes a Session or every session started by a Manager.
type Option func(*settings)

// WithDelay sets the inter-page delay. Zero or negative disables it.
func WithDelay(d time.Duration) Option {
	return func(s *settings) {
		if d < 0 {
			d = 0
		}
		s.delay = d
	}
}

// WithObserver registers observers, called in registration order.
func WithObserver(obs ...Observer) Option {
	return func(s *settings) {
		for _, o := range obs {
			if o != nil {
				s.observers = append(s.observers, o)
			}
		}
	}
}

// WithLinkPolicy adds an admission check for discovered links.
func WithLinkPolicy(p LinkPolicy) Option {
	return func(s *settings) { s.policy = p }
}

// WithRobotsLoader makes Manager.Start build a LinkPolicy per session.
func WithRobotsLoader(l RobotsLoader) Option {
	return func(s *settings) { s.robotsLoader = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
