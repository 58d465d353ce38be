package jobs

import (
	"context"
	"log/slog"
	"time"

	"doccrawl/internal/config"
)

// Runner periodically applies session retention.
type Runner struct {
	cfg    *config.Config
	store  SessionStore
	cache  SessionCache
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner constructs a Runner. st or cache may be nil.
func NewRunner(cfg *config.Config, st SessionStore, cache SessionCache, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		cfg:    cfg,
		store:  st,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// Interval is the time between cleanups.
func (r *Runner) Interval() time.Duration {
	d := time.Duration(r.cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if d <= 0 {
		d = time.Hour
	}
	return d
}

// Start runs cleanups until ctx is done. It cleans once immediately.
// Callers typically run this in its own goroutine.
func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Retention.Enabled {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.Interval())
	defer ticker.Stop()

	for {
		r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single cleanup and logs its outcome.
func (r *Runner) RunOnce(ctx context.Context) RetentionStats {
	stats, err := CleanupExpiredSessions(ctx, r.cfg, r.store, r.cache, r.now())
	if err != nil {
		r.logger.Warn("retention cleanup failed", "error", err)
		return stats
	}
	if stats.StoredDeleted > 0 || stats.InMemoryDropped > 0 {
		r.logger.Info("retention cleanup",
			"stored_deleted", stats.StoredDeleted,
			"in_memory_dropped", stats.InMemoryDropped,
		)
	}
	return stats
}
