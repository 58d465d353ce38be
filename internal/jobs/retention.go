package jobs

import (
	"context"
	"time"

	"doccrawl/internal/config"
	"doccrawl/internal/metrics"
)

// SessionStore deletes persisted sessions. *store.Store implements it.
type SessionStore interface {
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionCache drops finished in-memory sessions. *crawl.Manager implements it.
type SessionCache interface {
	ForgetFinishedBefore(cutoff time.Time) int
}

// RetentionStats captures the number of sessions removed by one cleanup.
type RetentionStats struct {
	StoredDeleted   int64 `json:"storedDeleted"`
	InMemoryDropped int   `json:"inMemoryDropped"`
}

// CleanupExpiredSessions removes finished sessions older than
// retention.sessionDays from the store and the in-memory manager so that
// neither grows without bound. Either target may be nil.
func CleanupExpiredSessions(ctx context.Context, cfg *config.Config, st SessionStore, cache SessionCache, now time.Time) (RetentionStats, error) {
	var stats RetentionStats
	if cfg.Retention.SessionDays <= 0 {
		return stats, nil
	}
	cutoff := now.UTC().AddDate(0, 0, -cfg.Retention.SessionDays)

	if cache != nil {
		stats.InMemoryDropped = cache.ForgetFinishedBefore(cutoff)
	}

	if st != nil {
		n, err := st.DeleteSessionsBefore(ctx, cutoff)
		if err != nil {
			return stats, err
		}
		stats.StoredDeleted = n
	}

	// The same session usually lives in both places; count it once.
	deleted := stats.StoredDeleted
	if st == nil {
		deleted = int64(stats.InMemoryDropped)
	}
	if deleted > 0 {
		metrics.RecordRetentionSessions(deleted)
	}
	return stats, nil
}
