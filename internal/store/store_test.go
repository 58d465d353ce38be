package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"doccrawl/internal/config"
	"doccrawl/internal/crawl"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "data", "doccrawl.db")
	st, err := Open(context.Background(), config.DatabaseConfig{Driver: DriverSQLite, DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_MirrorsSessionEvents(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cfg := crawl.Config{SeedURL: "https://example.com/docs", PathFilter: "/docs", MaxPages: 10, MaxDepth: 2, Mode: "raw"}
	seed := crawl.Page{URL: "https://example.com/docs", Depth: 0, Status: crawl.StatusPending}

	st.Observe(crawl.Event{SessionID: "s1", Config: cfg, State: crawl.StateRunning, Action: "Starting", Stats: crawl.Stats{Discovered: 1}, Page: &seed, StartedAt: started})

	child := crawl.Page{URL: "https://example.com/docs/a", Depth: 1, Status: crawl.StatusPending}
	st.Observe(crawl.Event{SessionID: "s1", Config: cfg, State: crawl.StateRunning, Stats: crawl.Stats{Discovered: 2}, Page: &child, StartedAt: started})

	seed.Status = crawl.StatusDone
	seed.Title = "Docs"
	seed.RawContent = "welcome"
	seed.Links = []string{"https://example.com/docs/a"}
	seed.Timestamp = started.Add(time.Second)
	finished := started.Add(time.Minute)
	st.Observe(crawl.Event{
		SessionID:  "s1",
		Config:     cfg,
		State:      crawl.StateCompleted,
		Action:     "Completed: 1 pages",
		Stats:      crawl.Stats{Discovered: 2, Crawled: 1, Processed: 1, OutputChars: 7},
		Page:       &seed,
		StartedAt:  started,
		FinishedAt: &finished,
	})

	snap, err := st.GetSnapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.State != crawl.StateCompleted || snap.CurrentAction != "Completed: 1 pages" {
		t.Fatalf("unexpected session state %s %q", snap.State, snap.CurrentAction)
	}
	if snap.Config != cfg {
		t.Fatalf("config round trip: got %+v want %+v", snap.Config, cfg)
	}
	if !snap.StartedAt.Equal(started) || snap.FinishedAt == nil || !snap.FinishedAt.Equal(finished) {
		t.Fatalf("unexpected timestamps %v %v", snap.StartedAt, snap.FinishedAt)
	}
	if snap.Stats.Processed != 1 || snap.Stats.Discovered != 2 {
		t.Fatalf("unexpected stats %+v", snap.Stats)
	}

	if len(snap.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(snap.Pages))
	}
	first := snap.Pages[0]
	if first.URL != seed.URL || first.Status != crawl.StatusDone || first.Title != "Docs" {
		t.Fatalf("seed page not updated in place: %+v", first)
	}
	if len(first.Links) != 1 || first.Links[0] != "https://example.com/docs/a" {
		t.Fatalf("links round trip: %v", first.Links)
	}
	if !first.Timestamp.Equal(seed.Timestamp) {
		t.Fatalf("timestamp round trip: %v", first.Timestamp)
	}
	if snap.Pages[1].URL != child.URL || snap.Pages[1].Status != crawl.StatusPending || !snap.Pages[1].Timestamp.IsZero() {
		t.Fatalf("unexpected child page %+v", snap.Pages[1])
	}
}

func TestStore_GetSnapshotNotFound(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.GetSnapshot(context.Background(), "missing"); !errors.Is(err, crawl.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_ListAndRetention(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-30 * 24 * time.Hour)
	recent := now.Add(-time.Hour)
	cfg := crawl.Config{SeedURL: "https://example.com/docs", MaxPages: 1, Mode: "raw"}

	for _, ev := range []crawl.Event{
		{SessionID: "old", Config: cfg, State: crawl.StateCompleted, StartedAt: old, FinishedAt: &old},
		{SessionID: "recent", Config: cfg, State: crawl.StateAborted, StartedAt: recent, FinishedAt: &recent},
		{SessionID: "running", Config: cfg, State: crawl.StateRunning, StartedAt: now},
	} {
		if err := st.SaveSession(ctx, ev); err != nil {
			t.Fatalf("SaveSession %s: %v", ev.SessionID, err)
		}
	}
	if err := st.SavePage(ctx, "old", crawl.Page{URL: "https://example.com/docs", Status: crawl.StatusDone}); err != nil {
		t.Fatalf("SavePage: %v", err)
	}

	list, err := st.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 3 || list[0].ID != "running" || list[2].ID != "old" {
		t.Fatalf("expected newest first, got %+v", list)
	}

	n, err := st.DeleteSessionsBefore(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteSessionsBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted session, got %d", n)
	}
	if _, err := st.GetSnapshot(ctx, "old"); !errors.Is(err, crawl.ErrSessionNotFound) {
		t.Fatalf("old session should be gone, got %v", err)
	}

	var pages int
	if err := st.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM crawl_pages`).Scan(&pages); err != nil {
		t.Fatalf("count pages: %v", err)
	}
	if pages != 0 {
		t.Fatalf("pages of deleted sessions should be removed, %d left", pages)
	}

	if n, _ := st.DeleteSessionsBefore(ctx, now.Add(time.Hour)); n != 1 {
		t.Fatalf("running sessions must never be deleted, removed %d", n)
	}
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := New(nil, DriverPostgres, nil)
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("postgres rebind = %q", got)
	}
	lite := New(nil, DriverSQLite, nil)
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}
