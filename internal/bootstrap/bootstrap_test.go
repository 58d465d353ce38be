package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"doccrawl/internal/config"
	"doccrawl/internal/crawl"
)

func TestBuild_WithoutPersistence(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "unused.db")

	app, err := Build(context.Background(), cfg, nil, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close(context.Background())

	if app.Manager == nil || app.Browser == nil {
		t.Fatalf("expected manager and browser")
	}
	if app.Store != nil || app.Redis != nil {
		t.Fatalf("store and redis must stay nil when not requested")
	}
}

func TestBuild_PersistsAndRespectsRobots(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /docs/private\n")
	})
	mux.HandleFunc("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Docs</title></head><body><main><p>Welcome</p>
<a href="/docs/public">public</a><a href="/docs/private">private</a></main></body></html>`)
	})
	mux.HandleFunc("/docs/public", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Public</title></head><body><p>Public page</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.Default()
	cfg.Crawler.DelayMs = 0
	cfg.Robots.Respect = true
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "doccrawl.db")

	var events int
	app, err := Build(context.Background(), cfg, nil, Options{
		Persist:   true,
		Observers: []crawl.Observer{crawl.ObserverFunc(func(crawl.Event) { events++ })},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close(context.Background())
	if app.Store == nil {
		t.Fatalf("expected a store")
	}

	s, err := app.Manager.Start(context.Background(), crawl.Config{SeedURL: srv.URL + "/docs", MaxPages: 10, MaxDepth: 1})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("crawl did not finish")
	}

	snap := s.Snapshot()
	if snap.Stats.Processed != 2 || len(snap.Pages) != 2 {
		t.Fatalf("expected seed and public page only, got %+v", snap.Pages)
	}
	if events == 0 {
		t.Fatalf("extra observers must be attached")
	}

	stored, err := app.Store.GetSnapshot(context.Background(), s.ID())
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if stored.State != crawl.StateCompleted || len(stored.Pages) != 2 {
		t.Fatalf("unexpected stored snapshot %+v", stored)
	}
}
