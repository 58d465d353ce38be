package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"doccrawl/internal/config"
	"doccrawl/internal/crawl"
	"doccrawl/internal/crawler"
	"doccrawl/internal/extract"
	"doccrawl/internal/llm"
	"doccrawl/internal/notify"
	"doccrawl/internal/scraper"
	"doccrawl/internal/store"
)

const robotsTimeout = 10 * time.Second

// App holds the long-lived collaborators of a doccrawl process. Store and
// Redis are nil when not configured.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Browser scraper.Browser
	Manager *crawl.Manager
	Store   *store.Store
	Redis   *redis.Client
}

// Options adjusts Build for a single process.
type Options struct {
	// Persist opens the configured database. The API server sets it; a
	// one-off CLI crawl only persists when asked to.
	Persist bool
	// Observers are attached to every session after the store and Redis
	// observers.
	Observers []crawl.Observer
}

// Build wires config into a crawl manager. Applying migrations is the only
// write it performs.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: nil config")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	app := &App{Config: cfg, Logger: logger}

	browser, err := scraper.NewBrowser(cfg)
	if err != nil {
		return nil, err
	}
	app.Browser = browser
	fetcher := scraper.NewFetcherFromConfig(cfg, browser)

	var observers []crawl.Observer

	if opts.Persist && strings.TrimSpace(cfg.Database.DSN) != "" {
		st, err := store.Open(ctx, cfg.Database, logger)
		if err != nil {
			_ = app.Close(ctx)
			return nil, err
		}
		app.Store = st
		observers = append(observers, st)
	}

	if strings.TrimSpace(cfg.Redis.URL) != "" {
		rdb, err := notify.Connect(cfg.Redis.URL)
		if err != nil {
			_ = app.Close(ctx)
			return nil, err
		}
		app.Redis = rdb
		observers = append(observers, notify.New(rdb, logger))
	}

	observers = append(observers, opts.Observers...)

	crawlOpts := []crawl.Option{
		crawl.WithDelay(time.Duration(cfg.Crawler.DelayMs) * time.Millisecond),
		crawl.WithLogger(logger),
		crawl.WithObserver(observers...),
	}
	if cfg.Robots.Respect {
		crawlOpts = append(crawlOpts, crawl.WithRobotsLoader(robotsLoader(cfg.Scraper.UserAgent)))
	}

	app.Manager = crawl.NewManager(fetcher, newPipeline(cfg, logger), crawlOpts...)
	return app, nil
}

// newPipeline builds the extraction pipeline. Without a usable provider the
// pipeline still works and falls back to truncated raw content.
func newPipeline(cfg *config.Config, logger *slog.Logger) *extract.Pipeline {
	client, prov, model, err := llm.NewClientFromConfig(cfg, "", "")
	if err != nil {
		logger.Debug("llm extraction disabled", "provider", string(prov), "reason", err)
		return extract.NewPipeline(nil, extract.Options{Logger: logger})
	}
	return extract.NewPipeline(client, extract.Options{
		Provider: string(prov),
		Model:    model,
		Logger:   logger,
	})
}

func robotsLoader(userAgent string) crawl.RobotsLoader {
	client := &http.Client{Timeout: robotsTimeout}
	return func(ctx context.Context, seedURL string) (crawl.LinkPolicy, error) {
		policy, err := crawler.FetchRobots(ctx, client, seedURL, userAgent)
		if err != nil {
			return nil, err
		}
		return policy, nil
	}
}

// Close stops running crawls, then releases the browser, Redis and the
// database, in that order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Manager != nil {
		if err := a.Manager.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Browser != nil {
		if err := a.Browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
