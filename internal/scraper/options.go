package scraper

import (
	"fmt"
	"net/http"
	"time"

	"doccrawl/internal/config"
)

const (
	EngineHTTP     = "http"
	EngineRod      = "rod"
	EngineChromedp = "chromedp"
)

// NewBrowser builds the Browser selected by cfg.Scraper.Engine.
func NewBrowser(cfg *config.Config) (Browser, error) {
	switch cfg.Scraper.Engine {
	case "", EngineHTTP:
		client := &http.Client{Timeout: LoadTimeout(cfg)}
		return NewHTTPBrowser(client, cfg.Scraper.UserAgent, cfg.Scraper.MaxBodyBytes), nil
	case EngineRod:
		return NewRodBrowser(RodOptions{
			ControlURL: cfg.Browser.ControlURL,
			Headless:   cfg.Browser.Headless,
			NoSandbox:  cfg.Browser.NoSandbox,
			UserAgent:  cfg.Scraper.UserAgent,
		})
	case EngineChromedp:
		return NewChromedpBrowser(ChromedpOptions{
			ControlURL: cfg.Browser.ControlURL,
			Headless:   cfg.Browser.Headless,
			NoSandbox:  cfg.Browser.NoSandbox,
			UserAgent:  cfg.Scraper.UserAgent,
		})
	default:
		return nil, fmt.Errorf("unknown scraper engine %q", cfg.Scraper.Engine)
	}
}

// LoadTimeout returns the configured page load timeout.
func LoadTimeout(cfg *config.Config) time.Duration {
	if cfg.Scraper.LoadTimeoutMs <= 0 {
		return DefaultLoadTimeout
	}
	return time.Duration(cfg.Scraper.LoadTimeoutMs) * time.Millisecond
}

// NewFetcherFromConfig wraps browser in a Fetcher using the configured load
// timeout and content format.
func NewFetcherFromConfig(cfg *config.Config, browser Browser) *Fetcher {
	return NewFetcher(browser, LoadTimeout(cfg), cfg.Scraper.ContentFormat)
}
