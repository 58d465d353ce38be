package scraper

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodBrowser renders pages in Chrome driven by rod. It either connects to an
// existing DevTools endpoint or launches a local browser.
type RodBrowser struct {
	browser   *rod.Browser
	launcher  *launcher.Launcher
	userAgent string
}

// RodOptions configures NewRodBrowser.
type RodOptions struct {
	ControlURL string
	Headless   bool
	NoSandbox  bool
	UserAgent  string
}

func NewRodBrowser(opts RodOptions) (*RodBrowser, error) {
	controlURL := opts.ControlURL

	var l *launcher.Launcher
	if controlURL == "" {
		l = launcher.New().
			Headless(opts.Headless).
			Set("disable-gpu").
			Set("disable-dev-shm-usage")
		if opts.NoSandbox {
			l = l.Set("no-sandbox")
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	return &RodBrowser{browser: browser, launcher: l, userAgent: opts.UserAgent}, nil
}

// Open creates a blank tab for pageURL; navigation happens in WaitLoad so the
// load timeout covers it.
func (b *RodBrowser) Open(_ context.Context, pageURL string) (RenderTarget, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}
	if b.userAgent != "" {
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.userAgent})
	}
	return &rodTarget{page: page, url: pageURL}, nil
}

func (b *RodBrowser) Close() error {
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Kill()
	}
	return err
}

type rodTarget struct {
	page *rod.Page
	url  string
}

func (t *rodTarget) WaitLoad(ctx context.Context) error {
	page := t.page.Context(ctx)
	if err := page.Navigate(t.url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (t *rodTarget) Extract(ctx context.Context) (*Content, error) {
	res, err := t.page.Context(ctx).Eval(extractScript)
	if err != nil {
		return nil, err
	}
	return decodeContent(res.Value.Str())
}

func (t *rodTarget) Close() error {
	return t.page.Close()
}
