package scraper

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// ChromedpBrowser renders pages in Chrome driven by chromedp. Each render
// target is a separate tab of one browser process.
type ChromedpBrowser struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// ChromedpOptions configures NewChromedpBrowser.
type ChromedpOptions struct {
	ControlURL string
	Headless   bool
	NoSandbox  bool
	UserAgent  string
}

func NewChromedpBrowser(opts ChromedpOptions) (*ChromedpBrowser, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.ControlURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.ControlURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.DisableGPU)
		if opts.NoSandbox {
			execOpts = append(execOpts, chromedp.NoSandbox)
		}
		if !opts.Headless {
			execOpts = append(execOpts, chromedp.Flag("headless", false))
		}
		if opts.UserAgent != "" {
			execOpts = append(execOpts, chromedp.UserAgent(opts.UserAgent))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), execOpts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// An empty Run starts the browser so startup errors surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &ChromedpBrowser{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func (b *ChromedpBrowser) Open(_ context.Context, pageURL string) (RenderTarget, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &chromedpTarget{ctx: tabCtx, cancel: cancel, url: pageURL}, nil
}

func (b *ChromedpBrowser) Close() error {
	b.browserCancel()
	b.allocCancel()
	return nil
}

type chromedpTarget struct {
	ctx    context.Context
	cancel context.CancelFunc
	url    string
}

// run executes actions on the tab, bounded by ctx as well as the tab's own
// lifetime.
func (t *chromedpTarget) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (t *chromedpTarget) WaitLoad(ctx context.Context) error {
	return t.run(ctx, chromedp.Navigate(t.url), chromedp.WaitReady("body"))
}

func (t *chromedpTarget) Extract(ctx context.Context) (*Content, error) {
	var raw string
	if err := t.run(ctx, chromedp.Evaluate("("+extractScript+")()", &raw)); err != nil {
		return nil, err
	}
	return decodeContent(raw)
}

func (t *chromedpTarget) Close() error {
	t.cancel()
	return nil
}
