package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"doccrawl/internal/bootstrap"
	"doccrawl/internal/crawl"
	"doccrawl/internal/export"
	"doccrawl/internal/extract"
	"doccrawl/internal/logging"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a documentation site and export it",
		Long: `Crawl a documentation site breadth-first from <url> and write the
collected pages to a file. Only pages on the same origin whose path starts
with the seed's path are followed.

Press Ctrl+C to stop early; pages collected so far are still exported.`,
		Example: `  doccrawl crawl https://go.dev/doc/ --max-pages 20
  doccrawl crawl https://example.com/docs --mode summary --format json -o docs.json
  doccrawl crawl https://example.com/docs --output - > docs.md`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawl,
	}

	cmd.Flags().String("path-filter", "", "Only crawl discovered links whose path contains this string (the seed is always crawled)")
	cmd.Flags().Int("max-pages", 0, "Maximum pages to crawl, 0 for crawler.maxPagesDefault")
	cmd.Flags().Int("max-depth", -1, "Maximum link depth from the seed, negative for crawler.maxDepthDefault")
	cmd.Flags().String("mode", "", "Extraction mode: smart, structured, summary or raw")
	cmd.Flags().String("engine", "", "Scraper engine: http, rod or chromedp")
	cmd.Flags().StringP("format", "f", "markdown", "Export format: markdown or json")
	cmd.Flags().StringP("output", "o", "", `Output file, "-" for stdout (default <host>-<date>.<ext>)`)
	cmd.Flags().Bool("persist", false, "Also record the session in the configured database")
	cmd.Flags().BoolP("quiet", "q", false, "Hide the progress spinner")

	return cmd
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if engine, _ := cmd.Flags().GetString("engine"); engine != "" {
		cfg.Scraper.Engine = engine
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	formatFlag, _ := cmd.Flags().GetString("format")
	format, err := export.ParseFormat(formatFlag)
	if err != nil {
		return err
	}

	crawlCfg := crawl.Config{
		SeedURL:  args[0],
		MaxPages: cfg.Crawler.MaxPagesDefault,
		MaxDepth: cfg.Crawler.MaxDepthDefault,
		Mode:     extract.Mode(cfg.Crawler.ModeDefault),
	}
	crawlCfg.PathFilter, _ = cmd.Flags().GetString("path-filter")
	if n, _ := cmd.Flags().GetInt("max-pages"); n > 0 {
		crawlCfg.MaxPages = n
	}
	if n, _ := cmd.Flags().GetInt("max-depth"); n >= 0 {
		crawlCfg.MaxDepth = n
	}
	if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
		crawlCfg.Mode = extract.Mode(mode)
	}

	persist, _ := cmd.Flags().GetBool("persist")
	if persist {
		defaultDSN(cfg)
	}
	quiet, _ := cmd.Flags().GetBool("quiet")

	stderr := cmd.ErrOrStderr()
	logger := logging.New(cfg.Log, stderr)

	sp := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(stderr))
	sp.Suffix = " starting"
	progress := crawl.ObserverFunc(func(ev crawl.Event) {
		sp.Lock()
		sp.Suffix = fmt.Sprintf(" %s [%d done, %d failed, %d discovered]",
			ev.Action, ev.Stats.Processed, ev.Stats.Failed, ev.Stats.Discovered)
		sp.Unlock()
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{
		Persist:   persist,
		Observers: []crawl.Observer{progress},
	})
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	s, err := app.Manager.Start(ctx, crawlCfg)
	if err != nil {
		return err
	}

	if !quiet {
		sp.Start()
	}
	select {
	case <-s.Done():
	case <-ctx.Done():
		_ = s.Abort()
		<-s.Done()
	}
	sp.Stop()

	snap := s.Snapshot()
	now := time.Now()
	body, err := export.Render(format, snap, now)
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	dest, err := writeExport(cmd.OutOrStdout(), output, export.Filename(snap.Config.SeedURL, format.Ext(), now), body)
	if err != nil {
		return err
	}

	fmt.Fprintf(stderr, "%s: %d pages exported, %d failed, %d not crawled (%s)\n",
		snap.CurrentAction, len(snap.DonePages()), snap.Stats.Failed,
		snap.Stats.Discovered-snap.Stats.Crawled, dest)
	return nil
}

// writeExport writes body to output, "-" meaning stdout. An empty output
// writes fallback in the working directory. It returns where body went.
func writeExport(stdout io.Writer, output, fallback string, body []byte) (string, error) {
	if output == "-" {
		if _, err := stdout.Write(body); err != nil {
			return "", fmt.Errorf("write export: %w", err)
		}
		return "stdout", nil
	}
	if output == "" {
		output = fallback
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(output, body, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return output, nil
}
