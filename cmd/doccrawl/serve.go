package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"doccrawl/internal/bootstrap"
	"doccrawl/internal/config"
	server "doccrawl/internal/http"
	"doccrawl/internal/jobs"
	"doccrawl/internal/logging"
	"doccrawl/internal/store"
)

const shutdownTimeout = 15 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl HTTP API",
		Long: `Start the HTTP API. Crawl sessions are persisted to the configured
database (SQLite under the XDG data directory by default) and progress is
published to Redis when redis.url is set.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("host", "", "Listen host (overrides server.host)")
	cmd.Flags().Int("port", 0, "Listen port (overrides server.port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	defaultDSN(cfg)

	logger := logging.New(cfg.Log, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{Persist: true})
	if err != nil {
		return err
	}

	deps := server.Deps{Manager: app.Manager, Redis: app.Redis}
	var retentionStore jobs.SessionStore
	if app.Store != nil {
		deps.Store = app.Store
		retentionStore = app.Store
	}

	srv := server.NewServer(cfg, deps, logger)
	runner := jobs.NewRunner(cfg, retentionStore, app.Manager, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Listen)
	g.Go(func() error { return runner.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), app.Close(shutdownCtx))
	})
	return g.Wait()
}

// defaultDSN points an unconfigured SQLite database at the data directory.
func defaultDSN(cfg *config.Config) {
	if cfg.Database.DSN == "" && cfg.Database.Driver == store.DriverSQLite {
		cfg.Database.DSN = filepath.Join(config.DefaultDataDir(), "doccrawl.db")
	}
}
