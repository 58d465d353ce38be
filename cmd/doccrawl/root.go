package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"doccrawl/internal/config"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doccrawl",
		Short: "Scoped documentation crawler",
		Long: `doccrawl crawls a documentation site breadth-first from a seed URL,
staying within the seed's origin and path, and exports the collected pages
as Markdown or JSON. Page text can optionally be rewritten by an LLM.

Run a single crawl in the foreground with "doccrawl crawl", or start the
HTTP API with "doccrawl serve".`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath(), "Path to the YAML config file")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config, falling back to defaults when the file is
// missing.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
