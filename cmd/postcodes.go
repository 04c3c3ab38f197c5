// Package cmd defines and implements the CLI commands for the endole-crawler
// executable.
package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/businessdata-uk/endole-crawler/internal/postcode"
)

// newPostcodesCmd creates the 'postcodes' subcommand, which walks the
// portal's browse tree and writes the discovered outward/inward pairs to a
// JSON index file. The scrape subcommands read that file to build their
// task sets.
func newPostcodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postcodes",
		Short: "Enumerate the portal's postcode hierarchy into an index file",
		Long: `Crawls the portal's browse pages down to full-postcode leaves and
saves the result as a JSON index mapping outward codes to their inward
codes. Run this once before the first scrape, and rerun it whenever the
index should be refreshed.`,
		RunE: runPostcodesCommand,
	}
	cmd.Flags().String("postcodes", "", "path to write the postcode index JSON")
	return cmd
}

func runPostcodesCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enumerator, err := postcode.NewEnumerator(postcode.EnumeratorConfig{
		BrowseURL:   cfg.Scraper.BrowseURL,
		UserAgent:   cfg.HTTP.UserAgent,
		MaxDepth:    cfg.Scraper.BrowseDepth,
		Delay:       time.Second,
		RandomDelay: time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("init enumerator: %w", err)
	}

	start := time.Now()
	idx, err := enumerator.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("enumerate postcodes: %w", err)
	}

	if err := idx.Save(cfg.Scraper.IndexPath); err != nil {
		return fmt.Errorf("save postcode index: %w", err)
	}

	logger.Info("Postcode index written",
		zap.String("path", cfg.Scraper.IndexPath),
		zap.Int("outward_codes", len(idx)),
		zap.Int("full_postcodes", len(idx.FullKeys())),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}
