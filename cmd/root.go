package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/businessdata-uk/endole-crawler/internal/config"
	"github.com/businessdata-uk/endole-crawler/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endole-crawler",
		Short: "A resumable crawler for UK business listings keyed by postcode.",
		Long: `endole-crawler walks the portal's postcode hierarchy and extracts
business listing tables into a local SQLite database. Runs are resumable:
postcodes already present in the database are skipped, so an interrupted
crawl picks up where it left off.`,
		SilenceUsage: true,
	}

	// Persistent flags shared by every subcommand. Flag values override
	// ENDOLE_* environment variables, which override the config file.
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	cmd.PersistentFlags().String("database-path", "", "path to the SQLite database file")

	cmd.AddCommand(newPostcodesCmd())
	cmd.AddCommand(newOutwardCmd())
	cmd.AddCommand(newFullCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration for a command, binding any
// recognised flags from the command's full flag set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from config.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}
