package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/businessdata-uk/endole-crawler/internal/api"
	"github.com/businessdata-uk/endole-crawler/internal/clock/system"
	"github.com/businessdata-uk/endole-crawler/internal/config"
	"github.com/businessdata-uk/endole-crawler/internal/driver"
	"github.com/businessdata-uk/endole-crawler/internal/extract"
	"github.com/businessdata-uk/endole-crawler/internal/postcode"
	"github.com/businessdata-uk/endole-crawler/internal/progress"
	"github.com/businessdata-uk/endole-crawler/internal/progress/sinks"
	"github.com/businessdata-uk/endole-crawler/internal/scrape"
	"github.com/businessdata-uk/endole-crawler/internal/stealth"
	"github.com/businessdata-uk/endole-crawler/internal/storage/sqlite"
)

// newOutwardCmd creates the 'outward' subcommand, which scrapes one listing
// page per outward code.
func newOutwardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outward",
		Short: "Scrape business listings at outward-code granularity",
		Long: `Scrapes the listing page for every outward code in the postcode
index. Outward codes whose listings are already in the database are
skipped, so the command can be rerun until the set is complete.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrapeCommand(cmd, scrape.GranularityOutward)
		},
	}
	addScrapeFlags(cmd)
	return cmd
}

// newFullCmd creates the 'full' subcommand, which scrapes one listing page
// per full postcode.
func newFullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "full",
		Short: "Scrape business listings at full-postcode granularity",
		Long: `Scrapes the listing page for every full postcode in the index,
one outward/inward pair at a time. Full postcodes already in the database
are skipped, so the command can be rerun until the set is complete.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrapeCommand(cmd, scrape.GranularityFull)
		},
	}
	addScrapeFlags(cmd)
	return cmd
}

func addScrapeFlags(cmd *cobra.Command) {
	cmd.Flags().Int("workers", 0, "number of concurrent scrape workers")
	cmd.Flags().String("postcodes", "", "path to the postcode index JSON")
	cmd.Flags().String("listen", "", "address for the status HTTP server (disabled when empty)")
}

func runScrapeCommand(cmd *cobra.Command, granularity scrape.Granularity) error {
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

	idx, err := postcode.Load(cfg.Scraper.IndexPath)
	if err != nil {
		return fmt.Errorf("load postcode index (run the postcodes command first?): %w", err)
	}

	store, err := sqlite.New(sqlite.Config{
		Path:        cfg.Database.Path,
		Table:       cfg.Database.Table,
		BusyTimeout: cfg.BusyTimeout(),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("Failed to close database", zap.Error(cerr))
		}
	}()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	drv, hub, snapshot, registry, err := buildScrapeDriver(cfg, granularity, store, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("Failed to close progress hub", zap.Error(cerr))
		}
	}()

	if cfg.Server.Listen != "" {
		srv := api.NewServer(snapshot, registry, logger)
		go func() {
			if serr := srv.Serve(ctx, cfg.Server.Listen); serr != nil {
				logger.Warn("Status server stopped", zap.Error(serr))
			}
		}()
	}

	counters, err := drv.Run(ctx, idx)
	logger.Info("Scrape run finished",
		zap.String("granularity", string(granularity)),
		zap.Int("skipped", counters.TasksSkipped),
		zap.Int("succeeded", counters.TasksSucceeded),
		zap.Int("failed", counters.TasksFailed),
		zap.Int("records_stored", counters.RecordsStored),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run scrape: %w", err)
	}
	return nil
}

// buildScrapeDriver wires the probe, stealth controller, extractor factory,
// progress hub, and driver from config.
func buildScrapeDriver(
	cfg config.Config,
	granularity scrape.Granularity,
	store scrape.Store,
	logger *zap.Logger,
) (*driver.Driver, *progress.Hub, *sinks.SnapshotSink, *prometheus.Registry, error) {
	probe, err := extract.NewProbe(extract.ProbeConfig{
		BaseURL:   cfg.Scraper.BaseURL,
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.ProbeTimeout(),
		HostQPS:   cfg.HTTP.HostQPS,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init probe: %w", err)
	}

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init metrics sink: %w", err)
	}
	snapshot := sinks.NewSnapshotSink()
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger), promSink, snapshot)

	var vpn stealth.VPNClient
	if cfg.Stealth.VPNEnabled {
		vpn = &egressNotifier{
			inner: stealth.NewPIAClient(stealth.PIAConfig{
				Binary:         cfg.Stealth.VPNBinary,
				Regions:        cfg.Stealth.VPNRegions,
				ConnectTimeout: cfg.VPNConnectTimeout(),
			}, logger),
			hub: hub,
		}
	}
	controller := stealth.NewController(stealth.Odds{
		Viewport: cfg.Stealth.ViewportOdds,
		Session:  cfg.Stealth.SessionOdds,
		Egress:   cfg.Stealth.EgressOdds,
	}, vpn, logger)

	clk := system.New()

	factory := func() (scrape.Extractor, error) {
		return extract.New(extract.Config{
			BaseURL:       cfg.Scraper.BaseURL,
			Headless:      cfg.Scraper.Headless,
			PageTimeout:   cfg.PageTimeout(),
			MaxSortCycles: cfg.Scraper.MaxSortCycles,
		}, probe, controller, clk, logger)
	}

	drv, err := driver.New(driver.Config{
		Workers:     cfg.Scraper.Workers,
		Granularity: granularity,
	}, store, factory, hub, clk, logger)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Close(closeCtx)
		return nil, nil, nil, nil, fmt.Errorf("init driver: %w", err)
	}
	return drv, hub, snapshot, registry, nil
}

// egressNotifier reports successful VPN rotations to the progress hub.
type egressNotifier struct {
	inner stealth.VPNClient
	hub   *progress.Hub
}

func (n *egressNotifier) Rotate(ctx context.Context) error {
	if err := n.inner.Rotate(ctx); err != nil {
		return err
	}
	n.hub.Emit(progress.Event{TS: time.Now(), Stage: progress.StageEgressRotate})
	return nil
}
