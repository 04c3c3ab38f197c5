package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/businessdata-uk/endole-crawler/internal/format"
	"github.com/businessdata-uk/endole-crawler/internal/scrape"
	"github.com/businessdata-uk/endole-crawler/internal/stealth"
)

// settleDelay gives the portal's scripts a beat after UI interactions.
const settleDelay = 300 * time.Millisecond

// expandColumnsJS clicks every add-filter entry in the column settings
// iframe and applies, so the results table carries the full column set.
const expandColumnsJS = `(function() {
	const frame = document.getElementById('iframe2');
	if (!frame || !frame.contentDocument) { return -1; }
	const doc = frame.contentDocument;
	const filters = doc.querySelectorAll('.add-filter');
	filters.forEach((f) => f.click());
	const links = doc.querySelectorAll('a');
	if (links.length > 0) { links[links.length - 1].click(); }
	return filters.length;
})()`

// sortableColumnsJS counts header cells carrying a sort dropdown.
const sortableColumnsJS = `(function() {
	const row = document.querySelector('table tr');
	if (!row) { return 0; }
	let n = 0;
	row.querySelectorAll('td').forEach((td) => {
		if (td.querySelector('a')) { n++; }
	});
	return n;
})()`

// openSortMenuJS opens the sort dropdown on the n-th sortable header cell.
const openSortMenuJS = `(function(target) {
	const row = document.querySelector('table tr');
	if (!row) { return false; }
	let i = 0;
	let clicked = false;
	row.querySelectorAll('td').forEach((td) => {
		const a = td.querySelector('a');
		if (!a) { return; }
		if (i === target) { a.click(); clicked = true; }
		i++;
	});
	return clicked;
})(%d)`

// Config controls the browser-based extraction pipeline.
type Config struct {
	BaseURL       string
	Headless      bool
	PageTimeout   time.Duration
	MaxSortCycles int
}

// Extractor drives one headless Chrome session through the
// probe/expand/snapshot/sort-cycle pipeline for a task key. It is not safe
// for concurrent use; each worker owns its own Extractor and therefore its
// own browser.
type Extractor struct {
	cfg     Config
	probe   scrape.CountProbe
	stealth *stealth.Controller
	clock   scrape.Clock
	logger  *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	profile     stealth.Profile
}

// New builds an Extractor. The browser is launched lazily on first use.
func New(cfg Config, probe scrape.CountProbe, controller *stealth.Controller, clock scrape.Clock, logger *zap.Logger) (*Extractor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if probe == nil {
		return nil, fmt.Errorf("count probe is required")
	}
	if controller == nil {
		return nil, fmt.Errorf("stealth controller is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 90 * time.Second
	}
	if cfg.MaxSortCycles <= 0 {
		cfg.MaxSortCycles = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		cfg:     cfg,
		probe:   probe,
		stealth: controller,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Close tears down the browser session, if one was started.
func (e *Extractor) Close() error {
	e.closeBrowser()
	return nil
}

// Extract performs a single search-and-scrape attempt for the task. A zero
// company count returns no records and no error; any pipeline failure
// returns a ScrapeError.
func (e *Extractor) Extract(ctx context.Context, task scrape.Task) ([]scrape.BusinessRecord, error) {
	key := task.Key()

	count, err := e.probe.CompanyCount(ctx, key)
	if err != nil {
		return nil, scrape.NewScrapeError(key, "count", err)
	}
	if count == 0 {
		e.logger.Info("no companies listed, skipping browser session", zap.String("key", key))
		return nil, nil
	}

	decision := e.stealth.Roll()
	if decision.RotateEgress {
		if err := e.stealth.RotateEgress(ctx); err != nil {
			e.logger.Warn("egress rotation failed, continuing on current exit", zap.Error(err))
		}
	}
	if decision.RefreshSession {
		e.closeBrowser()
	}
	e.ensureBrowser()

	tabCtx, cancelTab := chromedp.NewContext(e.allocCtx)
	defer cancelTab()
	runCtx, cancelRun := context.WithTimeout(tabCtx, e.cfg.PageTimeout)
	defer cancelRun()

	stopForward := forwardCancel(ctx, cancelRun)
	defer stopForward()

	rows, err := e.scrapePage(runCtx, key, count, decision)
	if err != nil {
		return nil, scrape.NewScrapeError(key, "scrape", err)
	}

	now := e.clock.Now()
	records := make([]scrape.BusinessRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, format.Record(row, key, now))
	}
	e.logger.Info("postcode extracted",
		zap.String("key", key),
		zap.Int("records", len(records)),
		zap.Int("advertised", count),
	)
	return records, nil
}

func (e *Extractor) scrapePage(ctx context.Context, key string, count int, decision stealth.Decision) ([]format.Row, error) {
	pageURL := ListingURL(e.cfg.BaseURL, key)

	actions := chromedp.Tasks{
		emulation.SetUserAgentOverride(e.profile.UserAgent),
		chromedp.EmulateViewport(e.profile.Width, e.profile.Height),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	if decision.ChangeViewport {
		w, h := e.stealth.Viewport()
		if err := chromedp.Run(ctx, chromedp.EmulateViewport(w, h)); err != nil {
			return nil, fmt.Errorf("resize viewport: %w", err)
		}
	}

	if err := e.expandColumns(ctx); err != nil {
		return nil, err
	}

	rows, err := e.snapshotTable(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) < count {
		rows, err = e.sortCycles(ctx, rows, count)
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// expandColumns opens the column chooser (the button needs two clicks to
// reliably raise the settings iframe) and enables every available column.
func (e *Extractor) expandColumns(ctx context.Context) error {
	for i := 0; i < 2; i++ {
		if err := chromedp.Run(ctx,
			chromedp.Click(".show-columns-button", chromedp.ByQuery),
			chromedp.Sleep(settleDelay),
		); err != nil {
			return fmt.Errorf("click show-columns control: %w", err)
		}
	}

	var clicked int
	if err := chromedp.Run(ctx,
		chromedp.WaitVisible("#iframe2", chromedp.ByID),
		chromedp.Evaluate(expandColumnsJS, &clicked),
		chromedp.Sleep(settleDelay),
	); err != nil {
		return fmt.Errorf("expand columns: %w", err)
	}
	if clicked < 0 {
		return fmt.Errorf("column settings frame not reachable")
	}
	if clicked == 0 {
		e.logger.Debug("all columns already visible")
	}
	return nil
}

func (e *Extractor) snapshotTable(ctx context.Context) ([]format.Row, error) {
	var html string
	if err := chromedp.Run(ctx,
		chromedp.WaitReady("table", chromedp.ByQuery),
		chromedp.OuterHTML("table", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("snapshot results table: %w", err)
	}
	return ParseTable(html)
}

// sortCycles works around the portal's lack of pagination: the table shows
// a bounded window, but re-sorting by each column in both directions
// surfaces different companies in that window. Merged rows are deduped on
// the company cell, stopping once the advertised count is reached or the
// cycle budget runs out.
func (e *Extractor) sortCycles(ctx context.Context, rows []format.Row, count int) ([]format.Row, error) {
	var columns int
	if err := chromedp.Run(ctx, chromedp.Evaluate(sortableColumnsJS, &columns)); err != nil {
		return nil, fmt.Errorf("count sortable columns: %w", err)
	}

	cycles := 0
	for col := 0; col < columns; col++ {
		for _, descending := range []bool{false, true} {
			if cycles >= e.cfg.MaxSortCycles || len(rows) >= count {
				e.logger.Debug("sort cycling finished",
					zap.Int("cycles", cycles),
					zap.Int("rows", len(rows)),
					zap.Int("advertised", count),
				)
				return rows, nil
			}
			if err := e.applySortOrder(ctx, col, descending); err != nil {
				return nil, err
			}
			cycleRows, err := e.snapshotTable(ctx)
			if err != nil {
				return nil, err
			}
			rows = mergeRows(rows, cycleRows)
			cycles++
		}
	}
	return rows, nil
}

func (e *Extractor) applySortOrder(ctx context.Context, column int, descending bool) error {
	var opened bool
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(fmt.Sprintf(openSortMenuJS, column), &opened),
		chromedp.Sleep(settleDelay),
	); err != nil {
		return fmt.Errorf("open sort menu for column %d: %w", column, err)
	}
	if !opened {
		return fmt.Errorf("sort dropdown %d not found", column)
	}

	// First menu link sorts ascending, second descending.
	link := 1
	if descending {
		link = 2
	}
	selector := fmt.Sprintf("#column_menu a:nth-of-type(%d)", link)
	if err := chromedp.Run(ctx,
		chromedp.WaitVisible("#column_menu", chromedp.ByID),
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
	); err != nil {
		return fmt.Errorf("apply sort order on column %d: %w", column, err)
	}
	return nil
}

func (e *Extractor) ensureBrowser() {
	if e.allocCtx != nil {
		return
	}
	e.profile = e.stealth.Profile()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(e.profile.UserAgent),
	)
	e.allocCtx, e.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	e.logger.Debug("browser session configured",
		zap.String("user_agent", e.profile.UserAgent),
		zap.Int64("viewport_width", e.profile.Width),
		zap.Int64("viewport_height", e.profile.Height),
	)
}

func (e *Extractor) closeBrowser() {
	if e.allocCancel != nil {
		e.allocCancel()
	}
	e.allocCtx = nil
	e.allocCancel = nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
