// Package extract performs the per-task search-and-scrape against the
// listing portal.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// ProbeConfig controls the lightweight company-count probe.
type ProbeConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// HostQPS caps probe requests per host; zero disables limiting.
	HostQPS float64
}

// Probe reads the advertised company count from a listing page header using
// a plain HTTP fetch, so empty postcodes never cost a browser session.
type Probe struct {
	cfg          ProbeConfig
	hostLimiters sync.Map
}

// NewProbe builds a Probe.
func NewProbe(cfg ProbeConfig) (*Probe, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Probe{cfg: cfg}, nil
}

// CompanyCount fetches the listing page for key and parses the
// "N Companies" header.
func (p *Probe) CompanyCount(ctx context.Context, key string) (int, error) {
	pageURL := ListingURL(p.cfg.BaseURL, key)
	if err := p.waitHostBudget(ctx, pageURL); err != nil {
		return 0, err
	}

	opts := []colly.CollectorOption{colly.StdlibContext(ctx)}
	if p.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(p.cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(p.cfg.Timeout)

	var (
		count    int
		found    bool
		parseErr error
	)
	c.OnHTML(".explorer-header h2", func(el *colly.HTMLElement) {
		if found {
			return
		}
		count, parseErr = parseCompanyCount(el.Text)
		found = parseErr == nil
	})

	var fetchErr error
	c.OnError(func(resp *colly.Response, err error) {
		fetchErr = fmt.Errorf("fetch %s (status %d): %w", pageURL, resp.StatusCode, err)
	})

	if err := c.Visit(pageURL); err != nil {
		return 0, fmt.Errorf("probe visit %s: %w", pageURL, err)
	}
	c.Wait()

	switch {
	case fetchErr != nil:
		return 0, fetchErr
	case parseErr != nil:
		return 0, parseErr
	case !found:
		return 0, fmt.Errorf("company count header not found at %s", pageURL)
	}
	return count, nil
}

// parseCompanyCount extracts the leading integer from header text like
// "1,204 Companies".
func parseCompanyCount(text string) (int, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty company count header")
	}
	raw := strings.ReplaceAll(fields[0], ",", "")
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse company count %q: %w", fields[0], err)
	}
	return count, nil
}

func (p *Probe) waitHostBudget(ctx context.Context, rawURL string) error {
	if p.cfg.HostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse probe url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := p.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(p.cfg.HostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait probe limiter: %w", err)
	}
	return nil
}

// ListingURL joins the portal base URL with a lower-cased postcode key, the
// form the portal expects.
func ListingURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.ToLower(key)
}
