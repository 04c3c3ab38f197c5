package postcode

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// EnumeratorConfig controls the portal browse crawl.
type EnumeratorConfig struct {
	BrowseURL   string
	UserAgent   string
	MaxDepth    int
	Delay       time.Duration
	RandomDelay time.Duration
}

// Enumerator walks the portal's postcode browse folders and builds an Index
// from the leaf URLs.
type Enumerator struct {
	cfg    EnumeratorConfig
	logger *zap.Logger
}

// NewEnumerator builds an Enumerator.
func NewEnumerator(cfg EnumeratorConfig, logger *zap.Logger) (*Enumerator, error) {
	if cfg.BrowseURL == "" {
		return nil, fmt.Errorf("browse url is required")
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enumerator{cfg: cfg, logger: logger}, nil
}

// Enumerate crawls the browse tree and returns the collected Index. Leaf
// folder URLs carry the postcode as "postcode/<out>-<in>".
func (e *Enumerator) Enumerate(ctx context.Context) (Index, error) {
	host, err := hostOf(e.cfg.BrowseURL)
	if err != nil {
		return nil, err
	}

	opts := []colly.CollectorOption{
		colly.MaxDepth(e.cfg.MaxDepth),
		colly.AllowedDomains(host),
		colly.StdlibContext(ctx),
	}
	if e.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(e.cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)

	if e.cfg.Delay > 0 || e.cfg.RandomDelay > 0 {
		if err := c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Delay:       e.cfg.Delay,
			RandomDelay: e.cfg.RandomDelay,
		}); err != nil {
			return nil, fmt.Errorf("set crawl limit: %w", err)
		}
	}

	idx := Index{}

	c.OnHTML(".folders a[href]", func(el *colly.HTMLElement) {
		link := el.Request.AbsoluteURL(el.Attr("href"))
		if link == "" {
			return
		}
		if outward, inward, ok := parseLeafURL(link); ok {
			idx.Add(outward, inward)
			return
		}
		if err := el.Request.Visit(link); err != nil {
			e.logger.Debug("skip folder link", zap.String("url", link), zap.Error(err))
		}
	})

	c.OnError(func(resp *colly.Response, err error) {
		e.logger.Warn("browse page fetch failed",
			zap.String("url", resp.Request.URL.String()),
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
		)
	})

	if err := c.Visit(e.cfg.BrowseURL); err != nil {
		return nil, fmt.Errorf("visit browse root: %w", err)
	}
	c.Wait()

	if len(idx) == 0 {
		return nil, fmt.Errorf("browse crawl yielded no postcodes")
	}
	e.logger.Info("postcode enumeration finished", zap.Int("outward_codes", len(idx)))
	return idx, nil
}

// parseLeafURL extracts "OUT-IN" from URLs of the form
// .../postcode/se14-6ab[/...]. Folder URLs without the hyphenated leaf
// segment report ok=false.
func parseLeafURL(raw string) (outward, inward string, ok bool) {
	const marker = "postcode/"
	i := strings.Index(raw, marker)
	if i < 0 {
		return "", "", false
	}
	rest := raw[i+len(marker):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	parts := strings.SplitN(rest, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse browse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("browse url %q has no host", raw)
	}
	return u.Hostname(), nil
}
