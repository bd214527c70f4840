package hooks

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/metrics"
	"github.com/JakeFAU/storefront-crawler/internal/urlset"
)

// Scraper dispatches a compiled ScraperHook at each lifecycle point.
type Scraper struct {
	hook   ScraperHook
	custom map[string]any
	logger *zap.Logger
}

// NewScraper wraps hook with the run-scoped custom data.
func NewScraper(hook ScraperHook, custom map[string]any, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{hook: hook, custom: custom, logger: logger.Named("hooks")}
}

func (s *Scraper) call(ctx context.Context, hc *Context) error {
	if s == nil || s.hook == nil {
		return nil
	}
	if err := s.hook.Call(ctx, hc); err != nil {
		metrics.ObserveHook(string(hc.Label), "error")
		var he *HookError
		if errors.As(err, &he) {
			return err
		}
		return &HookError{Label: hc.Label, Err: err}
	}
	metrics.ObserveHook(string(hc.Label), "ok")
	return nil
}

func (s *Scraper) context(label Label) *Context {
	if s == nil {
		return newContext(label, nil, nil)
	}
	return newContext(label, s.custom, s.logger)
}

// Setup lends the live sitemap set to the hook.
func (s *Scraper) Setup(ctx context.Context, sitemaps *urlset.Set) error {
	hc := s.context(LabelSetup)
	hc.Sitemaps = sitemaps
	return s.call(ctx, hc)
}

// FilterSitemapURL returns the hook's decision for a product URL. A hook
// that never calls filter accepts.
func (s *Scraper) FilterSitemapURL(ctx context.Context, rawURL string) (bool, error) {
	hc := s.context(LabelFilterSitemapURL)
	hc.URL = rawURL
	if err := s.call(ctx, hc); err != nil {
		return false, err
	}
	return hc.Accepted(), nil
}

// PreNavigation may rewrite req.Headers before the request is sent.
func (s *Scraper) PreNavigation(ctx context.Context, req *crawler.Request) error {
	hc := s.context(LabelPreNavigation)
	hc.Request = req
	return s.call(ctx, hc)
}

// PostNavigation observes a response before it is processed.
func (s *Scraper) PostNavigation(ctx context.Context, resp crawler.Response) error {
	hc := s.context(LabelPostNavigation)
	req := resp.Request
	hc.Request = &req
	hc.Response = &resp
	return s.call(ctx, hc)
}

// Run is invoked once per fetched product payload.
func (s *Scraper) Run(ctx context.Context, req crawler.Request, data any) error {
	hc := s.context(LabelRun)
	hc.Request = &req
	hc.Data = data
	return s.call(ctx, hc)
}

// Finished is invoked once after the crawl with the run summary.
func (s *Scraper) Finished(ctx context.Context, stats any) error {
	hc := s.context(LabelFinished)
	hc.Stats = stats
	return s.call(ctx, hc)
}
