package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/clock/system"
	"github.com/JakeFAU/storefront-crawler/internal/config"
	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/discovery"
	"github.com/JakeFAU/storefront-crawler/internal/hooks"
	"github.com/JakeFAU/storefront-crawler/internal/metrics"
	"github.com/JakeFAU/storefront-crawler/internal/product"
	"github.com/JakeFAU/storefront-crawler/internal/sink"
	"github.com/JakeFAU/storefront-crawler/internal/sitemap"
	"github.com/JakeFAU/storefront-crawler/internal/state"
	"github.com/JakeFAU/storefront-crawler/internal/urlset"
)

// Run phases reported through Status.
const (
	PhaseSetup     = "setup"
	PhaseDiscovery = "discovery"
	PhaseTraversal = "traversal"
	PhaseCrawl     = "crawl"
	PhaseFinished  = "finished"
	PhaseAborted   = "aborted"
)

// Deps are the collaborators a Runner drives. Store and Sink are required;
// the rest default to production implementations built from the config.
type Deps struct {
	Store   state.Store
	Sink    sink.Sink
	Fetcher crawler.Fetcher
	Clock   product.Clock
	Logger  *zap.Logger
	// RunID identifies this run in persisted stats.
	RunID string
}

// Runner executes one crawl: SETUP, discovery, traversal, product crawl and
// FINISHED, persisting the sitemap set and run stats along the way.
type Runner struct {
	cfg        config.Config
	store      state.Store
	sink       sink.Sink
	fetcher    crawler.Fetcher
	products   *crawler.TargetCrawler
	normalizer *product.Normalizer
	scraper    *hooks.Scraper
	output     hooks.OutputHook
	rules      *discovery.Rules
	clock      product.Clock
	logger     *zap.Logger

	mu      sync.Mutex
	stats   state.RunStats
	records atomic.Int64
	failed  atomic.Int64
}

// NewRunner compiles the extension hooks and builds the fetch collaborators.
// Hook compilation failures are configuration errors.
func NewRunner(cfg config.Config, deps Deps) (*Runner, error) {
	if deps.Store == nil || deps.Sink == nil {
		return nil, errors.New("runner requires a state store and a sink")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = system.New()
	}

	scraperHook, err := hooks.CompileScraper(cfg.ExtendScraperFunction)
	if err != nil {
		return nil, fmt.Errorf("%w: extendScraperFunction: %w", config.ErrConfiguration, err)
	}
	outputHook, err := hooks.CompileOutput(cfg.ExtendOutputFunction)
	if err != nil {
		return nil, fmt.Errorf("%w: extendOutputFunction: %w", config.ErrConfiguration, err)
	}

	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher, err = crawler.NewCollyFetcher(crawler.FetcherConfig{
			UserAgent:      cfg.UserAgent,
			RequestTimeout: cfg.RequestTimeout,
			MaxRetries:     cfg.MaxRequestRetries,
			Concurrency:    cfg.MaxConcurrency,
			Proxies:        cfg.Proxies(),
		}, logger.Named("fetcher"))
		if err != nil {
			return nil, fmt.Errorf("init fetcher: %w", err)
		}
	}
	products, err := crawler.NewTargetCrawler(crawler.TargetConfig{
		UserAgent:      cfg.UserAgent,
		Concurrency:    cfg.MaxConcurrency,
		MaxRequests:    cfg.RequestBudget(),
		MaxRetries:     cfg.MaxRequestRetries,
		RequestTimeout: cfg.RequestTimeout,
		Proxies:        cfg.Proxies(),
	}, logger.Named("products"))
	if err != nil {
		return nil, fmt.Errorf("init product crawler: %w", err)
	}

	var rules *discovery.Rules
	if cfg.RespectRobots {
		rules = discovery.NewRules(cfg.UserAgent)
	}

	return &Runner{
		cfg:        cfg,
		store:      deps.Store,
		sink:       deps.Sink,
		fetcher:    fetcher,
		products:   products,
		normalizer: product.NewNormalizer(clock),
		scraper:    hooks.NewScraper(scraperHook, cfg.CustomData, logger),
		output:     outputHook,
		rules:      rules,
		clock:      clock,
		logger:     logger,
		stats:      state.RunStats{RunID: deps.RunID},
	}, nil
}

// Status returns a snapshot of the run summary.
func (r *Runner) Status() state.RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Records = r.records.Load()
	s.Failed = r.failed.Load()
	return s
}

func (r *Runner) update(fn func(*state.RunStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.stats)
}

func (r *Runner) phase(p string) {
	r.update(func(s *state.RunStats) { s.Phase = p })
	r.logger.Info("run phase", zap.String("phase", p))
}

// Run executes the crawl. When ctx is cancelled the current sitemap set is
// persisted and the context error is returned.
func (r *Runner) Run(ctx context.Context) (state.RunStats, error) {
	seeds := r.cfg.Seeds()
	r.update(func(s *state.RunStats) {
		s.StartedAt = r.clock.Now().UTC()
		s.Seeds = len(seeds)
	})

	set := urlset.New()
	persisted, err := state.LoadSitemaps(ctx, r.store)
	if err != nil {
		if ctx.Err() != nil {
			return r.abort(ctx, nil)
		}
		return r.Status(), fmt.Errorf("load persisted sitemaps: %w", err)
	}
	set.Merge(persisted)

	r.phase(PhaseSetup)
	if err := r.scraper.Setup(ctx, set); err != nil {
		return r.Status(), fmt.Errorf("setup hook: %w", err)
	}
	if ctx.Err() != nil {
		return r.abort(ctx, set)
	}

	r.phase(PhaseDiscovery)
	resolver := discovery.NewResolver(r.fetcher, discovery.Options{
		Signature: r.cfg.PlatformSignature,
		Rules:     r.rules,
	}, r.logger)
	report, err := resolver.Resolve(ctx, seeds, set)
	if err != nil {
		return r.abort(ctx, set)
	}
	r.logger.Info("discovery complete",
		zap.Int("resolved", len(report.Resolved)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("sitemaps", set.Len()),
	)
	roots := set.Snapshot()
	r.update(func(s *state.RunStats) { s.Sitemaps = len(roots) })
	if err := state.SaveSitemaps(ctx, r.store, roots); err != nil {
		return r.Status(), fmt.Errorf("persist sitemaps: %w", err)
	}

	r.phase(PhaseTraversal)
	policy := sitemap.Policy{Hook: r.scraper.FilterSitemapURL}
	if r.rules != nil {
		policy.Robots = r.rules
	}
	traverser := sitemap.NewTraverser(r.fetcher, sitemap.Options{
		Concurrency: r.cfg.MaxConcurrency,
		Limit:       r.cfg.MaxRequestsPerCrawl,
	}, r.logger)
	result, err := traverser.Traverse(ctx, roots, policy.Accept, sitemap.NewMapper(r.cfg.FetchHTML))
	if err != nil {
		if ctx.Err() != nil {
			return r.abort(ctx, set)
		}
		return r.Status(), fmt.Errorf("sitemap traversal: %w", err)
	}
	targets := result.Targets()
	r.update(func(s *state.RunStats) { s.Targets = len(targets) })
	if err := state.SaveStats(ctx, r.store, r.Status()); err != nil {
		return r.Status(), fmt.Errorf("persist run stats: %w", err)
	}

	r.phase(PhaseCrawl)
	crawlStats, err := r.products.Crawl(ctx, targets, r.callbacks())
	if err != nil {
		if ctx.Err() != nil {
			return r.abort(ctx, set)
		}
		return r.Status(), fmt.Errorf("product crawl: %w", err)
	}

	r.phase(PhaseFinished)
	if err := r.scraper.Finished(ctx, map[string]any{
		"requests": crawlStats.Requests,
		"pages":    crawlStats.Pages,
		"notFound": crawlStats.NotFound,
		"failed":   crawlStats.Failed,
		"targets":  len(targets),
		"records":  r.records.Load(),
	}); err != nil {
		r.logger.Warn("finished hook failed", zap.Error(err))
	}
	r.update(func(s *state.RunStats) { s.FinishedAt = r.clock.Now().UTC() })
	final := r.Status()
	if err := state.SaveStats(ctx, r.store, final); err != nil {
		return final, fmt.Errorf("persist run stats: %w", err)
	}
	r.logger.Info("run complete",
		zap.Int("targets", final.Targets),
		zap.Int64("records", final.Records),
		zap.Int64("failed", final.Failed),
	)
	return final, nil
}

// abort persists the sitemap snapshot and stats on a detached context.
func (r *Runner) abort(ctx context.Context, set *urlset.Set) (state.RunStats, error) {
	r.phase(PhaseAborted)
	r.update(func(s *state.RunStats) {
		s.Aborted = true
		s.FinishedAt = r.clock.Now().UTC()
	})
	persistCtx := context.WithoutCancel(ctx)
	// A nil set means the persisted sitemaps were never loaded, so the
	// stored snapshot is left as it is.
	if set != nil {
		snapshot := set.Snapshot()
		if err := state.SaveSitemaps(persistCtx, r.store, snapshot); err != nil {
			r.logger.Error("failed to persist sitemap snapshot", zap.Error(err))
		}
		r.logger.Warn("run aborted; sitemap snapshot persisted", zap.Int("sitemaps", len(snapshot)))
	} else {
		r.logger.Warn("run aborted before sitemaps were loaded")
	}
	stats := r.Status()
	if err := state.SaveStats(persistCtx, r.store, stats); err != nil {
		r.logger.Error("failed to persist run stats", zap.Error(err))
	}
	return stats, fmt.Errorf("run aborted: %w", ctx.Err())
}

func (r *Runner) callbacks() crawler.Callbacks {
	return crawler.Callbacks{
		PreNavigation:  r.scraper.PreNavigation,
		PostNavigation: r.scraper.PostNavigation,
		OnPage:         r.handlePage,
		OnFailed:       r.handleFailure,
	}
}

func (r *Runner) emit(ctx context.Context, item any) error {
	if err := r.sink.Emit(ctx, item); err != nil {
		return err
	}
	r.records.Add(1)
	metrics.IncRecordsEmitted()
	return nil
}

// handlePage runs one product response through RUN, normalization and the
// output pipeline. Errors fail only this product.
func (r *Runner) handlePage(ctx context.Context, resp crawler.Response) error {
	data, err := product.Decode(resp.StatusCode, resp.Body)
	if errors.Is(err, product.ErrNotFound) {
		metrics.ObserveProduct("not_found")
		r.logger.Debug("product not found", zap.String("url", resp.Request.URL))
		return nil
	}
	if err != nil {
		metrics.ObserveProduct("malformed")
		return fmt.Errorf("decode product: %w", err)
	}
	if err := r.scraper.Run(ctx, resp.Request, data); err != nil {
		metrics.ObserveProduct("hook_error")
		return err
	}

	pageURL := crawler.Target{URL: resp.Request.URL, Metadata: resp.Request.Metadata}.ProductURL()
	pipeline, err := hooks.NewPipeline(hooks.PipelineOptions{
		Map: func(_ context.Context, raw any) ([]map[string]any, error) {
			obj, ok := raw.(map[string]any)
			if !ok {
				return nil, product.ErrMalformedPayload
			}
			records, err := r.normalizer.Normalize(obj, pageURL)
			if err != nil {
				return nil, err
			}
			items := make([]map[string]any, 0, len(records))
			for _, rec := range records {
				items = append(items, rec.Map())
			}
			return items, nil
		},
		Hook:       r.output,
		Emit:       r.emit,
		CustomData: r.cfg.CustomData,
		Logger:     r.logger,
	})
	if err != nil {
		return err
	}
	n, err := pipeline.Process(ctx, data)
	switch {
	case errors.Is(err, product.ErrMissingCoreFields):
		metrics.ObserveProduct("missing_fields")
		r.logger.Warn("product skipped", zap.String("url", pageURL), zap.Error(err))
		return nil
	case err != nil:
		metrics.ObserveProduct("error")
		return err
	}
	metrics.ObserveProduct("ok")
	r.logger.Debug("product processed", zap.String("url", pageURL), zap.Int("records", n))
	return nil
}

func (r *Runner) handleFailure(ctx context.Context, failure crawler.Failure) {
	r.failed.Add(1)
	if err := r.emit(ctx, sink.Failed(failureInfo(failure))); err != nil {
		r.logger.Error("failed to emit failure record", zap.String("url", failure.URL), zap.Error(err))
	}
}

func failureInfo(f crawler.Failure) map[string]any {
	msgs := f.ErrorMessages
	if msgs == nil {
		msgs = []string{}
	}
	return map[string]any{
		"url":           f.URL,
		"label":         string(f.Label),
		"statusCode":    f.StatusCode,
		"retryCount":    f.RetryCount,
		"errorMessages": msgs,
	}
}
