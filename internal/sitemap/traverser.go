package sitemap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/metrics"
	"github.com/JakeFAU/storefront-crawler/internal/urlset"
)

// FilterFunc decides whether a candidate is followed (index) or kept (leaf).
// An error rejects that candidate only.
type FilterFunc func(ctx context.Context, rawURL string, kind Kind) (bool, error)

// MapFunc converts an accepted leaf URL into a crawl target.
type MapFunc func(rawURL string) crawler.Target

// Options configures a Traverser.
type Options struct {
	// Concurrency bounds in-flight document fetches.
	Concurrency int
	// Limit caps accepted leaves; zero means unbounded.
	Limit int
}

// Result is the deduplicated, ordered output of a traversal. Targets are
// keyed by their mapped URL.
type Result struct {
	keys *urlset.Set

	mu      sync.Mutex
	targets map[string]crawler.Target
	docs    []string
	failed  []string
}

func newResult() *Result {
	return &Result{
		keys:    urlset.New(),
		targets: make(map[string]crawler.Target),
	}
}

func (r *Result) add(t crawler.Target, limit int) (added, full bool) {
	added, full = r.keys.AddIfBelow(t.URL, limit)
	if added {
		r.mu.Lock()
		r.targets[urlset.Clean(t.URL)] = t
		r.mu.Unlock()
	}
	return added, full
}

func (r *Result) full(limit int) bool {
	return limit > 0 && r.keys.Len() >= limit
}

func (r *Result) document(u string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.docs = append(r.docs, u)
		return
	}
	r.failed = append(r.failed, u)
}

// Targets returns the accepted targets in insertion order.
func (r *Result) Targets() []crawler.Target {
	keys := r.keys.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]crawler.Target, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.targets[k])
	}
	return out
}

// Len returns the number of accepted targets.
func (r *Result) Len() int { return r.keys.Len() }

// Documents returns the sitemap documents fetched and parsed successfully.
func (r *Result) Documents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.docs...)
}

// FailedDocuments returns the sitemap documents that could not be fetched
// or parsed.
func (r *Result) FailedDocuments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.failed...)
}

// Traverser expands sitemap roots into crawl targets.
type Traverser struct {
	fetcher crawler.Fetcher
	opts    Options
	logger  *zap.Logger
}

// NewTraverser returns a Traverser fetching documents through fetcher.
func NewTraverser(fetcher crawler.Fetcher, opts Options, logger *zap.Logger) *Traverser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Traverser{fetcher: fetcher, opts: opts, logger: logger}
}

// Traverse fetches every root and recursively every accepted index entry.
// Each document is fetched at most once. Document failures and filter
// errors are logged and skipped; only cancellation stops the traversal, in
// which case the partial result is returned with the context error.
func (t *Traverser) Traverse(ctx context.Context, roots []string, filter FilterFunc, mapper MapFunc) (*Result, error) {
	res := newResult()

	var (
		wg      sync.WaitGroup
		visited = urlset.New()
		sem     = make(chan struct{}, t.opts.Concurrency)
	)

	var visit func(docURL string)
	visit = func(docURL string) {
		defer wg.Done()
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		children := t.process(ctx, docURL, filter, mapper, res)
		<-sem
		for _, child := range children {
			if !visited.Add(child) {
				continue
			}
			wg.Add(1)
			go visit(urlset.Clean(child))
		}
	}

	for _, root := range roots {
		if !visited.Add(root) {
			continue
		}
		wg.Add(1)
		go visit(urlset.Clean(root))
	}
	wg.Wait()

	metrics.AddTargets(res.Len())
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("sitemap traversal interrupted: %w", err)
	}
	return res, nil
}

// process handles one sitemap document and returns the accepted index
// entries to expand.
func (t *Traverser) process(ctx context.Context, docURL string, filter FilterFunc, mapper MapFunc, res *Result) []string {
	if res.full(t.opts.Limit) {
		return nil
	}
	start := time.Now()
	page, err := t.fetcher.Fetch(ctx, docURL)
	metrics.ObserveDocumentFetch("sitemap", time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		metrics.ObserveSitemapDocument("failed")
		res.document(docURL, false)
		t.logger.Warn("sitemap fetch failed", zap.String("url", docURL), zap.Error(err))
		return nil
	}
	candidates, err := Parse(page.Body)
	if err != nil {
		metrics.ObserveSitemapDocument("invalid")
		res.document(docURL, false)
		t.logger.Warn("sitemap parse failed", zap.String("url", docURL), zap.Error(err))
		return nil
	}
	metrics.ObserveSitemapDocument("ok")
	res.document(docURL, true)

	var children []string
	for _, c := range candidates {
		if ctx.Err() != nil {
			return nil
		}
		u := urlset.Clean(c.URL)
		if u == "" {
			continue
		}
		if res.full(t.opts.Limit) {
			metrics.ObserveCandidate(string(c.Kind), "capped")
			t.logger.Debug("target cap reached; stopping document scan",
				zap.String("url", docURL),
				zap.Int("limit", t.opts.Limit),
			)
			break
		}
		ok, err := filter(ctx, u, c.Kind)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.ObserveCandidate(string(c.Kind), "hook_error")
			t.logger.Warn("sitemap filter failed; candidate rejected",
				zap.String("url", u),
				zap.String("kind", string(c.Kind)),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			metrics.ObserveCandidate(string(c.Kind), "rejected")
			continue
		}
		if c.Kind == KindIndex {
			metrics.ObserveCandidate(string(c.Kind), "followed")
			children = append(children, u)
			continue
		}
		if added, _ := res.add(mapper(u), t.opts.Limit); added {
			metrics.ObserveCandidate(string(c.Kind), "accepted")
		} else {
			metrics.ObserveCandidate(string(c.Kind), "duplicate")
		}
	}
	t.logger.Debug("sitemap processed",
		zap.String("url", docURL),
		zap.Int("entries", len(candidates)),
		zap.Int("indexes_followed", len(children)),
	)
	return children
}
