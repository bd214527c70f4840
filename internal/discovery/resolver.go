// Package discovery locates the sitemap roots of storefront seeds by reading
// the Sitemap declarations in each seed's robots.txt.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/metrics"
	"github.com/JakeFAU/storefront-crawler/internal/urlset"
)

// DefaultSignature identifies robots.txt files served by the target platform.
const DefaultSignature = "Shopify"

var (
	sitemapDirective   = regexp.MustCompile(`(?mi)^[ \t]*sitemap:`)
	sitemapDeclaration = regexp.MustCompile(`(?mi)^[ \t]*sitemap:[ \t]*(\S+)[ \t\r]*$`)
)

// Declaration is a sitemap URL declared in a seed's robots.txt.
type Declaration struct {
	SourceURL  string `json:"sourceUrl"`
	SitemapURL string `json:"sitemapUrl"`
}

// Report summarises a Resolve call. Every seed appears in exactly one map.
type Report struct {
	Resolved map[string][]Declaration
	Failed   map[string]error
}

// Options configures a Resolver.
type Options struct {
	// Signature must appear in robots.txt; empty uses DefaultSignature.
	Signature string
	// Rules, when set, records each parsed robots.txt for later path checks.
	Rules *Rules
}

// Resolver turns seed URLs into sitemap roots.
type Resolver struct {
	fetcher   crawler.Fetcher
	signature string
	rules     *Rules
	logger    *zap.Logger
}

// NewResolver returns a Resolver fetching robots.txt through fetcher.
func NewResolver(fetcher crawler.Fetcher, opts Options, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	sig := opts.Signature
	if sig == "" {
		sig = DefaultSignature
	}
	return &Resolver{
		fetcher:   fetcher,
		signature: sig,
		rules:     opts.Rules,
		logger:    logger,
	}
}

// Resolve processes every seed sequentially and adds each declared sitemap
// to set. Per-seed failures are logged and reported, never returned.
// Resolve only stops early when ctx is cancelled.
func (r *Resolver) Resolve(ctx context.Context, seeds []string, set *urlset.Set) (Report, error) {
	report := Report{
		Resolved: make(map[string][]Declaration),
		Failed:   make(map[string]error),
	}
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("discovery interrupted: %w", err)
		}
		decls, err := r.ResolveSeed(ctx, seed)
		if err != nil {
			if ctx.Err() != nil {
				return report, fmt.Errorf("discovery interrupted: %w", ctx.Err())
			}
			report.Failed[seed] = err
			metrics.ObserveSeed(outcome(err))
			r.logger.Warn("seed skipped", zap.String("seed", seed), zap.Error(err))
			continue
		}
		for _, d := range decls {
			set.Add(d.SitemapURL)
		}
		report.Resolved[seed] = decls
		metrics.ObserveSeed("resolved")
		r.logger.Info("sitemap resolved",
			zap.String("seed", seed),
			zap.String("sitemap", decls[0].SitemapURL),
			zap.Int("declarations", len(decls)),
		)
	}
	return report, nil
}

// ResolveSeed fetches and inspects the robots.txt of a single seed. The
// first returned declaration is the primary sitemap.
func (r *Resolver) ResolveSeed(ctx context.Context, seed string) ([]Declaration, error) {
	robotsURL, err := RobotsURL(seed)
	if err != nil {
		return nil, &Error{Seed: seed, Err: err}
	}

	start := time.Now()
	page, err := r.fetcher.Fetch(ctx, robotsURL)
	metrics.ObserveDocumentFetch("robots", time.Since(start))
	if err != nil {
		var fe *crawler.FetchError
		if errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound {
			return nil, &Error{Seed: seed, Err: fmt.Errorf("%w: robots.txt not found", ErrNotTargetPlatform)}
		}
		return nil, &Error{Seed: seed, Err: err}
	}

	body := string(page.Body)
	if r.rules != nil {
		r.rules.Record(robotsURL, page.StatusCode, page.Body)
	}
	sitemaps, err := ParseRobots(body, r.signature)
	if err != nil {
		return nil, &Error{Seed: seed, Err: err}
	}
	decls := make([]Declaration, 0, len(sitemaps))
	for _, s := range sitemaps {
		decls = append(decls, Declaration{SourceURL: robotsURL, SitemapURL: s})
	}
	return decls, nil
}

// ParseRobots validates a robots.txt body and extracts its sitemap URLs in
// declaration order.
func ParseRobots(body, signature string) ([]string, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: empty robots.txt", ErrNotTargetPlatform)
	}
	if signature != "" && !strings.Contains(body, signature) {
		return nil, fmt.Errorf("%w: signature %q not present", ErrNotTargetPlatform, signature)
	}
	if !sitemapDirective.MatchString(body) {
		return nil, fmt.Errorf("%w: no Sitemap directive", ErrNotTargetPlatform)
	}
	var out []string
	seen := make(map[string]struct{})
	for _, m := range sitemapDeclaration.FindAllStringSubmatch(body, -1) {
		u := urlset.Clean(m[1])
		if _, dup := seen[u]; dup || u == "" {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil, ErrMalformedDeclaration
	}
	return out, nil
}

// RobotsURL strips query and fragment from seed and returns
// {origin}/robots.txt. Seeds without a scheme default to https.
func RobotsURL(seed string) (string, error) {
	seed = urlset.Clean(seed)
	if seed == "" {
		return "", errors.New("empty seed")
	}
	if !strings.Contains(seed, "://") {
		seed = "https://" + seed
	}
	u, err := url.Parse(seed)
	if err != nil {
		return "", fmt.Errorf("parse seed: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("seed %q has no host", seed)
	}
	origin := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}
	return origin.String(), nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrNotTargetPlatform):
		return "not_target_platform"
	case errors.Is(err, ErrMalformedDeclaration):
		return "malformed_declaration"
	default:
		return "fetch_error"
	}
}
