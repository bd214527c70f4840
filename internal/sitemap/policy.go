package sitemap

import (
	"context"
	"regexp"
	"strings"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/urlset"
)

// ProductPathSegment marks product page URLs.
const ProductPathSegment = "/products/"

var productSitemapPattern = regexp.MustCompile(`(?i)sitemap_products_\d+[^/]*\.xml`)

// IsProductSitemap reports whether rawURL names a product sitemap.
func IsProductSitemap(rawURL string) bool {
	return productSitemapPattern.MatchString(rawURL)
}

// HookFunc lets extension logic veto a product URL.
type HookFunc func(ctx context.Context, rawURL string) (bool, error)

// RobotsChecker reports whether a URL may be crawled.
type RobotsChecker interface {
	Allowed(rawURL string) bool
}

// Policy is the orchestrator's candidate filter: product sitemaps are always
// followed, product pages go through Hook, everything else is rejected.
type Policy struct {
	Hook   HookFunc
	Robots RobotsChecker
}

// Accept implements FilterFunc.
func (p Policy) Accept(ctx context.Context, rawURL string, _ Kind) (bool, error) {
	if IsProductSitemap(rawURL) {
		return true, nil
	}
	if !strings.Contains(rawURL, ProductPathSegment) {
		return false, nil
	}
	if p.Robots != nil && !p.Robots.Allowed(rawURL) {
		return false, nil
	}
	if p.Hook == nil {
		return true, nil
	}
	return p.Hook(ctx, rawURL)
}

// NewMapper returns the leaf-to-target mapping. Targets fetch the product
// JSON endpoint directly unless fetchHTML is set.
func NewMapper(fetchHTML bool) MapFunc {
	return func(rawURL string) crawler.Target {
		page := urlset.Clean(rawURL)
		productURL := stripQuery(page)
		if fetchHTML {
			return crawler.Target{
				URL:      page,
				Label:    crawler.LabelHTML,
				Metadata: map[string]string{crawler.MetaProductURL: productURL},
			}
		}
		return crawler.Target{
			URL:      crawler.JSONEndpoint(page),
			Label:    crawler.LabelJSON,
			Metadata: map[string]string{crawler.MetaProductURL: productURL},
		}
	}
}

func stripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}
