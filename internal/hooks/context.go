package hooks

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/urlset"
)

// Context is handed to every hook invocation. Exactly the fields relevant
// to Label are populated; it lives for one call.
type Context struct {
	Label      Label
	CustomData map[string]any
	Logger     *zap.Logger

	// URL is the candidate under FILTER_SITEMAP_URL.
	URL string
	// Sitemaps is the live sitemap set under SETUP.
	Sitemaps *urlset.Set
	// Request is set under PRENAVIGATION, POSTNAVIGATION and RUN. Header
	// changes made under PRENAVIGATION are sent.
	Request *crawler.Request
	// Response is set under POSTNAVIGATION.
	Response *crawler.Response
	// Data is the decoded payload under RUN.
	Data any
	// Stats is the run summary under FINISHED.
	Stats any

	accept bool
}

func newContext(label Label, custom map[string]any, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		Label:      label,
		CustomData: custom,
		Logger:     logger,
		accept:     true,
	}
}

// Filter AND-reduces ok into the acceptance decision and returns the result.
func (c *Context) Filter(ok bool) bool {
	c.accept = c.accept && ok
	return c.accept
}

// Accepted reports the current acceptance decision.
func (c *Context) Accepted() bool { return c.accept }

// SetHeader sets a request header. It is a no-op without a request.
func (c *Context) SetHeader(key, value string) bool {
	if c.Request == nil {
		return false
	}
	if c.Request.Headers == nil {
		c.Request.Headers = http.Header{}
	}
	c.Request.Headers.Set(key, value)
	return true
}

// env builds the expression environment for this invocation.
func (c *Context) env() map[string]any {
	env := map[string]any{
		"label":      string(c.Label),
		"customData": c.CustomData,
		"log": func(args ...any) bool {
			c.Logger.Info("hook log", zap.String("label", string(c.Label)), zap.Any("args", args))
			return true
		},
		"stripQuery": StripQuery,
		"merge":      Merge,

		filterAccumulator: c.Filter,
	}
	switch c.Label {
	case LabelSetup:
		env["sitemaps"] = func() []string {
			if c.Sitemaps == nil {
				return nil
			}
			return c.Sitemaps.Snapshot()
		}
		env["addSitemap"] = func(u string) bool { return c.Sitemaps != nil && c.Sitemaps.Add(u) }
		env["removeSitemap"] = func(u string) bool { return c.Sitemaps != nil && c.Sitemaps.Remove(u) }
	case LabelFilterSitemapURL:
		env["url"] = c.URL
	case LabelPreNavigation, LabelPostNavigation:
		env["request"] = requestView(c.Request)
		env["response"] = responseView(c.Response)
		env["setHeader"] = c.SetHeader
	case LabelRun:
		env["request"] = requestView(c.Request)
		env["data"] = c.Data
	case LabelFinished:
		env["stats"] = c.Stats
	}
	return env
}

func outputEnv(c *Context, data any, item map[string]any) map[string]any {
	env := c.env()
	env["data"] = data
	env["item"] = item
	return env
}

func requestView(r *crawler.Request) map[string]any {
	if r == nil {
		return nil
	}
	return map[string]any{
		"url":        r.URL,
		"label":      string(r.Label),
		"metadata":   r.Metadata,
		"headers":    flatHeaders(r.Headers),
		"retryCount": r.Retries,
	}
}

func responseView(r *crawler.Response) map[string]any {
	if r == nil {
		return nil
	}
	return map[string]any{
		"url":        r.FinalURL,
		"statusCode": r.StatusCode,
		"headers":    flatHeaders(r.Headers),
		"body":       string(r.Body),
	}
}

func flatHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// StripQuery removes the query string and fragment from a URL.
func StripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// Merge shallow-merges maps left to right. Non-map arguments are skipped.
func Merge(parts ...any) map[string]any {
	out := make(map[string]any)
	for _, p := range parts {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
