package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/metrics"
)

const (
	ctxLabel    = "label"
	ctxMeta     = "metadata"
	ctxRetries  = "retries"
	ctxErrors   = "errors"
	ctxCanonURL = "canonical"
)

// TargetConfig controls the product crawl.
type TargetConfig struct {
	UserAgent      string
	Concurrency    int
	MaxRequests    int
	MaxRetries     int
	RequestTimeout time.Duration
	Proxies        []string
}

// CrawlStats summarises a finished (or abandoned) product crawl.
type CrawlStats struct {
	Requests int64 `json:"requests"`
	Pages    int64 `json:"pages"`
	NotFound int64 `json:"notFound"`
	Failed   int64 `json:"failed"`
}

// errRequestCap is returned by enqueue once the request budget is spent.
var errRequestCap = errors.New("request cap reached")

// requestBudget caps new requests. Retries of an admitted request are free.
type requestBudget struct {
	max  int64
	used atomic.Int64
}

func (b *requestBudget) take() bool {
	if b.max <= 0 {
		return true
	}
	return b.used.Add(1) <= b.max
}

// TargetCrawler drives an async Colly collector over the crawl targets.
type TargetCrawler struct {
	cfg    TargetConfig
	logger *zap.Logger
}

// NewTargetCrawler validates cfg and returns a crawler.
func NewTargetCrawler(cfg TargetConfig, logger *zap.Logger) (*TargetCrawler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("target crawler concurrency must be > 0")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &TargetCrawler{cfg: cfg, logger: logger}, nil
}

// JSONEndpoint maps a product page URL to its JSON representation.
func JSONEndpoint(productURL string) string {
	u, err := url.Parse(strings.TrimSpace(productURL))
	if err != nil {
		return strings.TrimSpace(productURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(u.Path, ".json") {
		u.Path += ".json"
	}
	return u.String()
}

// Crawl fetches every target. It returns when the collector drains or when
// ctx is cancelled; in the latter case in-flight requests are abandoned.
func (t *TargetCrawler) Crawl(ctx context.Context, targets []Target, cb Callbacks) (CrawlStats, error) {
	var (
		requests atomic.Int64
		pages    atomic.Int64
		notFound atomic.Int64
		failed   atomic.Int64
	)

	c, err := t.newCollector()
	if err != nil {
		return CrawlStats{}, err
	}
	budget := &requestBudget{max: int64(t.cfg.MaxRequests)}

	fail := func(r *colly.Request, status int, msgs []string) {
		failed.Add(1)
		metrics.IncFailedTargets()
		if cb.OnFailed == nil {
			return
		}
		req := requestFromColly(r)
		cb.OnFailed(ctx, Failure{
			URL:           req.URL,
			Label:         req.Label,
			StatusCode:    status,
			RetryCount:    req.Retries,
			ErrorMessages: msgs,
		})
	}

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		requests.Add(1)
		if cb.PreNavigation == nil {
			return
		}
		req := requestFromColly(r)
		if err := cb.PreNavigation(ctx, &req); err != nil {
			t.logger.Warn("pre-navigation hook failed", zap.String("url", req.URL), zap.Error(err))
			r.Abort()
			fail(r, 0, append(errorMessages(r.Ctx), err.Error()))
			return
		}
		for k := range *r.Headers {
			if _, ok := req.Headers[k]; !ok {
				r.Headers.Del(k)
			}
		}
		for k, values := range req.Headers {
			r.Headers.Del(k)
			for _, v := range values {
				r.Headers.Add(k, v)
			}
		}
	})

	c.OnHTML(`link[rel="canonical"]`, func(e *colly.HTMLElement) {
		if href := e.Request.AbsoluteURL(e.Attr("href")); href != "" {
			e.Request.Ctx.Put(ctxCanonURL, href)
		}
	})

	postNavigate := func(r *colly.Response, resp Response) bool {
		if cb.PostNavigation == nil {
			return true
		}
		if err := cb.PostNavigation(ctx, resp); err != nil {
			t.logger.Warn("post-navigation hook failed", zap.String("url", resp.Request.URL), zap.Error(err))
			fail(r.Request, r.StatusCode, []string{err.Error()})
			return false
		}
		return true
	}

	c.OnResponse(func(r *colly.Response) {
		resp := responseFromColly(r)
		metrics.ObserveRequest(resp.Request.URL, string(resp.Request.Label), r.StatusCode)
		if !postNavigate(r, resp) {
			return
		}
		if resp.Request.Label == LabelHTML {
			return
		}
		pages.Add(1)
		t.deliver(ctx, cb, resp)
	})

	c.OnScraped(func(r *colly.Response) {
		req := requestFromColly(r.Request)
		if req.Label != LabelHTML {
			return
		}
		source := r.Ctx.Get(ctxCanonURL)
		if source == "" {
			source = Target{URL: req.URL, Metadata: req.Metadata}.ProductURL()
		}
		meta := copyMeta(req.Metadata)
		meta[MetaProductURL] = stripQuery(source)
		t.enqueue(c, budget, Target{URL: JSONEndpoint(source), Label: LabelJSON, Metadata: meta})
	})

	c.OnError(func(r *colly.Response, err error) {
		if ctx.Err() != nil {
			return
		}
		req := requestFromColly(r.Request)
		metrics.ObserveRequest(req.URL, string(req.Label), r.StatusCode)
		if r.StatusCode == http.StatusNotFound && req.Label == LabelJSON {
			resp := responseFromColly(r)
			if !postNavigate(r, resp) {
				return
			}
			notFound.Add(1)
			t.deliver(ctx, cb, resp)
			return
		}
		msgs := append(errorMessages(r.Ctx), err.Error())
		r.Ctx.Put(ctxErrors, msgs)
		if req.Retries < t.cfg.MaxRetries {
			r.Ctx.Put(ctxRetries, req.Retries+1)
			t.logger.Debug("retrying request",
				zap.String("url", req.URL),
				zap.Int("retry", req.Retries+1),
				zap.Error(err),
			)
			rerr := r.Request.Retry()
			if rerr == nil {
				return
			}
			msgs = append(msgs, rerr.Error())
		}
		t.logger.Warn("request failed after retries",
			zap.String("url", req.URL),
			zap.Int("status_code", r.StatusCode),
			zap.Int("retries", req.Retries),
		)
		fail(r.Request, r.StatusCode, msgs)
	})

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		if errors.Is(t.enqueue(c, budget, target), errRequestCap) {
			t.logger.Info("request cap reached; remaining targets skipped", zap.Int("max_requests", t.cfg.MaxRequests))
			break
		}
	}

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()

	stats := func() CrawlStats {
		return CrawlStats{
			Requests: requests.Load(),
			Pages:    pages.Load(),
			NotFound: notFound.Load(),
			Failed:   failed.Load(),
		}
	}
	select {
	case <-ctx.Done():
		return stats(), fmt.Errorf("product crawl interrupted: %w", ctx.Err())
	case <-done:
		if err := ctx.Err(); err != nil {
			return stats(), fmt.Errorf("product crawl interrupted: %w", err)
		}
		return stats(), nil
	}
}

func (t *TargetCrawler) newCollector() (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(t.cfg.UserAgent),
		colly.Debugger(newZapDebugger(t.logger)),
	)
	c.MaxBodySize = maxDocumentBytes
	c.WithTransport(newHTTPTransport(t.cfg.Concurrency, t.cfg.RequestTimeout))
	if t.cfg.RequestTimeout > 0 {
		c.SetRequestTimeout(t.cfg.RequestTimeout)
	}
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: t.cfg.Concurrency,
	}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}
	if err := applyProxies(c, t.cfg.Proxies); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *TargetCrawler) enqueue(c *colly.Collector, budget *requestBudget, target Target) error {
	if !budget.take() {
		return errRequestCap
	}
	cctx := colly.NewContext()
	cctx.Put(ctxLabel, string(target.Label))
	cctx.Put(ctxMeta, copyMeta(target.Metadata))
	cctx.Put(ctxRetries, 0)
	err := c.Request(http.MethodGet, target.URL, nil, cctx, nil)
	if err != nil {
		t.logger.Debug("target not enqueued", zap.String("url", target.URL), zap.Error(err))
	}
	return err
}

func (t *TargetCrawler) deliver(ctx context.Context, cb Callbacks, resp Response) {
	if cb.OnPage == nil {
		return
	}
	if err := cb.OnPage(ctx, resp); err != nil {
		t.logger.Warn("page handler failed", zap.String("url", resp.Request.URL), zap.Error(err))
	}
}

func requestFromColly(r *colly.Request) Request {
	if r == nil {
		return Request{}
	}
	req := Request{
		URL:   r.URL.String(),
		Label: Label(r.Ctx.Get(ctxLabel)),
	}
	if meta, ok := r.Ctx.GetAny(ctxMeta).(map[string]string); ok {
		req.Metadata = meta
	}
	if retries, ok := r.Ctx.GetAny(ctxRetries).(int); ok {
		req.Retries = retries
	}
	req.Headers = cloneHeaders(r.Headers)
	return req
}

func responseFromColly(r *colly.Response) Response {
	return Response{
		Request:    requestFromColly(r.Request),
		FinalURL:   r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    cloneHeaders(r.Headers),
		Body:       append([]byte(nil), r.Body...),
	}
}

func errorMessages(cctx *colly.Context) []string {
	if msgs, ok := cctx.GetAny(ctxErrors).([]string); ok {
		return append([]string(nil), msgs...)
	}
	return nil
}

func copyMeta(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}
