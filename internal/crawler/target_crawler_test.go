package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu       sync.Mutex
	pages    []Response
	failures []Failure
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnPage: func(_ context.Context, resp Response) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.pages = append(r.pages, resp)
			return nil
		},
		OnFailed: func(_ context.Context, f Failure) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failures = append(r.failures, f)
		},
	}
}

func newTestTargetCrawler(t *testing.T, cfg TargetConfig) *TargetCrawler {
	t.Helper()
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	cfg.RequestTimeout = 5 * time.Second
	c, err := NewTargetCrawler(cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestTargetCrawlerDeliversJSONPages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"product":{"title":%q}}`, r.URL.Path)
	}))
	defer srv.Close()

	rec := &recorder{}
	targets := []Target{
		{URL: srv.URL + "/products/a.json", Label: LabelJSON, Metadata: map[string]string{MetaProductURL: srv.URL + "/products/a"}},
		{URL: srv.URL + "/products/b.json", Label: LabelJSON},
	}
	stats, err := newTestTargetCrawler(t, TargetConfig{}).Crawl(context.Background(), targets, rec.callbacks())
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Pages)
	require.Len(t, rec.pages, 2)
	urls := []string{rec.pages[0].Request.URL, rec.pages[1].Request.URL}
	sort.Strings(urls)
	assert.Equal(t, []string{srv.URL + "/products/a.json", srv.URL + "/products/b.json"}, urls)
	for _, p := range rec.pages {
		assert.Equal(t, LabelJSON, p.Request.Label)
		if p.Request.URL == srv.URL+"/products/a.json" {
			assert.Equal(t, srv.URL+"/products/a", p.Request.Metadata[MetaProductURL])
		}
	}
}

func TestTargetCrawlerReportsFailureAfterRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &recorder{}
	stats, err := newTestTargetCrawler(t, TargetConfig{MaxRetries: 2}).Crawl(
		context.Background(),
		[]Target{{URL: srv.URL + "/products/broken.json", Label: LabelJSON}},
		rec.callbacks(),
	)
	require.NoError(t, err)

	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, int64(1), stats.Failed)
	require.Len(t, rec.failures, 1)
	assert.Equal(t, 2, rec.failures[0].RetryCount)
	assert.Equal(t, http.StatusInternalServerError, rec.failures[0].StatusCode)
	assert.Len(t, rec.failures[0].ErrorMessages, 3)
	assert.Empty(t, rec.pages)
}

func TestTargetCrawlerPassesNotFoundToHandler(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rec := &recorder{}
	var post atomic.Int32
	cb := rec.callbacks()
	cb.PostNavigation = func(_ context.Context, resp Response) error {
		post.Add(1)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		return nil
	}
	stats, err := newTestTargetCrawler(t, TargetConfig{MaxRetries: 3}).Crawl(
		context.Background(),
		[]Target{{URL: srv.URL + "/products/gone.json", Label: LabelJSON}},
		cb,
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.NotFound)
	assert.Equal(t, int32(1), post.Load())
	require.Len(t, rec.pages, 1)
	assert.Equal(t, http.StatusNotFound, rec.pages[0].StatusCode)
	assert.Empty(t, rec.failures)
}

func TestTargetCrawlerRetriesWithinRequestCap(t *testing.T) {
	t.Parallel()

	var flakyHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/products/a.json" && flakyHits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"product":{"title":"ok"}}`))
	}))
	defer srv.Close()

	rec := &recorder{}
	stats, err := newTestTargetCrawler(t, TargetConfig{MaxRequests: 2, MaxRetries: 3}).Crawl(
		context.Background(),
		[]Target{
			{URL: srv.URL + "/products/a.json", Label: LabelJSON},
			{URL: srv.URL + "/products/b.json", Label: LabelJSON},
		},
		rec.callbacks(),
	)
	require.NoError(t, err)

	assert.Equal(t, int32(2), flakyHits.Load())
	assert.Equal(t, int64(2), stats.Pages)
	assert.Zero(t, stats.Failed)
	assert.Empty(t, rec.failures)
}

func TestTargetCrawlerRequestCapSkipsTargets(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	rec := &recorder{}
	stats, err := newTestTargetCrawler(t, TargetConfig{MaxRequests: 1}).Crawl(
		context.Background(),
		[]Target{
			{URL: srv.URL + "/products/a.json", Label: LabelJSON},
			{URL: srv.URL + "/products/b.json", Label: LabelJSON},
		},
		rec.callbacks(),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Requests)
	require.Len(t, rec.pages, 1)
	assert.Equal(t, srv.URL+"/products/a.json", rec.pages[0].Request.URL)
}

func TestTargetCrawlerHTMLLabelReenqueuesJSON(t *testing.T) {
	t.Parallel()

	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products/shirt":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `<html><head><link rel="canonical" href="%s/products/canonical-shirt"></head></html>`, srvURL)
		case "/products/canonical-shirt.json":
			_, _ = w.Write([]byte(`{"product":{"title":"Shirt"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	rec := &recorder{}
	var post atomic.Int32
	cb := rec.callbacks()
	cb.PostNavigation = func(context.Context, Response) error {
		post.Add(1)
		return nil
	}
	_, err := newTestTargetCrawler(t, TargetConfig{}).Crawl(
		context.Background(),
		[]Target{{URL: srv.URL + "/products/shirt", Label: LabelHTML}},
		cb,
	)
	require.NoError(t, err)

	require.Len(t, rec.pages, 1)
	assert.Equal(t, srv.URL+"/products/canonical-shirt.json", rec.pages[0].Request.URL)
	assert.Equal(t, LabelJSON, rec.pages[0].Request.Label)
	assert.Equal(t, srv.URL+"/products/canonical-shirt", rec.pages[0].Request.Metadata[MetaProductURL])
	assert.Equal(t, int32(2), post.Load())
}

func TestTargetCrawlerPreNavigationSetsHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"cookie":%q}`, r.Header.Get("Cookie"))
	}))
	defer srv.Close()

	rec := &recorder{}
	cb := rec.callbacks()
	cb.PreNavigation = func(_ context.Context, req *Request) error {
		req.Headers.Set("Cookie", "cart_currency=USD")
		return nil
	}
	_, err := newTestTargetCrawler(t, TargetConfig{}).Crawl(
		context.Background(),
		[]Target{{URL: srv.URL + "/products/a.json", Label: LabelJSON}},
		cb,
	)
	require.NoError(t, err)
	require.Len(t, rec.pages, 1)
	assert.JSONEq(t, `{"cookie":"cart_currency=USD"}`, string(rec.pages[0].Body))
}

func TestTargetCrawlerHonoursCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	_, err := newTestTargetCrawler(t, TargetConfig{}).Crawl(
		ctx,
		[]Target{{URL: srv.URL + "/products/a.json", Label: LabelJSON}},
		rec.callbacks(),
	)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.pages)
}

func TestNewTargetCrawlerValidates(t *testing.T) {
	t.Parallel()

	_, err := NewTargetCrawler(TargetConfig{}, nil)
	assert.Error(t, err)
}
