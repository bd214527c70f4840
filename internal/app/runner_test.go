package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/config"
	"github.com/JakeFAU/storefront-crawler/internal/sink"
	memorysink "github.com/JakeFAU/storefront-crawler/internal/sink/memory"
	"github.com/JakeFAU/storefront-crawler/internal/state"
	memorystate "github.com/JakeFAU/storefront-crawler/internal/state/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

const teeJSON = `{"product":{
	"id": 1,
	"title": "Tee",
	"body_html": "<p>Soft cotton</p>",
	"vendor": "Acme",
	"product_type": "Shirts",
	"tags": "summer, cotton",
	"options": [{"name": "Size"}],
	"variants": [
		{"id": 11, "title": "S", "option1": "S", "price": "10.00", "sku": "TEE-S", "inventory_quantity": 4},
		{"id": 12, "title": "M", "option1": "M", "price": "12.50", "sku": "TEE-M", "inventory_quantity": 0}
	],
	"images": [{"id": 5, "src": "https://cdn.test/tee.jpg?v=1", "variant_ids": []}]
}}`

type shop struct {
	srv         *httptest.Server
	brokenHits  atomic.Int64
	giftFetched atomic.Int64
}

func newShop(t *testing.T) *shop {
	t.Helper()
	s := &shop{}
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "# we use Shopify as our ecommerce platform\nUser-agent: *\nDisallow: /cart\nSitemap: %s/sitemap.xml\n", s.srv.URL)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%[1]s/sitemap_products_1.xml?from=1&amp;to=9</loc></sitemap>
  <sitemap><loc>%[1]s/sitemap_blogs_1.xml</loc></sitemap>
</sitemapindex>`, s.srv.URL)
	})
	mux.HandleFunc("/sitemap_products_1.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/</loc></url>
  <url><loc>%[1]s/products/tee</loc></url>
  <url><loc>%[1]s/products/gift-card</loc></url>
  <url><loc>%[1]s/products/gone</loc></url>
  <url><loc>%[1]s/products/broken</loc></url>
</urlset>`, s.srv.URL)
	})
	mux.HandleFunc("/sitemap_blogs_1.xml", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("blog sitemap must not be fetched")
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/products/tee.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(teeJSON))
	})
	mux.HandleFunc("/products/gift-card.json", func(w http.ResponseWriter, _ *http.Request) {
		s.giftFetched.Add(1)
		_, _ = w.Write([]byte(`{"product":{"title":"Gift card","variants":[{"id":1}]}}`))
	})
	mux.HandleFunc("/products/gone.json", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":"Not Found"}`))
	})
	mux.HandleFunc("/products/broken.json", func(w http.ResponseWriter, _ *http.Request) {
		s.brokenHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func testConfig(seed string) config.Config {
	return config.Config{
		StartURLs:             []string{seed},
		MaxConcurrency:        4,
		MaxRequestRetries:     1,
		PlatformSignature:     "Shopify",
		UserAgent:             "storefront-test",
		RequestTimeout:        5 * time.Second,
		ExtendScraperFunction: `label == "FILTER_SITEMAP_URL" ? filter(!(url contains "gift-card")) : nil`,
		ExtendOutputFunction:  `merge(item, {"market": customData.market})`,
		CustomData:            map[string]any{"market": "us"},
	}
}

func TestRunnerEndToEnd(t *testing.T) {
	t.Parallel()

	shop := newShop(t)
	store := memorystate.New()
	out := memorysink.New()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	runner, err := NewRunner(testConfig(shop.srv.URL), Deps{
		Store:  store,
		Sink:   out,
		Clock:  fixedClock{now: now},
		Logger: zap.NewNop(),
		RunID:  "run-e2e",
	})
	require.NoError(t, err)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-e2e", stats.RunID)
	assert.Equal(t, PhaseFinished, stats.Phase)
	assert.Equal(t, 1, stats.Seeds)
	assert.Equal(t, 1, stats.Sitemaps)
	assert.Equal(t, 3, stats.Targets)
	assert.EqualValues(t, 3, stats.Records)
	assert.EqualValues(t, 1, stats.Failed)
	assert.False(t, stats.Aborted)
	assert.Zero(t, shop.giftFetched.Load())
	assert.EqualValues(t, 2, shop.brokenHits.Load())

	var variants []map[string]any
	var failures []map[string]any
	for _, item := range out.Items() {
		m, ok := item.(map[string]any)
		require.True(t, ok)
		if f, ok := m[sink.FailedKey]; ok {
			failures = append(failures, f.(map[string]any))
			continue
		}
		variants = append(variants, m)
	}
	require.Len(t, variants, 2)
	byID := map[string]map[string]any{}
	for _, v := range variants {
		byID[v["id"].(string)] = v
		assert.Equal(t, "us", v["market"])
		assert.Equal(t, shop.srv.URL+"/products/tee", v["url"])
		assert.Equal(t, "Tee", v["title"])
		assert.Equal(t, "Acme", v["brand"])
		assert.Equal(t, "Soft cotton", v["description"])
		assert.Equal(t, []string{"https://cdn.test/tee.jpg"}, v["images_urls"])
	}
	assert.Equal(t, "S", byID["11"]["size"])
	assert.Equal(t, 10.0, byID["11"]["price"])
	assert.Equal(t, "in stock", byID["11"]["availability"])
	assert.Equal(t, "out of stock", byID["12"]["availability"])

	require.Len(t, failures, 1)
	assert.Equal(t, shop.srv.URL+"/products/broken.json", failures[0]["url"])
	assert.Equal(t, 1, failures[0]["retryCount"])

	sitemaps, err := state.LoadSitemaps(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, []string{shop.srv.URL + "/sitemap.xml"}, sitemaps)

	persisted, ok, err := state.LoadStats(context.Background(), store)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, persisted.Targets)
	assert.EqualValues(t, 3, persisted.Records)
	assert.Equal(t, now, persisted.StartedAt)
}

func TestRunnerMergesPersistedSitemaps(t *testing.T) {
	t.Parallel()

	shop := newShop(t)
	store := memorystate.New()
	ctx := context.Background()
	require.NoError(t, state.SaveSitemaps(ctx, store, []string{shop.srv.URL + "/sitemap.xml"}))

	cfg := testConfig("https://blog.invalid")
	cfg.RequestTimeout = time.Second
	cfg.MaxRequestRetries = 0
	runner, err := NewRunner(cfg, Deps{Store: store, Sink: memorysink.New()})
	require.NoError(t, err)

	stats, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sitemaps)
	assert.Equal(t, 3, stats.Targets)
}

func TestRunnerCapLimitsTargets(t *testing.T) {
	t.Parallel()

	shop := newShop(t)
	cfg := testConfig(shop.srv.URL)
	cfg.MaxRequestsPerCrawl = 1
	out := memorysink.New()
	runner, err := NewRunner(cfg, Deps{Store: memorystate.New(), Sink: out})
	require.NoError(t, err)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Targets)
	assert.Len(t, out.Items(), 2)
}

func TestRunnerCancelledPersistsSnapshot(t *testing.T) {
	t.Parallel()

	store := memorystate.New()
	ctx := context.Background()
	require.NoError(t, state.SaveSitemaps(ctx, store, []string{"https://shop.test/sitemap.xml"}))

	cfg := testConfig("https://shop.test")
	cfg.ExtendScraperFunction = `label == "SETUP" ? addSitemap("https://shop.test/extra.xml") : nil`
	runner, err := NewRunner(cfg, Deps{Store: store, Sink: memorysink.New()})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	stats, err := runner.Run(cancelled)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, stats.Aborted)
	assert.Equal(t, PhaseAborted, stats.Phase)

	sitemaps, err := state.LoadSitemaps(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.test/sitemap.xml", "https://shop.test/extra.xml"}, sitemaps)

	persisted, ok, err := state.LoadStats(ctx, store)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, persisted.Aborted)
}

// ctxStore fails loads on a cancelled context, like the remote stores do.
type ctxStore struct {
	state.Store
}

func (s ctxStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.Load(ctx, key)
}

func TestRunnerCancelledBeforeLoadKeepsSnapshot(t *testing.T) {
	t.Parallel()

	inner := memorystate.New()
	ctx := context.Background()
	require.NoError(t, state.SaveSitemaps(ctx, inner, []string{"https://shop.test/sitemap.xml"}))

	runner, err := NewRunner(testConfig("https://shop.test"), Deps{Store: ctxStore{inner}, Sink: memorysink.New()})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	stats, err := runner.Run(cancelled)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, stats.Aborted)
	assert.Equal(t, PhaseAborted, stats.Phase)

	sitemaps, err := state.LoadSitemaps(ctx, inner)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.test/sitemap.xml"}, sitemaps)

	persisted, ok, err := state.LoadStats(ctx, inner)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, persisted.Aborted)
}

func TestNewRunnerRejectsInvalidHooks(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://shop.test")
	cfg.ExtendOutputFunction = `item.(`
	_, err := NewRunner(cfg, Deps{Store: memorystate.New(), Sink: memorysink.New()})
	require.ErrorIs(t, err, config.ErrConfiguration)

	cfg = testConfig("https://shop.test")
	cfg.ExtendScraperFunction = `@not-registered`
	_, err = NewRunner(cfg, Deps{Store: memorystate.New(), Sink: memorysink.New()})
	require.ErrorIs(t, err, config.ErrConfiguration)

	_, err = NewRunner(testConfig("https://shop.test"), Deps{})
	require.Error(t, err)
}
