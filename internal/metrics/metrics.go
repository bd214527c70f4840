// Package metrics exposes Prometheus collectors for the storefront crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	seedsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_seeds_total",
		Help: "Seed domains processed by the discovery resolver, labeled by outcome.",
	}, []string{"outcome"})

	sitemapDocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_sitemap_documents_total",
		Help: "Sitemap documents fetched during traversal, labeled by status.",
	}, []string{"status"})

	sitemapCandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_sitemap_candidates_total",
		Help: "Sitemap entries evaluated, labeled by kind and decision.",
	}, []string{"kind", "decision"})

	targetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_targets_total",
		Help: "Crawl targets produced by sitemap traversal.",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_requests_total",
		Help: "Product requests completed, labeled by site, label and status class.",
	}, []string{"site", "label", "status_class"})

	fetchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_document_fetch_duration_seconds",
		Help:    "Latency of robots and sitemap document fetches.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})

	productsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_products_total",
		Help: "Product payloads processed by the normalizer, labeled by outcome.",
	}, []string{"outcome"})

	recordsEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_records_emitted_total",
		Help: "Output records written to the sink.",
	})

	failedTargetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_failed_targets_total",
		Help: "Targets that exhausted their retry budget.",
	})

	hookInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_hook_invocations_total",
		Help: "Extension hook invocations, labeled by phase and result.",
	}, []string{"label", "result"})
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// StatusClass groups HTTP status codes (2xx, 3xx, ...).
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSeed counts a discovery outcome for one seed.
func ObserveSeed(outcome string) {
	seedsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSitemapDocument counts a traversed sitemap document.
func ObserveSitemapDocument(status string) {
	sitemapDocumentsTotal.WithLabelValues(status).Inc()
}

// ObserveCandidate counts a sitemap entry decision.
func ObserveCandidate(kind, decision string) {
	sitemapCandidatesTotal.WithLabelValues(kind, decision).Inc()
}

// AddTargets records the number of crawl targets produced.
func AddTargets(n int) {
	if n > 0 {
		targetsTotal.Add(float64(n))
	}
}

// ObserveRequest counts a completed product request.
func ObserveRequest(site, label string, code int) {
	requestsTotal.WithLabelValues(SanitizeSite(site), label, StatusClass(code)).Inc()
}

// ObserveDocumentFetch records a robots or sitemap fetch latency.
func ObserveDocumentFetch(kind string, d time.Duration) {
	fetchDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveProduct counts a normalizer outcome.
func ObserveProduct(outcome string) {
	productsTotal.WithLabelValues(outcome).Inc()
}

// IncRecordsEmitted counts one record handed to the sink.
func IncRecordsEmitted() {
	recordsEmittedTotal.Inc()
}

// IncFailedTargets counts one #failed record.
func IncFailedTargets() {
	failedTargetsTotal.Inc()
}

// ObserveHook counts a hook invocation.
func ObserveHook(label, result string) {
	hookInvocationsTotal.WithLabelValues(label, result).Inc()
}
