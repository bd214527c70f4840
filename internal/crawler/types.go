package crawler

import (
	"context"
	"fmt"
	"net/http"
)

// Label distinguishes how a crawl target is fetched.
type Label string

// Target labels.
const (
	// LabelJSON fetches the product JSON endpoint directly.
	LabelJSON Label = "JSON"
	// LabelHTML fetches the product page first and re-enqueues it as JSON.
	LabelHTML Label = "HTML"
)

// MetaProductURL is the metadata key carrying the canonical product page URL.
const MetaProductURL = "productUrl"

// Target is a single product fetch derived from an accepted sitemap leaf.
type Target struct {
	URL      string            `json:"url"`
	Label    Label             `json:"label"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ProductURL returns the page URL the target was derived from.
func (t Target) ProductURL() string {
	if u := t.Metadata[MetaProductURL]; u != "" {
		return u
	}
	return t.URL
}

// Page is the result of fetching a single document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// ContentLength returns the body size in bytes.
func (p Page) ContentLength() int {
	return len(p.Body)
}

// Fetcher fetches a single document (robots.txt, sitemap) with retries.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// FetchError reports a non-success status or transport failure after retries.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Request is the hook-visible view of an outgoing product request.
type Request struct {
	URL      string            `json:"url"`
	Label    Label             `json:"label"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Headers  http.Header       `json:"headers,omitempty"`
	Retries  int               `json:"retryCount"`
}

// Response is a fetched product document handed to the normalization stage.
type Response struct {
	Request    Request     `json:"request"`
	FinalURL   string      `json:"finalUrl"`
	StatusCode int         `json:"statusCode"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"-"`
}

// Failure describes a target that exhausted its retry budget.
type Failure struct {
	URL           string   `json:"url"`
	Label         Label    `json:"label"`
	StatusCode    int      `json:"statusCode,omitempty"`
	RetryCount    int      `json:"retryCount"`
	ErrorMessages []string `json:"errorMessages"`
}

// Callbacks are invoked by TargetCrawler. They may run concurrently.
type Callbacks struct {
	// PreNavigation may mutate the request headers before the fetch.
	PreNavigation func(ctx context.Context, req *Request) error
	// PostNavigation observes every response, including HTML pre-fetches.
	PostNavigation func(ctx context.Context, resp Response) error
	// OnPage receives JSON responses (and explicit 404s) for normalization.
	OnPage func(ctx context.Context, resp Response) error
	// OnFailed receives targets whose retries were exhausted.
	OnFailed func(ctx context.Context, failure Failure)
}
