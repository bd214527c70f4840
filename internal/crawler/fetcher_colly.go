package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// FetcherConfig controls the document fetcher.
type FetcherConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxRetries     int
	Concurrency    int
	Proxies        []string
	// InitialBackoff is the first retry delay; zero uses 500ms.
	InitialBackoff time.Duration
}

// CollyFetcher implements Fetcher using a cloned Colly collector per call.
type CollyFetcher struct {
	baseCollector *colly.Collector
	cfg           FetcherConfig
	logger        *zap.Logger
}

// NewCollyFetcher constructs a configured Colly-based Fetcher.
func NewCollyFetcher(cfg FetcherConfig, logger *zap.Logger) (*CollyFetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.Debugger(newZapDebugger(logger)),
	)
	base.AllowURLRevisit = true
	base.MaxBodySize = maxDocumentBytes
	base.WithTransport(newHTTPTransport(cfg.Concurrency, cfg.RequestTimeout))
	if cfg.RequestTimeout > 0 {
		base.SetRequestTimeout(cfg.RequestTimeout)
	}
	if err := applyProxies(base, cfg.Proxies); err != nil {
		return nil, err
	}
	return &CollyFetcher{
		baseCollector: base,
		cfg:           cfg,
		logger:        logger,
	}, nil
}

// Fetch retrieves a document, retrying transient failures with exponential
// backoff up to MaxRetries times.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.InitialBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = 500 * time.Millisecond
	}
	b.MaxInterval = 5 * time.Second
	retries := f.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	var page Page
	attempt := 0
	op := func() error {
		attempt++
		p, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			page = p
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		f.logger.Debug("document fetch failed; retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return Page{}, fe
		}
		return Page{}, &FetchError{URL: rawURL, Err: err}
	}
	return page, nil
}

func (f *CollyFetcher) fetchOnce(ctx context.Context, rawURL string) (Page, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		page := Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    cloneHeaders(r.Headers),
			Body:       append([]byte{}, r.Body...),
		}
		send(fetchResult{page: page})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		send(fetchResult{err: &FetchError{URL: rawURL, StatusCode: status, Err: err}})
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	var visitErr error
	select {
	case <-ctx.Done():
		return Page{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case visitErr = <-done:
	}
	if err := ctx.Err(); err != nil {
		return Page{}, fmt.Errorf("colly fetch canceled: %w", err)
	}

	// Colly reports HTTP errors both through OnError and Visit; the callback
	// result carries the status code so it wins.
	select {
	case res := <-resultCh:
		return res.page, res.err
	default:
	}
	if visitErr == nil {
		visitErr = errors.New("colly fetch produced no result")
	}
	return Page{}, &FetchError{URL: rawURL, Err: visitErr}
}

type fetchResult struct {
	page Page
	err  error
}

// retryable reports whether a fetch error is worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.StatusCode != 0 {
		switch {
		case fe.StatusCode == http.StatusTooManyRequests, fe.StatusCode == http.StatusRequestTimeout:
			return true
		case fe.StatusCode >= 400 && fe.StatusCode < 500:
			return false
		}
	}
	return true
}

func cloneHeaders(h *http.Header) http.Header {
	headers := http.Header{}
	if h == nil {
		return headers
	}
	for k, v := range *h {
		cp := make([]string, len(v))
		copy(cp, v)
		headers[k] = cp
	}
	return headers
}
