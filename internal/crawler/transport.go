package crawler

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/debug"
	"github.com/gocolly/colly/v2/proxy"
	"go.uber.org/zap"
)

// Sitemaps may be up to 50MB uncompressed.
const maxDocumentBytes = 64 << 20

func newHTTPTransport(concurrency int, timeout time.Duration) *http.Transport {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
}

func applyProxies(c *colly.Collector, proxies []string) error {
	if len(proxies) == 0 {
		return nil
	}
	switcher, err := proxy.RoundRobinProxySwitcher(proxies...)
	if err != nil {
		return fmt.Errorf("configure proxies: %w", err)
	}
	c.SetProxyFunc(switcher)
	return nil
}

// zapDebugger routes colly's debug events through the (filtered) zap logger.
type zapDebugger struct {
	logger *zap.Logger
}

func newZapDebugger(logger *zap.Logger) debug.Debugger {
	return &zapDebugger{logger: logger.Named("colly")}
}

func (d *zapDebugger) Init() error { return nil }

func (d *zapDebugger) Event(e *debug.Event) {
	fields := make([]zap.Field, 0, len(e.Values)+2)
	fields = append(fields, zap.Uint32("collector_id", e.CollectorID), zap.Uint32("request_id", e.RequestID))
	for k, v := range e.Values {
		fields = append(fields, zap.String(k, v))
	}
	d.logger.Debug(e.Type, fields...)
}
