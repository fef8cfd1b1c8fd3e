package transport

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const (
	acceptHTML   = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptBinary = "application/epub+zip,application/octet-stream,*/*"
)

// DirectConfig controls the direct collector.
type DirectConfig struct {
	UserAgent     string
	PageTimeout   time.Duration
	BinaryTimeout time.Duration
}

// Direct fetches the target URL straight from the archive with browser-like
// headers. Fails fast on network-level blocks.
type Direct struct {
	cfg           DirectConfig
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewDirect builds a Direct strategy on a pooled colly collector.
func NewDirect(cfg DirectConfig, logger *zap.Logger) *Direct {
	if cfg.PageTimeout == 0 {
		cfg.PageTimeout = 8 * time.Second
	}
	if cfg.BinaryTimeout == 0 {
		cfg.BinaryTimeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	})
	return &Direct{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Name identifies the strategy in failure aggregates and metrics.
func (d *Direct) Name() string { return "direct" }

// Fetch executes a single GET via a cloned collector.
func (d *Direct) Fetch(ctx context.Context, req Request) ([]byte, error) {
	collector := d.baseCollector.Clone()
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	timeout := d.cfg.PageTimeout
	accept := acceptHTML
	if req.Binary {
		timeout = d.cfg.BinaryTimeout
		accept = acceptBinary
	}
	collector.SetRequestTimeout(timeout)

	var (
		body     []byte
		bodyType string
		failure  *Error
	)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", accept)
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
	})
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		bodyType = r.Headers.Get("Content-Type")
	})
	collector.OnError(func(r *colly.Response, err error) {
		failure = d.classify(r, err)
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return nil, &Error{Strategy: d.Name(), Kind: FailNetwork, Err: ctx.Err()}
	case err := <-done:
		if failure != nil {
			return nil, failure
		}
		if err != nil {
			return nil, &Error{Strategy: d.Name(), Kind: FailNetwork, Err: err}
		}
	}

	if !req.Binary && !strings.Contains(bodyType, "text/html") {
		d.logger.Debug("direct fetch returned non-HTML body",
			zap.String("url", req.URL), zap.String("content_type", bodyType))
		return nil, &Error{Strategy: d.Name(), Kind: FailContentType}
	}
	return body, nil
}

func (d *Direct) classify(r *colly.Response, err error) *Error {
	if r != nil && r.StatusCode == http.StatusTooManyRequests {
		return &Error{
			Strategy:   d.Name(),
			Kind:       FailRateLimited,
			Status:     r.StatusCode,
			RetryAfter: retryAfterHeader(r.Headers),
			Err:        err,
		}
	}
	if r != nil && r.StatusCode > 0 {
		return &Error{Strategy: d.Name(), Kind: FailHTTP, Status: r.StatusCode, Err: err}
	}
	return &Error{Strategy: d.Name(), Kind: FailNetwork, Err: err}
}

// retryAfterHeader parses a Retry-After value in seconds, defaulting to 60s
// when absent or malformed (the archive only emits the seconds form).
func retryAfterHeader(h *http.Header) time.Duration {
	if h == nil {
		return 60 * time.Second
	}
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 60 * time.Second
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 60 * time.Second
	}
	return time.Duration(secs) * time.Second
}
