package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ProxyConfig controls the edge relay strategy.
type ProxyConfig struct {
	WorkerURL string
	Timeout   time.Duration
}

// Proxy fetches the target URL through the edge relay worker, which fetches
// on our behalf and returns either the raw document or a JSON envelope
// signaling rate limiting or failure.
type Proxy struct {
	cfg    ProxyConfig
	client *http.Client
	logger *zap.Logger
}

// proxyEnvelope is the worker's JSON response shape. HTML pages come back
// as raw text/html instead; EPUBs arrive base64-encoded in the Epub field.
type proxyEnvelope struct {
	Error       string `json:"error,omitempty"`
	RateLimited bool   `json:"rateLimited,omitempty"`
	RetryAfter  int    `json:"retryAfter,omitempty"`
	Epub        string `json:"epub,omitempty"`
	Size        int    `json:"size,omitempty"`
}

// NewProxy builds a Proxy strategy.
func NewProxy(cfg ProxyConfig, logger *zap.Logger) *Proxy {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Proxy{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:          16,
				MaxConnsPerHost:       8,
				IdleConnTimeout:       30 * time.Second,
				ForceAttemptHTTP2:     true,
				ExpectContinueTimeout: 1 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
		logger: logger,
	}
}

// Name identifies the strategy in failure aggregates and metrics.
func (p *Proxy) Name() string { return "edge_proxy" }

// Configured reports whether a worker URL is set.
func (p *Proxy) Configured() bool { return p.cfg.WorkerURL != "" }

// Fetch relays the request through the worker.
func (p *Proxy) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !p.Configured() {
		return nil, &Error{Strategy: p.Name(), Kind: FailNetwork, Err: fmt.Errorf("proxy worker not configured")}
	}
	relay := strings.TrimSuffix(p.cfg.WorkerURL, "/") + "/?url=" + url.QueryEscape(req.URL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, relay, nil)
	if err != nil {
		return nil, &Error{Strategy: p.Name(), Kind: FailNetwork, Err: err}
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Strategy: p.Name(), Kind: FailNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Strategy: p.Name(), Kind: FailNetwork, Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		return p.decodeEnvelope(resp.StatusCode, body, req)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Strategy: p.Name(), Kind: FailHTTP, Status: resp.StatusCode}
	}
	if !req.Binary && !strings.Contains(contentType, "text/html") {
		return nil, &Error{Strategy: p.Name(), Kind: FailContentType}
	}
	return body, nil
}

func (p *Proxy) decodeEnvelope(status int, body []byte, req Request) ([]byte, error) {
	var env proxyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &Error{Strategy: p.Name(), Kind: FailContentType, Status: status, Err: err}
	}
	if env.RateLimited {
		retry := time.Duration(env.RetryAfter) * time.Second
		if retry <= 0 {
			retry = 60 * time.Second
		}
		return nil, &Error{Strategy: p.Name(), Kind: FailRateLimited, Status: status, RetryAfter: retry}
	}
	if env.Error != "" || status != http.StatusOK {
		p.logger.Debug("proxy worker error envelope",
			zap.Int("status", status), zap.String("error", env.Error))
		return nil, &Error{Strategy: p.Name(), Kind: FailHTTP, Status: status, Err: fmt.Errorf("%s", env.Error)}
	}
	if req.Binary && env.Epub != "" {
		raw, err := base64.StdEncoding.DecodeString(env.Epub)
		if err != nil {
			return nil, &Error{Strategy: p.Name(), Kind: FailContentType, Err: fmt.Errorf("decode epub payload: %w", err)}
		}
		return raw, nil
	}
	return nil, &Error{Strategy: p.Name(), Kind: FailContentType}
}
