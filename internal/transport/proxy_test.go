package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newProxyServer(t *testing.T, handler http.HandlerFunc) *Proxy {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewProxy(ProxyConfig{WorkerURL: srv.URL, Timeout: 2 * time.Second}, zap.NewNop())
}

func TestProxyFetchReturnsHTML(t *testing.T) {
	t.Parallel()

	p := newProxyServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "https://archiveofourown.org/works/1", r.URL.Query().Get("url"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	})

	body, err := p.Fetch(context.Background(), Request{URL: "https://archiveofourown.org/works/1"})
	require.NoError(t, err)
	require.Contains(t, string(body), "ok")
}

func TestProxyFetchRateLimitedEnvelope(t *testing.T) {
	t.Parallel()

	p := newProxyServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"AO3 rate limited (429). Try again in 30s.","rateLimited":true,"retryAfter":30}`))
	})

	_, err := p.Fetch(context.Background(), Request{URL: "https://archiveofourown.org/works/1"})
	var te *Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, FailRateLimited, te.Kind)
	require.Equal(t, 30*time.Second, te.RetryAfter)
}

func TestProxyFetchDecodesEpubEnvelope(t *testing.T) {
	t.Parallel()

	payload := []byte("PK\x03\x04fake-zip-bytes")
	p := newProxyServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"epub":"` + base64.StdEncoding.EncodeToString(payload) + `","size":18}`))
	})

	body, err := p.Fetch(context.Background(), Request{
		URL:    "https://archiveofourown.org/downloads/1/work.epub",
		Binary: true,
	})
	require.NoError(t, err)
	require.Equal(t, payload, body)
}

func TestProxyFetchUpstreamError(t *testing.T) {
	t.Parallel()

	p := newProxyServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"AO3 returned status 404"}`))
	})

	_, err := p.Fetch(context.Background(), Request{URL: "https://archiveofourown.org/works/1"})
	var te *Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, FailHTTP, te.Kind)
	require.Equal(t, http.StatusNotFound, te.Status)
}

func TestProxyFetchUnconfigured(t *testing.T) {
	t.Parallel()

	p := NewProxy(ProxyConfig{}, zap.NewNop())
	require.False(t, p.Configured())

	_, err := p.Fetch(context.Background(), Request{URL: "https://archiveofourown.org/works/1"})
	var te *Error
	require.True(t, errors.As(err, &te))
	require.Equal(t, FailNetwork, te.Kind)
}
