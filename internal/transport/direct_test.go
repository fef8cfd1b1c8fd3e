package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDirect(t *testing.T) *Direct {
	t.Helper()
	return NewDirect(DirectConfig{
		UserAgent:     "aovault-test/1.0",
		PageTimeout:   2 * time.Second,
		BinaryTimeout: 2 * time.Second,
	}, zap.NewNop())
}

func TestDirectFetchPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Accept"), "text/html")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><h2 class=\"title\">hi</h2></html>"))
	}))
	defer srv.Close()

	body, err := newDirect(t).Fetch(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	require.Contains(t, string(body), "title")
}

func TestDirectFetchRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newDirect(t).Fetch(context.Background(), Request{URL: srv.URL})
	var te *Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, FailRateLimited, te.Kind)
	require.Equal(t, 10*time.Second, te.RetryAfter)
}

func TestDirectFetchHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newDirect(t).Fetch(context.Background(), Request{URL: srv.URL})
	var te *Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, FailHTTP, te.Kind)
	require.Equal(t, http.StatusNotFound, te.Status)
}

func TestDirectFetchRejectsNonHTMLPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"challenge":true}`))
	}))
	defer srv.Close()

	_, err := newDirect(t).Fetch(context.Background(), Request{URL: srv.URL})
	var te *Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, FailContentType, te.Kind)
}

func TestDirectFetchBinarySkipsContentTypeCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Accept"), "application/epub+zip")
		w.Header().Set("Content-Type", "application/epub+zip")
		_, _ = w.Write([]byte("PK\x03\x04"))
	}))
	defer srv.Close()

	body, err := newDirect(t).Fetch(context.Background(), Request{URL: srv.URL, Binary: true})
	require.NoError(t, err)
	require.Equal(t, []byte("PK\x03\x04"), body)
}
