// Package transport implements the interchangeable strategies for obtaining
// a document from the source archive.
package transport

import (
	"context"
	"fmt"
	"time"
)

// FailureKind classifies why a strategy could not produce a document.
type FailureKind string

// Failure kinds reported by strategies.
const (
	FailNetwork     FailureKind = "network_error"
	FailRateLimited FailureKind = "rate_limited"
	FailHTTP        FailureKind = "http_error"
	FailContentType FailureKind = "unexpected_content_type"
)

// Error is the typed failure returned by a strategy.
type Error struct {
	Strategy   string
	Kind       FailureKind
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case FailRateLimited:
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Strategy, e.RetryAfter)
	case FailHTTP:
		return fmt.Sprintf("%s: http status %d", e.Strategy, e.Status)
	case FailContentType:
		return fmt.Sprintf("%s: unexpected content type", e.Strategy)
	default:
		return fmt.Sprintf("%s: network error: %v", e.Strategy, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Request describes the document a strategy should obtain. Binary requests
// (EPUB downloads) use longer timeouts and different accept headers.
type Request struct {
	URL    string
	Binary bool
}

// Strategy is one concrete method of obtaining a document body.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]byte, error)
}
