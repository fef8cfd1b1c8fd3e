package vault

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors surfaced to the API layer.
var (
	// ErrInvalidURL means no work id could be recovered from the URL.
	ErrInvalidURL = errors.New("invalid archive work URL")

	// ErrDuplicate means the (owner, source, source id) triple already
	// exists. Not a failure from the user's point of view.
	ErrDuplicate = errors.New("work already in vault")

	// ErrNotFound is returned by store lookups that match nothing.
	ErrNotFound = errors.New("not found")
)

// RateLimitedError carries the source-suggested wait so callers can render
// a countdown instead of a bare failure.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("source rate limited, retry after %s", e.RetryAfter)
}

// TransportError means every fetch strategy was exhausted without an
// actionable rate-limit signal.
type TransportError struct {
	Attempts []string
}

func (e *TransportError) Error() string {
	if len(e.Attempts) == 0 {
		return "all fetch strategies exhausted"
	}
	return "all fetch strategies exhausted: " + strings.Join(e.Attempts, "; ")
}

// ParseError reports a structurally unexpected document at a named stage
// (e.g. "container", "manifest", "metadata"). Non-fatal where a fallback
// tier exists.
type ParseError struct {
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
