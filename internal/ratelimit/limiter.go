// Package ratelimit enforces a minimum spacing between outbound requests
// to the source archive, shared by every fetch path in the process.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aovault/aovault/internal/metrics"
	"github.com/aovault/aovault/internal/vault"
)

// Limiter serializes archive requests so that any two grants are at least
// the configured interval apart, regardless of how many callers wait.
type Limiter struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration
	clock    vault.Clock
}

// New creates a Limiter. A non-positive interval disables spacing.
func New(interval time.Duration, clock vault.Clock) *Limiter {
	return &Limiter{
		interval: interval,
		clock:    clock,
	}
}

// Acquire blocks until it is safe to issue the next archive request, then
// records the grant. The check and the grant update are a single critical
// section: concurrent callers each reserve their own slot, spaced by the
// interval, rather than all observing "clear" and firing together.
// A caller cancelled mid-wait keeps its reserved slot, so the next caller
// still waits out that interval; erring slow against the archive is
// preferable to releasing a slot two callers might then share.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.interval <= 0 {
		return nil
	}

	now := l.clock.Now()
	l.mu.Lock()
	grant := now
	if next := l.last.Add(l.interval); next.After(grant) {
		grant = next
	}
	l.last = grant
	l.mu.Unlock()

	wait := grant.Sub(now)
	if wait <= 0 {
		return nil
	}
	metrics.ObserveRateLimitWait(wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	}
}
