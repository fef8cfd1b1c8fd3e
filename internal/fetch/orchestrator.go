// Package fetch races transport strategies to obtain a document with
// minimal latency, hiding transport complexity from callers.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aovault/aovault/internal/metrics"
	"github.com/aovault/aovault/internal/transport"
	"github.com/aovault/aovault/internal/vault"
)

// Acquirer gates outbound archive requests.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Orchestrator issues all strategies concurrently and accepts the first
// success. On an aggregate failure carrying an actionable rate-limit hint
// it waits and retries the race exactly once.
type Orchestrator struct {
	strategies []transport.Strategy
	limiter    Acquirer
	ceiling    time.Duration
	logger     *zap.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an Orchestrator over the given strategies. The ceiling bounds
// how long a source-supplied retry hint may suspend a single call.
func New(limiter Acquirer, ceiling time.Duration, logger *zap.Logger, strategies ...transport.Strategy) *Orchestrator {
	if ceiling <= 0 {
		ceiling = 45 * time.Second
	}
	return &Orchestrator{
		strategies: strategies,
		limiter:    limiter,
		ceiling:    ceiling,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Fetch obtains the requested document or returns a typed error:
// *vault.RateLimitedError when the source asked for a wait beyond the
// ceiling, *vault.TransportError when every strategy is exhausted.
func (o *Orchestrator) Fetch(ctx context.Context, req transport.Request) ([]byte, error) {
	if len(o.strategies) == 0 {
		return nil, &vault.TransportError{Attempts: []string{"no strategies configured"}}
	}

	body, failures := o.race(ctx, req)
	if failures == nil {
		return body, nil
	}

	hint, ok := retryHint(failures)
	if !ok {
		return nil, exhausted(failures)
	}
	if hint > o.ceiling {
		// Too long to hold the call open; surface the hint to the caller.
		return nil, &vault.RateLimitedError{RetryAfter: hint}
	}

	o.logger.Info("all strategies rate limited, retrying once",
		zap.Duration("retry_after", hint), zap.String("url", req.URL))
	if err := o.sleep(ctx, hint); err != nil {
		return nil, fmt.Errorf("retry wait: %w", err)
	}

	body, failures = o.race(ctx, req)
	if failures == nil {
		return body, nil
	}
	// Second consecutive failure is terminal for this call.
	return nil, exhausted(failures)
}

// FetchPage fetches an HTML document.
func (o *Orchestrator) FetchPage(ctx context.Context, url string) ([]byte, error) {
	return o.Fetch(ctx, transport.Request{URL: url})
}

// FetchEPUB fetches a binary EPUB download.
func (o *Orchestrator) FetchEPUB(ctx context.Context, url string) ([]byte, error) {
	return o.Fetch(ctx, transport.Request{URL: url, Binary: true})
}

// race launches every strategy, each gated by the limiter, and returns the
// first successful body. Losers finish into a buffered channel so nothing
// leaks past the first success.
func (o *Orchestrator) race(ctx context.Context, req transport.Request) ([]byte, []error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		body []byte
		err  error
	}
	results := make(chan outcome, len(o.strategies))
	for _, s := range o.strategies {
		go func(s transport.Strategy) {
			if err := o.limiter.Acquire(raceCtx); err != nil {
				results <- outcome{err: err}
				return
			}
			body, err := s.Fetch(raceCtx, req)
			metrics.ObserveFetchAttempt(s.Name(), outcomeLabel(err))
			results <- outcome{body: body, err: err}
		}(s)
	}

	var failures []error
	for range o.strategies {
		res := <-results
		if res.err == nil {
			return res.body, nil
		}
		failures = append(failures, res.err)
	}
	return nil, failures
}

// retryHint returns the smallest rate-limit wait among the failures.
func retryHint(failures []error) (time.Duration, bool) {
	var (
		best  time.Duration
		found bool
	)
	for _, err := range failures {
		var te *transport.Error
		if !errors.As(err, &te) || te.Kind != transport.FailRateLimited {
			continue
		}
		if !found || te.RetryAfter < best {
			best = te.RetryAfter
			found = true
		}
	}
	return best, found
}

func exhausted(failures []error) error {
	attempts := make([]string, 0, len(failures))
	for _, err := range failures {
		attempts = append(attempts, err.Error())
	}
	return &vault.TransportError{Attempts: attempts}
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	var te *transport.Error
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	return "error"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
