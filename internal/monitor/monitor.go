// Package monitor runs periodic health probes against the archive, the
// relay proxy, and the database, and keeps a rolling probe history.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aovault/aovault/internal/logging"
	"github.com/aovault/aovault/internal/vault"
)

// Agent produces one or more probe results per tick.
type Agent interface {
	Name() string
	Check(ctx context.Context) []vault.HealthCheck
}

// Monitor drives the agents on an interval and persists their results.
type Monitor struct {
	agents    []Agent
	store     vault.HealthStore
	interval  time.Duration
	retention time.Duration
	clock     vault.Clock
	logger    *zap.Logger

	mu   sync.RWMutex
	last []vault.HealthCheck
}

// New creates a Monitor. retention bounds how long probe history is kept.
func New(store vault.HealthStore, interval, retention time.Duration, clock vault.Clock, logger *zap.Logger, agents ...Agent) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Monitor{
		agents:    agents,
		store:     store,
		interval:  interval,
		retention: retention,
		clock:     clock,
		logger:    logging.OrNop(logger),
	}
}

// Run probes immediately and then on every interval tick until the context
// is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Tick(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs every agent once, records the results, and prunes old history.
func (m *Monitor) Tick(ctx context.Context) {
	now := m.clock.Now()
	var results []vault.HealthCheck
	for _, agent := range m.agents {
		for _, hc := range agent.Check(ctx) {
			hc.Agent = agent.Name()
			if hc.CheckedAt.IsZero() {
				hc.CheckedAt = now
			}
			results = append(results, hc)
			if err := m.store.RecordHealthCheck(ctx, hc); err != nil {
				m.logger.Warn("record health check failed",
					zap.String("agent", hc.Agent), zap.Error(err))
			}
		}
	}

	if err := m.store.PruneHealthChecks(ctx, now.Add(-m.retention)); err != nil {
		m.logger.Warn("prune health checks failed", zap.Error(err))
	}

	m.mu.Lock()
	m.last = results
	m.mu.Unlock()
}

// Latest returns the most recent tick's results.
func (m *Monitor) Latest() []vault.HealthCheck {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]vault.HealthCheck, len(m.last))
	copy(out, m.last)
	return out
}

// Overall rolls the latest probe statuses into a single status string.
// Any down probe makes the whole system down; any rate limited or degraded
// probe makes it degraded.
func (m *Monitor) Overall() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.last) == 0 {
		return "unknown"
	}
	overall := vault.HealthHealthy
	for _, hc := range m.last {
		switch hc.Status {
		case vault.HealthDown:
			return vault.HealthDown
		case vault.HealthDegraded, vault.HealthRateLimited:
			overall = vault.HealthDegraded
		}
	}
	return overall
}

// ArchiveAgent probes the archive directly and, when configured, through
// the relay proxy.
type ArchiveAgent struct {
	client    *http.Client
	baseURL   string
	proxyURL  string
	userAgent string
	clock     vault.Clock
}

// NewArchiveAgent creates the archive probe. proxyURL may be empty.
func NewArchiveAgent(client *http.Client, baseURL, proxyURL, userAgent string, clock vault.Clock) *ArchiveAgent {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ArchiveAgent{
		client:    client,
		baseURL:   baseURL,
		proxyURL:  proxyURL,
		userAgent: userAgent,
		clock:     clock,
	}
}

func (a *ArchiveAgent) Name() string { return "archive" }

// Check probes the archive front page directly and via the proxy.
func (a *ArchiveAgent) Check(ctx context.Context) []vault.HealthCheck {
	out := []vault.HealthCheck{a.probe(ctx, "direct", a.baseURL)}
	if a.proxyURL != "" {
		out = append(out, a.probe(ctx, "proxy", a.proxyURL))
	}
	return out
}

func (a *ArchiveAgent) probe(ctx context.Context, checkType, url string) vault.HealthCheck {
	start := a.clock.Now()
	hc := vault.HealthCheck{CheckType: checkType, CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		hc.Status = vault.HealthDown
		hc.Details = map[string]any{"error": err.Error()}
		return hc
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	hc.ResponseTimeMs = a.clock.Now().Sub(start).Milliseconds()
	if err != nil {
		hc.Status = vault.HealthDown
		hc.Details = map[string]any{"error": err.Error()}
		return hc
	}
	defer resp.Body.Close()

	hc.Details = map[string]any{"status_code": resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		hc.Status = vault.HealthRateLimited
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		hc.Status = vault.HealthHealthy
	default:
		hc.Status = vault.HealthDegraded
	}
	return hc
}

// StoreAgent probes the persistence layer by exercising a cheap read.
type StoreAgent struct {
	store vault.HealthStore
	clock vault.Clock
}

// NewStoreAgent creates the database probe.
func NewStoreAgent(store vault.HealthStore, clock vault.Clock) *StoreAgent {
	return &StoreAgent{store: store, clock: clock}
}

func (a *StoreAgent) Name() string { return "store" }

// Check measures a read against the health history table.
func (a *StoreAgent) Check(ctx context.Context) []vault.HealthCheck {
	start := a.clock.Now()
	hc := vault.HealthCheck{CheckType: "db", CheckedAt: start}

	_, err := a.store.ListHealthChecks(ctx, "store", start.Add(-time.Minute))
	hc.ResponseTimeMs = a.clock.Now().Sub(start).Milliseconds()
	if err != nil {
		hc.Status = vault.HealthDown
		hc.Details = map[string]any{"error": err.Error()}
		return []vault.HealthCheck{hc}
	}
	hc.Status = vault.HealthHealthy
	return []vault.HealthCheck{hc}
}
