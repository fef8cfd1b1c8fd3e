package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aovault/aovault/internal/clock/system"
	"github.com/aovault/aovault/internal/store/memory"
	"github.com/aovault/aovault/internal/vault"
)

type staticAgent struct {
	name    string
	results []vault.HealthCheck
}

func (a staticAgent) Name() string                              { return a.name }
func (a staticAgent) Check(context.Context) []vault.HealthCheck { return a.results }

func TestTickRecordsAndPrunes(t *testing.T) {
	t.Parallel()
	store := memory.New(system.New())
	ctx := context.Background()

	// Seed an ancient row that the tick should prune.
	require.NoError(t, store.RecordHealthCheck(ctx, vault.HealthCheck{
		Agent: "archive", CheckType: "direct", Status: vault.HealthHealthy,
		CheckedAt: time.Now().UTC().Add(-30 * 24 * time.Hour),
	}))

	agent := staticAgent{name: "archive", results: []vault.HealthCheck{
		{CheckType: "direct", Status: vault.HealthHealthy, ResponseTimeMs: 50},
	}}
	m := New(store, time.Minute, 7*24*time.Hour, system.New(), zap.NewNop(), agent)
	m.Tick(ctx)

	history, err := store.ListHealthChecks(ctx, "archive", time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "archive", history[0].Agent)
	require.False(t, history[0].CheckedAt.IsZero())

	latest := m.Latest()
	require.Len(t, latest, 1)
	require.Equal(t, vault.HealthHealthy, latest[0].Status)
}

func TestOverallRollup(t *testing.T) {
	t.Parallel()
	store := memory.New(system.New())

	cases := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"all healthy", []string{vault.HealthHealthy, vault.HealthHealthy}, vault.HealthHealthy},
		{"one degraded", []string{vault.HealthHealthy, vault.HealthDegraded}, vault.HealthDegraded},
		{"rate limited counts as degraded", []string{vault.HealthRateLimited, vault.HealthHealthy}, vault.HealthDegraded},
		{"down wins", []string{vault.HealthDegraded, vault.HealthDown}, vault.HealthDown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var results []vault.HealthCheck
			for _, s := range tc.statuses {
				results = append(results, vault.HealthCheck{CheckType: "direct", Status: s})
			}
			m := New(store, time.Minute, time.Hour, system.New(), zap.NewNop(),
				staticAgent{name: "archive", results: results})
			m.Tick(context.Background())
			require.Equal(t, tc.want, m.Overall())
		})
	}
}

func TestOverallUnknownBeforeFirstTick(t *testing.T) {
	t.Parallel()
	m := New(memory.New(system.New()), time.Minute, time.Hour, system.New(), zap.NewNop())
	require.Equal(t, "unknown", m.Overall())
}

func TestArchiveAgentClassifiesResponses(t *testing.T) {
	t.Parallel()

	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "AOVault/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	agent := NewArchiveAgent(srv.Client(), srv.URL, "", "AOVault/1.0", system.New())

	results := agent.Check(context.Background())
	require.Len(t, results, 1)
	require.Equal(t, vault.HealthHealthy, results[0].Status)
	require.Equal(t, 200, results[0].Details["status_code"])

	status = http.StatusTooManyRequests
	results = agent.Check(context.Background())
	require.Equal(t, vault.HealthRateLimited, results[0].Status)

	status = http.StatusInternalServerError
	results = agent.Check(context.Background())
	require.Equal(t, vault.HealthDegraded, results[0].Status)
}

func TestArchiveAgentProxyProbe(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	agent := NewArchiveAgent(srv.Client(), srv.URL, srv.URL+"/proxy", "AOVault/1.0", system.New())
	results := agent.Check(context.Background())
	require.Len(t, results, 2)
	require.Equal(t, "direct", results[0].CheckType)
	require.Equal(t, "proxy", results[1].CheckType)
}

func TestArchiveAgentDownOnConnectError(t *testing.T) {
	t.Parallel()
	agent := NewArchiveAgent(&http.Client{Timeout: time.Second}, "http://127.0.0.1:1", "", "AOVault/1.0", system.New())
	results := agent.Check(context.Background())
	require.Len(t, results, 1)
	require.Equal(t, vault.HealthDown, results[0].Status)
	require.Contains(t, results[0].Details, "error")
}

func TestStoreAgentHealthy(t *testing.T) {
	t.Parallel()
	agent := NewStoreAgent(memory.New(system.New()), system.New())
	results := agent.Check(context.Background())
	require.Len(t, results, 1)
	require.Equal(t, vault.HealthHealthy, results[0].Status)
	require.Equal(t, "db", results[0].CheckType)
}
