package balancer

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-proxy/services"
	"github.com/upb/llm-proxy/services/routing"
	"go.uber.org/zap"
)

func twoRouteTable() routing.Table {
	return routing.Table{
		routing.CategoryDefault: {
			{Provider: "anthropic", Model: "claude-sonnet-4", Weight: 9},
			{Provider: "openai", Model: "gpt-4o", Weight: 1},
		},
	}
}

func candidates(table routing.Table) []routing.Route {
	router, err := routing.NewRouter(table, zap.NewNop())
	if err != nil {
		panic(err)
	}
	routes, err := router.Resolve(routing.CategoryDefault, nil)
	if err != nil {
		panic(err)
	}
	return routes
}

func TestNewRegistry_SeedsFromTable(t *testing.T) {
	r := NewRegistry(DefaultConfig(), twoRouteTable(), zap.NewNop())

	snaps := r.Snapshot()
	require.Len(t, snaps, 2)
	for _, snap := range snaps {
		assert.Equal(t, StatusHealthy, snap.Status)
		assert.Zero(t, snap.ConsecutiveFailures)
		assert.Zero(t, snap.ActiveConnections)
	}
}

func TestSelect_NoCandidates(t *testing.T) {
	r := NewRegistry(DefaultConfig(), twoRouteTable(), zap.NewNop())

	_, err := r.Select(nil)
	require.Error(t, err)
	assert.Equal(t, services.CodeRouterNoProvider, services.GetCode(err))
}

func TestSelect_IncrementsActiveConnections(t *testing.T) {
	r := NewRegistry(DefaultConfig(), twoRouteTable(), zap.NewNop())

	route, err := r.Select(candidates(twoRouteTable()))
	require.NoError(t, err)

	assert.Equal(t, 1, connections(r, route.PipelineID))

	r.ReportSuccess(route.PipelineID)
	assert.Equal(t, 0, connections(r, route.PipelineID))
}

func connections(r *Registry, pipelineID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelines[pipelineID].activeConnections
}

func failuresOf(r *Registry, pipelineID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelines[pipelineID].consecutiveFailures
}

func TestReportFailure_BlacklistsAtThreshold(t *testing.T) {
	cfg := Config{MaxErrorCount: 5, BlacklistDuration: 5 * time.Minute}
	r := NewRegistry(cfg, twoRouteTable(), zap.NewNop())
	id := "anthropic/claude-sonnet-4"

	for i := 0; i < 4; i++ {
		r.ReportFailure(id, errors.New("upstream 500"))
		assert.False(t, r.IsBlacklisted(id), "should not blacklist before threshold")
	}

	r.ReportFailure(id, errors.New("upstream 500"))
	assert.True(t, r.IsBlacklisted(id))
	assert.Equal(t, 5, failuresOf(r, id))
}

func TestReportSuccess_ResetsFailureCount(t *testing.T) {
	r := NewRegistry(DefaultConfig(), twoRouteTable(), zap.NewNop())
	id := "anthropic/claude-sonnet-4"

	r.ReportFailure(id, errors.New("upstream 500"))
	r.ReportFailure(id, errors.New("upstream 500"))
	require.Equal(t, 2, failuresOf(r, id))

	r.ReportSuccess(id)
	assert.Equal(t, 0, failuresOf(r, id))
	assert.False(t, r.IsBlacklisted(id))
}

func TestBlacklist_ExpiresOnSelection(t *testing.T) {
	cfg := Config{MaxErrorCount: 1, BlacklistDuration: 5 * time.Minute}
	r := NewRegistry(cfg, twoRouteTable(), zap.NewNop())
	id := "anthropic/claude-sonnet-4"

	now := time.Now()
	r.now = func() time.Time { return now }

	r.ReportFailure(id, errors.New("upstream 500"))
	require.True(t, r.IsBlacklisted(id))

	// Still inside the blacklist window: only the other pipeline is
	// selectable.
	for i := 0; i < 10; i++ {
		route, err := r.Select(candidates(twoRouteTable()))
		require.NoError(t, err)
		assert.Equal(t, "openai/gpt-4o", route.PipelineID)
		r.Release(route.PipelineID)
	}

	// Past the deadline the pipeline re-enters service degraded.
	now = now.Add(5*time.Minute + time.Second)
	assert.False(t, r.IsBlacklisted(id))

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		route, err := r.Select(candidates(twoRouteTable()))
		require.NoError(t, err)
		seen[route.PipelineID] = true
		r.Release(route.PipelineID)
	}
	assert.True(t, seen[id], "expired pipeline should be selectable again")

	snap := snapshotOf(t, r, id)
	assert.Equal(t, StatusDegraded, snap.Status)
}

func TestSweep_ClearsExpiredBlacklist(t *testing.T) {
	cfg := Config{MaxErrorCount: 1, BlacklistDuration: time.Minute}
	r := NewRegistry(cfg, twoRouteTable(), zap.NewNop())
	id := "anthropic/claude-sonnet-4"

	now := time.Now()
	r.now = func() time.Time { return now }

	r.ReportFailure(id, errors.New("upstream 500"))
	require.Equal(t, StatusBlacklisted, snapshotOf(t, r, id).Status)

	r.Sweep()
	assert.Equal(t, StatusBlacklisted, snapshotOf(t, r, id).Status, "sweep must not clear an active blacklist")

	now = now.Add(2 * time.Minute)
	r.Sweep()
	assert.Equal(t, StatusDegraded, snapshotOf(t, r, id).Status)
}

func snapshotOf(t *testing.T, r *Registry, pipelineID string) PipelineSnapshot {
	t.Helper()
	for _, snap := range r.Snapshot() {
		if snap.PipelineID == pipelineID {
			return snap
		}
	}
	t.Fatalf("pipeline %s not in snapshot", pipelineID)
	return PipelineSnapshot{}
}

func TestSelect_AllBlacklisted(t *testing.T) {
	cfg := Config{MaxErrorCount: 1, BlacklistDuration: 5 * time.Minute}
	r := NewRegistry(cfg, twoRouteTable(), zap.NewNop())

	r.ReportFailure("anthropic/claude-sonnet-4", errors.New("down"))
	r.ReportFailure("openai/gpt-4o", errors.New("down"))

	_, err := r.Select(candidates(twoRouteTable()))
	require.Error(t, err)
	assert.Equal(t, services.CodeRouterNoProvider, services.GetCode(err))
}

func TestRelease_NeverGoesNegative(t *testing.T) {
	r := NewRegistry(DefaultConfig(), twoRouteTable(), zap.NewNop())
	id := "openai/gpt-4o"

	r.Release(id)
	r.Release(id)
	assert.Equal(t, 0, connections(r, id))
}

func TestSelect_ConcurrentAccounting(t *testing.T) {
	cfg := Config{Strategy: StrategyLeastConnections}
	r := NewRegistry(cfg, twoRouteTable(), zap.NewNop())
	routes := candidates(twoRouteTable())

	const workers = 64
	var wg sync.WaitGroup
	selected := make([]string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			route, err := r.Select(routes)
			if err != nil {
				t.Error(err)
				return
			}
			selected[i] = route.PipelineID
		}(i)
	}
	wg.Wait()

	total := 0
	for _, snap := range r.Snapshot() {
		total += snap.ActiveConnections
	}
	assert.Equal(t, workers, total, "every selection must hold exactly one slot")

	for _, id := range selected {
		r.ReportSuccess(id)
	}
	for _, snap := range r.Snapshot() {
		assert.Zero(t, snap.ActiveConnections)
	}
}

func TestSnapshot_CarriesFailureTimestamps(t *testing.T) {
	cfg := Config{MaxErrorCount: 1, BlacklistDuration: time.Minute}
	r := NewRegistry(cfg, twoRouteTable(), zap.NewNop())
	id := "openai/gpt-4o"

	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.ReportFailure(id, errors.New("down"))

	snap := snapshotOf(t, r, id)
	require.NotNil(t, snap.LastFailureAt)
	assert.Equal(t, fixed, *snap.LastFailureAt)
	require.NotNil(t, snap.BlacklistUntil)
	assert.Equal(t, fixed.Add(time.Minute), *snap.BlacklistUntil)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, StrategyWeightedRoundRobin, cfg.Strategy)
	assert.Equal(t, DefaultMaxErrorCount, cfg.MaxErrorCount)
	assert.Equal(t, DefaultBlacklistDuration, cfg.BlacklistDuration)
	assert.Equal(t, DefaultHealthCheckInterval, cfg.HealthCheckInterval)
}

func TestWeightTravelsWithCategory(t *testing.T) {
	// The same pipeline appears with different weights in different
	// categories; selection must honor the candidate weight it was
	// offered, not the seed weight.
	table := routing.Table{
		routing.CategoryDefault: {
			{Provider: "anthropic", Model: "claude-sonnet-4", Weight: 1},
			{Provider: "openai", Model: "gpt-4o", Weight: 1},
		},
		routing.CategoryThinking: {
			{Provider: "anthropic", Model: "claude-sonnet-4", Weight: 99},
			{Provider: "openai", Model: "gpt-4o", Weight: 1},
		},
	}
	r := NewRegistry(Config{Strategy: StrategyWeightedRoundRobin}, table, zap.NewNop())
	r.rng = func(n int) int { return n - 1 } // always draw the tail

	router, err := routing.NewRouter(table, zap.NewNop())
	require.NoError(t, err)

	thinking, err := router.Resolve(routing.CategoryThinking, nil)
	require.NoError(t, err)
	require.Equal(t, 99, thinking[0].Weight)

	route, err := r.Select(thinking)
	require.NoError(t, err)
	// Tail draw lands on the weight-1 candidate out of total 100.
	assert.Equal(t, "openai/gpt-4o", route.PipelineID)
	r.Release(route.PipelineID)
}

func ExampleRegistry_Snapshot() {
	r := NewRegistry(DefaultConfig(), routing.Table{
		routing.CategoryDefault: {
			{Provider: "openai", Model: "gpt-4o", Weight: 1},
		},
	}, zap.NewNop())
	snap := r.Snapshot()
	fmt.Println(snap[0].PipelineID, snap[0].Status)
	// Output: openai/gpt-4o healthy
}
