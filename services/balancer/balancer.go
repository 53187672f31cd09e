package balancer

import (
	"context"
	"sync"
	"time"

	"github.com/upb/llm-proxy/services"
	"github.com/upb/llm-proxy/services/routing"
	"go.uber.org/zap"
)

// Status is the health state of one pipeline.
type Status string

const (
	// StatusHealthy pipelines are selectable with no recent failures
	StatusHealthy Status = "healthy"

	// StatusDegraded pipelines are selectable but monitored; a
	// pipeline whose blacklist expired re-enters service degraded
	StatusDegraded Status = "degraded"

	// StatusBlacklisted pipelines are excluded from selection until
	// the blacklist deadline passes
	StatusBlacklisted Status = "blacklisted"
)

// Default tuning values.
const (
	DefaultMaxErrorCount       = 5
	DefaultBlacklistDuration   = 5 * time.Minute
	DefaultHealthCheckInterval = 30 * time.Second
)

// Config tunes the load balancer.
type Config struct {
	// Strategy selects how a pipeline is picked from the candidates
	Strategy Strategy

	// MaxErrorCount is the consecutive-failure threshold that
	// blacklists a pipeline
	MaxErrorCount int

	// BlacklistDuration is how long a blacklisted pipeline stays
	// excluded from selection
	BlacklistDuration time.Duration

	// HealthCheckInterval is the period of the background sweep that
	// clears expired blacklist entries
	HealthCheckInterval time.Duration
}

// DefaultConfig returns the default load-balancer configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:            StrategyWeightedRoundRobin,
		MaxErrorCount:       DefaultMaxErrorCount,
		BlacklistDuration:   DefaultBlacklistDuration,
		HealthCheckInterval: DefaultHealthCheckInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyWeightedRoundRobin
	}
	if c.MaxErrorCount <= 0 {
		c.MaxErrorCount = DefaultMaxErrorCount
	}
	if c.BlacklistDuration <= 0 {
		c.BlacklistDuration = DefaultBlacklistDuration
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	return c
}

// pipelineEntry holds the runtime state of one pipeline. The registry
// lock guards every field; callers never touch the state directly.
type pipelineEntry struct {
	route routing.Route

	status              Status
	consecutiveFailures int
	lastFailureAt       time.Time
	blacklistUntil      time.Time
	activeConnections   int
}

// PipelineSnapshot is the read-only health view exposed to the
// observability surface.
type PipelineSnapshot struct {
	PipelineID          string     `json:"pipeline_id"`
	Provider            string     `json:"provider"`
	Model               string     `json:"model"`
	Status              Status     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	ActiveConnections   int        `json:"active_connections"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	BlacklistUntil      *time.Time `json:"blacklist_until,omitempty"`
}

// Registry owns the health state of every pipeline known to the
// routing table. It is the only component that mutates that state, and
// every read-modify-write runs under the registry lock so health
// mutations are linearizable per pipeline.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	// mu guards pipelines and all entry state. Selection holds it
	// for the whole read-pick-increment sequence so two concurrent
	// selections can never act on the same stale connection counts.
	mu        sync.Mutex
	pipelines map[string]*pipelineEntry

	cursor uint64
	rng    func(n int) int

	now func() time.Time
}

// NewRegistry creates a load-balancer registry seeded with every
// pipeline the routing table can select.
func NewRegistry(cfg Config, table routing.Table, logger *zap.Logger) *Registry {
	r := &Registry{
		cfg:       cfg.withDefaults(),
		logger:    logger,
		pipelines: make(map[string]*pipelineEntry),
		rng:       defaultRand,
		now:       time.Now,
	}
	for _, route := range table.Pipelines() {
		r.pipelines[route.PipelineID] = &pipelineEntry{route: route, status: StatusHealthy}
	}
	return r
}

func (r *Registry) entry(pipelineID string) *pipelineEntry {
	e, ok := r.pipelines[pipelineID]
	if !ok {
		// Routes not present at seed time (e.g. retry against a
		// freshly loaded table) start healthy.
		e = &pipelineEntry{
			route:  routing.Route{PipelineID: pipelineID},
			status: StatusHealthy,
		}
		r.pipelines[pipelineID] = e
	}
	return e
}

// selectable reports whether the entry may serve a request now, and
// moves an expired blacklist to degraded as a side effect. Callers
// hold the registry lock.
func (r *Registry) selectable(e *pipelineEntry) bool {
	if e.status != StatusBlacklisted {
		return true
	}
	if r.now().After(e.blacklistUntil) {
		e.status = StatusDegraded
		e.blacklistUntil = time.Time{}
		r.logger.Info("pipeline blacklist expired, re-entering service degraded",
			zap.String("pipeline_id", e.route.PipelineID))
		return true
	}
	return false
}

// Select picks one pipeline from the router's candidate list according
// to the configured strategy and increments its active-connection
// count. The read of current state and the increment are one atomic
// unit under the registry lock.
//
// Every successful Select must be balanced by exactly one of
// ReportSuccess, ReportFailure, or Release.
func (r *Registry) Select(candidates []routing.Route) (routing.Route, error) {
	if len(candidates) == 0 {
		return routing.Route{}, services.NewProxyError(services.CodeRouterNoProvider,
			"no candidates to select from", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*pipelineEntry, 0, len(candidates))
	for _, candidate := range candidates {
		e := r.entry(candidate.PipelineID)
		// The router already filtered on health, but state may have
		// changed between resolve and select.
		if !r.selectable(e) {
			continue
		}
		// Weight travels with the candidate, not the entry: the same
		// pipeline can carry different weights per category.
		e.route.Weight = candidate.Weight
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return routing.Route{}, services.NewProxyError(services.CodeRouterNoProvider,
			"all candidate pipelines are blacklisted", nil)
	}

	chosen := r.pick(entries)
	chosen.activeConnections++

	route := chosen.route
	r.logger.Debug("pipeline selected",
		zap.String("pipeline_id", route.PipelineID),
		zap.String("strategy", string(r.cfg.Strategy)),
		zap.Int("active_connections", chosen.activeConnections))
	return route, nil
}

// ReportSuccess records a successful terminal outcome: consecutive
// failures reset, an expired blacklist clears, and the connection slot
// is released.
func (r *Registry) ReportSuccess(pipelineID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(pipelineID)
	e.consecutiveFailures = 0
	if e.status != StatusBlacklisted || r.now().After(e.blacklistUntil) {
		e.status = StatusHealthy
		e.blacklistUntil = time.Time{}
	}
	r.release(e)
}

// ReportFailure records a failed terminal outcome. Crossing the
// consecutive-failure threshold blacklists the pipeline for the
// configured duration.
func (r *Registry) ReportFailure(pipelineID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(pipelineID)
	e.consecutiveFailures++
	e.lastFailureAt = r.now()
	r.release(e)

	if e.consecutiveFailures >= r.cfg.MaxErrorCount && e.status != StatusBlacklisted {
		e.status = StatusBlacklisted
		e.blacklistUntil = r.now().Add(r.cfg.BlacklistDuration)
		r.logger.Warn("pipeline blacklisted",
			zap.String("pipeline_id", pipelineID),
			zap.Int("consecutive_failures", e.consecutiveFailures),
			zap.Time("blacklist_until", e.blacklistUntil),
			zap.Error(err))
		return
	}

	r.logger.Debug("pipeline failure recorded",
		zap.String("pipeline_id", pipelineID),
		zap.Int("consecutive_failures", e.consecutiveFailures),
		zap.Error(err))
}

// Release frees the connection slot without touching failure counters.
// Used when a request is cancelled client-side: the pipeline did
// nothing wrong.
func (r *Registry) Release(pipelineID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.release(r.entry(pipelineID))
}

func (r *Registry) release(e *pipelineEntry) {
	if e.activeConnections > 0 {
		e.activeConnections--
	}
}

// IsBlacklisted implements routing.HealthView. An expired blacklist
// reads as selectable.
func (r *Registry) IsBlacklisted(pipelineID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.pipelines[pipelineID]
	if !ok {
		return false
	}
	return e.status == StatusBlacklisted && !r.now().After(e.blacklistUntil)
}

// Sweep clears expired blacklist entries. It runs periodically from
// the sweeper goroutine and is the only timer-driven mutation.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, e := range r.pipelines {
		if e.status == StatusBlacklisted && now.After(e.blacklistUntil) {
			e.status = StatusDegraded
			e.blacklistUntil = time.Time{}
			r.logger.Info("sweep cleared expired blacklist",
				zap.String("pipeline_id", id))
		}
	}
}

// StartSweeper runs the periodic health sweep until ctx is cancelled.
func (r *Registry) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Snapshot returns the current health state of every pipeline for the
// observability surface.
func (r *Registry) Snapshot() []PipelineSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PipelineSnapshot, 0, len(r.pipelines))
	for id, e := range r.pipelines {
		snap := PipelineSnapshot{
			PipelineID:          id,
			Provider:            e.route.Provider,
			Model:               e.route.Model,
			Status:              e.status,
			ConsecutiveFailures: e.consecutiveFailures,
			ActiveConnections:   e.activeConnections,
		}
		if !e.lastFailureAt.IsZero() {
			t := e.lastFailureAt
			snap.LastFailureAt = &t
		}
		if !e.blacklistUntil.IsZero() {
			t := e.blacklistUntil
			snap.BlacklistUntil = &t
		}
		out = append(out, snap)
	}
	return out
}
