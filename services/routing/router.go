package routing

import (
	"fmt"
	"sort"

	"github.com/upb/llm-proxy/services"
	"go.uber.org/zap"
)

// HealthView is the read-only slice of load-balancer state the router
// consults. The router never mutates health state.
type HealthView interface {
	// IsBlacklisted reports whether a pipeline is currently excluded
	// from selection. An expired blacklist reads as not blacklisted.
	IsBlacklisted(pipelineID string) bool
}

// Router resolves a category to a ranked, health-filtered candidate
// list. It has no side effects; all mutable state lives in the load
// balancer.
type Router struct {
	table  Table
	logger *zap.Logger
}

// NewRouter creates a router over an immutable routing table.
func NewRouter(table Table, logger *zap.Logger) (*Router, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Router{table: table, logger: logger}, nil
}

// Table returns the routing table the router was built over.
func (r *Router) Table() Table {
	return r.table
}

// Resolve returns the candidate routes for a category, excluding
// blacklisted pipelines, ordered by weight descending with insertion
// order breaking ties.
//
// A category with zero configured rules fails with
// ROUTER_INVALID_ROUTE; a category whose candidates are all
// blacklisted fails with ROUTER_NO_PROVIDER. The two are distinct
// conditions and are never conflated.
func (r *Router) Resolve(category Category, health HealthView) ([]Route, error) {
	rules := r.table.Rules(category)
	if len(rules) == 0 {
		return nil, services.NewProxyError(services.CodeRouterInvalidRoute,
			fmt.Sprintf("no routing rules configured for category %q", category), nil)
	}

	candidates := make([]Route, 0, len(rules))
	for _, rule := range rules {
		id := rule.PipelineID()
		if health != nil && health.IsBlacklisted(id) {
			r.logger.Debug("skipping blacklisted pipeline",
				zap.String("pipeline_id", id),
				zap.String("category", string(category)))
			continue
		}
		candidates = append(candidates, Route{
			Provider:   rule.Provider,
			Model:      rule.Model,
			Weight:     rule.Weight,
			PipelineID: id,
		})
	}

	if len(candidates) == 0 {
		return nil, services.NewProxyError(services.CodeRouterNoProvider,
			fmt.Sprintf("all pipelines for category %q are blacklisted", category), nil).
			WithDetail("category", string(category)).
			WithDetail("configured", len(rules))
	}

	// Stable keeps insertion order for equal weights.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Weight > candidates[j].Weight
	})

	return candidates, nil
}
