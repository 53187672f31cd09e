package routing

import (
	"fmt"
	"sort"

	"github.com/upb/llm-proxy/services"
)

// Category is the logical routing bucket a request is classified into.
type Category string

const (
	CategoryDefault     Category = "default"
	CategoryBackground  Category = "background"
	CategoryThinking    Category = "thinking"
	CategoryLongContext Category = "longcontext"
	CategorySearch      Category = "search"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryDefault,
	CategoryBackground,
	CategoryThinking,
	CategoryLongContext,
	CategorySearch,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Rule is one candidate (provider, model) pairing for a category.
// Rules keep their insertion order; equal weights tie-break on it.
type Rule struct {
	Provider string `yaml:"provider" validate:"required"`
	Model    string `yaml:"model" validate:"required"`
	Weight   int    `yaml:"weight" validate:"gte=1"`
}

// PipelineID derives the stable identifier of the execution path this
// rule selects.
func (r Rule) PipelineID() string {
	return PipelineID(r.Provider, r.Model)
}

// PipelineID builds the identifier for a (provider, model) pairing.
func PipelineID(provider, model string) string {
	return provider + "/" + model
}

// Route identifies one selectable execution path. Derived from a Rule,
// never persisted.
type Route struct {
	Provider   string
	Model      string
	Weight     int
	PipelineID string
}

// Table maps each category to its ordered candidate rules. A table is
// immutable once loaded; request handling only reads it.
type Table map[Category][]Rule

// Validate checks structural invariants of the table: known categories,
// complete rules, positive weights.
func (t Table) Validate() error {
	if len(t) == 0 {
		return services.NewProxyError(services.CodeRouterConfigError, "routing table is empty", nil)
	}
	for category, rules := range t {
		if !category.Valid() {
			return services.NewProxyError(services.CodeRouterConfigError,
				fmt.Sprintf("unknown category %q", category), nil)
		}
		for i, rule := range rules {
			if rule.Provider == "" || rule.Model == "" {
				return services.NewProxyError(services.CodeRouterConfigError,
					fmt.Sprintf("category %s rule %d: provider and model are required", category, i), nil)
			}
			if rule.Weight < 1 {
				return services.NewProxyError(services.CodeRouterConfigError,
					fmt.Sprintf("category %s rule %d: weight must be >= 1", category, i), nil)
			}
		}
	}
	return nil
}

// Rules returns the configured rules for a category.
func (t Table) Rules(category Category) []Rule {
	return t[category]
}

// Pipelines returns every distinct route the table can select, in a
// deterministic order. The load balancer seeds its health registry
// from this.
func (t Table) Pipelines() []Route {
	seen := make(map[string]Route)
	for _, category := range Categories {
		for _, rule := range t[category] {
			id := rule.PipelineID()
			if _, ok := seen[id]; !ok {
				seen[id] = Route{
					Provider:   rule.Provider,
					Model:      rule.Model,
					Weight:     rule.Weight,
					PipelineID: id,
				}
			}
		}
	}
	routes := make([]Route, 0, len(seen))
	for _, route := range seen {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].PipelineID < routes[j].PipelineID })
	return routes
}
