package balancer

import "math/rand"

// Strategy selects how the load balancer picks a pipeline from the
// candidate list. Configured process-wide.
type Strategy string

const (
	// StrategyRoundRobin cycles through candidates ignoring weight
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyWeightedRoundRobin draws a candidate with probability
	// proportional to its weight
	StrategyWeightedRoundRobin Strategy = "weighted_round_robin"

	// StrategyLeastConnections picks the candidate with the fewest
	// active connections, tie-broken by weight then insertion order
	StrategyLeastConnections Strategy = "least_connections"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyWeightedRoundRobin, StrategyLeastConnections:
		return true
	}
	return false
}

func defaultRand(n int) int {
	return rand.Intn(n)
}

// pick applies the configured strategy to the selectable entries.
// Callers hold the registry lock; entries is never empty.
func (r *Registry) pick(entries []*pipelineEntry) *pipelineEntry {
	switch r.cfg.Strategy {
	case StrategyRoundRobin:
		return r.pickRoundRobin(entries)
	case StrategyLeastConnections:
		return r.pickLeastConnections(entries)
	default:
		return r.pickWeighted(entries)
	}
}

func (r *Registry) pickRoundRobin(entries []*pipelineEntry) *pipelineEntry {
	e := entries[r.cursor%uint64(len(entries))]
	r.cursor++
	return e
}

// pickWeighted draws against the cumulative weight of the candidates,
// so a weight-9 pipeline is drawn nine times as often as a weight-1
// one.
func (r *Registry) pickWeighted(entries []*pipelineEntry) *pipelineEntry {
	total := 0
	for _, e := range entries {
		total += e.route.Weight
	}
	if total <= 0 {
		return r.pickRoundRobin(entries)
	}
	draw := r.rng(total)
	for _, e := range entries {
		draw -= e.route.Weight
		if draw < 0 {
			return e
		}
	}
	return entries[len(entries)-1]
}

// pickLeastConnections scans candidates in router order, which is
// weight-descending with insertion order preserved, so a strict
// comparison on the connection count yields the documented tie-breaks
// for free.
func (r *Registry) pickLeastConnections(entries []*pipelineEntry) *pipelineEntry {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.activeConnections < best.activeConnections {
			best = e
		}
	}
	return best
}
