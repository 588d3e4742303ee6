package engine

import (
	"github.com/ajtruex/agenttrafficcontrol/internal/work"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/resolver"
)

// ComputeMetrics derives the project metrics from scratch. Completion counts
// eligible items that have not started yet in the denominator so the ratio
// reflects the reachable frontier rather than the whole plan. Items are
// summed in declaration order so repeated runs produce identical floats.
func ComputeMetrics(state work.State) work.Metrics {
	res := resolver.Resolve(state.Items, state.Order)
	var m work.Metrics
	var done, active, pending int
	for _, item := range state.OrderedItems() {
		m.TotalTokens += item.TokensDone
		switch item.Status {
		case work.StatusDone:
			done++
		case work.StatusInProgress:
			active++
			m.LiveTPS += item.TPS
		case work.StatusQueued, work.StatusAssigned:
			if res.IsEligible(item.ID) {
				pending++
			}
		}
	}
	m.ActiveAgents = len(state.Agents)
	m.TotalSpendUSD = m.TotalTokens * work.CostPerTokenUSD
	m.LiveSpendPerS = m.LiveTPS * work.CostPerTokenUSD
	if denom := done + active + pending; denom > 0 {
		m.CompletionRate = float64(done) / float64(denom)
	}
	return m
}
