package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
	"github.com/ajtruex/agenttrafficcontrol/internal/work"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/resolver"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/scheduler"
)

// tickLocked performs one pass: assign eligible items, admit, progress,
// recompute metrics, then emit the diff. Callers hold e.mu.
func (e *Engine) tickLocked() []protocol.Message {
	e.tickID++
	stepMs := float64(e.interval.Milliseconds()) * e.state.Speed
	e.clockMs += stepMs

	var signals []protocol.Message
	changes := newChangeSet()
	ordered := e.state.OrderedItems()

	res := resolver.Resolve(e.state.Items, e.state.Order)
	e.noteGraph(res)
	for _, id := range res.Eligible() {
		item := e.state.Items[id]
		if item.Status != work.StatusQueued {
			continue
		}
		item.Status = work.StatusAssigned
		changes.item(item.ID).Status = protocol.StatusPtr(item.Status)
		if e.signals {
			signals = append(signals, protocol.DepsCleared{ID: item.ID})
		}
	}

	admitted := e.admit(ordered, changes, &signals)

	for _, item := range ordered {
		if item.Status != work.StatusInProgress {
			continue
		}
		if _, fresh := admitted[item.ID]; fresh {
			continue
		}
		if e.progress(item, stepMs, changes) && e.signals {
			signals = append(signals, protocol.CompleteItem{ID: item.ID})
		}
	}

	e.state.Metrics = ComputeMetrics(e.state)

	tick := protocol.Tick{
		TickID:  e.tickID,
		Items:   changes.itemPatches(e.state.Order),
		Agents:  changes.agents,
		Metrics: e.state.Metrics,
	}
	return append(signals, tick)
}

// admit promotes assigned items while the scheduler allows it and returns the
// ids admitted this pass.
func (e *Engine) admit(ordered []*work.WorkItem, changes *changeSet, signals *[]protocol.Message) map[string]struct{} {
	running := 0
	for _, item := range ordered {
		if item.Status == work.StatusInProgress {
			running++
		}
	}
	batch := e.scheduler.Admit(scheduler.Request{
		Candidates: scheduler.AssignedCandidates(ordered),
		Running:    running,
		Speed:      e.state.Speed,
	}, e.rng)
	admitted := make(map[string]struct{}, len(batch.Admitted))
	for _, id := range batch.Admitted {
		item := e.state.Items[id]
		e.agentSeq++
		agentID := fmt.Sprintf("agent-%d", e.agentSeq)
		item.Status = work.StatusInProgress
		item.StartedAt = work.Float64(e.clockMs)
		item.EtaMs = work.Float64(item.EstimateMs)
		item.AgentID = agentID
		e.state.Agents[agentID] = &work.Agent{ID: agentID, WorkItemID: id, SpawnedAt: e.clockMs}

		patch := changes.item(id)
		patch.Status = protocol.StatusPtr(item.Status)
		patch.StartedAt = work.Float64(*item.StartedAt)
		patch.EtaMs = work.Float64(*item.EtaMs)
		patch.AgentID = protocol.String(agentID)
		changes.agents = append(changes.agents, protocol.AgentPatch{
			ID:         agentID,
			WorkItemID: protocol.String(id),
			SpawnedAt:  work.Float64(e.clockMs),
		})
		if e.signals {
			*signals = append(*signals, protocol.StartItem{ID: id, Agent: agentID})
		}
		admitted[id] = struct{}{}
	}
	return admitted
}

// progress advances one in-progress item and reports whether it completed.
func (e *Engine) progress(item *work.WorkItem, stepMs float64, changes *changeSet) bool {
	patch := changes.item(item.ID)

	span := item.TPSMax - item.TPSMin
	tps := clamp(item.TPS+e.rng.Float(-1, 1)*tpsWander*span, item.TPSMin, item.TPSMax)
	if tps != item.TPS {
		item.TPS = tps
		patch.TPS = work.Float64(tps)
	}

	tokens := math.Min(item.TokensDone+item.TPS*stepMs/1000, item.EstTokens)
	started := e.clockMs
	if item.StartedAt != nil {
		started = *item.StartedAt
	}
	elapsed := e.clockMs - started
	timedOut := elapsed > item.EstimateMs*work.TimeoutFactor

	if tokens >= item.EstTokens || timedOut {
		item.Status = work.StatusDone
		item.TokensDone = item.EstTokens
		item.EtaMs = work.Float64(0)
		agentID := item.AgentID
		item.AgentID = ""
		delete(e.state.Agents, agentID)

		patch.Status = protocol.StatusPtr(item.Status)
		patch.TokensDone = work.Float64(item.TokensDone)
		patch.EtaMs = work.Float64(0)
		patch.AgentID = protocol.String("")
		if agentID != "" {
			changes.agents = append(changes.agents, protocol.AgentPatch{ID: agentID, Removed: true})
		}
		return true
	}

	if tokens != item.TokensDone {
		item.TokensDone = tokens
		patch.TokensDone = work.Float64(tokens)
	}
	eta := math.Max(0, item.EstimateMs-elapsed)
	if item.EtaMs == nil || *item.EtaMs != eta {
		item.EtaMs = work.Float64(eta)
		patch.EtaMs = work.Float64(eta)
	}
	return false
}

// changeSet collects the per-record patches of one pass.
type changeSet struct {
	items  map[string]*protocol.ItemPatch
	agents []protocol.AgentPatch
}

func newChangeSet() *changeSet {
	return &changeSet{items: map[string]*protocol.ItemPatch{}}
}

func (c *changeSet) item(id string) *protocol.ItemPatch {
	patch, ok := c.items[id]
	if !ok {
		patch = &protocol.ItemPatch{ID: id}
		c.items[id] = patch
	}
	return patch
}

// itemPatches returns the non-empty patches in declaration order.
func (c *changeSet) itemPatches(order []string) []protocol.ItemPatch {
	var out []protocol.ItemPatch
	for _, id := range order {
		patch, ok := c.items[id]
		if !ok || patch.Empty() {
			continue
		}
		out = append(out, *patch)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// noteGraph logs dependency cycles and dangling dependency ids whenever the
// set of them changes. Callers hold e.mu.
func (e *Engine) noteGraph(res resolver.Resolution) {
	var missing []string
	for _, node := range res.Nodes() {
		for _, dep := range node.Missing {
			missing = append(missing, node.ID+"->"+dep)
		}
	}
	cyclic := res.Cyclic()
	note := strings.Join(cyclic, ",") + "|" + strings.Join(missing, ",")
	if note == e.graphNote {
		return
	}
	e.graphNote = note
	if len(cyclic) > 0 {
		e.logger.Printf("engine: dependency cycle through %s; those items never start", strings.Join(cyclic, ", "))
	}
	if len(missing) > 0 {
		e.logger.Printf("engine: ignoring missing dependencies %s", strings.Join(missing, ", "))
	}
}
